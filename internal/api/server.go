package api

import (
	"context"
	"net/http"

	"chatline/internal/auth"
	"chatline/internal/domain"
	"chatline/internal/friends"
	"chatline/internal/lifecycle"
	"chatline/internal/metrics"
	"chatline/internal/ws"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// UserDirectory looks up and searches user profiles.
type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	ListUsers(ctx context.Context, excludeID uuid.UUID) ([]domain.User, error)
	SearchUsers(ctx context.Context, userID uuid.UUID, q string, limit int) ([]domain.User, error)
}

type Deps struct {
	Authn     auth.Authenticator
	Accounts  *auth.Service
	Users     UserDirectory
	Engine    *lifecycle.Engine
	Friends   *friends.Service
	Sessions  *ws.Handler
	Metrics   *metrics.Metrics
	UploadDir string
	// MaxUploadSize caps one upload body in bytes. Zero means 25 MiB.
	MaxUploadSize int64
	Log           *zap.Logger
}

// Server is the HTTP surface: REST endpoints, the websocket endpoint, the
// uploads directory and /metrics.
type Server struct {
	authn     auth.Authenticator
	accounts  *auth.Service
	users     UserDirectory
	engine    *lifecycle.Engine
	friends   *friends.Service
	sessions  *ws.Handler
	metrics   *metrics.Metrics
	uploadDir string
	maxUpload int64
	log       *zap.Logger
}

func NewServer(d Deps) *Server {
	maxUpload := d.MaxUploadSize
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadSize
	}
	return &Server{
		authn:     d.Authn,
		accounts:  d.Accounts,
		users:     d.Users,
		engine:    d.Engine,
		friends:   d.Friends,
		sessions:  d.Sessions,
		metrics:   d.Metrics,
		uploadDir: d.UploadDir,
		maxUpload: maxUpload,
		log:       d.Log,
	}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/ws/{token}", s.serveWS).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.PathPrefix("/uploads/").Handler(http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.uploadDir))))

	pub := r.PathPrefix("/api").Subrouter()
	pub.HandleFunc("/auth/register", s.register).Methods(http.MethodPost)
	pub.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireAuth)
	api.HandleFunc("/auth/logout", s.logout).Methods(http.MethodPost)

	api.HandleFunc("/users", s.listUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/me", s.me).Methods(http.MethodGet)
	api.HandleFunc("/users/me", s.updateMe).Methods(http.MethodPut)
	api.HandleFunc("/users/search", s.searchUsers).Methods(http.MethodGet)

	api.HandleFunc("/chats", s.listChats).Methods(http.MethodGet)
	api.HandleFunc("/chats", s.createChat).Methods(http.MethodPost)
	api.HandleFunc("/chats/{id}/messages", s.listMessages).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}/messages", s.sendMessage).Methods(http.MethodPost)

	api.HandleFunc("/messages/{id}", s.editMessage).Methods(http.MethodPut)
	api.HandleFunc("/messages/{id}", s.deleteMessage).Methods(http.MethodDelete)
	api.HandleFunc("/messages/{id}/reactions", s.toggleReaction).Methods(http.MethodPost)

	api.HandleFunc("/friend-requests", s.sendFriendRequest).Methods(http.MethodPost)
	api.HandleFunc("/friend-requests", s.listFriendRequests).Methods(http.MethodGet)
	api.HandleFunc("/friend-requests/{id}", s.answerFriendRequest).Methods(http.MethodPut)
	api.HandleFunc("/friends", s.listFriends).Methods(http.MethodGet)

	api.HandleFunc("/upload", s.upload).Methods(http.MethodPost)

	return r
}

// serveWS accepts the credential from the path, the token query parameter
// or a bearer header, in that order.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		token = bearerToken(r)
	}
	s.sessions.Serve(w, r, token)
}
