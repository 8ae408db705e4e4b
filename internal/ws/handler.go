package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"chatline/internal/auth"
	"chatline/internal/domain"
	"chatline/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Presence is told when a user gains or loses its session.
type Presence interface {
	Online(ctx context.Context, userID uuid.UUID)
	Offline(ctx context.Context, userID uuid.UUID)
}

// Messenger carries out the actions a client may request over its session.
type Messenger interface {
	SendMessage(ctx context.Context, senderID uuid.UUID, in domain.NewMessage) (*domain.MessageView, error)
	Typing(ctx context.Context, userID, chatID uuid.UUID, isTyping bool) error
}

type HandlerOptions struct {
	Client    ClientOptions
	RateLimit float64
	RateBurst int
}

// inboundFrame is the union of every frame a client may send.
type inboundFrame struct {
	Type             string                 `json:"type"`
	ChatID           uuid.UUID              `json:"chat_id"`
	Content          *string                `json:"content"`
	MessageType      domain.MessageType     `json:"message_type"`
	ReplyToMessageID *uuid.UUID             `json:"reply_to_message_id"`
	Attachments      []domain.NewAttachment `json:"attachments"`
	IsTyping         bool                   `json:"is_typing"`
}

// Handler owns the lifecycle of websocket sessions: authentication,
// registration, the inbound frame loop and disconnect cleanup.
type Handler struct {
	auth     auth.Authenticator
	registry *Registry
	presence Presence
	messages Messenger
	metrics  *metrics.Metrics
	log      *zap.Logger
	opts     HandlerOptions
	upgrader websocket.Upgrader
}

func NewHandler(authn auth.Authenticator, registry *Registry, presence Presence, messages Messenger,
	m *metrics.Metrics, log *zap.Logger, opts HandlerOptions) *Handler {
	return &Handler{
		auth:     authn,
		registry: registry,
		presence: presence,
		messages: messages,
		metrics:  m,
		log:      log,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Serve upgrades the request and runs the session for the holder of token
// until it disconnects. A rejected token gets the connection closed with
// CloseUnauthorized before any frame is exchanged.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, token string) {
	userID, authErr := h.auth.Authenticate(r.Context(), token)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade websocket", zap.Error(err))
		return
	}

	if authErr != nil {
		h.log.Info("rejected websocket session", zap.Error(authErr))
		deadline := time.Now().Add(h.opts.Client.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized"), deadline)
		_ = conn.Close()
		return
	}

	h.run(context.WithoutCancel(r.Context()), NewClient(conn, userID, h.opts.Client))
}

func (h *Handler) run(ctx context.Context, c *Client) {
	userID := c.UserID()
	prev := h.registry.Attach(userID, c, func() {
		h.presence.Online(ctx, userID)
	})
	if prev != nil {
		closeReplaced(prev)
	}
	h.log.Info("session connected", zap.Stringer("user_id", userID))

	go c.WritePump()
	defer h.disconnect(ctx, c)

	limiter := rate.NewLimiter(rate.Limit(h.opts.RateLimit), h.opts.RateBurst)
	for {
		data, err := c.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read failed", zap.Stringer("user_id", userID), zap.Error(err))
			}
			return
		}
		if !limiter.Allow() {
			h.metrics.Frames.WithLabelValues(domain.CodeRateLimited).Inc()
			h.replyError(c, domain.CodeRateLimited, "too many frames")
			continue
		}
		h.handleFrame(ctx, c, data)
	}
}

// disconnect runs once per session. Presence goes offline only when no
// newer session has taken the user's slot.
func (h *Handler) disconnect(ctx context.Context, c *Client) {
	userID := c.UserID()
	c.Close()
	h.registry.Detach(userID, c, func() {
		h.presence.Offline(ctx, userID)
	})
	h.log.Info("session disconnected", zap.Stringer("user_id", userID))
}

func (h *Handler) handleFrame(ctx context.Context, c *Client, data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		h.metrics.Frames.WithLabelValues(domain.CodeInvalidFrame).Inc()
		h.replyError(c, domain.CodeInvalidFrame, "malformed frame")
		return
	}

	switch in.Type {
	case domain.FrameMessage:
		h.metrics.Frames.WithLabelValues(in.Type).Inc()
		if in.ChatID == uuid.Nil {
			h.replyError(c, domain.CodeInvalidFrame, "chat_id is required")
			return
		}
		_, err := h.messages.SendMessage(ctx, c.UserID(), domain.NewMessage{
			ChatID:           in.ChatID,
			Content:          in.Content,
			Type:             in.MessageType,
			ReplyToMessageID: in.ReplyToMessageID,
			Attachments:      in.Attachments,
		})
		if err != nil {
			h.replyFailure(c, err)
		}

	case domain.FrameTyping:
		h.metrics.Frames.WithLabelValues(in.Type).Inc()
		if in.ChatID == uuid.Nil {
			h.replyError(c, domain.CodeInvalidFrame, "chat_id is required")
			return
		}
		if err := h.messages.Typing(ctx, c.UserID(), in.ChatID, in.IsTyping); err != nil {
			h.replyFailure(c, err)
		}

	case domain.FramePing:
		h.metrics.Frames.WithLabelValues(in.Type).Inc()
		h.reply(c, domain.PongFrame{Type: domain.FramePong})

	default:
		h.metrics.Frames.WithLabelValues(domain.CodeInvalidFrame).Inc()
		h.replyError(c, domain.CodeInvalidFrame, "unknown frame type")
	}
}

func (h *Handler) replyFailure(c *Client, err error) {
	code := domain.ErrorCode(err)
	if code == domain.CodeInternal {
		h.log.Error("frame handling failed", zap.Stringer("user_id", c.UserID()), zap.Error(err))
	}
	h.replyError(c, code, domain.PublicMessage(err))
}

func (h *Handler) replyError(c *Client, code, msg string) {
	h.reply(c, domain.ErrorFrame{Type: domain.FrameError, Code: code, Error: msg})
}

// reply answers the sending session directly, bypassing the Registry.
func (h *Handler) reply(c *Client, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("failed to marshal reply", zap.Error(err))
		return
	}
	if err := c.Send(data); err != nil {
		h.log.Debug("reply dropped", zap.Stringer("user_id", c.UserID()), zap.Error(err))
	}
}

func closeReplaced(s Session) {
	if c, ok := s.(interface{ CloseWith(int, string) }); ok {
		c.CloseWith(CloseReplaced, "replaced by a newer session")
		return
	}
	s.Close()
}
