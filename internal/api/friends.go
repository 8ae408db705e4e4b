package api

import (
	"net/http"

	"chatline/internal/domain"

	"github.com/google/uuid"
)

type friendRequestRequest struct {
	ReceiverID uuid.UUID `json:"receiver_id"`
}

type answerRequest struct {
	Status domain.FriendRequestStatus `json:"status"`
}

func (s *Server) sendFriendRequest(w http.ResponseWriter, r *http.Request) {
	var req friendRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := s.friends.SendRequest(r.Context(), userIDFrom(r), req.ReceiverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) listFriendRequests(w http.ResponseWriter, r *http.Request) {
	views, err := s.friends.Requests(r.Context(), userIDFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) answerFriendRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := s.friends.Answer(r.Context(), userIDFrom(r), requestID, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listFriends(w http.ResponseWriter, r *http.Request) {
	views, err := s.friends.Friends(r.Context(), userIDFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}
