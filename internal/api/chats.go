package api

import (
	"net/http"

	"chatline/internal/domain"

	"github.com/google/uuid"
)

type createChatRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.engine.ListChats(r.Context(), userIDFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) createChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	chat, err := s.engine.GetOrCreateChat(r.Context(), userIDFrom(r), req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	messages, err := s.engine.History(r.Context(), userIDFrom(r), chatID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.NewMessage
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ChatID = chatID
	view, err := s.engine.SendMessage(r.Context(), userIDFrom(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) editMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req editMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.engine.EditMessage(r.Context(), userIDFrom(r), messageID, req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.engine.DeleteMessage(r.Context(), userIDFrom(r), messageID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "message deleted"})
}

func (s *Server) toggleReaction(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.engine.ToggleReaction(r.Context(), userIDFrom(r), messageID, req.Emoji)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
