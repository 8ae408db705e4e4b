package domain

import "github.com/google/uuid"

// Frame types exchanged over a websocket session.
const (
	FrameMessage        = "message"
	FrameMessageEdited  = "message_edited"
	FrameMessageDeleted = "message_deleted"
	FrameMessageStatus  = "message_status"
	FrameReaction       = "reaction"
	FrameTyping         = "typing"
	FramePing           = "ping"
	FramePong           = "pong"
	FrameFriendRequest  = "friend_request"
	FrameUserStatus     = "user_status"
	FrameError          = "error"
)

type MessageFrame struct {
	Type    string      `json:"type"`
	Message MessageView `json:"message"`
}

type MessageEditedFrame struct {
	Type      string    `json:"type"`
	MessageID uuid.UUID `json:"message_id"`
	ChatID    uuid.UUID `json:"chat_id"`
	Content   *string   `json:"content"`
	IsEdited  bool      `json:"is_edited"`
	EditedBy  uuid.UUID `json:"edited_by"`
}

type MessageDeletedFrame struct {
	Type      string    `json:"type"`
	MessageID uuid.UUID `json:"message_id"`
	ChatID    uuid.UUID `json:"chat_id"`
	DeletedBy uuid.UUID `json:"deleted_by"`
}

type MessageStatusFrame struct {
	Type      string        `json:"type"`
	MessageID uuid.UUID     `json:"message_id"`
	ChatID    uuid.UUID     `json:"chat_id"`
	Status    MessageStatus `json:"status"`
}

type ReactionFrame struct {
	Type      string          `json:"type"`
	Action    ReactionAction  `json:"action"`
	MessageID uuid.UUID       `json:"message_id"`
	ChatID    uuid.UUID       `json:"chat_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Emoji     string          `json:"emoji"`
	Reactions []ReactionGroup `json:"reactions"`
}

type TypingFrame struct {
	Type     string    `json:"type"`
	UserID   uuid.UUID `json:"user_id"`
	ChatID   uuid.UUID `json:"chat_id"`
	IsTyping bool      `json:"is_typing"`
}

type PongFrame struct {
	Type string `json:"type"`
}

type FriendRequestFrame struct {
	Type    string            `json:"type"`
	Action  string            `json:"action"`
	Request FriendRequestView `json:"request"`
}

type UserStatusFrame struct {
	Type     string    `json:"type"`
	UserID   uuid.UUID `json:"user_id"`
	IsOnline bool      `json:"is_online"`
}

type ErrorFrame struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}
