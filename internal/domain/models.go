package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeletedMessageContent replaces the content of a soft-deleted message.
const DeletedMessageContent = "This message was deleted"

type User struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Avatar        string    `json:"avatar,omitempty"`
	StatusMessage string    `json:"status_message,omitempty"`
	IsActive      bool      `json:"is_active"`
	LastSeen      time.Time `json:"last_seen"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Chat is a one-to-one thread. User1ID/User2ID are stored in canonical
// order (see OrderedPair) so the pair is unique regardless of who opened it.
type Chat struct {
	ID        uuid.UUID `json:"id"`
	User1ID   uuid.UUID `json:"user1_id"`
	User2ID   uuid.UUID `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Chat) Participants() []uuid.UUID {
	return []uuid.UUID{c.User1ID, c.User2ID}
}

func (c *Chat) Has(userID uuid.UUID) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// Other returns the participant that is not userID.
func (c *Chat) Other(userID uuid.UUID) uuid.UUID {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// OrderedPair returns a and b in canonical byte order.
func OrderedPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

type ChatSummary struct {
	ID          uuid.UUID `json:"id"`
	OtherUser   User      `json:"other_user"`
	LastMessage *Message  `json:"last_message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UnreadCount int       `json:"unread_count"`
}

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
	MessageTypeAudio MessageType = "audio"
	MessageTypeVideo MessageType = "video"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio, MessageTypeVideo:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

type Message struct {
	ID               uuid.UUID     `json:"id"`
	ChatID           uuid.UUID     `json:"chat_id"`
	SenderID         uuid.UUID     `json:"sender_id"`
	Content          *string       `json:"content"`
	Type             MessageType   `json:"message_type"`
	Status           MessageStatus `json:"status"`
	IsEdited         bool          `json:"is_edited"`
	IsDeleted        bool          `json:"is_deleted"`
	ReplyToMessageID *uuid.UUID    `json:"reply_to_message_id,omitempty"`
	DeliveredAt      *time.Time    `json:"delivered_at,omitempty"`
	SeenAt           *time.Time    `json:"seen_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// ReplyPreview is the trimmed view of the message being replied to.
type ReplyPreview struct {
	ID        uuid.UUID   `json:"id"`
	Content   *string     `json:"content"`
	SenderID  uuid.UUID   `json:"sender_id"`
	CreatedAt time.Time   `json:"created_at"`
	Type      MessageType `json:"message_type"`
	IsDeleted bool        `json:"is_deleted"`
}

func (m *Message) Preview() *ReplyPreview {
	return &ReplyPreview{
		ID:        m.ID,
		Content:   m.Content,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
		Type:      m.Type,
		IsDeleted: m.IsDeleted,
	}
}

// MessageView is a message with its reply preview, attachments and
// aggregated reactions resolved.
type MessageView struct {
	Message
	ReplyTo     *ReplyPreview   `json:"reply_to_message,omitempty"`
	Attachments []Attachment    `json:"attachments"`
	Reactions   []ReactionGroup `json:"reactions"`
}

type Attachment struct {
	ID        uuid.UUID `json:"id"`
	MessageID uuid.UUID `json:"message_id"`
	Filename  string    `json:"filename"`
	FileURL   string    `json:"file_url"`
	FileType  string    `json:"file_type"`
	FileSize  int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
}

type NewAttachment struct {
	Filename string `json:"filename"`
	FileURL  string `json:"file_url"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

type Reaction struct {
	ID        uuid.UUID `json:"id"`
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

type ReactionGroup struct {
	Emoji string      `json:"emoji"`
	Count int         `json:"count"`
	Users []uuid.UUID `json:"users"`
}

// GroupReactions aggregates reactions per emoji, keeping the order in which
// each emoji first appears.
func GroupReactions(reactions []Reaction) []ReactionGroup {
	groups := make([]ReactionGroup, 0)
	index := make(map[string]int)
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, r.UserID)
	}
	return groups
}

type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
)

type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
	FriendRequestRejected FriendRequestStatus = "rejected"
)

type FriendRequest struct {
	ID         uuid.UUID           `json:"id"`
	SenderID   uuid.UUID           `json:"sender_id"`
	ReceiverID uuid.UUID           `json:"receiver_id"`
	Status     FriendRequestStatus `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type FriendRequestView struct {
	ID        uuid.UUID           `json:"id"`
	Sender    User                `json:"sender"`
	Receiver  User                `json:"receiver"`
	Status    FriendRequestStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
}

type Friendship struct {
	ID        uuid.UUID `json:"id"`
	User1ID   uuid.UUID `json:"user1_id"`
	User2ID   uuid.UUID `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
}

type FriendView struct {
	ID        uuid.UUID `json:"id"`
	Friend    User      `json:"friend"`
	CreatedAt time.Time `json:"created_at"`
}

type OutboxEvent struct {
	ID          uuid.UUID       `json:"id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

const (
	OutboxPending   = "pending"
	OutboxProcessed = "processed"
)

const (
	EventTypeMessageCreated        = "MESSAGE_CREATED"
	EventTypeMessageDelivered      = "MESSAGE_DELIVERED"
	EventTypeMessageSeen           = "MESSAGE_SEEN"
	EventTypeMessageEdited         = "MESSAGE_EDITED"
	EventTypeMessageDeleted        = "MESSAGE_DELETED"
	EventTypeReactionToggled       = "REACTION_TOGGLED"
	EventTypeFriendRequestCreated  = "FRIEND_REQUEST_CREATED"
	EventTypeFriendRequestAnswered = "FRIEND_REQUEST_ANSWERED"
)

// NewMessage is the input for creating a message in a chat.
type NewMessage struct {
	ChatID           uuid.UUID       `json:"chat_id"`
	Content          *string         `json:"content"`
	Type             MessageType     `json:"message_type"`
	ReplyToMessageID *uuid.UUID      `json:"reply_to_message_id"`
	Attachments      []NewAttachment `json:"attachments"`
}
