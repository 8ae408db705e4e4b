package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"chatline/internal/domain"
	"chatline/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxEmojiRunes = 10

// Store is the persistence the engine relies on. Multi-row writes are
// atomic and every mutation records its outbox event.
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)

	GetOrCreateChat(ctx context.Context, a, b uuid.UUID, now time.Time) (*domain.Chat, bool, error)
	GetChat(ctx context.Context, id uuid.UUID) (*domain.Chat, error)
	ListChats(ctx context.Context, userID uuid.UUID) ([]domain.Chat, error)

	CreateMessage(ctx context.Context, msg *domain.Message, attachments []domain.NewAttachment) ([]domain.Attachment, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	ListMessages(ctx context.Context, chatID uuid.UUID) ([]domain.Message, error)
	LastMessage(ctx context.Context, chatID uuid.UUID) (*domain.Message, error)
	CountUnread(ctx context.Context, chatID, viewerID uuid.UUID) (int, error)
	ListAttachments(ctx context.Context, chatID uuid.UUID) (map[uuid.UUID][]domain.Attachment, error)

	MarkDelivered(ctx context.Context, messageID uuid.UUID, at time.Time) (bool, error)
	MarkSeen(ctx context.Context, chatID, viewerID uuid.UUID, at time.Time) ([]domain.Message, error)
	EditMessage(ctx context.Context, messageID uuid.UUID, content string, at time.Time) error
	SoftDeleteMessage(ctx context.Context, messageID uuid.UUID, at time.Time) error

	ToggleReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string, at time.Time) (domain.ReactionAction, []domain.Reaction, error)
	ListChatReactions(ctx context.Context, chatID uuid.UUID) (map[uuid.UUID][]domain.Reaction, error)
}

// Notifier pushes events to live sessions, best effort.
type Notifier interface {
	DeliverToUser(userID uuid.UUID, event any) bool
	DeliverToUsers(userIDs []uuid.UUID, event any) map[uuid.UUID]bool
}

// OnlineChecker answers whether a user currently holds a session.
type OnlineChecker interface {
	IsOnline(userID uuid.UUID) bool
}

// Engine drives messages through sent, delivered and seen, and handles
// edits, soft deletes, reactions and typing indicators for chat participants.
type Engine struct {
	store    Store
	notifier Notifier
	online   OnlineChecker
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewEngine(store Store, notifier Notifier, online OnlineChecker, m *metrics.Metrics, log *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		online:   online,
		metrics:  m,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// chatFor loads the chat and hides it from anyone who is not a participant.
func (e *Engine) chatFor(ctx context.Context, userID, chatID uuid.UUID) (*domain.Chat, error) {
	chat, err := e.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.Has(userID) {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	return chat, nil
}

// messageFor loads the message together with its chat, provided userID
// takes part in that chat.
func (e *Engine) messageFor(ctx context.Context, userID, messageID uuid.UUID) (*domain.Message, *domain.Chat, error) {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	chat, err := e.chatFor(ctx, userID, msg.ChatID)
	if err != nil {
		return nil, nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	return msg, chat, nil
}

func validateNewMessage(in *domain.NewMessage) error {
	if in.Type == "" {
		in.Type = domain.MessageTypeText
	}
	if !in.Type.Valid() {
		return fmt.Errorf("unknown message type %q: %w", in.Type, domain.ErrInvalid)
	}
	hasContent := in.Content != nil && strings.TrimSpace(*in.Content) != ""
	if in.Type == domain.MessageTypeText && !hasContent {
		return fmt.Errorf("text message needs content: %w", domain.ErrInvalid)
	}
	if !hasContent && len(in.Attachments) == 0 {
		return fmt.Errorf("message needs content or attachments: %w", domain.ErrInvalid)
	}
	for _, a := range in.Attachments {
		if a.Filename == "" || a.FileURL == "" {
			return fmt.Errorf("attachment needs filename and file_url: %w", domain.ErrInvalid)
		}
		if a.FileSize < 0 {
			return fmt.Errorf("attachment size is negative: %w", domain.ErrInvalid)
		}
	}
	return nil
}

// SendMessage persists a new message with its attachments, fans it out to
// both participants and advances it to delivered when the recipient's
// session accepted the push.
func (e *Engine) SendMessage(ctx context.Context, senderID uuid.UUID, in domain.NewMessage) (*domain.MessageView, error) {
	if err := validateNewMessage(&in); err != nil {
		return nil, err
	}
	chat, err := e.chatFor(ctx, senderID, in.ChatID)
	if err != nil {
		return nil, err
	}

	var reply *domain.ReplyPreview
	if in.ReplyToMessageID != nil {
		target, err := e.store.GetMessage(ctx, *in.ReplyToMessageID)
		if err != nil {
			return nil, err
		}
		if target.ChatID != chat.ID {
			return nil, fmt.Errorf("reply target belongs to another chat: %w", domain.ErrInvalid)
		}
		reply = target.Preview()
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	now := e.now()
	msg := &domain.Message{
		ID:               id,
		ChatID:           chat.ID,
		SenderID:         senderID,
		Content:          in.Content,
		Type:             in.Type,
		Status:           domain.StatusSent,
		ReplyToMessageID: in.ReplyToMessageID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	attachments, err := e.store.CreateMessage(ctx, msg, in.Attachments)
	if err != nil {
		return nil, err
	}
	e.metrics.Messages.WithLabelValues("created").Inc()

	view := &domain.MessageView{
		Message:     *msg,
		ReplyTo:     reply,
		Attachments: attachments,
		Reactions:   []domain.ReactionGroup{},
	}
	reached := e.notifier.DeliverToUsers(chat.Participants(), domain.MessageFrame{
		Type:    domain.FrameMessage,
		Message: *view,
	})

	recipient := chat.Other(senderID)
	if reached[recipient] {
		at := e.now()
		advanced, err := e.store.MarkDelivered(ctx, msg.ID, at)
		if err != nil {
			e.log.Error("failed to mark message delivered", zap.Stringer("message_id", msg.ID), zap.Error(err))
		} else if advanced {
			e.metrics.Messages.WithLabelValues("delivered").Inc()
			view.Status = domain.StatusDelivered
			view.DeliveredAt = &at
			e.notifyStatus(senderID, msg.ID, chat.ID, domain.StatusDelivered)
		}
	}
	return view, nil
}

func (e *Engine) notifyStatus(senderID, messageID, chatID uuid.UUID, status domain.MessageStatus) {
	e.notifier.DeliverToUser(senderID, domain.MessageStatusFrame{
		Type:      domain.FrameMessageStatus,
		MessageID: messageID,
		ChatID:    chatID,
		Status:    status,
	})
}

// History returns the chat's messages in insertion order with replies,
// attachments and reactions resolved. Fetching moves every message the
// viewer received to seen; senders are told asynchronously.
func (e *Engine) History(ctx context.Context, viewerID, chatID uuid.UUID) ([]domain.MessageView, error) {
	chat, err := e.chatFor(ctx, viewerID, chatID)
	if err != nil {
		return nil, err
	}

	seen, err := e.store.MarkSeen(ctx, chat.ID, viewerID, e.now())
	if err != nil {
		return nil, err
	}
	if len(seen) > 0 {
		e.metrics.Messages.WithLabelValues("seen").Add(float64(len(seen)))
		go func() {
			for _, m := range seen {
				e.notifyStatus(m.SenderID, m.ID, m.ChatID, domain.StatusSeen)
			}
		}()
	}

	messages, err := e.store.ListMessages(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	attachments, err := e.store.ListAttachments(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	reactions, err := e.store.ListChatReactions(ctx, chat.ID)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*domain.Message, len(messages))
	for i := range messages {
		byID[messages[i].ID] = &messages[i]
	}

	views := make([]domain.MessageView, 0, len(messages))
	for _, m := range messages {
		view := domain.MessageView{
			Message:     m,
			Attachments: attachments[m.ID],
			Reactions:   domain.GroupReactions(reactions[m.ID]),
		}
		if view.Attachments == nil {
			view.Attachments = []domain.Attachment{}
		}
		if m.ReplyToMessageID != nil {
			if target, ok := byID[*m.ReplyToMessageID]; ok {
				view.ReplyTo = target.Preview()
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// EditMessage replaces the content of the caller's own message and tells
// both participants. Delivery status is left as it was.
func (e *Engine) EditMessage(ctx context.Context, userID, messageID uuid.UUID, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("content is required: %w", domain.ErrInvalid)
	}
	msg, chat, err := e.messageFor(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, fmt.Errorf("only the sender can edit message %s: %w", messageID, domain.ErrForbidden)
	}

	now := e.now()
	if err := e.store.EditMessage(ctx, messageID, content, now); err != nil {
		return nil, err
	}
	e.metrics.Messages.WithLabelValues("edited").Inc()

	msg.Content = &content
	msg.IsEdited = true
	msg.UpdatedAt = now
	e.notifier.DeliverToUsers(chat.Participants(), domain.MessageEditedFrame{
		Type:      domain.FrameMessageEdited,
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		Content:   msg.Content,
		IsEdited:  true,
		EditedBy:  userID,
	})
	return msg, nil
}

// DeleteMessage tombstones the caller's own message and tells both
// participants.
func (e *Engine) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, chat, err := e.messageFor(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return fmt.Errorf("only the sender can delete message %s: %w", messageID, domain.ErrForbidden)
	}

	if err := e.store.SoftDeleteMessage(ctx, messageID, e.now()); err != nil {
		return err
	}
	e.metrics.Messages.WithLabelValues("deleted").Inc()

	e.notifier.DeliverToUsers(chat.Participants(), domain.MessageDeletedFrame{
		Type:      domain.FrameMessageDeleted,
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		DeletedBy: userID,
	})
	return nil
}

// ReactionResult is the outcome of a toggle together with the message's
// aggregated reactions after it.
type ReactionResult struct {
	Action    domain.ReactionAction  `json:"action"`
	Reactions []domain.ReactionGroup `json:"reactions"`
}

// ToggleReaction adds the caller's emoji to the message, or removes it when
// already present, then broadcasts the new aggregation to both participants.
func (e *Engine) ToggleReaction(ctx context.Context, userID, messageID uuid.UUID, emoji string) (*ReactionResult, error) {
	emoji = strings.TrimSpace(emoji)
	if n := utf8.RuneCountInString(emoji); n == 0 || n > maxEmojiRunes {
		return nil, fmt.Errorf("emoji must be 1 to %d characters: %w", maxEmojiRunes, domain.ErrInvalid)
	}
	msg, chat, err := e.messageFor(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	action, reactions, err := e.store.ToggleReaction(ctx, messageID, userID, emoji, e.now())
	if err != nil {
		return nil, err
	}
	e.metrics.Messages.WithLabelValues("reaction_" + string(action)).Inc()

	groups := domain.GroupReactions(reactions)
	e.notifier.DeliverToUsers(chat.Participants(), domain.ReactionFrame{
		Type:      domain.FrameReaction,
		Action:    action,
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		UserID:    userID,
		Emoji:     emoji,
		Reactions: groups,
	})
	return &ReactionResult{Action: action, Reactions: groups}, nil
}

// Typing relays a transient indicator to the other participant only.
func (e *Engine) Typing(ctx context.Context, userID, chatID uuid.UUID, isTyping bool) error {
	chat, err := e.chatFor(ctx, userID, chatID)
	if err != nil {
		return err
	}
	e.notifier.DeliverToUser(chat.Other(userID), domain.TypingFrame{
		Type:     domain.FrameTyping,
		UserID:   userID,
		ChatID:   chat.ID,
		IsTyping: isTyping,
	})
	return nil
}

// GetOrCreateChat returns the one chat between userID and peerID, opening
// it on first use.
func (e *Engine) GetOrCreateChat(ctx context.Context, userID, peerID uuid.UUID) (*domain.ChatSummary, error) {
	if userID == peerID {
		return nil, fmt.Errorf("cannot open a chat with yourself: %w", domain.ErrInvalid)
	}
	if _, err := e.store.GetUser(ctx, peerID); err != nil {
		return nil, err
	}
	chat, created, err := e.store.GetOrCreateChat(ctx, userID, peerID, e.now())
	if err != nil {
		return nil, err
	}
	if created {
		e.log.Info("chat created", zap.Stringer("chat_id", chat.ID))
	}
	return e.summarize(ctx, userID, chat)
}

// ListChats returns the viewer's chats, most recent activity first.
func (e *Engine) ListChats(ctx context.Context, viewerID uuid.UUID) ([]domain.ChatSummary, error) {
	chats, err := e.store.ListChats(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.ChatSummary, 0, len(chats))
	for i := range chats {
		s, err := e.summarize(ctx, viewerID, &chats[i])
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *s)
	}

	slices.SortStableFunc(summaries, func(a, b domain.ChatSummary) int {
		return activity(b).Compare(activity(a))
	})
	return summaries, nil
}

func activity(s domain.ChatSummary) time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.CreatedAt
}

func (e *Engine) summarize(ctx context.Context, viewerID uuid.UUID, chat *domain.Chat) (*domain.ChatSummary, error) {
	other, err := e.store.GetUser(ctx, chat.Other(viewerID))
	if err != nil {
		return nil, err
	}
	other.IsActive = e.online.IsOnline(other.ID)

	last, err := e.store.LastMessage(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	unread, err := e.store.CountUnread(ctx, chat.ID, viewerID)
	if err != nil {
		return nil, err
	}
	return &domain.ChatSummary{
		ID:          chat.ID,
		OtherUser:   *other,
		LastMessage: last,
		CreatedAt:   chat.CreatedAt,
		UnreadCount: unread,
	}, nil
}

// UnreadCount is the number of messages in the chat the viewer has not seen
// and did not send.
func (e *Engine) UnreadCount(ctx context.Context, viewerID, chatID uuid.UUID) (int, error) {
	chat, err := e.chatFor(ctx, viewerID, chatID)
	if err != nil {
		return 0, err
	}
	return e.store.CountUnread(ctx, chat.ID, viewerID)
}
