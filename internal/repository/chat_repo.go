package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatline/internal/domain"

	"github.com/google/uuid"
)

const messageColumns = `id, chat_id, sender_id, content, message_type, status, is_edited, is_deleted,
	reply_to_message_id, delivered_at, seen_at, created_at, updated_at`

func scanChat(row rowScanner) (*domain.Chat, error) {
	var c domain.Chat
	if err := row.Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		m         domain.Message
		content   sql.NullString
		replyTo   uuid.NullUUID
		delivered sql.NullTime
		seen      sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &content, &m.Type, &m.Status, &m.IsEdited, &m.IsDeleted,
		&replyTo, &delivered, &seen, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if content.Valid {
		m.Content = &content.String
	}
	if replyTo.Valid {
		m.ReplyToMessageID = &replyTo.UUID
	}
	m.DeliveredAt = ptrTime(delivered)
	m.SeenAt = ptrTime(seen)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

// GetOrCreateChat returns the chat between a and b, creating it if needed.
// The boolean reports whether a new row was inserted.
func (s *Store) GetOrCreateChat(ctx context.Context, a, b uuid.UUID, now time.Time) (*domain.Chat, bool, error) {
	low, high := domain.OrderedPair(a, b)

	var (
		chat    *domain.Chat
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO chats (id, user1_id, user2_id, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (user1_id, user2_id) DO NOTHING
		`), uuid.New(), low, high, now)
		if err != nil {
			return fmt.Errorf("failed to insert chat: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0

		row := tx.QueryRowContext(ctx, s.q(`
			SELECT id, user1_id, user2_id, created_at FROM chats WHERE user1_id = ? AND user2_id = ?
		`), low, high)
		chat, err = scanChat(row)
		if err != nil {
			return fmt.Errorf("failed to load chat: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return chat, created, nil
}

func (s *Store) GetChat(ctx context.Context, id uuid.UUID) (*domain.Chat, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, user1_id, user2_id, created_at FROM chats WHERE id = ?`), id)
	c, err := scanChat(row)
	if err != nil {
		return nil, notFound("chat", id, err)
	}
	return c, nil
}

func (s *Store) ListChats(ctx context.Context, userID uuid.UUID) ([]domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, user1_id, user2_id, created_at FROM chats
		WHERE user1_id = ? OR user2_id = ?
	`), userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chats: %w", err)
	}
	defer rows.Close()

	chats := make([]domain.Chat, 0)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// CreateMessage inserts msg together with its attachments and the
// MESSAGE_CREATED outbox event. Either everything is written or nothing is.
func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message, attachments []domain.NewAttachment) ([]domain.Attachment, error) {
	saved := make([]domain.Attachment, 0, len(attachments))

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO messages (`+messageColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), msg.ID, msg.ChatID, msg.SenderID, nullString(msg.Content), msg.Type, msg.Status,
			msg.IsEdited, msg.IsDeleted, nullUUID(msg.ReplyToMessageID), nil, nil, msg.CreatedAt, msg.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		for _, in := range attachments {
			att := domain.Attachment{
				ID:        uuid.New(),
				MessageID: msg.ID,
				Filename:  in.Filename,
				FileURL:   in.FileURL,
				FileType:  in.FileType,
				FileSize:  in.FileSize,
				CreatedAt: msg.CreatedAt,
			}
			_, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO attachments (id, message_id, filename, file_url, file_type, file_size, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`), att.ID, att.MessageID, att.Filename, att.FileURL, att.FileType, att.FileSize, att.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert attachment: %w", err)
			}
			saved = append(saved, att)
		}

		return s.saveEvent(ctx, tx, domain.EventTypeMessageCreated, newMessageCreatedEvent(msg, saved), msg.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, notFound("message", id, err)
	}
	return m, nil
}

// ListMessages returns the chat's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, chatID uuid.UUID) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+messageColumns+` FROM messages WHERE chat_id = ? ORDER BY id ASC
	`), chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// LastMessage returns the newest message of the chat, or nil if it has none.
func (s *Store) LastMessage(ctx context.Context, chatID uuid.UUID) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+messageColumns+` FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT 1
	`), chatID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch last message: %w", err)
	}
	return m, nil
}

// CountUnread counts messages in the chat not sent by viewerID and not yet seen.
func (s *Store) CountUnread(ctx context.Context, chatID, viewerID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM messages WHERE chat_id = ? AND sender_id <> ? AND status <> ?
	`), chatID, viewerID, domain.StatusSeen).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

// ListAttachments returns the attachments of every message in the chat,
// keyed by message ID.
func (s *Store) ListAttachments(ctx context.Context, chatID uuid.UUID) (map[uuid.UUID][]domain.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT a.id, a.message_id, a.filename, a.file_url, a.file_type, a.file_size, a.created_at
		FROM attachments a
		JOIN messages m ON m.id = a.message_id
		WHERE m.chat_id = ?
		ORDER BY a.created_at, a.id
	`), chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attachments: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]domain.Attachment)
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.FileURL, &a.FileType, &a.FileSize, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		out[a.MessageID] = append(out[a.MessageID], a)
	}
	return out, rows.Err()
}

// MarkDelivered moves the message from sent to delivered. It reports false
// without error when the message had already moved past sent.
func (s *Store) MarkDelivered(ctx context.Context, messageID uuid.UUID, at time.Time) (bool, error) {
	var advanced bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE messages SET status = ?, delivered_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`), domain.StatusDelivered, at, at, messageID, domain.StatusSent)
		if err != nil {
			return fmt.Errorf("failed to mark message delivered: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		advanced = true
		return s.saveEvent(ctx, tx, domain.EventTypeMessageDelivered, statusEvent{messageID, domain.StatusDelivered, at}, at)
	})
	return advanced, err
}

// MarkSeen moves every message in the chat that viewerID did not send and
// has not seen yet to seen. It returns the messages that were advanced.
func (s *Store) MarkSeen(ctx context.Context, chatID, viewerID uuid.UUID, at time.Time) ([]domain.Message, error) {
	var advanced []domain.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, s.q(`
			SELECT `+messageColumns+` FROM messages
			WHERE chat_id = ? AND sender_id <> ? AND status <> ?
			ORDER BY id ASC
		`), chatID, viewerID, domain.StatusSeen)
		if err != nil {
			return fmt.Errorf("failed to fetch unseen messages: %w", err)
		}
		var pending []domain.Message
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				rows.Close()
				return err
			}
			pending = append(pending, *m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, m := range pending {
			res, err := tx.ExecContext(ctx, s.q(`
				UPDATE messages SET status = ?, seen_at = ?, updated_at = ?
				WHERE id = ? AND status <> ?
			`), domain.StatusSeen, at, at, m.ID, domain.StatusSeen)
			if err != nil {
				return fmt.Errorf("failed to mark message seen: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			seenAt := at
			m.Status = domain.StatusSeen
			m.SeenAt = &seenAt
			m.UpdatedAt = at
			advanced = append(advanced, m)
			if err := s.saveEvent(ctx, tx, domain.EventTypeMessageSeen, statusEvent{m.ID, domain.StatusSeen, at}, at); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return advanced, nil
}

// EditMessage replaces the content of a live message and flags it edited.
// A deleted message is left untouched and yields domain.ErrForbidden.
func (s *Store) EditMessage(ctx context.Context, messageID uuid.UUID, content string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE messages SET content = ?, is_edited = ?, updated_at = ?
			WHERE id = ? AND is_deleted = ?
		`), content, true, at, messageID, false)
		if err != nil {
			return fmt.Errorf("failed to edit message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("message %s is deleted: %w", messageID, domain.ErrForbidden)
		}
		return s.saveEvent(ctx, tx, domain.EventTypeMessageEdited, map[string]any{
			"message_id": messageID,
			"edited_at":  at,
		}, at)
	})
}

// SoftDeleteMessage swaps the content for the tombstone and flags the row deleted.
func (s *Store) SoftDeleteMessage(ctx context.Context, messageID uuid.UUID, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE messages SET content = ?, is_deleted = ?, updated_at = ?
			WHERE id = ?
		`), domain.DeletedMessageContent, true, at, messageID)
		if err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
		}
		return s.saveEvent(ctx, tx, domain.EventTypeMessageDeleted, map[string]any{
			"message_id": messageID,
			"deleted_at": at,
		}, at)
	})
}

// Outbox payloads leave the store, so they carry identifiers and metadata
// only. Message and attachment bodies stay in the database.
type messageCreatedEvent struct {
	MessageID        uuid.UUID          `json:"message_id"`
	ChatID           uuid.UUID          `json:"chat_id"`
	SenderID         uuid.UUID          `json:"sender_id"`
	Type             domain.MessageType `json:"message_type"`
	ReplyToMessageID *uuid.UUID         `json:"reply_to_message_id,omitempty"`
	AttachmentIDs    []uuid.UUID        `json:"attachment_ids"`
	CreatedAt        time.Time          `json:"created_at"`
}

func newMessageCreatedEvent(msg *domain.Message, attachments []domain.Attachment) messageCreatedEvent {
	ids := make([]uuid.UUID, 0, len(attachments))
	for _, a := range attachments {
		ids = append(ids, a.ID)
	}
	return messageCreatedEvent{
		MessageID:        msg.ID,
		ChatID:           msg.ChatID,
		SenderID:         msg.SenderID,
		Type:             msg.Type,
		ReplyToMessageID: msg.ReplyToMessageID,
		AttachmentIDs:    ids,
		CreatedAt:        msg.CreatedAt,
	}
}

type statusEvent struct {
	MessageID uuid.UUID            `json:"message_id"`
	Status    domain.MessageStatus `json:"status"`
	At        time.Time            `json:"at"`
}
