package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatline/internal/domain"

	"github.com/google/uuid"
)

func (s *Store) listReactions(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, query string, args ...any) ([]domain.Reaction, error) {
	rows, err := q.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reactions: %w", err)
	}
	defer rows.Close()

	reactions := make([]domain.Reaction, 0)
	for rows.Next() {
		var r domain.Reaction
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

// ToggleReaction removes the (message, user, emoji) reaction if present and
// adds it otherwise. It returns the action taken and the message's full
// reaction list after the toggle.
func (s *Store) ToggleReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string, at time.Time) (domain.ReactionAction, []domain.Reaction, error) {
	var (
		action    domain.ReactionAction
		reactions []domain.Reaction
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			DELETE FROM message_reactions WHERE message_id = ? AND user_id = ? AND emoji = ?
		`), messageID, userID, emoji)
		if err != nil {
			return fmt.Errorf("failed to remove reaction: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			action = domain.ReactionRemoved
		} else {
			_, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO message_reactions (id, message_id, user_id, emoji, created_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (message_id, user_id, emoji) DO NOTHING
			`), uuid.Must(uuid.NewV7()), messageID, userID, emoji, at)
			if err != nil {
				return fmt.Errorf("failed to add reaction: %w", err)
			}
			action = domain.ReactionAdded
		}

		reactions, err = s.listReactions(ctx, tx, `
			SELECT id, message_id, user_id, emoji, created_at FROM message_reactions
			WHERE message_id = ? ORDER BY created_at, id
		`, messageID)
		if err != nil {
			return err
		}
		return s.saveEvent(ctx, tx, domain.EventTypeReactionToggled, map[string]any{
			"message_id": messageID,
			"user_id":    userID,
			"emoji":      emoji,
			"action":     action,
		}, at)
	})
	if err != nil {
		return "", nil, err
	}
	return action, reactions, nil
}

// ListChatReactions returns the reactions of every message in the chat,
// keyed by message ID.
func (s *Store) ListChatReactions(ctx context.Context, chatID uuid.UUID) (map[uuid.UUID][]domain.Reaction, error) {
	reactions, err := s.listReactions(ctx, s.db, `
		SELECT r.id, r.message_id, r.user_id, r.emoji, r.created_at
		FROM message_reactions r
		JOIN messages m ON m.id = r.message_id
		WHERE m.chat_id = ?
		ORDER BY r.created_at, r.id
	`, chatID)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID][]domain.Reaction)
	for _, r := range reactions {
		out[r.MessageID] = append(out[r.MessageID], r)
	}
	return out, nil
}
