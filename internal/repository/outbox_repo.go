package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chatline/internal/domain"

	"github.com/google/uuid"
)

type OutboxRepository interface {
	Save(ctx context.Context, tx *sql.Tx, event *domain.OutboxEvent) error
	FetchPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID, at time.Time) error
	PurgeProcessed(ctx context.Context, before time.Time) (int64, error)
}

// NewOutboxEvent marshals payload into a pending outbox event.
func NewOutboxEvent(eventType string, payload any, at time.Time) (*domain.OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &domain.OutboxEvent{
		ID:        uuid.Must(uuid.NewV7()),
		EventType: eventType,
		Payload:   data,
		Status:    domain.OutboxPending,
		CreatedAt: at,
	}, nil
}

type SQLOutboxRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLOutboxRepository(db *sql.DB, dialect Dialect) *SQLOutboxRepository {
	return &SQLOutboxRepository{db: db, dialect: dialect}
}

func (r *SQLOutboxRepository) Save(ctx context.Context, tx *sql.Tx, event *domain.OutboxEvent) error {
	_, err := tx.ExecContext(ctx, r.dialect.Rebind(`
		INSERT INTO outbox_events (id, event_type, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), event.ID, event.EventType, string(event.Payload), domain.OutboxPending, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func (r *SQLOutboxRepository) FetchPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`
		SELECT id, event_type, payload, status, created_at
		FROM outbox_events
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?
	`), domain.OutboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var (
			e       domain.OutboxEvent
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.EventType, &payload, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *SQLOutboxRepository) MarkProcessed(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	for _, id := range ids {
		_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`
			UPDATE outbox_events SET status = ?, processed_at = ? WHERE id = ?
		`), domain.OutboxProcessed, at, id)
		if err != nil {
			return fmt.Errorf("failed to mark outbox event processed: %w", err)
		}
	}
	return nil
}

func (r *SQLOutboxRepository) PurgeProcessed(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`
		DELETE FROM outbox_events WHERE status = ? AND processed_at < ?
	`), domain.OutboxProcessed, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge outbox events: %w", err)
	}
	return res.RowsAffected()
}
