package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatline/internal/domain"

	"github.com/google/uuid"
)

const userColumns = `id, name, email, password, avatar, status_message, is_active, last_seen, created_at, updated_at`

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Avatar, &u.StatusMessage,
		&u.IsActive, &u.LastSeen, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.LastSeen = u.LastSeen.UTC()
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CreateUser inserts u. A duplicate email yields domain.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), u.ID, u.Name, u.Email, u.PasswordHash, u.Avatar, u.StatusMessage,
		u.IsActive, u.LastSeen, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("email %s already registered: %w", u.Email, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFound("user", id, err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE email = ?`), email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

// ListUsers returns every user except excludeID.
func (s *Store) ListUsers(ctx context.Context, excludeID uuid.UUID) ([]domain.User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE id <> ? ORDER BY name, id`, excludeID)
}

// SearchUsers matches name or email against q and leaves out userID, its
// friends and anyone with a pending request to or from userID.
func (s *Store) SearchUsers(ctx context.Context, userID uuid.UUID, q string, limit int) ([]domain.User, error) {
	exclude := map[uuid.UUID]bool{userID: true}

	friends, err := s.ListFriendships(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, f := range friends {
		exclude[f.User1ID] = true
		exclude[f.User2ID] = true
	}
	requests, err := s.ListFriendRequests(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, r := range requests {
		if r.Status == domain.FriendRequestPending {
			exclude[r.SenderID] = true
			exclude[r.ReceiverID] = true
		}
	}

	pattern := "%" + strings.ToLower(q) + "%"
	candidates, err := s.queryUsers(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE LOWER(name) LIKE ? OR LOWER(email) LIKE ?
		ORDER BY name, id
	`, pattern, pattern)
	if err != nil {
		return nil, err
	}

	users := make([]domain.User, 0, limit)
	for _, u := range candidates {
		if exclude[u.ID] {
			continue
		}
		users = append(users, u)
		if len(users) == limit {
			break
		}
	}
	return users, nil
}

// UpdateUser persists profile fields of u.
func (s *Store) UpdateUser(ctx context.Context, u *domain.User) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE users SET name = ?, email = ?, avatar = ?, status_message = ?, updated_at = ?
		WHERE id = ?
	`), u.Name, u.Email, u.Avatar, u.StatusMessage, u.UpdatedAt, u.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("email %s already registered: %w", u.Email, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", u.ID, domain.ErrNotFound)
	}
	return nil
}

// SetPresence records whether the user holds a live session.
func (s *Store) SetPresence(ctx context.Context, userID uuid.UUID, active bool, lastSeen time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE users SET is_active = ?, last_seen = ? WHERE id = ?
	`), active, lastSeen, userID)
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}

// ResetPresence marks every user offline. It runs at startup, when no
// session can exist yet.
func (s *Store) ResetPresence(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE users SET is_active = ?, last_seen = ? WHERE is_active = ?
	`), false, at, true)
	if err != nil {
		return 0, fmt.Errorf("failed to reset presence: %w", err)
	}
	return res.RowsAffected()
}
