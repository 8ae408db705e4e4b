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

const friendRequestColumns = `id, sender_id, receiver_id, status, created_at, updated_at`

func scanFriendRequest(row rowScanner) (*domain.FriendRequest, error) {
	var r domain.FriendRequest
	if err := row.Scan(&r.ID, &r.SenderID, &r.ReceiverID, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// CreateFriendRequest inserts req unless a request is already pending
// between the two users in either direction or they are already friends,
// both of which yield domain.ErrConflict.
func (s *Store) CreateFriendRequest(ctx context.Context, req *domain.FriendRequest) error {
	low, high := domain.OrderedPair(req.SenderID, req.ReceiverID)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var pending int
		err := tx.QueryRowContext(ctx, s.q(`
			SELECT COUNT(*) FROM friend_requests WHERE pair_low = ? AND pair_high = ? AND status = ?
		`), low, high, domain.FriendRequestPending).Scan(&pending)
		if err != nil {
			return fmt.Errorf("failed to check friend requests: %w", err)
		}
		if pending > 0 {
			return fmt.Errorf("friend request already pending: %w", domain.ErrConflict)
		}

		var friends int
		err = tx.QueryRowContext(ctx, s.q(`
			SELECT COUNT(*) FROM friendships WHERE user1_id = ? AND user2_id = ?
		`), low, high).Scan(&friends)
		if err != nil {
			return fmt.Errorf("failed to check friendship: %w", err)
		}
		if friends > 0 {
			return fmt.Errorf("already friends: %w", domain.ErrConflict)
		}

		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO friend_requests (id, sender_id, receiver_id, pair_low, pair_high, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`), req.ID, req.SenderID, req.ReceiverID, low, high, req.Status, req.CreatedAt, req.UpdatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("friend request already pending: %w", domain.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("failed to insert friend request: %w", err)
		}
		return s.saveEvent(ctx, tx, domain.EventTypeFriendRequestCreated, req, req.CreatedAt)
	})
}

func (s *Store) GetFriendRequest(ctx context.Context, id uuid.UUID) (*domain.FriendRequest, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+friendRequestColumns+` FROM friend_requests WHERE id = ?`), id)
	r, err := scanFriendRequest(row)
	if err != nil {
		return nil, notFound("friend request", id, err)
	}
	return r, nil
}

// ListFriendRequests returns requests sent or received by userID.
func (s *Store) ListFriendRequests(ctx context.Context, userID uuid.UUID) ([]domain.FriendRequest, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+friendRequestColumns+` FROM friend_requests
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY created_at, id
	`), userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch friend requests: %w", err)
	}
	defer rows.Close()

	requests := make([]domain.FriendRequest, 0)
	for rows.Next() {
		r, err := scanFriendRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// AnswerFriendRequest moves a pending request addressed to receiverID to
// status. Accepting creates the friendship in the same transaction.
func (s *Store) AnswerFriendRequest(ctx context.Context, id, receiverID uuid.UUID, status domain.FriendRequestStatus, at time.Time) (*domain.FriendRequest, error) {
	var req *domain.FriendRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.q(`
			SELECT `+friendRequestColumns+` FROM friend_requests WHERE id = ? AND receiver_id = ?
		`), id, receiverID)
		r, err := scanFriendRequest(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("friend request %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load friend request: %w", err)
		}
		if r.Status != domain.FriendRequestPending {
			return fmt.Errorf("friend request %s is %s: %w", id, r.Status, domain.ErrConflict)
		}

		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE friend_requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?
		`), status, at, id, domain.FriendRequestPending)
		if err != nil {
			return fmt.Errorf("failed to update friend request: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("friend request %s already answered: %w", id, domain.ErrConflict)
		}
		r.Status = status
		r.UpdatedAt = at

		if status == domain.FriendRequestAccepted {
			low, high := domain.OrderedPair(r.SenderID, r.ReceiverID)
			_, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO friendships (id, user1_id, user2_id, created_at) VALUES (?, ?, ?, ?)
				ON CONFLICT (user1_id, user2_id) DO NOTHING
			`), uuid.New(), low, high, at)
			if err != nil {
				return fmt.Errorf("failed to create friendship: %w", err)
			}
		}
		req = r
		return s.saveEvent(ctx, tx, domain.EventTypeFriendRequestAnswered, r, at)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Store) ListFriendships(ctx context.Context, userID uuid.UUID) ([]domain.Friendship, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, user1_id, user2_id, created_at FROM friendships
		WHERE user1_id = ? OR user2_id = ?
		ORDER BY created_at, id
	`), userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch friendships: %w", err)
	}
	defer rows.Close()

	friendships := make([]domain.Friendship, 0)
	for rows.Next() {
		var f domain.Friendship
		if err := rows.Scan(&f.ID, &f.User1ID, &f.User2ID, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.CreatedAt = f.CreatedAt.UTC()
		friendships = append(friendships, f)
	}
	return friendships, rows.Err()
}
