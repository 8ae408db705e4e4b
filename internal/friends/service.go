package friends

import (
	"context"
	"fmt"
	"time"

	"chatline/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notification actions carried by friend_request frames.
const (
	ActionReceived = "received"
	ActionAccepted = "accepted"
	ActionRejected = "rejected"
)

type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	CreateFriendRequest(ctx context.Context, req *domain.FriendRequest) error
	ListFriendRequests(ctx context.Context, userID uuid.UUID) ([]domain.FriendRequest, error)
	AnswerFriendRequest(ctx context.Context, id, receiverID uuid.UUID, status domain.FriendRequestStatus, at time.Time) (*domain.FriendRequest, error)
	ListFriendships(ctx context.Context, userID uuid.UUID) ([]domain.Friendship, error)
}

type Notifier interface {
	DeliverToUser(userID uuid.UUID, event any) bool
}

type OnlineChecker interface {
	IsOnline(userID uuid.UUID) bool
}

type Service struct {
	store    Store
	notifier Notifier
	online   OnlineChecker
	log      *zap.Logger
	now      func() time.Time
}

func NewService(store Store, notifier Notifier, online OnlineChecker, log *zap.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		online:   online,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SendRequest opens a pending request from senderID to receiverID and
// notifies the receiver.
func (s *Service) SendRequest(ctx context.Context, senderID, receiverID uuid.UUID) (*domain.FriendRequestView, error) {
	if senderID == receiverID {
		return nil, fmt.Errorf("cannot befriend yourself: %w", domain.ErrInvalid)
	}
	if _, err := s.store.GetUser(ctx, receiverID); err != nil {
		return nil, err
	}

	now := s.now()
	req := &domain.FriendRequest{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     domain.FriendRequestPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateFriendRequest(ctx, req); err != nil {
		return nil, err
	}

	view, err := s.view(ctx, req)
	if err != nil {
		return nil, err
	}
	s.notify(receiverID, ActionReceived, view)
	return view, nil
}

// Requests lists the requests userID sent or received.
func (s *Service) Requests(ctx context.Context, userID uuid.UUID) ([]domain.FriendRequestView, error) {
	requests, err := s.store.ListFriendRequests(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]domain.FriendRequestView, 0, len(requests))
	for i := range requests {
		v, err := s.view(ctx, &requests[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

// Answer accepts or rejects a pending request addressed to receiverID and
// notifies the original sender.
func (s *Service) Answer(ctx context.Context, receiverID, requestID uuid.UUID, status domain.FriendRequestStatus) (*domain.FriendRequestView, error) {
	var action string
	switch status {
	case domain.FriendRequestAccepted:
		action = ActionAccepted
	case domain.FriendRequestRejected:
		action = ActionRejected
	default:
		return nil, fmt.Errorf("status must be accepted or rejected: %w", domain.ErrInvalid)
	}

	req, err := s.store.AnswerFriendRequest(ctx, requestID, receiverID, status, s.now())
	if err != nil {
		return nil, err
	}
	s.log.Info("friend request answered", zap.Stringer("request_id", req.ID), zap.String("status", string(status)))

	view, err := s.view(ctx, req)
	if err != nil {
		return nil, err
	}
	s.notify(req.SenderID, action, view)
	return view, nil
}

// Friends lists userID's friends with their live presence.
func (s *Service) Friends(ctx context.Context, userID uuid.UUID) ([]domain.FriendView, error) {
	friendships, err := s.store.ListFriendships(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]domain.FriendView, 0, len(friendships))
	for _, f := range friendships {
		friendID := f.User1ID
		if friendID == userID {
			friendID = f.User2ID
		}
		friend, err := s.store.GetUser(ctx, friendID)
		if err != nil {
			return nil, err
		}
		friend.IsActive = s.online.IsOnline(friend.ID)
		views = append(views, domain.FriendView{ID: f.ID, Friend: *friend, CreatedAt: f.CreatedAt})
	}
	return views, nil
}

func (s *Service) view(ctx context.Context, req *domain.FriendRequest) (*domain.FriendRequestView, error) {
	sender, err := s.store.GetUser(ctx, req.SenderID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.store.GetUser(ctx, req.ReceiverID)
	if err != nil {
		return nil, err
	}
	return &domain.FriendRequestView{
		ID:        req.ID,
		Sender:    *sender,
		Receiver:  *receiver,
		Status:    req.Status,
		CreatedAt: req.CreatedAt,
	}, nil
}

func (s *Service) notify(userID uuid.UUID, action string, view *domain.FriendRequestView) {
	s.notifier.DeliverToUser(userID, domain.FriendRequestFrame{
		Type:    domain.FrameFriendRequest,
		Action:  action,
		Request: *view,
	})
}
