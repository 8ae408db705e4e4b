package presence

import (
	"context"
	"time"

	"chatline/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository persists the online flag and last-seen time of a user.
type Repository interface {
	SetPresence(ctx context.Context, userID uuid.UUID, active bool, lastSeen time.Time) error
}

// Broadcaster pushes an event to every connected session.
type Broadcaster interface {
	BroadcastAll(event any)
}

// Tracker records session transitions and announces them to every
// connected user, the subject's own session included.
type Tracker struct {
	repo        Repository
	broadcaster Broadcaster
	log         *zap.Logger
	now         func() time.Time
}

func NewTracker(repo Repository, broadcaster Broadcaster, log *zap.Logger) *Tracker {
	return &Tracker{
		repo:        repo,
		broadcaster: broadcaster,
		log:         log,
		now:         time.Now,
	}
}

func (t *Tracker) Online(ctx context.Context, userID uuid.UUID) {
	t.set(ctx, userID, true)
}

func (t *Tracker) Offline(ctx context.Context, userID uuid.UUID) {
	t.set(ctx, userID, false)
}

// set persists the transition and broadcasts it. A persistence failure is
// logged and the broadcast still goes out.
func (t *Tracker) set(ctx context.Context, userID uuid.UUID, online bool) {
	if err := t.repo.SetPresence(ctx, userID, online, t.now().UTC()); err != nil {
		t.log.Error("failed to persist presence",
			zap.Stringer("user_id", userID), zap.Bool("online", online), zap.Error(err))
	}
	t.broadcaster.BroadcastAll(domain.UserStatusFrame{
		Type:     domain.FrameUserStatus,
		UserID:   userID,
		IsOnline: online,
	})
}
