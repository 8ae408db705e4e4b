package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatline/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type presenceCall struct {
	userID   uuid.UUID
	active   bool
	lastSeen time.Time
}

type fakeRepo struct {
	calls []presenceCall
	err   error
}

func (r *fakeRepo) SetPresence(_ context.Context, userID uuid.UUID, active bool, lastSeen time.Time) error {
	r.calls = append(r.calls, presenceCall{userID, active, lastSeen})
	return r.err
}

type fakeBroadcaster struct {
	events []any
}

func (b *fakeBroadcaster) BroadcastAll(event any) {
	b.events = append(b.events, event)
}

func TestTrackerTransitions(t *testing.T) {
	repo := &fakeRepo{}
	b := &fakeBroadcaster{}
	tracker := NewTracker(repo, b, zap.NewNop())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return at }
	user := uuid.New()

	tracker.Online(context.Background(), user)
	tracker.Offline(context.Background(), user)

	assert.Equal(t, []presenceCall{{user, true, at}, {user, false, at}}, repo.calls)
	assert.Equal(t, []any{
		domain.UserStatusFrame{Type: domain.FrameUserStatus, UserID: user, IsOnline: true},
		domain.UserStatusFrame{Type: domain.FrameUserStatus, UserID: user, IsOnline: false},
	}, b.events)
}

func TestTrackerBroadcastsDespiteStoreFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	repo := &fakeRepo{err: errors.New("database is locked")}
	b := &fakeBroadcaster{}
	tracker := NewTracker(repo, b, zap.New(core))

	tracker.Online(context.Background(), uuid.New())

	require.Len(t, b.events, 1)
	assert.True(t, b.events[0].(domain.UserStatusFrame).IsOnline)
	assert.Equal(t, 1, logs.FilterMessage("failed to persist presence").Len())
}
