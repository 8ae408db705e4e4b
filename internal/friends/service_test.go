package friends

import (
	"context"
	"testing"

	"chatline/internal/domain"
	"chatline/internal/repository"
	"chatline/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) (*Service, *repository.Store, *testutil.Notifier) {
	t.Helper()
	store := testutil.NewStore(t)
	notifier := testutil.NewNotifier()
	return NewService(store, notifier, notifier, zap.NewNop()), store, notifier
}

func TestFriendRequestAccepted(t *testing.T) {
	svc, store, notifier := newService(t)
	ctx := context.Background()
	alice := testutil.CreateUser(t, store, "alice")
	bob := testutil.CreateUser(t, store, "bob")
	notifier.SetOnline(alice.ID, true)
	notifier.SetOnline(bob.ID, true)

	req, err := svc.SendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendRequestPending, req.Status)
	assert.Equal(t, alice.ID, req.Sender.ID)

	received := notifier.For(bob.ID)
	require.Len(t, received, 1)
	assert.Equal(t, ActionReceived, received[0].(domain.FriendRequestFrame).Action)

	answered, err := svc.Answer(ctx, bob.ID, req.ID, domain.FriendRequestAccepted)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendRequestAccepted, answered.Status)

	accepted := notifier.For(alice.ID)
	require.Len(t, accepted, 1)
	assert.Equal(t, ActionAccepted, accepted[0].(domain.FriendRequestFrame).Action)

	friends, err := svc.Friends(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, bob.ID, friends[0].Friend.ID)
	assert.True(t, friends[0].Friend.IsActive)

	friends, err = svc.Friends(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, alice.ID, friends[0].Friend.ID)
}

func TestFriendRequestRejected(t *testing.T) {
	svc, store, notifier := newService(t)
	ctx := context.Background()
	alice := testutil.CreateUser(t, store, "alice")
	bob := testutil.CreateUser(t, store, "bob")
	notifier.SetOnline(alice.ID, true)

	req, err := svc.SendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, err = svc.Answer(ctx, alice.ID, req.ID, domain.FriendRequestAccepted)
	assert.ErrorIs(t, err, domain.ErrNotFound, "only the receiver may answer")

	_, err = svc.Answer(ctx, bob.ID, req.ID, domain.FriendRequestPending)
	assert.ErrorIs(t, err, domain.ErrInvalid)

	_, err = svc.Answer(ctx, bob.ID, req.ID, domain.FriendRequestRejected)
	require.NoError(t, err)
	events := notifier.For(alice.ID)
	require.Len(t, events, 1)
	assert.Equal(t, ActionRejected, events[0].(domain.FriendRequestFrame).Action)

	friends, err := svc.Friends(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, friends)

	requests, err := svc.Requests(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, domain.FriendRequestRejected, requests[0].Status)
}

func TestFriendRequestValidation(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	alice := testutil.CreateUser(t, store, "alice")
	bob := testutil.CreateUser(t, store, "bob")

	_, err := svc.SendRequest(ctx, alice.ID, alice.ID)
	assert.ErrorIs(t, err, domain.ErrInvalid)

	_, err = svc.SendRequest(ctx, alice.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.SendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = svc.SendRequest(ctx, bob.ID, alice.ID)
	assert.ErrorIs(t, err, domain.ErrConflict, "a pending request in either direction blocks a new one")
}
