package auth

import (
	"context"
	"testing"
	"time"

	"chatline/internal/domain"
	"chatline/internal/testutil"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)
	assert.True(t, CheckPassword(hash, "hunter22"))
	assert.False(t, CheckPassword(hash, "hunter23"))
}

func TestTokenRoundTrip(t *testing.T) {
	store := testutil.NewStore(t)
	user := testutil.CreateUser(t, store, "alice")
	tokens := NewTokenManager("secret", time.Hour, store)

	token, err := tokens.Issue(user.ID)
	require.NoError(t, err)

	got, err := tokens.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got)
}

func TestAuthenticateRejects(t *testing.T) {
	store := testutil.NewStore(t)
	user := testutil.CreateUser(t, store, "alice")
	tokens := NewTokenManager("secret", time.Hour, store)
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		_, err := tokens.Authenticate(ctx, "")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tokens.Authenticate(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenManager("other", time.Hour, store)
		token, err := other.Issue(user.ID)
		require.NoError(t, err)
		_, err = tokens.Authenticate(ctx, token)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		past := NewTokenManager("secret", time.Hour, store)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := past.Issue(user.ID)
		require.NoError(t, err)
		_, err = tokens.Authenticate(ctx, token)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("unknown user", func(t *testing.T) {
		token, err := tokens.Issue(uuid.New())
		require.NoError(t, err)
		_, err = tokens.Authenticate(ctx, token)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("bad subject", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = tokens.Authenticate(ctx, token)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func newService(t *testing.T) *Service {
	t.Helper()
	store := testutil.NewStore(t)
	return NewService(store, NewTokenManager("secret", time.Hour, store), zap.NewNop())
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, RegisterInput{Name: "Alice", Email: " Alice@Example.com ", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", session.User.Email)
	assert.NotEmpty(t, session.AccessToken)

	_, err = svc.Register(ctx, RegisterInput{Name: "Other", Email: "alice@example.com", Password: "hunter22"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.Login(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Login(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	logged, err := svc.Login(ctx, "ALICE@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, logged.User.ID)
	assert.True(t, logged.User.IsActive)

	require.NoError(t, svc.Logout(ctx, logged.User.ID))
	user, err := svc.users.GetUser(ctx, logged.User.ID)
	require.NoError(t, err)
	assert.False(t, user.IsActive)
}

func TestRegisterValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	for name, in := range map[string]RegisterInput{
		"no name":        {Email: "a@example.com", Password: "hunter22"},
		"bad email":      {Name: "A", Email: "nope", Password: "hunter22"},
		"short password": {Name: "A", Email: "a@example.com", Password: "123"},
	} {
		_, err := svc.Register(ctx, in)
		assert.ErrorIs(t, err, domain.ErrInvalid, name)
	}
}

func TestUpdateProfile(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	a, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "hunter22"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{Name: "B", Email: "b@example.com", Password: "hunter22"})
	require.NoError(t, err)

	name, status := "Alice", "busy"
	user, err := svc.UpdateProfile(ctx, a.User.ID, ProfileUpdate{Name: &name, StatusMessage: &status})
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "busy", user.StatusMessage)

	taken := "b@example.com"
	_, err = svc.UpdateProfile(ctx, a.User.ID, ProfileUpdate{Email: &taken})
	assert.ErrorIs(t, err, domain.ErrConflict)
}
