// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chatline/internal/domain"
	"chatline/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// NewStore returns a migrated store backed by a private in-memory SQLite
// database that is closed when the test ends.
func NewStore(t *testing.T) *repository.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := repository.Open(string(repository.SQLite), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	outbox := repository.NewSQLOutboxRepository(db, repository.SQLite)
	store := repository.NewStore(db, repository.SQLite, outbox)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// CreateUser inserts a user with the given name and a derived email.
func CreateUser(t *testing.T, store *repository.Store, name string) *domain.User {
	t.Helper()

	now := time.Now().UTC()
	u := &domain.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        fmt.Sprintf("%s-%s@example.com", name, uuid.NewString()[:8]),
		PasswordHash: "x",
		LastSeen:     now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}
