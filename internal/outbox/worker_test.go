package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatline/internal/domain"
	"chatline/internal/metrics"
	"chatline/internal/repository"
	"chatline/internal/testutil"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memRepo struct {
	mu        sync.Mutex
	pending   []*domain.OutboxEvent
	processed []uuid.UUID
	purgedAt  []time.Time
}

func (r *memRepo) FetchPending(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) < limit {
		limit = len(r.pending)
	}
	return append([]*domain.OutboxEvent(nil), r.pending[:limit]...), nil
}

func (r *memRepo) MarkProcessed(_ context.Context, ids []uuid.UUID, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		done[id] = true
		r.processed = append(r.processed, id)
	}
	kept := r.pending[:0]
	for _, e := range r.pending {
		if !done[e.ID] {
			kept = append(kept, e)
		}
	}
	r.pending = kept
	return nil
}

func (r *memRepo) PurgeProcessed(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgedAt = append(r.purgedAt, before)
	return 0, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	events   []string
	failOn   string
	failures int
}

func (p *recordingPublisher) Publish(_ context.Context, event *domain.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.EventType == p.failOn && p.failures > 0 {
		p.failures--
		return errors.New("channel closed")
	}
	p.events = append(p.events, event.EventType)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func pending(types ...string) []*domain.OutboxEvent {
	events := make([]*domain.OutboxEvent, len(types))
	for i, t := range types {
		events[i] = &domain.OutboxEvent{ID: uuid.New(), EventType: t, Status: domain.OutboxPending}
	}
	return events
}

func TestProcessOnceRelaysInOrder(t *testing.T) {
	repo := &memRepo{pending: pending("A", "B", "C")}
	pub := &recordingPublisher{}
	m := metrics.New(prometheus.NewRegistry())
	w := NewWorker(repo, pub, m, zap.NewNop(), Options{BatchSize: 10, Retention: time.Hour})
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	n, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"A", "B", "C"}, pub.published())
	assert.Empty(t, repo.pending)
	assert.Equal(t, []time.Time{now.Add(-time.Hour)}, repo.purgedAt)
	assert.Equal(t, float64(3), promtest.ToFloat64(m.OutboxPublished.WithLabelValues("published")))
}

func TestProcessOnceStopsAtFirstFailure(t *testing.T) {
	repo := &memRepo{pending: pending("A", "B", "C")}
	pub := &recordingPublisher{failOn: "B", failures: 1}
	m := metrics.New(prometheus.NewRegistry())
	w := NewWorker(repo, pub, m, zap.NewNop(), Options{BatchSize: 10, Retention: time.Hour})

	n, err := w.ProcessOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, repo.pending, 2, "B and C stay pending")
	assert.Equal(t, "B", repo.pending[0].EventType)
	assert.Empty(t, repo.purgedAt)
	assert.Equal(t, float64(1), promtest.ToFloat64(m.OutboxPublished.WithLabelValues("failed")))

	n, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"A", "B", "C"}, pub.published())
}

func TestProcessOnceHonoursBatchSize(t *testing.T) {
	repo := &memRepo{pending: pending("A", "B", "C")}
	pub := &recordingPublisher{}
	w := NewWorker(repo, pub, metrics.New(prometheus.NewRegistry()), zap.NewNop(), Options{BatchSize: 2})

	n, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, repo.pending, 1)
}

func TestStartDrainsStoreUntilCancelled(t *testing.T) {
	store := testutil.NewStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	alice := testutil.CreateUser(t, store, "alice")
	bob := testutil.CreateUser(t, store, "bob")
	chat, _, err := store.GetOrCreateChat(ctx, alice.ID, bob.ID, time.Now().UTC())
	require.NoError(t, err)
	content := "hello"
	now := time.Now().UTC()
	_, err = store.CreateMessage(ctx, &domain.Message{
		ID:        uuid.Must(uuid.NewV7()),
		ChatID:    chat.ID,
		SenderID:  alice.ID,
		Content:   &content,
		Type:      domain.MessageTypeText,
		Status:    domain.StatusSent,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil)
	require.NoError(t, err)

	outbox := repository.NewSQLOutboxRepository(store.DB(), repository.SQLite)
	pub := &recordingPublisher{}
	w := NewWorker(outbox, pub, metrics.New(prometheus.NewRegistry()), zap.NewNop(), Options{BatchSize: 50, Retention: time.Hour})

	done := make(chan struct{})
	go func() {
		w.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		left, err := outbox.FetchPending(context.Background(), 50)
		return err == nil && len(left) == 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, pub.published(), domain.EventTypeMessageCreated)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
