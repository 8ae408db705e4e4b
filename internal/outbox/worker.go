package outbox

import (
	"context"
	"time"

	"chatline/internal/broker"
	"chatline/internal/domain"
	"chatline/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository is the pending side of the transactional outbox.
type Repository interface {
	FetchPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID, at time.Time) error
	PurgeProcessed(ctx context.Context, before time.Time) (int64, error)
}

type Options struct {
	BatchSize int
	Retention time.Duration
}

// Worker relays outbox rows to a broker in creation order. A failed publish
// stops the batch so the remaining rows are retried on the next tick.
type Worker struct {
	repo      Repository
	publisher broker.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	opts      Options
	now       func() time.Time
}

func NewWorker(repo Repository, publisher broker.Publisher, m *metrics.Metrics, log *zap.Logger, opts Options) *Worker {
	return &Worker{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		log:       log,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start polls every interval until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info("outbox worker started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("outbox worker stopped")
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				w.log.Warn("outbox relay failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce publishes one batch of pending events, marks the published
// ones processed and purges processed rows past retention. It returns the
// number of events published.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	events, err := w.repo.FetchPending(ctx, w.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	published := make([]uuid.UUID, 0, len(events))
	var publishErr error
	for _, event := range events {
		if err := w.publisher.Publish(ctx, event); err != nil {
			w.metrics.OutboxPublished.WithLabelValues("failed").Inc()
			publishErr = err
			break
		}
		w.metrics.OutboxPublished.WithLabelValues("published").Inc()
		published = append(published, event.ID)
	}

	now := w.now()
	if len(published) > 0 {
		if err := w.repo.MarkProcessed(ctx, published, now); err != nil {
			return 0, err
		}
	}
	if publishErr != nil {
		return len(published), publishErr
	}

	purged, err := w.repo.PurgeProcessed(ctx, now.Add(-w.opts.Retention))
	if err != nil {
		return len(published), err
	}
	if purged > 0 {
		w.log.Debug("purged outbox events", zap.Int64("count", purged))
	}
	return len(published), nil
}
