package outbox

import (
	"context"
	"time"

	"github.com/richardliu001/tenant-wallet/internal/model"
	"go.uber.org/zap"
)

// Store is the slice of the repository the relay needs.
type Store interface {
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	MarkOutboxProcessed(ctx context.Context, id uint64) error
}

// Relay forwards committed outbox rows to the broker. Delivery is at least
// once: a crash between publish and mark re-sends the event.
type Relay struct {
	store     Store
	interval  time.Duration
	batchSize int
	log       *zap.SugaredLogger
}

func NewRelay(store Store, interval time.Duration, batchSize int, log *zap.SugaredLogger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{store: store, interval: interval, batchSize: batchSize, log: log}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Infow("outbox relay started", "interval", r.interval, "batch_size", r.batchSize)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Errorf("poll outbox: %v", err)
			}
		}
	}
}

// RunOnce publishes one batch and returns how many events were sent. A
// failed publish stops the batch so later events are not sent ahead of it.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.PollOutbox(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range events {
		if err := r.store.PublishEvent(ctx, evt); err != nil {
			r.log.Errorf("publish id=%d: %v", evt.ID, err)
			return sent, nil
		}
		if err := r.store.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			r.log.Errorf("mark processed id=%d: %v", evt.ID, err)
			return sent, nil
		}
		sent++
		r.log.Debugw("event sent", "id", evt.ID, "type", evt.EventType, "tenant_id", evt.TenantID)
	}
	return sent, nil
}
