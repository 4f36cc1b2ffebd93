package repo

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// CreateOutboxEvent writes event inside the caller's unit of work.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return translate(tx.WithContext(ctx).Create(evt).Error)
}

// PollOutbox pulls unprocessed events, oldest first.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka, keyed by wallet so a wallet's events stay ordered.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	if r.writer == nil {
		return errors.New("kafka writer not configured")
	}
	msg := kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: []byte(evt.Payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "tenant_id", Value: []byte(evt.TenantID)},
		},
		Time: time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}
