package events

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/store"
)

// Relay drains the outbox table into a Publisher. Each tick claims a batch
// with SKIP LOCKED, so any number of relays may run side by side.
type Relay struct {
	db        *sql.DB
	publisher Publisher
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(db *sql.DB, publisher Publisher, logger *zap.Logger, interval time.Duration, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		db:        db,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start blocks until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.ProcessOnce(ctx); err != nil {
				r.logger.Error("failed to process outbox", zap.Error(err))
			}
		}
	}
}

// ProcessOnce publishes one batch and returns how many events were sent.
// Events that fail to publish stay pending with their attempt count bumped.
// Later events of the same aggregate are held back until the failed one goes
// out, so consumers see each aggregate in commit order.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	sent := 0

	err := database.WithTransaction(ctx, r.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		sent = 0

		events, err := store.ClaimPendingEvents(ctx, tx, r.batchSize)
		if err != nil {
			return err
		}

		blocked := make(map[string]bool)
		for _, event := range events {
			key := aggregateKey(event.AggregateType, event.AggregateID)
			if blocked[key] {
				r.logger.Debug("event held behind failed aggregate event",
					zap.Int64("event_id", event.ID),
					zap.String("aggregate", key))
				continue
			}

			if err := r.publisher.Publish(ctx, event); err != nil {
				r.logger.Error("failed to publish event",
					zap.Int64("event_id", event.ID),
					zap.String("event_type", event.EventType),
					zap.Int("attempts", event.Attempts+1),
					zap.Error(err))

				if err := store.MarkEventFailed(ctx, tx, event.ID); err != nil {
					return err
				}
				blocked[key] = true
				continue
			}

			if err := store.MarkEventSent(ctx, tx, event.ID); err != nil {
				return err
			}
			sent++

			r.logger.Debug("event published",
				zap.Int64("event_id", event.ID),
				zap.String("event_type", event.EventType))
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return sent, nil
}

func aggregateKey(aggregateType string, aggregateID int64) string {
	return aggregateType + ":" + strconv.FormatInt(aggregateID, 10)
}
