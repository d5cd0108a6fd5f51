package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/models"
)

// InsertEvent records an event in the outbox. Call it with the transaction
// that performs the change so the event commits or rolls back with it.
func InsertEvent(ctx context.Context, db database.Querier, aggregateType string, aggregateID int64, eventType string, payload any) (*models.OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	event := &models.OutboxEvent{
		EventID:       uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		Status:        models.OutboxStatusPending,
	}

	err = db.QueryRowContext(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at`,
		event.EventID, aggregateType, aggregateID, eventType, []byte(data), models.OutboxStatusPending,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}

	return event, nil
}

// ClaimPendingEvents locks up to limit pending events. Rows locked by another
// relay are skipped, so several instances can drain the outbox concurrently.
func ClaimPendingEvents(ctx context.Context, tx *sql.Tx, limit int) ([]models.OutboxEvent, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, status, attempts, created_at
		FROM outbox_events
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		models.OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending events: %w", err)
	}
	defer rows.Close()

	var events []models.OutboxEvent
	for rows.Next() {
		var event models.OutboxEvent
		var payload []byte
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.AggregateType,
			&event.AggregateID,
			&event.EventType,
			&payload,
			&event.Status,
			&event.Attempts,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		event.Payload = payload
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}

func MarkEventSent(ctx context.Context, db database.Querier, id int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = $1, sent_at = NOW(), attempts = attempts + 1
		WHERE id = $2`,
		models.OutboxStatusSent, id)
	if err != nil {
		return fmt.Errorf("mark event sent: %w", err)
	}
	return nil
}

func MarkEventFailed(ctx context.Context, db database.Querier, id int64) error {
	_, err := db.ExecContext(ctx, `UPDATE outbox_events SET attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return nil
}

func CountEvents(ctx context.Context, db database.Querier, eventType, status string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outbox_events WHERE event_type = $1 AND status = $2`,
		eventType, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}
