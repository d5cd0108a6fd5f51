package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/safar/stockroom/internal/models"
	"github.com/safar/stockroom/internal/testutil"
)

func TestOutboxLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if _, err := InsertEvent(ctx, db, "order", i, models.EventOrderCreated, map[string]int64{"order_id": i}); err != nil {
			t.Fatalf("Insert event %d: %v", i, err)
		}
	}

	var claimed []models.OutboxEvent
	err := inTx(t, db, func(tx *sql.Tx) error {
		var err error
		claimed, err = ClaimPendingEvents(ctx, tx, 2)
		if err != nil {
			return err
		}
		if err := MarkEventSent(ctx, tx, claimed[0].ID); err != nil {
			return err
		}
		return MarkEventFailed(ctx, tx, claimed[1].ID)
	})
	if err != nil {
		t.Fatalf("Claim and mark: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("Expected 2 claimed events, got %d", len(claimed))
	}
	if claimed[0].AggregateID != 1 || claimed[0].EventID == "" {
		t.Errorf("Expected oldest event first with an event id, got %+v", claimed[0])
	}

	sent, err := CountEvents(ctx, db, models.EventOrderCreated, models.OutboxStatusSent)
	if err != nil {
		t.Fatalf("Count sent: %v", err)
	}
	pending, err := CountEvents(ctx, db, models.EventOrderCreated, models.OutboxStatusPending)
	if err != nil {
		t.Fatalf("Count pending: %v", err)
	}
	if sent != 1 || pending != 2 {
		t.Errorf("Expected 1 sent and 2 pending, got %d and %d", sent, pending)
	}

	var attempts int
	if err := db.QueryRowContext(ctx, `SELECT attempts FROM outbox_events WHERE id = $1`, claimed[1].ID).Scan(&attempts); err != nil {
		t.Fatalf("Read attempts: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt on the failed event, got %d", attempts)
	}
}

func TestClaimSkipsLockedEvents(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		if _, err := InsertEvent(ctx, db, "order", i, models.EventOrderCreated, struct{}{}); err != nil {
			t.Fatalf("Insert event %d: %v", i, err)
		}
	}

	tx1, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin tx1: %v", err)
	}
	defer func() { _ = tx1.Rollback() }()

	first, err := ClaimPendingEvents(ctx, tx1, 2)
	if err != nil {
		t.Fatalf("Claim in tx1: %v", err)
	}

	tx2, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin tx2: %v", err)
	}
	defer func() { _ = tx2.Rollback() }()

	second, err := ClaimPendingEvents(ctx, tx2, 10)
	if err != nil {
		t.Fatalf("Claim in tx2: %v", err)
	}

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("Expected 2 and 2 claimed events, got %d and %d", len(first), len(second))
	}
	for _, a := range first {
		for _, b := range second {
			if a.ID == b.ID {
				t.Errorf("Event %d claimed twice", a.ID)
			}
		}
	}
}
