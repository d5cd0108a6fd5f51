package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/models"
	"github.com/safar/stockroom/internal/testutil"
)

func TestAddStock(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, db)
	product := createTestProduct(t, db, owner, "INV-001", "1.00", 0)

	var record *models.StockRecord
	err := inTx(t, db, func(tx *sql.Tx) error {
		var err error
		record, err = AddStock(ctx, tx, product.ID, 10)
		return err
	})
	if err != nil {
		t.Fatalf("Add stock: %v", err)
	}
	if record.Quantity != 10 {
		t.Errorf("Expected quantity 10, got %d", record.Quantity)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		_, err := AddStock(ctx, tx, product.ID, 5)
		return err
	})
	if err != nil {
		t.Fatalf("Add more stock: %v", err)
	}
	if qty := quantityOf(t, db, product.ID); qty != 15 {
		t.Errorf("Expected quantity 15, got %d", qty)
	}

	n, err := CountEvents(ctx, db, models.EventInventoryAdjusted, models.OutboxStatusPending)
	if err != nil {
		t.Fatalf("Count events: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 adjustment events, got %d", n)
	}
}

func TestAddStockErrors(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, db)
	product := createTestProduct(t, db, owner, "INV-002", "1.00", 0)

	err := inTx(t, db, func(tx *sql.Tx) error {
		_, err := AddStock(ctx, tx, 999, 3)
		return err
	})
	if !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected product not found, got: %v", err)
	}
	if id, ok := database.ProductIDFromError(err); !ok || id != 999 {
		t.Errorf("Error should name product 999, got %d", id)
	}

	for _, qty := range []int{0, -4} {
		err := inTx(t, db, func(tx *sql.Tx) error {
			_, err := AddStock(ctx, tx, product.ID, qty)
			return err
		})
		if !errors.Is(err, database.ErrInvalidQuantity) {
			t.Errorf("Expected invalid quantity for %d, got: %v", qty, err)
		}
	}

	if n := countRows(t, db, "stock_records"); n != 0 {
		t.Errorf("Rejected adds must not create stock records, got %d", n)
	}
}

func TestRemoveStock(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, db)
	product := createTestProduct(t, db, owner, "INV-003", "1.00", 8)
	bare := createTestProduct(t, db, owner, "INV-004", "1.00", 0)

	err := inTx(t, db, func(tx *sql.Tx) error {
		_, err := RemoveStock(ctx, tx, product.ID, 3)
		return err
	})
	if err != nil {
		t.Fatalf("Remove stock: %v", err)
	}
	if qty := quantityOf(t, db, product.ID); qty != 5 {
		t.Errorf("Expected quantity 5, got %d", qty)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		_, err := RemoveStock(ctx, tx, product.ID, 6)
		return err
	})
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Errorf("Expected insufficient stock, got: %v", err)
	}
	if qty := quantityOf(t, db, product.ID); qty != 5 {
		t.Errorf("Quantity should stay 5, got %d", qty)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		_, err := RemoveStock(ctx, tx, bare.ID, 1)
		return err
	})
	if !errors.Is(err, database.ErrNotInInventory) {
		t.Errorf("Expected not in inventory, got: %v", err)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		_, err := RemoveStock(ctx, tx, product.ID, 0)
		return err
	})
	if !errors.Is(err, database.ErrInvalidQuantity) {
		t.Errorf("Expected invalid quantity, got: %v", err)
	}
}

func TestAdjustmentEventPayload(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, db)
	product := createTestProduct(t, db, owner, "INV-005", "1.00", 4)

	err := inTx(t, db, func(tx *sql.Tx) error {
		_, err := RemoveStock(ctx, tx, product.ID, 3)
		return err
	})
	if err != nil {
		t.Fatalf("Remove stock: %v", err)
	}

	var events []models.OutboxEvent
	err = inTx(t, db, func(tx *sql.Tx) error {
		var err error
		events, err = ClaimPendingEvents(ctx, tx, 10)
		return err
	})
	if err != nil {
		t.Fatalf("Claim events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	var payload models.InventoryAdjustedPayload
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("Decode payload: %v", err)
	}
	if payload.ProductID != product.ID || payload.Delta != -3 || payload.Quantity != 1 {
		t.Errorf("Unexpected payload: %+v", payload)
	}
}
