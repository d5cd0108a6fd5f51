package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/models"
	"github.com/shopspring/decimal"
)

var seq atomic.Int64

func createTestUser(t *testing.T, db *sql.DB) *models.User {
	t.Helper()

	n := seq.Add(1)
	user, err := CreateUser(context.Background(), db, fmt.Sprintf("user%d@example.com", n), fmt.Sprintf("User %d", n))
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

// createTestProduct creates a product and, when stock > 0, its stock record.
func createTestProduct(t *testing.T, db *sql.DB, owner *models.User, sku string, price string, stock int) *models.Product {
	t.Helper()
	ctx := context.Background()

	product, err := CreateProduct(ctx, db, CreateProductRequest{
		OwnerID: owner.ID,
		SKU:     sku,
		Name:    "Product " + sku,
		Price:   decimal.RequireFromString(price),
	})
	if err != nil {
		t.Fatalf("Create product %s: %v", sku, err)
	}

	if stock > 0 {
		if _, err := IncreaseStock(ctx, db, product.ID, stock); err != nil {
			t.Fatalf("Seed stock for %s: %v", sku, err)
		}
	}

	return product
}

func quantityOf(t *testing.T, db *sql.DB, productID int64) int {
	t.Helper()

	qty, err := GetQuantity(context.Background(), db, productID)
	if err != nil {
		t.Fatalf("Get quantity for %d: %v", productID, err)
	}
	return qty
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("Count %s: %v", table, err)
	}
	return n
}

func inTx(t *testing.T, db *sql.DB, fn func(*sql.Tx) error) error {
	t.Helper()
	return database.WithTransaction(context.Background(), db, database.DefaultTxOptions(), fn)
}
