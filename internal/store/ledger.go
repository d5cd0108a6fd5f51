package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/models"
)

// LockMode selects how LockStock behaves when another transaction holds the
// stock row.
type LockMode int

const (
	LockWait LockMode = iota
	LockNoWait
)

const stockColumns = `product_id, quantity, last_updated`

func scanStock(row interface{ Scan(...any) error }, record *models.StockRecord) error {
	return row.Scan(&record.ProductID, &record.Quantity, &record.LastUpdated)
}

func GetStock(ctx context.Context, db database.Querier, productID int64) (*models.StockRecord, error) {
	record := &models.StockRecord{}

	query := `SELECT ` + stockColumns + ` FROM stock_records WHERE product_id = $1`

	if err := scanStock(db.QueryRowContext(ctx, query, productID), record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("get stock: %w", err)
	}

	return record, nil
}

func GetQuantity(ctx context.Context, db database.Querier, productID int64) (int, error) {
	record, err := GetStock(ctx, db, productID)
	if err != nil {
		return 0, err
	}
	return record.Quantity, nil
}

// IncreaseStock adds amount to the product's stock, creating the record on
// first use. The product must exist.
func IncreaseStock(ctx context.Context, db database.Querier, productID int64, amount int) (*models.StockRecord, error) {
	if amount <= 0 {
		return nil, database.ErrInvalidQuantity
	}

	record := &models.StockRecord{}

	query := `
		INSERT INTO stock_records (product_id, quantity, last_updated)
		VALUES ($1, $2, NOW())
		ON CONFLICT (product_id) DO UPDATE
		SET quantity = stock_records.quantity + EXCLUDED.quantity,
		    last_updated = NOW()
		RETURNING ` + stockColumns

	if err := scanStock(db.QueryRowContext(ctx, query, productID, amount), record); err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("increase stock: %w", err)
	}

	return record, nil
}

// DecreaseStock subtracts amount in a single conditional UPDATE, so the check
// and the subtraction happen under the same row lock. Quantity never goes
// below zero.
func DecreaseStock(ctx context.Context, db database.Querier, productID int64, amount int) (*models.StockRecord, error) {
	if amount <= 0 {
		return nil, database.ErrInvalidQuantity
	}

	record := &models.StockRecord{}

	query := `
		UPDATE stock_records
		SET quantity = quantity - $1,
		    last_updated = NOW()
		WHERE product_id = $2
		  AND quantity >= $1
		RETURNING ` + stockColumns

	err := scanStock(db.QueryRowContext(ctx, query, amount, productID), record)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decrease stock: %w", err)
	}

	if _, err := GetStock(ctx, db, productID); err != nil {
		return nil, err
	}
	return nil, database.ErrInsufficientStock
}

// LockStock takes the row lock on a product's stock record for the rest of
// the transaction.
func LockStock(ctx context.Context, tx *sql.Tx, productID int64, mode LockMode) (*models.StockRecord, error) {
	record := &models.StockRecord{}

	query := `SELECT ` + stockColumns + ` FROM stock_records WHERE product_id = $1 FOR UPDATE`
	if mode == LockNoWait {
		query += ` NOWAIT`
	}

	if err := scanStock(tx.QueryRowContext(ctx, query, productID), record); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "55P03" {
			return nil, database.ErrLockTimeout
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("lock stock: %w", err)
	}

	return record, nil
}

// ListStock pages through stock records whose product still resolves.
func ListStock(ctx context.Context, db database.Querier, page, pageSize int) (*OffsetPage[models.StockRecord], error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM stock_records s
		JOIN products p ON p.id = s.product_id`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count stock: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := db.QueryContext(ctx, `
		SELECT s.product_id, s.quantity, s.last_updated
		FROM stock_records s
		JOIN products p ON p.id = s.product_id
		ORDER BY s.product_id
		LIMIT $1 OFFSET $2`, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list stock: %w", err)
	}
	defer rows.Close()

	var records []models.StockRecord
	for rows.Next() {
		var record models.StockRecord
		if err := scanStock(rows, &record); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(records, total, page, pageSize), nil
}
