package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/models"
)

// AddStock is the manual "receive stock" correction.
func AddStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) (*models.StockRecord, error) {
	if quantity <= 0 {
		return nil, database.ErrInvalidQuantity
	}

	exists, err := ProductExists(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, database.NewProductError(productID, database.ErrProductNotFound)
	}

	record, err := IncreaseStock(ctx, tx, productID, quantity)
	if err != nil {
		return nil, err
	}

	if err := recordAdjustment(ctx, tx, record, quantity); err != nil {
		return nil, err
	}

	return record, nil
}

// RemoveStock is the manual "write off stock" correction. It never takes the
// quantity below zero.
func RemoveStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) (*models.StockRecord, error) {
	if quantity <= 0 {
		return nil, database.ErrInvalidQuantity
	}

	record, err := DecreaseStock(ctx, tx, productID, quantity)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, database.NewProductError(productID, database.ErrNotInInventory)
		}
		if errors.Is(err, database.ErrInsufficientStock) {
			return nil, database.NewProductError(productID, database.ErrInsufficientStock)
		}
		return nil, err
	}

	if err := recordAdjustment(ctx, tx, record, -quantity); err != nil {
		return nil, err
	}

	return record, nil
}

func recordAdjustment(ctx context.Context, tx *sql.Tx, record *models.StockRecord, delta int) error {
	_, err := InsertEvent(ctx, tx, "product", record.ProductID, models.EventInventoryAdjusted, models.InventoryAdjustedPayload{
		ProductID: record.ProductID,
		Delta:     delta,
		Quantity:  record.Quantity,
		At:        record.LastUpdated,
	})
	return err
}
