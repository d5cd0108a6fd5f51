package service

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/models"
	"github.com/safar/stockroom/internal/store"
)

type InventoryService struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewInventoryService(db *sql.DB, logger *zap.Logger) *InventoryService {
	return &InventoryService{db: db, logger: logger}
}

func (s *InventoryService) AddStock(ctx context.Context, actorID, productID int64, quantity int) (*models.StockRecord, error) {
	return s.adjust(ctx, "InventoryService.AddStock", actorID, productID, quantity, store.AddStock)
}

func (s *InventoryService) RemoveStock(ctx context.Context, actorID, productID int64, quantity int) (*models.StockRecord, error) {
	return s.adjust(ctx, "InventoryService.RemoveStock", actorID, productID, quantity, store.RemoveStock)
}

type adjustFunc func(ctx context.Context, tx *sql.Tx, productID int64, quantity int) (*models.StockRecord, error)

func (s *InventoryService) adjust(ctx context.Context, name string, actorID, productID int64, quantity int, fn adjustFunc) (record *models.StockRecord, err error) {
	ctx, span := tracer().Start(ctx, name)
	defer func() { finishSpan(span, err) }()

	span.SetAttributes(
		attribute.Int64("inventory.product_id", productID),
		attribute.Int("inventory.quantity", quantity),
	)

	err = database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		record, err = fn(ctx, tx, productID, quantity)
		return err
	})
	if err != nil {
		s.logger.Info("stock adjustment rejected",
			zap.String("operation", name),
			zap.Int64("actor_id", actorID),
			zap.Int64("product_id", productID),
			zap.Int("quantity", quantity),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("stock adjusted",
		zap.String("operation", name),
		zap.Int64("actor_id", actorID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Int("on_hand", record.Quantity))

	return record, nil
}

func (s *InventoryService) GetStock(ctx context.Context, productID int64) (*models.StockRecord, error) {
	record, err := store.GetStock(ctx, s.db, productID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, database.NewProductError(productID, database.ErrNotInInventory)
		}
		return nil, err
	}
	return record, nil
}

func (s *InventoryService) ListStock(ctx context.Context, page, pageSize int) (*store.OffsetPage[models.StockRecord], error) {
	return store.ListStock(ctx, s.db, page, pageSize)
}
