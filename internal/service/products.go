package service

import (
	"context"
	"database/sql"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/models"
	"github.com/safar/stockroom/internal/store"
)

type ProductService struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewProductService(db *sql.DB, logger *zap.Logger) *ProductService {
	return &ProductService{db: db, logger: logger}
}

// CreateProduct registers a product owned by the caller.
func (s *ProductService) CreateProduct(ctx context.Context, ownerID int64, req store.CreateProductRequest) (product *models.Product, err error) {
	ctx, span := tracer().Start(ctx, "ProductService.CreateProduct")
	defer func() { finishSpan(span, err) }()

	req.OwnerID = ownerID
	req.SKU = strings.TrimSpace(req.SKU)
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" {
		return nil, database.ErrInvalidInput
	}

	product, err = store.CreateProduct(ctx, s.db, req)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int64("product.id", product.ID))
	s.logger.Info("product created",
		zap.Int64("product_id", product.ID),
		zap.String("sku", product.SKU),
		zap.Int64("owner_id", ownerID))

	return product, nil
}

func (s *ProductService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return store.GetProduct(ctx, s.db, id)
}

func (s *ProductService) ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage[models.Product], error) {
	return store.ListProducts(ctx, s.db, page, pageSize)
}

// UpdateProduct applies req if the caller owns the product.
func (s *ProductService) UpdateProduct(ctx context.Context, callerID, id int64, req store.UpdateProductRequest) (product *models.Product, err error) {
	ctx, span := tracer().Start(ctx, "ProductService.UpdateProduct")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.Int64("product.id", id))

	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, database.ErrInvalidInput
	}

	current, err := store.GetProduct(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if current.OwnerID != callerID {
		return nil, database.ErrForbidden
	}

	product, err = store.UpdateProduct(ctx, s.db, id, req)
	if err != nil {
		return nil, err
	}

	s.logger.Info("product updated",
		zap.Int64("product_id", id),
		zap.Int("version", product.Version))

	return product, nil
}

// DeleteProduct removes the product and its stock record if the caller owns
// it and no order line references it.
func (s *ProductService) DeleteProduct(ctx context.Context, callerID, id int64) (err error) {
	ctx, span := tracer().Start(ctx, "ProductService.DeleteProduct")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.Int64("product.id", id))

	err = database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		product, err := store.GetProduct(ctx, tx, id)
		if err != nil {
			return err
		}
		if product.OwnerID != callerID {
			return database.ErrForbidden
		}
		return store.DeleteProduct(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("product deleted", zap.Int64("product_id", id), zap.Int64("owner_id", callerID))
	return nil
}
