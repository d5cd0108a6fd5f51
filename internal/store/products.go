package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/models"
	"github.com/shopspring/decimal"
)

type CreateProductRequest struct {
	OwnerID     int64
	SKU         string
	Name        string
	Description string
	Price       decimal.Decimal
}

// UpdateProductRequest carries optional fields; nil leaves the column as is.
// Version must match the stored row.
type UpdateProductRequest struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Version     int
}

const productColumns = `id, sku, name, description, price, owner_id, created_at, updated_at, version`

func scanProduct(row interface{ Scan(...any) error }, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.OwnerID,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
}

func CreateProduct(ctx context.Context, db database.Querier, req CreateProductRequest) (*models.Product, error) {
	if req.Price.IsNegative() {
		return nil, database.ErrInvalidPrice
	}

	product := &models.Product{}

	query := `
		INSERT INTO products (sku, name, description, price, owner_id, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	err := scanProduct(db.QueryRowContext(ctx, query, req.SKU, req.Name, req.Description, req.Price, req.OwnerID), product)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, database.ErrDuplicateSKU
		}
		if database.IsForeignKeyViolation(err) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db database.Querier, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	if err := scanProduct(db.QueryRowContext(ctx, query, id), product); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func ProductExists(ctx context.Context, db database.Querier, id int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)",
		id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check product exists: %w", err)
	}
	return exists, nil
}

func UpdateProduct(ctx context.Context, db database.Querier, id int64, req UpdateProductRequest) (*models.Product, error) {
	if req.Price != nil && req.Price.IsNegative() {
		return nil, database.ErrInvalidPrice
	}

	var price any
	if req.Price != nil {
		price = *req.Price
	}

	product := &models.Product{}

	query := `
		UPDATE products
		SET name = COALESCE($1, name),
		    description = COALESCE($2, description),
		    price = COALESCE($3, price),
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $4 AND version = $5
		RETURNING ` + productColumns

	err := scanProduct(db.QueryRowContext(ctx, query, req.Name, req.Description, price, id, req.Version), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			exists, existsErr := ProductExists(ctx, db, id)
			if existsErr != nil {
				return nil, existsErr
			}
			if !exists {
				return nil, database.ErrProductNotFound
			}
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	return product, nil
}

// DeleteProduct removes a product and its stock record. Products referenced
// by any order line are kept so historical orders stay resolvable.
func DeleteProduct(ctx context.Context, tx *sql.Tx, id int64) error {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return database.ErrProductNotFound
	}

	var referenced bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM order_lines WHERE product_id = $1)`, id).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("check order lines: %w", err)
	}
	if referenced {
		return database.ErrProductInUse
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stock_records WHERE product_id = $1`, id); err != nil {
		return fmt.Errorf("delete stock record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id); err != nil {
		if database.IsForeignKeyViolation(err) {
			return database.ErrProductInUse
		}
		return fmt.Errorf("delete product: %w", err)
	}

	return nil
}

func ListProducts(ctx context.Context, db database.Querier, page, pageSize int) (*OffsetPage[models.Product], error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}
