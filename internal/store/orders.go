package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/models"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	CustomerID int64
	// Status is the initial status; empty means pending.
	Status string
	Items  []OrderItemRequest
}

// OrderItemRequest carries the unit price agreed at order time. It is stored
// as is and never re-read from the product.
type OrderItemRequest struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

type OrderOptions struct {
	LockMode   LockMode
	MaxRetries int
	OnRetry    func(attempt int, err error)
}

func DefaultOrderOptions() OrderOptions {
	return OrderOptions{LockMode: LockWait, MaxRetries: 3}
}

func generateOrderNumber() string {
	return "ORD-" + uuid.NewString()
}

// ValidateOrderRequest checks the request shape before any row is touched.
func ValidateOrderRequest(req CreateOrderRequest) error {
	if req.Status != "" && !models.ValidOrderStatus(req.Status) {
		return database.ErrInvalidStatus
	}
	if len(req.Items) == 0 {
		return database.ErrEmptyOrder
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return database.NewProductError(item.ProductID, database.ErrInvalidQuantity)
		}
		if item.UnitPrice.IsNegative() {
			return database.NewProductError(item.ProductID, database.ErrInvalidPrice)
		}
	}
	return nil
}

// CreateOrder places an order in its own transaction, retrying on deadlocks
// and lock timeouts. Either every line is reserved and persisted or nothing
// is: on any error the order row, its lines and every stock decrement made so
// far are rolled back.
func CreateOrder(ctx context.Context, db *sql.DB, req CreateOrderRequest, opts OrderOptions) (*models.Order, error) {
	if err := ValidateOrderRequest(req); err != nil {
		return nil, err
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		MaxRetries:     opts.MaxRetries,
		OnRetry:        opts.OnRetry,
	}, func(tx *sql.Tx) error {
		var err error
		order, err = PlaceOrder(ctx, tx, req, opts.LockMode)
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// PlaceOrder runs the reservation workflow inside tx. The caller owns commit
// and rollback.
func PlaceOrder(ctx context.Context, tx *sql.Tx, req CreateOrderRequest, mode LockMode) (*models.Order, error) {
	if err := ValidateOrderRequest(req); err != nil {
		return nil, err
	}

	status := req.Status
	if status == "" {
		status = models.OrderStatusPending
	}

	exists, err := UserExists(ctx, tx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, database.ErrUserNotFound
	}

	if err := lockStockRows(ctx, tx, req.Items, mode); err != nil {
		return nil, err
	}

	var orderID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO orders (customer_id, order_number, status, total_amount, created_at, updated_at, version)
		 VALUES ($1, $2, $3, 0, NOW(), NOW(), 1)
		 RETURNING id`,
		req.CustomerID, generateOrderNumber(), status).Scan(&orderID)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	totalAmount := decimal.Zero
	lines := make([]models.OrderLine, 0, len(req.Items))

	for _, item := range req.Items {
		exists, err := ProductExists(ctx, tx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, database.NewProductError(item.ProductID, database.ErrProductNotFound)
		}

		if _, err := DecreaseStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			switch {
			case errors.Is(err, database.ErrNotFound):
				return nil, database.NewProductError(item.ProductID, database.ErrProductNotFound)
			case errors.Is(err, database.ErrInsufficientStock):
				return nil, database.NewProductError(item.ProductID, database.ErrInsufficientStock)
			default:
				return nil, err
			}
		}

		subtotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))

		line := models.OrderLine{
			OrderID:   orderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  subtotal,
		}
		err = tx.QueryRowContext(ctx,
			`INSERT INTO order_lines (order_id, product_id, quantity, unit_price, subtotal, created_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())
			 RETURNING id, created_at`,
			orderID, item.ProductID, item.Quantity, item.UnitPrice, subtotal).Scan(&line.ID, &line.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("create order line: %w", err)
		}

		lines = append(lines, line)
		totalAmount = totalAmount.Add(subtotal)
	}

	order := &models.Order{ID: orderID}
	err = tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET total_amount = $1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING customer_id, order_number, status, total_amount, created_at, updated_at, version`,
		totalAmount, orderID).Scan(
		&order.CustomerID,
		&order.OrderNumber,
		&order.Status,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("set order total: %w", err)
	}
	order.Lines = lines

	_, err = InsertEvent(ctx, tx, "order", order.ID, models.EventOrderCreated, models.OrderCreatedPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Lines:       order.Lines,
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// lockStockRows locks the stock row of every distinct product in ascending id
// order, so two orders touching the same products can never wait on each
// other in opposite orders. Products without a stock row are left for the
// per-line checks to report.
func lockStockRows(ctx context.Context, tx *sql.Tx, items []OrderItemRequest, mode LockMode) error {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if _, err := LockStock(ctx, tx, id, mode); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				continue
			}
			if errors.Is(err, database.ErrLockTimeout) {
				return database.NewProductError(id, database.ErrLockTimeout)
			}
			return err
		}
	}

	return nil
}

const orderColumns = `id, customer_id, order_number, status, total_amount, created_at, updated_at, version`

func scanOrder(row interface{ Scan(...any) error }, order *models.Order) error {
	return row.Scan(
		&order.ID,
		&order.CustomerID,
		&order.OrderNumber,
		&order.Status,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
}

// GetOrder loads an order with its lines. Lines whose product no longer
// resolves are left out of Lines and reported in DanglingLines.
func GetOrder(ctx context.Context, db database.Querier, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	if err := scanOrder(db.QueryRowContext(ctx, query, id), order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := attachLines(ctx, db, []*models.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

func ListOrders(ctx context.Context, db database.Querier, customerID int64, page, pageSize int) (*OffsetPage[models.Order], error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE customer_id = $1`, customerID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	orders, err := queryOrders(ctx, db, query, customerID, pageSize, offset)
	if err != nil {
		return nil, err
	}

	return newOffsetPage(orders, total, page, pageSize), nil
}

func ListOrdersCursor(ctx context.Context, db database.Querier, customerID int64, cursor string, limit int) (*CursorPage[models.Order], error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	_, limit = NormalizePage(1, limit)

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	orders, err := queryOrders(ctx, db, query, customerID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	if orders == nil {
		orders = []models.Order{}
	}

	return &CursorPage[models.Order]{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func queryOrders(ctx context.Context, db database.Querier, query string, args ...any) ([]models.Order, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	ptrs := make([]*models.Order, len(orders))
	for i := range orders {
		ptrs[i] = &orders[i]
	}
	if err := attachLines(ctx, db, ptrs); err != nil {
		return nil, err
	}

	return orders, nil
}

func attachLines(ctx context.Context, db database.Querier, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[int64]*models.Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, order := range orders {
		order.Lines = []models.OrderLine{}
		byID[order.ID] = order
		ids = append(ids, order.ID)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT l.id, l.order_id, l.product_id, p.id, l.quantity, l.unit_price, l.subtotal, l.created_at
		FROM order_lines l
		LEFT JOIN products p ON p.id = l.product_id
		WHERE l.order_id = ANY($1)
		ORDER BY l.order_id, l.id`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("get order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line models.OrderLine
		var productID, resolvedID sql.NullInt64
		err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&productID,
			&resolvedID,
			&line.Quantity,
			&line.UnitPrice,
			&line.Subtotal,
			&line.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}

		order := byID[line.OrderID]
		if !productID.Valid || !resolvedID.Valid {
			order.DanglingLines = append(order.DanglingLines, line.ID)
			continue
		}
		line.ProductID = productID.Int64
		order.Lines = append(order.Lines, line)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	return nil
}
