package service

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/safar/stockroom/internal/config"
	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/models"
	"github.com/safar/stockroom/internal/store"
)

// IdempotencyStore maps a client key to the order it produced.
type IdempotencyStore interface {
	Reserve(ctx context.Context, customerID int64, key string) (orderID int64, reserved bool, err error)
	Complete(ctx context.Context, customerID int64, key string, orderID int64) error
	Release(ctx context.Context, customerID int64, key string) error
}

type OrderService struct {
	db     *sql.DB
	idem   IdempotencyStore
	logger *zap.Logger
	cfg    config.OrderConfig
}

// NewOrderService wires the order use cases. idem may be nil, which turns
// Idempotency-Key handling off.
func NewOrderService(db *sql.DB, idem IdempotencyStore, logger *zap.Logger, cfg config.OrderConfig) *OrderService {
	return &OrderService{db: db, idem: idem, logger: logger, cfg: cfg}
}

type PlaceOrderInput struct {
	CustomerID     int64
	Status         string
	IdempotencyKey string
	Items          []store.OrderItemRequest
}

func (s *OrderService) options() store.OrderOptions {
	opts := store.DefaultOrderOptions()
	opts.MaxRetries = s.cfg.MaxRetries
	if s.cfg.LockMode == config.LockModeNoWait {
		opts.LockMode = store.LockNoWait
	}
	return opts
}

// PlaceOrder reserves stock and records the order atomically. replayed is
// true when the idempotency key had already produced an order, which is
// returned unchanged.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (order *models.Order, replayed bool, err error) {
	ctx, span := tracer().Start(ctx, "OrderService.PlaceOrder")
	defer func() { finishSpan(span, err) }()

	span.SetAttributes(
		attribute.Int64("order.customer_id", in.CustomerID),
		attribute.Int("order.item_count", len(in.Items)),
	)

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	req := store.CreateOrderRequest{CustomerID: in.CustomerID, Status: in.Status, Items: in.Items}
	if err := store.ValidateOrderRequest(req); err != nil {
		return nil, false, err
	}

	useIdem := s.idem != nil && in.IdempotencyKey != ""
	if useIdem {
		existingID, reserved, err := s.idem.Reserve(ctx, in.CustomerID, in.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if !reserved {
			s.logger.Info("idempotent replay",
				zap.Int64("customer_id", in.CustomerID),
				zap.Int64("order_id", existingID))
			order, err := s.GetOrder(ctx, in.CustomerID, existingID)
			return order, err == nil, err
		}
	}

	opts := s.options()
	opts.OnRetry = func(attempt int, err error) {
		s.logger.Warn("retrying order placement",
			zap.Int("attempt", attempt),
			zap.String("class", database.ClassifyError(err).String()),
			zap.Error(err))
	}

	order, err = store.CreateOrder(ctx, s.db, req, opts)
	if err != nil {
		if useIdem {
			if relErr := s.idem.Release(context.WithoutCancel(ctx), in.CustomerID, in.IdempotencyKey); relErr != nil {
				s.logger.Error("failed to release idempotency key", zap.Error(relErr))
			}
		}
		s.logOrderFailure(in, err)
		return nil, false, err
	}

	if useIdem {
		if err := s.idem.Complete(ctx, in.CustomerID, in.IdempotencyKey, order.ID); err != nil {
			s.logger.Error("failed to store idempotency result",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
	}

	span.SetAttributes(attribute.Int64("order.id", order.ID))
	s.logger.Info("order placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("customer_id", order.CustomerID),
		zap.String("total", order.TotalAmount.StringFixed(2)),
		zap.Int("lines", len(order.Lines)))

	return order, false, nil
}

func (s *OrderService) logOrderFailure(in PlaceOrderInput, err error) {
	fields := []zap.Field{zap.Int64("customer_id", in.CustomerID), zap.Error(err)}
	if id, ok := database.ProductIDFromError(err); ok {
		fields = append(fields, zap.Int64("product_id", id))
	}

	switch {
	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrUserNotFound):
		s.logger.Info("order rejected", fields...)
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("order timed out", fields...)
	default:
		s.logger.Error("order placement failed", fields...)
	}
}

// GetOrder returns the order if callerID placed it.
func (s *OrderService) GetOrder(ctx context.Context, callerID, orderID int64) (order *models.Order, err error) {
	ctx, span := tracer().Start(ctx, "OrderService.GetOrder")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	order, err = store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != callerID {
		return nil, database.ErrForbidden
	}

	s.warnDangling(order)
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, callerID int64, page, pageSize int) (*store.OffsetPage[models.Order], error) {
	result, err := store.ListOrders(ctx, s.db, callerID, page, pageSize)
	if err != nil {
		return nil, err
	}
	for i := range result.Items {
		s.warnDangling(&result.Items[i])
	}
	return result, nil
}

func (s *OrderService) ListOrdersCursor(ctx context.Context, callerID int64, cursor string, limit int) (*store.CursorPage[models.Order], error) {
	result, err := store.ListOrdersCursor(ctx, s.db, callerID, cursor, limit)
	if err != nil {
		return nil, err
	}
	for i := range result.Items {
		s.warnDangling(&result.Items[i])
	}
	return result, nil
}

func (s *OrderService) warnDangling(order *models.Order) {
	if len(order.DanglingLines) == 0 {
		return
	}
	s.logger.Warn("order has lines referencing missing products",
		zap.Int64("order_id", order.ID),
		zap.Int64s("line_ids", order.DanglingLines))
}
