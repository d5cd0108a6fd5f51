// Package api exposes the stockroom services over HTTP.
package api

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/safar/stockroom/internal/config"
	"github.com/safar/stockroom/internal/models"
	"github.com/safar/stockroom/internal/observability"
	"github.com/safar/stockroom/internal/service"
	"github.com/safar/stockroom/internal/store"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, in service.PlaceOrderInput) (*models.Order, bool, error)
	GetOrder(ctx context.Context, callerID, orderID int64) (*models.Order, error)
	ListOrders(ctx context.Context, callerID int64, page, pageSize int) (*store.OffsetPage[models.Order], error)
	ListOrdersCursor(ctx context.Context, callerID int64, cursor string, limit int) (*store.CursorPage[models.Order], error)
}

type InventoryService interface {
	AddStock(ctx context.Context, actorID, productID int64, quantity int) (*models.StockRecord, error)
	RemoveStock(ctx context.Context, actorID, productID int64, quantity int) (*models.StockRecord, error)
	GetStock(ctx context.Context, productID int64) (*models.StockRecord, error)
	ListStock(ctx context.Context, page, pageSize int) (*store.OffsetPage[models.StockRecord], error)
}

type ProductService interface {
	CreateProduct(ctx context.Context, ownerID int64, req store.CreateProductRequest) (*models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage[models.Product], error)
	UpdateProduct(ctx context.Context, callerID, id int64, req store.UpdateProductRequest) (*models.Product, error)
	DeleteProduct(ctx context.Context, callerID, id int64) error
}

type UserService interface {
	Register(ctx context.Context, email, name string) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	orders    OrderService
	inventory InventoryService
	products  ProductService
	users     UserService
	db        Pinger
	counters  *observability.Counters
	logger    *zap.Logger
}

type Deps struct {
	Orders    OrderService
	Inventory InventoryService
	Products  ProductService
	Users     UserService
	DB        Pinger
	Counters  *observability.Counters
	Logger    *zap.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Counters == nil {
		deps.Counters = &observability.Counters{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{
		orders:    deps.Orders,
		inventory: deps.Inventory,
		products:  deps.Products,
		users:     deps.Users,
		db:        deps.DB,
		counters:  deps.Counters,
		logger:    deps.Logger,
	}
}

// Handler returns the routed, counted and traced HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /users", s.handleRegister)
	mux.HandleFunc("GET /users/{id}", s.authenticate(s.handleGetUser))

	mux.HandleFunc("POST /products", s.authenticate(s.handleCreateProduct))
	mux.HandleFunc("GET /products", s.authenticate(s.handleListProducts))
	mux.HandleFunc("GET /products/{id}", s.authenticate(s.handleGetProduct))
	mux.HandleFunc("PUT /products/{id}", s.authenticate(s.handleUpdateProduct))
	mux.HandleFunc("DELETE /products/{id}", s.authenticate(s.handleDeleteProduct))

	mux.HandleFunc("POST /inventory/add", s.authenticate(s.handleAddStock))
	mux.HandleFunc("POST /inventory/remove", s.authenticate(s.handleRemoveStock))
	mux.HandleFunc("GET /inventory", s.authenticate(s.handleListStock))
	mux.HandleFunc("GET /inventory/{product_id}", s.authenticate(s.handleGetStock))

	mux.HandleFunc("POST /orders", s.authenticate(s.handleCreateOrder))
	mux.HandleFunc("GET /orders", s.authenticate(s.handleListOrders))
	mux.HandleFunc("GET /orders/{id}", s.authenticate(s.handleGetOrder))

	return otelhttp.NewHandler(s.track(mux), config.ServiceName)
}
