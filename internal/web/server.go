// Package web exposes the storefront over HTTP: order checkout, payment
// status, provider callbacks, gated delivery and the admin surface.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/kazsia/rainyday-new-sub001/internal/admin"
	"github.com/kazsia/rainyday-new-sub001/internal/core"
	"github.com/kazsia/rainyday-new-sub001/internal/delivery"
	"github.com/kazsia/rainyday-new-sub001/internal/gateway"
	"github.com/kazsia/rainyday-new-sub001/internal/orders"
)

// maxWebhookBody bounds provider callback bodies.
const maxWebhookBody = 64 << 10

// OrderAPI is the buyer-facing slice of the order service.
// Implementations: orders.Service
type OrderAPI interface {
	CreateOrder(ctx context.Context, in orders.NewOrder) (*core.Order, error)
	GetOrder(ctx context.Context, id string) (*core.Order, error)
}

// PaymentAPI drives payment acquisition and reconciliation.
// Implementations: gateway.Reconciler
type PaymentAPI interface {
	StartPayment(ctx context.Context, req gateway.StartRequest) (*gateway.PaymentDetails, *core.Payment, error)
	Poll(ctx context.Context, orderID string) (*core.Order, error)
	HandleWebhook(ctx context.Context, req gateway.WebhookRequest) (gateway.WebhookResult, error)
	SignatureHeader() string
}

// Watcher follows a payment in the background until it settles.
// Implementations: gateway.Poller
type Watcher interface {
	Start(orderID string, deadline time.Time) bool
}

// DeliveryAPI decides delivery access.
// Implementations: delivery.Service
type DeliveryAPI interface {
	Access(ctx context.Context, req delivery.Request) delivery.Outcome
}

// AdminAPI is the administrative mutation gateway.
// Implementations: admin.Gateway
type AdminAPI interface {
	UpdateCustomerStatus(ctx context.Context, actor admin.Actor, customerID, status string) (*core.Customer, error)
	UpdateCustomerRole(ctx context.Context, actor admin.Actor, customerID, role string) (*core.Customer, error)
	UpdateCustomerBalance(ctx context.Context, actor admin.Actor, customerID string, balance decimal.Decimal) (*core.Customer, error)
	BanCustomer(ctx context.Context, actor admin.Actor, customerID string) (*core.Customer, error)
	UnbanCustomer(ctx context.Context, actor admin.Actor, customerID string) (*core.Customer, error)
	UpdateOrderStatus(ctx context.Context, actor admin.Actor, orderID string, status core.OrderStatus) (orders.Result, error)
	MarkOrderAsPaid(ctx context.Context, actor admin.Actor, orderID string) (orders.Result, error)
	RetriggerDelivery(ctx context.Context, actor admin.Actor, orderID string) (orders.Retrigger, error)
}

// Directory resolves the caller of an admin request.
// Implementations: storage.Store
type Directory interface {
	GetCustomer(ctx context.Context, id string) (*core.Customer, error)
}

// Records serves the read-only admin views.
// Implementations: storage.Store
type Records interface {
	ListAccessLog(ctx context.Context, orderID string) ([]core.AccessLogEntry, error)
	ListAdminActions(ctx context.Context, targetID string) ([]core.AdminAction, error)
}

// Pinger reports store health.
// Implementations: storage.Store
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the services behind the HTTP surface.
type Deps struct {
	Orders    OrderAPI
	Payments  PaymentAPI
	Watcher   Watcher
	Delivery  DeliveryAPI
	Admin     AdminAPI
	Directory Directory
	Records   Records
	Health    Pinger
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Options tunes the router.
type Options struct {
	TrustedProxies []string
	// WatchWindow bounds background polling for payments without an expiry.
	WatchWindow time.Duration
	// Used when the buyer does not pick a coin or network.
	DefaultPayCurrency string
	DefaultNetwork     string
}

// Server is the storefront web server
type Server struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	router *gin.Engine
	now    func() time.Time
}

// NewServer creates a new web server
func NewServer(deps Deps, opts Options) (*Server, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}
	if opts.WatchWindow <= 0 {
		opts.WatchWindow = time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logger,
		router: router,
		now:    time.Now,
	}

	router.Use(gin.Recovery(), s.instrument())

	router.GET("/healthz", s.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	// Buyer routes
	api := router.Group("/api")
	{
		api.POST("/orders", s.handleCreateOrder)
		api.GET("/orders/:id", s.handleGetOrder)
		api.POST("/orders/:id/payments", s.handleStartPayment)
		api.GET("/orders/:id/payment-status", s.handlePaymentStatus)
		api.POST("/webhooks/payment", s.handleWebhook)
	}

	dl := router.Group("/delivery")
	{
		dl.GET("/:orderId/check", s.handleDeliveryCheck)
		dl.POST("/:orderId/reveal", s.handleDeliveryReveal)
	}

	// Admin routes
	adm := router.Group("/api/admin", s.requireAdmin())
	{
		adm.PATCH("/customers/:id/status", s.handleCustomerStatus)
		adm.PATCH("/customers/:id/role", s.handleCustomerRole)
		adm.PATCH("/customers/:id/balance", s.handleCustomerBalance)
		adm.POST("/customers/:id/ban", s.handleCustomerBan)
		adm.POST("/customers/:id/unban", s.handleCustomerUnban)
		adm.GET("/customers/:id/actions", s.handleAdminActions)
		adm.PATCH("/orders/:id/status", s.handleOrderStatus)
		adm.POST("/orders/:id/mark-paid", s.handleMarkPaid)
		adm.POST("/orders/:id/retrigger-delivery", s.handleRetrigger)
		adm.GET("/orders/:id/access-log", s.handleAccessLog)
		adm.GET("/orders/:id/actions", s.handleAdminActions)
	}

	return s, nil
}

// Handler returns the router for mounting in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the web server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
