package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStore persists orders, line items and payments.
// Implementations: storage.Store (SQLite / PostgreSQL)
type OrderStore interface {
	// CreateOrder inserts an order together with its line items.
	CreateOrder(ctx context.Context, order *Order) error

	// GetOrder returns the order with items and payments (oldest first).
	// Returns ErrOrderNotFound when absent.
	GetOrder(ctx context.Context, id string) (*Order, error)

	// ApplyTransition performs the order row update and optional payment
	// write in one transaction. Returns ErrConflict if the row version moved
	// and ErrActivePayment if NewPayment would create a second non-terminal
	// payment for the order.
	ApplyTransition(ctx context.Context, tr Transition) error

	// PaymentByTrackID looks up a payment by the provider's reference.
	PaymentByTrackID(ctx context.Context, trackID string) (*Payment, error)

	// ListStalePayments returns non-terminal payments whose invoice expired before now.
	ListStalePayments(ctx context.Context, now time.Time) ([]Payment, error)
}

// AuditStore is the append-only audit and admin-action log.
// Implementations: storage.Store
type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry *AuditLogEntry) error
	CreateAdminAction(ctx context.Context, action *AdminAction) error
	ListAuditLogs(ctx context.Context, targetTable, targetID string) ([]AuditLogEntry, error)
	ListAdminActions(ctx context.Context, targetID string) ([]AdminAction, error)
}

// TokenUseStore records consumed delivery tokens.
// Implementations: storage.Store
type TokenUseStore interface {
	// MarkTokenUsed atomically records the use. It returns false when the
	// token identity was already marked.
	MarkTokenUsed(ctx context.Context, use TokenUse) (bool, error)
	IsTokenUsed(ctx context.Context, tokenID string) (bool, error)
}

// AccessLog records delivery verification attempts.
// Implementations: storage.Store
type AccessLog interface {
	LogAccess(ctx context.Context, entry *AccessLogEntry) error
	ListAccessLog(ctx context.Context, orderID string) ([]AccessLogEntry, error)
}

// CustomerStore reads and mutates customer records.
// Implementations: storage.Store
type CustomerStore interface {
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	UpdateCustomerStatus(ctx context.Context, id, status string) error
	UpdateCustomerRole(ctx context.Context, id, role string) error
	UpdateCustomerBalance(ctx context.Context, id string, balance decimal.Decimal) error
	CountAdmins(ctx context.Context) (int, error)
}

// Identity is the identity/session layer.
// Implementations: storage.Store (identities + sessions tables)
type Identity interface {
	ForceSignOut(ctx context.Context, userID string) error
	SetBanned(ctx context.Context, userID string, banned bool) error
}

// DeliveryAttacher generates and attaches fulfillment content.
// Implementations: fulfillment.StockAttacher
type DeliveryAttacher interface {
	AttachDelivery(ctx context.Context, order *Order) ([]Asset, error)
}

// AssetReader lists content already attached to an order.
// Implementations: storage.Store
type AssetReader interface {
	ListAssets(ctx context.Context, orderID string) ([]Asset, error)
}

// Notifier sends outbound buyer notifications.
// Implementations: notify.LogNotifier
type Notifier interface {
	OrderPaid(ctx context.Context, order *Order, deliveryURL string) error
	OrderStatusChanged(ctx context.Context, order *Order, from OrderStatus) error
}

// TokenIssuer mints delivery tokens.
// Implementations: delivery.Signer
type TokenIssuer interface {
	Issue(orderID, email string) (string, error)
}

// TxLookup queries the settlement provider for one track id.
// Implementations: gateway.Client
type TxLookup interface {
	LookupTransaction(ctx context.Context, trackID string) (GatewayStatus, error)
}

// WebhookJournal deduplicates inbound provider notifications.
// Implementations: storage.Store
type WebhookJournal interface {
	// RecordWebhookEvent inserts the event; it returns false if an event with
	// the same provider, track id, status and tx id was already recorded.
	RecordWebhookEvent(ctx context.Context, event *WebhookEvent) (bool, error)
	MarkWebhookProcessed(ctx context.Context, id string, processingErr string) error
}
