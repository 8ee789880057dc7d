package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the store-side lifecycle state of an order.
type OrderStatus string

// Order status constants
const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusPaid       OrderStatus = "paid"
	StatusDelivered  OrderStatus = "delivered"
	StatusCompleted  OrderStatus = "completed"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRefunded   OrderStatus = "refunded"
	StatusExpired    OrderStatus = "expired"
	StatusFailed     OrderStatus = "failed"
)

// AllStatuses lists every order status in lifecycle order.
var AllStatuses = []OrderStatus{
	StatusPending, StatusProcessing, StatusPaid, StatusDelivered, StatusCompleted,
	StatusCancelled, StatusRefunded, StatusExpired, StatusFailed,
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no automatic transition leaves s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// Deliverable reports whether fulfillment content may be disclosed in s.
func (s OrderStatus) Deliverable() bool {
	return s == StatusPaid || s == StatusDelivered || s == StatusCompleted
}

// PaymentStatus mirrors the settlement provider's view of a payment attempt.
type PaymentStatus string

// Payment status constants
const (
	PaymentNew        PaymentStatus = "new"
	PaymentWaiting    PaymentStatus = "waiting"
	PaymentConfirming PaymentStatus = "confirming"
	PaymentPaid       PaymentStatus = "paid"
	PaymentExpired    PaymentStatus = "expired"
	PaymentFailed     PaymentStatus = "failed"
)

// Terminal reports whether the payment is settled one way or the other.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentExpired || s == PaymentFailed
}

// Provider tags
const (
	ProviderCrypto = "crypto"
	ProviderManual = "manual"
)

// LineItem is one product/variant row of an order.
type LineItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal returns quantity * unit price.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Order is a buyer's purchase request.
type Order struct {
	ID           string            `json:"id"`
	HumanID      string            `json:"human_id"`
	Email        string            `json:"email"`
	Total        decimal.Decimal   `json:"total"`
	Currency     string            `json:"currency"`
	Status       OrderStatus       `json:"status"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	Items        []LineItem        `json:"items"`
	Payments     []Payment         `json:"payments"`
	Version      int64             `json:"-"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ActivePayment returns the order's non-terminal payment, if any.
func (o *Order) ActivePayment() *Payment {
	for i := range o.Payments {
		if !o.Payments[i].Status.Terminal() {
			return &o.Payments[i]
		}
	}
	return nil
}

// HasSettledPayment reports whether any payment reached paid.
func (o *Order) HasSettledPayment() bool {
	for _, p := range o.Payments {
		if p.Status == PaymentPaid {
			return true
		}
	}
	return false
}

// Payment returns the payment with the given id.
func (o *Order) Payment(id string) *Payment {
	for i := range o.Payments {
		if o.Payments[i].ID == id {
			return &o.Payments[i]
		}
	}
	return nil
}

// Payment is one attempt to settle an order.
type Payment struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	TrackID     string          `json:"track_id,omitempty"`
	Provider    string          `json:"provider"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PayCurrency string          `json:"pay_currency,omitempty"`
	Network     string          `json:"network,omitempty"`
	Address     string          `json:"address,omitempty"`
	PayAmount   decimal.Decimal `json:"pay_amount"`
	PayLink     string          `json:"pay_link,omitempty"`
	Status      PaymentStatus   `json:"status"`
	TxID        string          `json:"tx_id,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NeedsBackfill reports whether the provider may know a transaction id we lack.
func (p *Payment) NeedsBackfill() bool {
	return p.TrackID != "" && p.TxID == "" && p.Provider != ProviderManual
}

// Transition is an atomic per-order write: the order row moves from
// FromVersion/From to To, and at most one payment row is inserted or updated.
type Transition struct {
	OrderID       string
	FromVersion   int64
	From          OrderStatus
	To            OrderStatus
	NewPayment    *Payment
	UpdatePayment *Payment
	At            time.Time
}

// GatewayStatus is the provider's current view of one track id.
type GatewayStatus struct {
	TrackID string
	Status  PaymentStatus
	TxID    string
}

// Asset is one piece of fulfillment content attached to an order.
type Asset struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	LineItemID string    `json:"line_item_id"`
	ProductID  string    `json:"product_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditLogEntry is an append-only record of a privileged or security event.
// ActorID is nil for system and security events.
type AuditLogEntry struct {
	ID          string         `json:"id"`
	ActorID     *string        `json:"actor_id,omitempty"`
	Action      string         `json:"action"`
	TargetTable string         `json:"target_table,omitempty"`
	TargetID    string         `json:"target_id,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AdminAction is the compensation witness for an administrative mutation.
type AdminAction struct {
	ID        string         `json:"id"`
	AdminID   string         `json:"admin_id"`
	TargetID  string         `json:"target_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	IPAddress string         `json:"ip_address"`
	CreatedAt time.Time      `json:"created_at"`
}

// Customer roles
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// Customer statuses
const (
	CustomerActive    = "active"
	CustomerSuspended = "suspended"
	CustomerBanned    = "banned"
)

// Customer is a buyer record. UserID is empty for guest checkouts.
type Customer struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id,omitempty"`
	Email     string          `json:"email"`
	Role      string          `json:"role"`
	Status    string          `json:"status"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Guest reports whether the customer has no identity-layer account.
func (c *Customer) Guest() bool {
	return c.UserID == ""
}

// TokenUse marks a delivery token identity as consumed.
type TokenUse struct {
	TokenID   string
	OrderID   string
	IPAddress string
	UserAgent string
	UsedAt    time.Time
}

// Access outcomes
const (
	AccessGranted = "granted"
	AccessDenied  = "denied"
)

// AccessLogEntry records one delivery verification attempt.
type AccessLogEntry struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	TokenID   string    `json:"token_id,omitempty"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}

// WebhookEvent is a journaled provider notification.
type WebhookEvent struct {
	ID              string
	Provider        string
	TrackID         string
	Status          string
	TxID            string
	Payload         string
	SignatureValid  bool
	ProcessedAt     time.Time
	ProcessingError string
	CreatedAt       time.Time
}
