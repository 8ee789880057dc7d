package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
	"github.com/kazsia/rainyday-new-sub001/internal/metrics"
	"github.com/kazsia/rainyday-new-sub001/internal/orders"
)

// OrderService is the slice of the order service the reconciler drives.
// Implementations: orders.Service
type OrderService interface {
	GetOrder(ctx context.Context, id string) (*core.Order, error)
	CreatePayment(ctx context.Context, orderID string, p core.Payment) (*core.Payment, error)
	ApplyPaymentUpdate(ctx context.Context, orderID string, update core.GatewayStatus) (orders.Result, error)
	PaymentByTrackID(ctx context.Context, trackID string) (*core.Payment, error)
}

// StalePayments lists payments whose invoice window has passed.
// Implementations: storage.Store
type StalePayments interface {
	ListStalePayments(ctx context.Context, now time.Time) ([]core.Payment, error)
}

// SecurityLog records security events.
// Implementations: audit.Recorder
type SecurityLog interface {
	Security(ctx context.Context, action string, details map[string]any)
}

// Reconciler keeps local payments in step with the provider, by polling and
// by webhook.
type Reconciler struct {
	orders   OrderService
	resolver *AddressResolver
	lookup   core.TxLookup
	stale    StalePayments
	journal  core.WebhookJournal
	verifier *WebhookVerifier
	security SecurityLog
	logger   *slog.Logger
	now      func() time.Time
}

// ReconcilerDeps holds dependencies for constructing a Reconciler.
type ReconcilerDeps struct {
	Orders   OrderService
	Resolver *AddressResolver
	Lookup   core.TxLookup
	Stale    StalePayments
	Journal  core.WebhookJournal
	Verifier *WebhookVerifier
	Security SecurityLog
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewReconciler creates a reconciler with explicit dependencies.
func NewReconciler(deps ReconcilerDeps) *Reconciler {
	r := &Reconciler{
		orders:   deps.Orders,
		resolver: deps.Resolver,
		lookup:   deps.Lookup,
		stale:    deps.Stale,
		journal:  deps.Journal,
		verifier: deps.Verifier,
		security: deps.Security,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Verifier returns the webhook verifier.
func (r *Reconciler) Verifier() *WebhookVerifier {
	return r.verifier
}

// SignatureHeader is the request header provider callbacks are signed in.
func (r *Reconciler) SignatureHeader() string {
	if r.verifier == nil {
		return DefaultSignatureHeader
	}
	return r.verifier.Header()
}

// StartRequest selects what the buyer wants to pay with.
type StartRequest struct {
	OrderID     string
	PayCurrency string
	Network     string
}

// StartPayment acquires a payable address for the order and records the
// payment attempt. It refuses while another attempt is open.
func (r *Reconciler) StartPayment(ctx context.Context, req StartRequest) (*PaymentDetails, *core.Payment, error) {
	order, err := r.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if order.Status != core.StatusPending && order.Status != core.StatusProcessing {
		return nil, nil, fmt.Errorf("%w: order is %s", core.ErrInvalidTransition, order.Status)
	}
	if active := order.ActivePayment(); active != nil {
		return nil, nil, fmt.Errorf("%w: payment %s is %s", core.ErrActivePayment, active.ID, active.Status)
	}

	details, err := r.resolver.Resolve(ctx, InvoiceRequest{
		OrderID:     order.ID,
		Amount:      order.Total,
		Currency:    order.Currency,
		PayCurrency: req.PayCurrency,
		Network:     req.Network,
		Email:       order.Email,
		Description: "Order " + order.HumanID,
	})
	if err != nil {
		return details, nil, err
	}

	payment, err := r.orders.CreatePayment(ctx, order.ID, core.Payment{
		TrackID:     details.TrackID,
		Provider:    core.ProviderCrypto,
		Amount:      order.Total,
		Currency:    order.Currency,
		PayCurrency: details.PayCurrency,
		Network:     details.Network,
		Address:     details.Address,
		PayAmount:   details.PayAmount,
		PayLink:     details.PayLink,
		Status:      core.PaymentNew,
		ExpiresAt:   details.ExpiresAt,
	})
	if err != nil {
		return details, nil, err
	}
	r.logger.Info("payment started", "order_id", order.ID, "payment_id", payment.ID,
		"track_id", payment.TrackID, "strategy", details.Strategy)
	return details, payment, nil
}

// trackable returns the payment polling should follow: the open payment, or
// a paid one still missing its transaction id.
func trackable(order *core.Order) *core.Payment {
	if p := order.ActivePayment(); p != nil && p.TrackID != "" {
		return p
	}
	for i := len(order.Payments) - 1; i >= 0; i-- {
		p := &order.Payments[i]
		if p.Status == core.PaymentPaid && p.NeedsBackfill() {
			return p
		}
	}
	return nil
}

// Pollable reports whether polling the order can still change anything.
func Pollable(order *core.Order) bool {
	if order == nil || order.Status.Terminal() {
		return false
	}
	return trackable(order) != nil
}

// Poll performs one reconciliation step for the order. Provider errors are
// treated as "no data yet" and reported through the logger only.
func (r *Reconciler) Poll(ctx context.Context, orderID string) (*core.Order, error) {
	order, err := r.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	p := trackable(order)
	if p == nil || order.Status.Terminal() {
		return order, nil
	}

	st, err := r.lookup.LookupTransaction(ctx, p.TrackID)
	if err != nil {
		r.logger.Debug("no provider data yet", "order_id", orderID, "track_id", p.TrackID, "error", err)
		return order, nil
	}
	res, err := r.orders.ApplyPaymentUpdate(ctx, orderID, st)
	if err != nil {
		return order, err
	}
	if res.Changed {
		r.logger.Info("payment reconciled", "order_id", orderID, "track_id", p.TrackID,
			"payment_status", st.Status, "from", res.From, "to", res.Order.Status)
	}
	return res.Order, nil
}

// ApplyNotification folds a decoded provider notification into its order.
func (r *Reconciler) ApplyNotification(ctx context.Context, n *Notification) (orders.Result, error) {
	status, ok := MapStatus(n.Status)
	if !ok {
		return orders.Result{}, fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, n.Status)
	}
	payment, err := r.orders.PaymentByTrackID(ctx, string(n.TrackID))
	if err != nil {
		return orders.Result{}, err
	}
	return r.orders.ApplyPaymentUpdate(ctx, payment.OrderID, core.GatewayStatus{
		TrackID: string(n.TrackID),
		Status:  status,
		TxID:    n.TxID,
	})
}

// WebhookRequest is a raw provider callback.
type WebhookRequest struct {
	Body      []byte
	Signature string
	IPAddress string
}

// WebhookResult reports what a callback did.
type WebhookResult struct {
	OrderID   string
	Duplicate bool
	Changed   bool
}

// HandleWebhook authenticates, validates, journals and applies a provider
// callback. A callback with a bad signature never reaches the order.
func (r *Reconciler) HandleWebhook(ctx context.Context, req WebhookRequest) (WebhookResult, error) {
	if r.verifier == nil || !r.verifier.Verify(req.Body, req.Signature) {
		metrics.WebhooksTotal.WithLabelValues("invalid_signature").Inc()
		r.securityEvent(ctx, "webhook_signature_invalid", req, nil)
		return WebhookResult{}, ErrInvalidSignature
	}

	n, err := r.verifier.Decode(req.Body)
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("invalid_payload").Inc()
		r.logger.Warn("rejected webhook payload", "ip", req.IPAddress, "error", err)
		return WebhookResult{}, err
	}

	event := &core.WebhookEvent{
		ID:             uuid.New().String(),
		Provider:       providerName,
		TrackID:        string(n.TrackID),
		Status:         n.Status,
		TxID:           n.TxID,
		Payload:        string(req.Body),
		SignatureValid: true,
		CreatedAt:      r.now().UTC(),
	}
	if r.journal != nil {
		fresh, err := r.journal.RecordWebhookEvent(ctx, event)
		if err != nil {
			metrics.WebhooksTotal.WithLabelValues("error").Inc()
			return WebhookResult{}, err
		}
		if !fresh {
			metrics.WebhooksTotal.WithLabelValues("duplicate").Inc()
			r.logger.Info("duplicate webhook ignored", "track_id", event.TrackID, "status", event.Status, "tx_id", event.TxID)
			return WebhookResult{Duplicate: true}, nil
		}
	}

	res, err := r.ApplyNotification(ctx, n)
	r.markProcessed(ctx, event.ID, err)
	if err != nil {
		if errors.Is(err, core.ErrPaymentNotFound) {
			metrics.WebhooksTotal.WithLabelValues("unknown_payment").Inc()
			r.securityEvent(ctx, "webhook_unknown_track_id", req, map[string]any{"track_id": event.TrackID})
			return WebhookResult{}, err
		}
		metrics.WebhooksTotal.WithLabelValues("error").Inc()
		r.logger.Error("failed to apply webhook", "track_id", event.TrackID, "status", event.Status, "error", err)
		return WebhookResult{}, err
	}

	metrics.WebhooksTotal.WithLabelValues("applied").Inc()
	out := WebhookResult{Changed: res.Changed}
	if res.Order != nil {
		out.OrderID = res.Order.ID
	}
	r.logger.Info("webhook applied", "order_id", out.OrderID, "track_id", event.TrackID,
		"status", event.Status, "changed", res.Changed)
	return out, nil
}

func (r *Reconciler) markProcessed(ctx context.Context, id string, cause error) {
	if r.journal == nil {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := r.journal.MarkWebhookProcessed(ctx, id, msg); err != nil {
		r.logger.Warn("failed to mark webhook processed", "event_id", id, "error", err)
	}
}

// ExpireStale closes payments whose invoice window passed without settlement.
// Each is checked with the provider once first, so a late payment still wins.
func (r *Reconciler) ExpireStale(ctx context.Context) (int, error) {
	stale, err := r.stale.ListStalePayments(ctx, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to list stale payments: %w", err)
	}

	expired := 0
	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		if p.TrackID == "" {
			continue
		}
		update := core.GatewayStatus{TrackID: p.TrackID, Status: core.PaymentExpired}
		if r.lookup != nil {
			if st, err := r.lookup.LookupTransaction(ctx, p.TrackID); err == nil && st.Status.Terminal() {
				update = st
			}
		}
		res, err := r.orders.ApplyPaymentUpdate(ctx, p.OrderID, update)
		if err != nil {
			r.logger.Warn("failed to expire payment", "order_id", p.OrderID, "track_id", p.TrackID, "error", err)
			continue
		}
		if res.Changed && update.Status == core.PaymentExpired {
			expired++
		}
	}
	if expired > 0 {
		r.logger.Info("expired stale payments", "count", expired)
	}
	return expired, nil
}

func (r *Reconciler) securityEvent(ctx context.Context, action string, req WebhookRequest, extra map[string]any) {
	if r.security == nil {
		return
	}
	details := map[string]any{
		"ip":         req.IPAddress,
		"body_bytes": len(req.Body),
	}
	for k, v := range extra {
		details[k] = v
	}
	r.security.Security(ctx, action, details)
}
