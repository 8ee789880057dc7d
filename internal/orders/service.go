package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
	"github.com/kazsia/rainyday-new-sub001/internal/metrics"
)

// maxConflictRetries bounds re-reads when another process moved the order row.
const maxConflictRetries = 3

// Service is the authoritative order lifecycle. Every status change goes
// through it, serialized per order id.
type Service struct {
	store       core.OrderStore
	attacher    core.DeliveryAttacher
	tokens      core.TokenIssuer
	notifier    core.Notifier
	lookup      core.TxLookup
	ids         IDGenerator
	logger      *slog.Logger
	now         func() time.Time
	deliveryURL string
	locks       *keyedMutex
}

// Deps holds dependencies for constructing a Service. Only Store is required.
type Deps struct {
	Store    core.OrderStore
	Attacher core.DeliveryAttacher
	Tokens   core.TokenIssuer
	Notifier core.Notifier
	Lookup   core.TxLookup
	IDs      IDGenerator
	Logger   *slog.Logger
	Now      func() time.Time

	// DeliveryURL is the public base URL buyers open to redeem a token.
	DeliveryURL string
}

// NewServiceWithDeps creates an order service with explicit dependencies.
func NewServiceWithDeps(deps Deps) *Service {
	s := &Service{
		store:       deps.Store,
		attacher:    deps.Attacher,
		tokens:      deps.Tokens,
		notifier:    deps.Notifier,
		lookup:      deps.Lookup,
		ids:         deps.IDs,
		logger:      deps.Logger,
		now:         deps.Now,
		deliveryURL: strings.TrimRight(deps.DeliveryURL, "/"),
		locks:       newKeyedMutex(),
	}
	if s.ids == nil {
		s.ids, _ = NewSnowflakeIDs(1)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetLookup wires the provider lookup used for txid backfill. The gateway
// client is built after the order service, so it is attached late.
func (s *Service) SetLookup(lookup core.TxLookup) {
	s.lookup = lookup
}

// NewOrder is the input to CreateOrder.
type NewOrder struct {
	Email        string
	Currency     string
	Total        decimal.Decimal
	Items        []core.LineItem
	CustomFields map[string]string
}

// Result describes the outcome of a status operation.
type Result struct {
	// Order is the state after the operation.
	Order   *core.Order
	From    core.OrderStatus
	Changed bool
}

// Witness records evidence of a committed change (e.g. an AdminAction). If it
// fails, the change is compensated.
type Witness func(ctx context.Context, r Result) error

type options struct {
	actor   Actor
	witness Witness
}

// Option configures a status operation.
type Option func(*options)

// WithActor sets who requests the change. The default is ActorSystem.
func WithActor(a Actor) Option {
	return func(o *options) { o.actor = a }
}

// WithWitness attaches a witness run after commit and before side effects.
// It also runs for no-op calls, with Changed=false.
func WithWitness(w Witness) Option {
	return func(o *options) { o.witness = w }
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// plan is the write a builder wants applied. A nil plan means no-op.
type plan struct {
	to            core.OrderStatus
	newPayment    *core.Payment
	updatePayment *core.Payment
}

type builder func(order *core.Order) (*plan, error)

// CreateOrder validates and stores a new pending order.
func (s *Service) CreateOrder(ctx context.Context, in NewOrder) (*core.Order, error) {
	if err := validateNewOrder(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order := &core.Order{
		ID:           s.ids.NewID(),
		HumanID:      s.ids.NewHumanID(),
		Email:        strings.TrimSpace(in.Email),
		Total:        in.Total,
		Currency:     in.Currency,
		Status:       core.StatusPending,
		CustomFields: in.CustomFields,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if order.Currency == "" {
		order.Currency = "USD"
	}
	for _, item := range in.Items {
		item.ID = s.ids.NewID()
		item.OrderID = order.ID
		order.Items = append(order.Items, item)
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	s.logger.Info("order created", "order_id", order.ID, "human_id", order.HumanID, "total", order.Total.String())
	return order, nil
}

func validateNewOrder(in NewOrder) error {
	if !strings.Contains(in.Email, "@") {
		return fmt.Errorf("%w: buyer email is required", core.ErrInvalidOrder)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: at least one line item is required", core.ErrInvalidOrder)
	}
	sum := decimal.Zero
	for i, item := range in.Items {
		if item.ProductID == "" {
			return fmt.Errorf("%w: item %d has no product", core.ErrInvalidOrder, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", core.ErrInvalidOrder, i)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: item %d has a negative price", core.ErrInvalidOrder, i)
		}
		sum = sum.Add(item.Subtotal())
	}
	if !in.Total.Equal(sum) {
		return fmt.Errorf("%w: total %s does not match items %s", core.ErrInvalidOrder, in.Total, sum)
	}
	return nil
}

// GetOrder returns the order with items and payments. A payment that has a
// track id but no transaction id is looked up once at the provider first;
// lookup failures are logged and never fail the read.
func (s *Service) GetOrder(ctx context.Context, id string) (*core.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.lookup == nil {
		return order, nil
	}

	backfilled := false
	for _, p := range order.Payments {
		if !p.NeedsBackfill() {
			continue
		}
		st, err := s.lookup.LookupTransaction(ctx, p.TrackID)
		if err != nil {
			s.logger.Warn("txid backfill lookup failed", "order_id", id, "track_id", p.TrackID, "error", err)
			continue
		}
		if st.TxID == "" {
			continue
		}
		if _, err := s.ApplyPaymentUpdate(ctx, id, st); err != nil {
			s.logger.Warn("txid backfill failed", "order_id", id, "track_id", p.TrackID, "error", err)
			continue
		}
		backfilled = true
	}
	if !backfilled {
		return order, nil
	}

	refreshed, err := s.store.GetOrder(ctx, id)
	if err != nil {
		s.logger.Warn("re-read after backfill failed", "order_id", id, "error", err)
		return order, nil
	}
	return refreshed, nil
}

// PaymentByTrackID resolves a provider reference to its payment.
func (s *Service) PaymentByTrackID(ctx context.Context, trackID string) (*core.Payment, error) {
	return s.store.PaymentByTrackID(ctx, trackID)
}

// CreatePayment attaches a new payment attempt to an open order. It fails with
// core.ErrActivePayment if the order already has a non-terminal payment.
func (s *Service) CreatePayment(ctx context.Context, orderID string, p core.Payment) (*core.Payment, error) {
	var created *core.Payment
	_, err := s.mutate(ctx, orderID, func(order *core.Order) (*plan, error) {
		if order.Status != core.StatusPending && order.Status != core.StatusProcessing {
			return nil, fmt.Errorf("%w: cannot start a payment for a %s order", core.ErrInvalidTransition, order.Status)
		}
		if active := order.ActivePayment(); active != nil {
			return nil, fmt.Errorf("%w: payment %s is %s", core.ErrActivePayment, active.ID, active.Status)
		}

		now := s.now().UTC()
		np := p
		np.ID = s.ids.NewID()
		np.OrderID = order.ID
		if np.Status == "" {
			np.Status = core.PaymentNew
		}
		if np.Currency == "" {
			np.Currency = order.Currency
		}
		if np.Amount.IsZero() {
			np.Amount = order.Total
		}
		np.CreatedAt = now
		np.UpdatedAt = now
		created = &np

		to := order.Status
		if target, ok := orderTarget(order, &np); ok {
			to = target
		}
		return &plan{to: to, newPayment: &np}, nil
	}, options{})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ApplyPaymentUpdate folds the provider's view of one payment into the order.
// Settled payments are never overwritten, except to backfill the transaction
// id of a paid payment. Re-applying the same update is a no-op.
func (s *Service) ApplyPaymentUpdate(ctx context.Context, orderID string, update core.GatewayStatus) (Result, error) {
	return s.mutate(ctx, orderID, func(order *core.Order) (*plan, error) {
		var current *core.Payment
		for i := range order.Payments {
			if order.Payments[i].TrackID == update.TrackID {
				current = &order.Payments[i]
			}
		}
		if current == nil {
			return nil, fmt.Errorf("%w: track id %s on order %s", core.ErrPaymentNotFound, update.TrackID, orderID)
		}

		next := *current
		switch {
		case current.Status.Terminal():
			if current.Status != core.PaymentPaid || current.TxID != "" || update.TxID == "" {
				return nil, nil
			}
			next.TxID = update.TxID
		default:
			if update.Status == "" || (update.Status == core.PaymentNew && current.Status != core.PaymentNew) {
				update.Status = current.Status
			}
			if update.Status == current.Status && (update.TxID == "" || update.TxID == current.TxID) {
				return nil, nil
			}
			next.Status = update.Status
			if update.TxID != "" {
				next.TxID = update.TxID
			}
		}
		next.UpdatedAt = s.now().UTC()

		to := order.Status
		if target, ok := orderTarget(order, &next); ok {
			to = target
		}
		return &plan{to: to, updatePayment: &next}, nil
	}, options{})
}

// UpdateOrderStatus moves an order to status. Requesting the current status
// is a no-op that reports Changed=false and triggers no side effects.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, status core.OrderStatus, opts ...Option) (Result, error) {
	o := collect(opts)
	return s.mutate(ctx, orderID, func(order *core.Order) (*plan, error) {
		if order.Status == status {
			return nil, nil
		}
		// paid auto-advances to delivered; asking for paid again is a repeat.
		if status == core.StatusPaid && order.Status.Deliverable() {
			return nil, nil
		}
		if status == core.StatusPaid && !order.HasSettledPayment() {
			return s.manualPaymentPlan(order, o.actor)
		}
		if err := Allowed(order.Status, status, o.actor); err != nil {
			return nil, err
		}
		if (status == core.StatusExpired || status == core.StatusFailed) && order.HasSettledPayment() {
			return nil, fmt.Errorf("%w: order %s has a settled payment", core.ErrInvalidTransition, order.ID)
		}

		p := &plan{to: status}
		if status.Terminal() {
			if active := order.ActivePayment(); active != nil {
				closed := *active
				closed.Status = core.PaymentExpired
				if status == core.StatusFailed {
					closed.Status = core.PaymentFailed
				}
				closed.UpdatedAt = s.now().UTC()
				p.updatePayment = &closed
			}
		}
		return p, nil
	}, o)
}

// MarkOrderAsPaid settles an order administratively by synthesizing a payment
// with provider "manual". Orders already paid, delivered or completed are left
// as they are.
func (s *Service) MarkOrderAsPaid(ctx context.Context, orderID string, opts ...Option) (Result, error) {
	o := collect(opts)
	return s.mutate(ctx, orderID, func(order *core.Order) (*plan, error) {
		if order.Status.Deliverable() {
			return nil, nil
		}
		return s.manualPaymentPlan(order, o.actor)
	}, o)
}

func (s *Service) manualPaymentPlan(order *core.Order, actor Actor) (*plan, error) {
	if err := Allowed(order.Status, core.StatusPaid, actor); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	return &plan{
		to: core.StatusPaid,
		newPayment: &core.Payment{
			ID:        s.ids.NewID(),
			OrderID:   order.ID,
			Provider:  core.ProviderManual,
			Amount:    order.Total,
			Currency:  order.Currency,
			Status:    core.PaymentPaid,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}, nil
}

// ConfirmDelivered records that the buyer consumed the delivery.
func (s *Service) ConfirmDelivered(ctx context.Context, orderID string) (Result, error) {
	return s.mutate(ctx, orderID, func(order *core.Order) (*plan, error) {
		switch order.Status {
		case core.StatusCompleted:
			return nil, nil
		case core.StatusPaid, core.StatusDelivered:
			return &plan{to: core.StatusCompleted}, nil
		}
		return nil, fmt.Errorf("%w: cannot complete a %s order", core.ErrInvalidTransition, order.Status)
	}, options{})
}

// Retrigger is the outcome of RetriggerDelivery.
type Retrigger struct {
	Message string       `json:"message"`
	Assets  []core.Asset `json:"assets"`
}

// RetriggerDelivery re-runs content attachment for a paid, delivered or
// completed order. It never changes the order status.
func (s *Service) RetriggerDelivery(ctx context.Context, orderID string) (Retrigger, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Retrigger{}, err
	}
	if !order.Status.Deliverable() {
		return Retrigger{}, fmt.Errorf("%w: delivery cannot be retriggered for a %s order", core.ErrInvalidTransition, order.Status)
	}
	if s.attacher == nil {
		return Retrigger{Message: "no fulfillment configured"}, nil
	}

	assets, err := s.attacher.AttachDelivery(ctx, order)
	if err != nil {
		return Retrigger{}, fmt.Errorf("failed to attach delivery: %w", err)
	}
	s.logger.Info("delivery retriggered", "order_id", orderID, "assets", len(assets))
	return Retrigger{
		Message: fmt.Sprintf("Delivery retriggered: %d item(s) attached", len(assets)),
		Assets:  assets,
	}, nil
}

func (s *Service) mutate(ctx context.Context, orderID string, build builder, o options) (Result, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()
	return s.mutateLocked(ctx, orderID, build, o)
}

// mutateLocked reads, plans and writes one transition. The caller holds the
// order's lock.
func (s *Service) mutateLocked(ctx context.Context, orderID string, build builder, o options) (Result, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		order, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return Result{}, err
		}

		p, err := build(order)
		if err != nil {
			return Result{Order: order, From: order.Status}, err
		}
		if p == nil {
			res := Result{Order: order, From: order.Status}
			if o.witness != nil {
				if err := o.witness(ctx, res); err != nil {
					return res, fmt.Errorf("%w: %w", core.ErrReverted, err)
				}
			}
			return res, nil
		}

		tr := core.Transition{
			OrderID:       order.ID,
			FromVersion:   order.Version,
			From:          order.Status,
			To:            p.to,
			NewPayment:    p.newPayment,
			UpdatePayment: p.updatePayment,
			At:            s.now().UTC(),
		}
		if err := s.store.ApplyTransition(ctx, tr); err != nil {
			if errors.Is(err, core.ErrConflict) {
				s.logger.Debug("order version moved, retrying", "order_id", orderID, "attempt", attempt+1)
				continue
			}
			return Result{Order: order, From: order.Status}, fmt.Errorf("failed to apply transition: %w", err)
		}

		res := Result{Order: applied(order, tr), From: order.Status, Changed: p.to != order.Status}
		if o.witness != nil {
			if werr := o.witness(ctx, res); werr != nil {
				return Result{Order: order, From: order.Status}, s.compensate(ctx, order, res.Order, tr, werr)
			}
		}
		if res.Changed {
			metrics.OrderTransitionsTotal.WithLabelValues(string(res.From), string(p.to)).Inc()
			s.logger.Info("order transitioned", "order_id", orderID, "from", res.From, "to", p.to)
			res.Order = s.afterTransition(ctx, res.Order, res.From)
		}
		return res, nil
	}
	return Result{}, fmt.Errorf("%w: order %s", core.ErrConflict, orderID)
}

// compensate writes the inverse of tr after its witness failed. A synthesized
// payment cannot be removed, so it is marked failed instead.
func (s *Service) compensate(ctx context.Context, before, after *core.Order, tr core.Transition, cause error) error {
	action := "order_" + string(tr.To)
	revert := core.Transition{
		OrderID:     before.ID,
		FromVersion: after.Version,
		From:        tr.To,
		To:          tr.From,
		At:          s.now().UTC(),
	}
	switch {
	case tr.NewPayment != nil:
		failed := *tr.NewPayment
		failed.Status = core.PaymentFailed
		failed.UpdatedAt = revert.At
		revert.UpdatePayment = &failed
	case tr.UpdatePayment != nil:
		if prev := before.Payment(tr.UpdatePayment.ID); prev != nil {
			restored := *prev
			revert.UpdatePayment = &restored
		}
	}

	if err := s.store.ApplyTransition(ctx, revert); err != nil {
		metrics.CompensationsTotal.WithLabelValues(action, "failed").Inc()
		s.logger.Error("COMPENSATION FAILED: order state and audit trail diverged",
			"order_id", before.ID, "from", tr.From, "to", tr.To, "witness_error", cause, "error", err)
		return fmt.Errorf("%w: order %s left in %s: %v (audit: %v)", core.ErrCompensationFailed, before.ID, tr.To, err, cause)
	}
	metrics.CompensationsTotal.WithLabelValues(action, "reverted").Inc()
	s.logger.Warn("order change reverted", "order_id", before.ID, "from", tr.From, "to", tr.To, "error", cause)
	return fmt.Errorf("%w: %w", core.ErrReverted, cause)
}

// afterTransition runs side effects for a committed change and returns the
// latest known state of the order.
func (s *Service) afterTransition(ctx context.Context, order *core.Order, from core.OrderStatus) *core.Order {
	if order.Status == core.StatusPaid {
		return s.onPaid(ctx, order)
	}
	if s.notifier != nil {
		if err := s.notifier.OrderStatusChanged(ctx, order, from); err != nil {
			s.logger.Warn("status notification failed", "order_id", order.ID, "error", err)
		}
	}
	return order
}

// onPaid issues the delivery token, attaches fulfillment content and notifies
// the buyer. With content attached the order moves on to delivered.
func (s *Service) onPaid(ctx context.Context, order *core.Order) *core.Order {
	link := ""
	if s.tokens != nil {
		token, err := s.tokens.Issue(order.ID, order.Email)
		if err != nil {
			s.logger.Error("failed to issue delivery token", "order_id", order.ID, "error", err)
		} else {
			link = s.deliveryLink(order.ID, token)
		}
	}

	if s.attacher != nil {
		assets, err := s.attacher.AttachDelivery(ctx, order)
		switch {
		case err != nil:
			s.logger.Warn("delivery attach failed, order stays paid", "order_id", order.ID, "error", err)
		case len(assets) > 0:
			res, err := s.mutateLocked(ctx, order.ID, func(o *core.Order) (*plan, error) {
				if o.Status != core.StatusPaid {
					return nil, nil
				}
				return &plan{to: core.StatusDelivered}, nil
			}, options{})
			if err != nil {
				s.logger.Warn("failed to mark order delivered", "order_id", order.ID, "error", err)
			} else {
				order = res.Order
			}
		}
	}

	if s.notifier != nil {
		if err := s.notifier.OrderPaid(ctx, order, link); err != nil {
			s.logger.Warn("paid notification failed", "order_id", order.ID, "error", err)
		}
	}
	return order
}

func (s *Service) deliveryLink(orderID, token string) string {
	return fmt.Sprintf("%s/delivery/%s?token=%s", s.deliveryURL, url.PathEscape(orderID), url.QueryEscape(token))
}

// applied returns a copy of order with tr applied, mirroring the store write.
func applied(order *core.Order, tr core.Transition) *core.Order {
	next := *order
	next.Status = tr.To
	next.Version = order.Version + 1
	next.UpdatedAt = tr.At
	next.Payments = make([]core.Payment, len(order.Payments), len(order.Payments)+1)
	copy(next.Payments, order.Payments)
	if tr.UpdatePayment != nil {
		for i := range next.Payments {
			if next.Payments[i].ID == tr.UpdatePayment.ID {
				next.Payments[i] = *tr.UpdatePayment
			}
		}
	}
	if tr.NewPayment != nil {
		next.Payments = append(next.Payments, *tr.NewPayment)
	}
	return &next
}
