package orders

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

var ErrMockStorage = errors.New("mock storage error")

// MockStore is an in-memory core.OrderStore with the same version and
// active-payment checks as the SQL store.
type MockStore struct {
	mu              sync.Mutex
	orders          map[string]*core.Order
	ApplyCount      int
	FailApplyOnCall int // Fail on Nth ApplyTransition (0 = never fail)
	ApplyFunc       func(tr core.Transition) error
}

func NewMockStore() *MockStore {
	return &MockStore{orders: make(map[string]*core.Order)}
}

func (m *MockStore) CreateOrder(ctx context.Context, order *core.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneOrder(order)
	if cp.Version == 0 {
		cp.Version = 1
	}
	m.orders[order.ID] = cp
	return nil
}

func (m *MockStore) GetOrder(ctx context.Context, id string) (*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, core.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *MockStore) ApplyTransition(ctx context.Context, tr core.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ApplyCount++
	if m.FailApplyOnCall > 0 && m.ApplyCount == m.FailApplyOnCall {
		return ErrMockStorage
	}
	if m.ApplyFunc != nil {
		if err := m.ApplyFunc(tr); err != nil {
			return err
		}
	}

	o, ok := m.orders[tr.OrderID]
	if !ok {
		return core.ErrOrderNotFound
	}
	if o.Version != tr.FromVersion {
		return core.ErrConflict
	}
	if tr.NewPayment != nil && !tr.NewPayment.Status.Terminal() && o.ActivePayment() != nil {
		return core.ErrActivePayment
	}

	o.Status = tr.To
	o.Version++
	o.UpdatedAt = tr.At
	if tr.UpdatePayment != nil {
		for i := range o.Payments {
			if o.Payments[i].ID == tr.UpdatePayment.ID {
				o.Payments[i] = *tr.UpdatePayment
			}
		}
	}
	if tr.NewPayment != nil {
		o.Payments = append(o.Payments, *tr.NewPayment)
	}
	return nil
}

func (m *MockStore) PaymentByTrackID(ctx context.Context, trackID string) (*core.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		for _, p := range o.Payments {
			if p.TrackID == trackID {
				cp := p
				return &cp, nil
			}
		}
	}
	return nil, core.ErrPaymentNotFound
}

func (m *MockStore) ListStalePayments(ctx context.Context, now time.Time) ([]core.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Payment
	for _, o := range m.orders {
		for _, p := range o.Payments {
			if !p.Status.Terminal() && !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(now) {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func cloneOrder(o *core.Order) *core.Order {
	cp := *o
	cp.Items = append([]core.LineItem(nil), o.Items...)
	cp.Payments = append([]core.Payment(nil), o.Payments...)
	return &cp
}

// MockAttacher implements core.DeliveryAttacher for testing
type MockAttacher struct {
	mu         sync.Mutex
	AttachFunc func(ctx context.Context, order *core.Order) ([]core.Asset, error)
	CallCount  int
}

func (m *MockAttacher) AttachDelivery(ctx context.Context, order *core.Order) ([]core.Asset, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()
	if m.AttachFunc != nil {
		return m.AttachFunc(ctx, order)
	}
	return []core.Asset{{ID: "asset-1", OrderID: order.ID, Content: "KEY-123"}}, nil
}

func (m *MockAttacher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// MockIssuer implements core.TokenIssuer for testing
type MockIssuer struct {
	CallCount int
	Err       error
}

func (m *MockIssuer) Issue(orderID, email string) (string, error) {
	m.CallCount++
	if m.Err != nil {
		return "", m.Err
	}
	return "tok-" + orderID, nil
}

// MockNotifier implements core.Notifier for testing
type MockNotifier struct {
	mu          sync.Mutex
	PaidCount   int
	StatusCount int
	LastURL     string
}

func (m *MockNotifier) OrderPaid(ctx context.Context, order *core.Order, deliveryURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PaidCount++
	m.LastURL = deliveryURL
	return nil
}

func (m *MockNotifier) OrderStatusChanged(ctx context.Context, order *core.Order, from core.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCount++
	return nil
}

// MockLookup implements core.TxLookup for testing
type MockLookup struct {
	LookupFunc func(ctx context.Context, trackID string) (core.GatewayStatus, error)
	CallCount  int
}

func (m *MockLookup) LookupTransaction(ctx context.Context, trackID string) (core.GatewayStatus, error) {
	m.CallCount++
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, trackID)
	}
	return core.GatewayStatus{TrackID: trackID}, nil
}
