package admin

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

var errAuditDown = errors.New("audit store unavailable")

// MockCustomers is an in-memory core.CustomerStore.
type MockCustomers struct {
	mu        sync.Mutex
	customers map[string]core.Customer

	// UpdateFunc, when set, can fail individual writes.
	UpdateFunc func(id, field string, value any) error
	Writes     int
}

func NewMockCustomers(cs ...core.Customer) *MockCustomers {
	m := &MockCustomers{customers: make(map[string]core.Customer)}
	for _, c := range cs {
		m.customers[c.ID] = c
	}
	return m
}

func (m *MockCustomers) GetCustomer(_ context.Context, id string) (*core.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, core.ErrCustomerNotFound
	}
	return &c, nil
}

func (m *MockCustomers) update(id, field string, value any, set func(c *core.Customer)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	if m.UpdateFunc != nil {
		if err := m.UpdateFunc(id, field, value); err != nil {
			return err
		}
	}
	c, ok := m.customers[id]
	if !ok {
		return core.ErrCustomerNotFound
	}
	set(&c)
	m.customers[id] = c
	return nil
}

func (m *MockCustomers) UpdateCustomerStatus(_ context.Context, id, status string) error {
	return m.update(id, "status", status, func(c *core.Customer) { c.Status = status })
}

func (m *MockCustomers) UpdateCustomerRole(_ context.Context, id, role string) error {
	return m.update(id, "role", role, func(c *core.Customer) { c.Role = role })
}

func (m *MockCustomers) UpdateCustomerBalance(_ context.Context, id string, balance decimal.Decimal) error {
	return m.update(id, "balance", balance, func(c *core.Customer) { c.Balance = balance })
}

func (m *MockCustomers) CountAdmins(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.customers {
		if c.Role == core.RoleAdmin {
			n++
		}
	}
	return n, nil
}

func (m *MockCustomers) get(id string) core.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.customers[id]
}

// MockIdentity records identity-layer calls.
type MockIdentity struct {
	mu          sync.Mutex
	Banned      map[string]bool
	SignedOut   []string
	SetBannedFn func(userID string, banned bool) error
}

func NewMockIdentity() *MockIdentity {
	return &MockIdentity{Banned: make(map[string]bool)}
}

func (m *MockIdentity) ForceSignOut(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SignedOut = append(m.SignedOut, userID)
	return nil
}

func (m *MockIdentity) SetBanned(_ context.Context, userID string, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetBannedFn != nil {
		if err := m.SetBannedFn(userID, banned); err != nil {
			return err
		}
	}
	m.Banned[userID] = banned
	return nil
}

// MockAuditor records AdminAction witnesses.
type MockAuditor struct {
	mu              sync.Mutex
	AdminActionFunc func(action string) error
	Actions         []core.AdminAction
	CallCount       int
}

func (m *MockAuditor) AdminAction(_ context.Context, adminID, targetID, action string, details map[string]any, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount++
	if m.AdminActionFunc != nil {
		if err := m.AdminActionFunc(action); err != nil {
			return err
		}
	}
	m.Actions = append(m.Actions, core.AdminAction{
		AdminID: adminID, TargetID: targetID, Action: action, Details: details, IPAddress: ip,
	})
	return nil
}
