package admin

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
	"github.com/kazsia/rainyday-new-sub001/internal/orders"
	"github.com/kazsia/rainyday-new-sub001/internal/storage"
)

var rootAdmin = Actor{AdminID: "admin-1", IP: "198.51.100.4"}

type fixture struct {
	gw        *Gateway
	customers *MockCustomers
	identity  *MockIdentity
	auditor   *MockAuditor
	orders    *orders.Service
	store     *storage.Store
}

func newFixture(t *testing.T, cs ...core.Customer) *fixture {
	t.Helper()
	store, err := storage.Open(storage.DriverSQLite, filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		customers: NewMockCustomers(cs...),
		identity:  NewMockIdentity(),
		auditor:   &MockAuditor{},
		orders:    orders.NewServiceWithDeps(orders.Deps{Store: store}),
		store:     store,
	}
	f.gw = NewGatewayWithDeps(Deps{
		Customers: f.customers,
		Identity:  f.identity,
		Orders:    f.orders,
		Audit:     f.auditor,
	})
	return f
}

func (f *fixture) newOrder(t *testing.T) *core.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), orders.NewOrder{
		Email: "buyer@example.com",
		Total: decimal.RequireFromString("12.00"),
		Items: []core.LineItem{{ProductID: "prod-1", Quantity: 2, UnitPrice: decimal.RequireFromString("6.00")}},
	})
	require.NoError(t, err)
	return order
}

func member(id string) core.Customer {
	return core.Customer{ID: id, UserID: "user-" + id, Email: id + "@example.com", Role: core.RoleCustomer, Status: core.CustomerActive}
}

func admin(id string) core.Customer {
	c := member(id)
	c.Role = core.RoleAdmin
	return c
}

func guest(id string) core.Customer {
	c := member(id)
	c.UserID = ""
	return c
}

func TestUpdateCustomerStatus_GivenAuditSucceeds_ThenWitnessCarriesPreviousValue(t *testing.T) {
	f := newFixture(t, member("c1"))

	got, err := f.gw.UpdateCustomerStatus(context.Background(), rootAdmin, "c1", core.CustomerSuspended)

	require.NoError(t, err)
	assert.Equal(t, core.CustomerSuspended, got.Status)
	assert.Equal(t, core.CustomerSuspended, f.customers.get("c1").Status)
	require.Len(t, f.auditor.Actions, 1)
	a := f.auditor.Actions[0]
	assert.Equal(t, ActionCustomerStatus, a.Action)
	assert.Equal(t, "admin-1", a.AdminID)
	assert.Equal(t, "c1", a.TargetID)
	assert.Equal(t, "198.51.100.4", a.IPAddress)
	assert.Equal(t, core.CustomerActive, a.Details["previous_status"])
}

func TestUpdateCustomerStatus_GivenAuditFails_ThenChangeIsReverted(t *testing.T) {
	f := newFixture(t, member("c1"))
	f.auditor.AdminActionFunc = func(string) error { return errAuditDown }

	_, err := f.gw.UpdateCustomerStatus(context.Background(), rootAdmin, "c1", core.CustomerSuspended)

	assert.ErrorIs(t, err, core.ErrReverted)
	assert.ErrorIs(t, err, errAuditDown)
	assert.Equal(t, core.CustomerActive, f.customers.get("c1").Status)
	assert.Equal(t, 2, f.customers.Writes, "apply then revert")
}

func TestUpdateCustomerStatus_GivenAuditAndRevertFail_ThenCompensationFailed(t *testing.T) {
	f := newFixture(t, member("c1"))
	f.auditor.AdminActionFunc = func(string) error { return errAuditDown }
	writes := 0
	f.customers.UpdateFunc = func(string, string, any) error {
		writes++
		if writes == 2 {
			return errors.New("database is locked")
		}
		return nil
	}

	_, err := f.gw.UpdateCustomerStatus(context.Background(), rootAdmin, "c1", core.CustomerSuspended)

	assert.ErrorIs(t, err, core.ErrCompensationFailed)
	assert.NotErrorIs(t, err, core.ErrReverted)
	assert.Equal(t, core.CustomerSuspended, f.customers.get("c1").Status)
}

func TestUpdateCustomerStatus_GivenGuest_ThenRejected(t *testing.T) {
	f := newFixture(t, guest("g1"))

	_, err := f.gw.UpdateCustomerStatus(context.Background(), rootAdmin, "g1", core.CustomerSuspended)

	assert.ErrorIs(t, err, ErrGuestCustomer)
	assert.Zero(t, f.customers.Writes)
	assert.Zero(t, f.auditor.CallCount)
}

func TestUpdateCustomerStatus_GivenUnknownStatus_ThenInvalidValue(t *testing.T) {
	f := newFixture(t, member("c1"))

	_, err := f.gw.UpdateCustomerStatus(context.Background(), rootAdmin, "c1", "deleted")

	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestUpdateCustomerRole_GivenLastAdmin_ThenRefusesDemotion(t *testing.T) {
	f := newFixture(t, admin("a1"), member("c1"))

	_, err := f.gw.UpdateCustomerRole(context.Background(), Actor{AdminID: "someone-else"}, "a1", core.RoleStaff)

	assert.ErrorIs(t, err, ErrLastAdmin)
	assert.Equal(t, core.RoleAdmin, f.customers.get("a1").Role)
	assert.Zero(t, f.auditor.CallCount)
}

func TestUpdateCustomerRole_GivenSecondAdmin_ThenDemotionAllowed(t *testing.T) {
	f := newFixture(t, admin("a1"), admin("a2"))

	got, err := f.gw.UpdateCustomerRole(context.Background(), Actor{AdminID: "a1"}, "a2", core.RoleCustomer)

	require.NoError(t, err)
	assert.Equal(t, core.RoleCustomer, got.Role)
	require.Len(t, f.auditor.Actions, 1)
	assert.Equal(t, core.RoleAdmin, f.auditor.Actions[0].Details["previous_role"])
}

func TestUpdateCustomerRole_GivenSelf_ThenRefused(t *testing.T) {
	f := newFixture(t, admin("a1"), admin("a2"))

	_, err := f.gw.UpdateCustomerRole(context.Background(), Actor{AdminID: "user-a1"}, "a1", core.RoleStaff)

	assert.ErrorIs(t, err, ErrSelfRoleChange)
	assert.Equal(t, core.RoleAdmin, f.customers.get("a1").Role)
}

func TestUpdateCustomerRole_GivenGuest_ThenRejected(t *testing.T) {
	f := newFixture(t, guest("g1"))

	_, err := f.gw.UpdateCustomerRole(context.Background(), rootAdmin, "g1", core.RoleStaff)

	assert.ErrorIs(t, err, ErrGuestCustomer)
}

func TestUpdateCustomerRole_GivenAuditFails_ThenRoleRestored(t *testing.T) {
	f := newFixture(t, member("c1"))
	f.auditor.AdminActionFunc = func(string) error { return errAuditDown }

	_, err := f.gw.UpdateCustomerRole(context.Background(), rootAdmin, "c1", core.RoleStaff)

	assert.ErrorIs(t, err, core.ErrReverted)
	assert.Equal(t, core.RoleCustomer, f.customers.get("c1").Role)
}

func TestUpdateCustomerBalance_GivenGuest_ThenAllowed(t *testing.T) {
	f := newFixture(t, guest("g1"))

	got, err := f.gw.UpdateCustomerBalance(context.Background(), rootAdmin, "g1", decimal.RequireFromString("15.50"))

	require.NoError(t, err)
	assert.Equal(t, "15.5", got.Balance.String())
	assert.Equal(t, "0", f.auditor.Actions[0].Details["previous_balance"])
}

func TestUpdateCustomerBalance_GivenNegative_ThenInvalidValue(t *testing.T) {
	f := newFixture(t, member("c1"))

	_, err := f.gw.UpdateCustomerBalance(context.Background(), rootAdmin, "c1", decimal.NewFromInt(-1))

	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Zero(t, f.customers.Writes)
}

func TestBanCustomer_ThenIdentityBannedAndSignedOut(t *testing.T) {
	f := newFixture(t, member("c1"))

	got, err := f.gw.BanCustomer(context.Background(), rootAdmin, "c1")

	require.NoError(t, err)
	assert.Equal(t, core.CustomerBanned, got.Status)
	assert.True(t, f.identity.Banned["user-c1"])
	assert.Equal(t, []string{"user-c1"}, f.identity.SignedOut)
	require.Len(t, f.auditor.Actions, 1)
	assert.Equal(t, ActionCustomerBan, f.auditor.Actions[0].Action)
}

func TestBanCustomer_GivenAuditFails_ThenBanUndoneAndSessionsKept(t *testing.T) {
	f := newFixture(t, member("c1"))
	f.auditor.AdminActionFunc = func(string) error { return errAuditDown }

	_, err := f.gw.BanCustomer(context.Background(), rootAdmin, "c1")

	assert.ErrorIs(t, err, core.ErrReverted)
	assert.Equal(t, core.CustomerActive, f.customers.get("c1").Status)
	assert.False(t, f.identity.Banned["user-c1"])
	assert.Empty(t, f.identity.SignedOut)
}

func TestBanCustomer_GivenIdentityFails_ThenStatusRestoredAndNothingAudited(t *testing.T) {
	f := newFixture(t, member("c1"))
	f.identity.SetBannedFn = func(string, bool) error { return errors.New("identity provider down") }

	_, err := f.gw.BanCustomer(context.Background(), rootAdmin, "c1")

	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrReverted)
	assert.Equal(t, core.CustomerActive, f.customers.get("c1").Status)
	assert.Zero(t, f.auditor.CallCount)
}

func TestUpdateCustomerStatus_GivenBannedToActive_ThenUnbans(t *testing.T) {
	banned := member("c1")
	banned.Status = core.CustomerBanned
	f := newFixture(t, banned)
	f.identity.Banned["user-c1"] = true

	got, err := f.gw.UpdateCustomerStatus(context.Background(), rootAdmin, "c1", core.CustomerActive)

	require.NoError(t, err)
	assert.Equal(t, core.CustomerActive, got.Status)
	assert.False(t, f.identity.Banned["user-c1"])
	assert.Equal(t, ActionCustomerUnban, f.auditor.Actions[0].Action)
}

func TestUnbanCustomer_GivenAuditFails_ThenStaysBanned(t *testing.T) {
	banned := member("c1")
	banned.Status = core.CustomerBanned
	f := newFixture(t, banned)
	f.identity.Banned["user-c1"] = true
	f.auditor.AdminActionFunc = func(string) error { return errAuditDown }

	_, err := f.gw.UnbanCustomer(context.Background(), rootAdmin, "c1")

	assert.ErrorIs(t, err, core.ErrReverted)
	assert.Equal(t, core.CustomerBanned, f.customers.get("c1").Status)
	assert.True(t, f.identity.Banned["user-c1"])
}

func TestAdmin_GivenUnknownCustomer_ThenNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.gw.BanCustomer(context.Background(), rootAdmin, "missing")

	assert.ErrorIs(t, err, core.ErrCustomerNotFound)
}

func TestUpdateOrderStatus_GivenCancel_ThenAuditedAsAdmin(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder(t)

	res, err := f.gw.UpdateOrderStatus(context.Background(), rootAdmin, order.ID, core.StatusCancelled)

	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, res.Order.Status)
	require.Len(t, f.auditor.Actions, 1)
	a := f.auditor.Actions[0]
	assert.Equal(t, ActionOrderStatus, a.Action)
	assert.Equal(t, order.ID, a.TargetID)
	assert.Equal(t, "pending", a.Details["previous_status"])
	assert.Equal(t, "cancelled", a.Details["status"])
}

func TestUpdateOrderStatus_GivenAuditFails_ThenOrderReverted(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder(t)
	f.auditor.AdminActionFunc = func(string) error { return errAuditDown }

	_, err := f.gw.UpdateOrderStatus(context.Background(), rootAdmin, order.ID, core.StatusCancelled)

	assert.ErrorIs(t, err, core.ErrReverted)
	stored, err := f.store.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, stored.Status)
}

func TestUpdateOrderStatus_GivenSameStatusTwice_ThenEachCallWitnessed(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder(t)
	ctx := context.Background()

	_, err := f.gw.UpdateOrderStatus(ctx, rootAdmin, order.ID, core.StatusCancelled)
	require.NoError(t, err)
	res, err := f.gw.UpdateOrderStatus(ctx, rootAdmin, order.ID, core.StatusCancelled)

	require.NoError(t, err)
	assert.False(t, res.Changed)
	require.Len(t, f.auditor.Actions, 2)
	assert.Equal(t, false, f.auditor.Actions[1].Details["changed"])
}

func TestUpdateOrderStatus_GivenUnknownStatus_ThenInvalidValue(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder(t)

	_, err := f.gw.UpdateOrderStatus(context.Background(), rootAdmin, order.ID, "shipped")

	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestMarkOrderAsPaid_ThenManualPaymentAndWitness(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder(t)

	res, err := f.gw.MarkOrderAsPaid(context.Background(), rootAdmin, order.ID)

	require.NoError(t, err)
	assert.Equal(t, core.StatusPaid, res.Order.Status)
	stored, err := f.store.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Payments, 1)
	assert.Equal(t, core.ProviderManual, stored.Payments[0].Provider)
	assert.Equal(t, ActionOrderMarkPaid, f.auditor.Actions[0].Action)
}

func TestRetriggerDelivery_GivenPendingOrder_ThenRefused(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder(t)

	_, err := f.gw.RetriggerDelivery(context.Background(), rootAdmin, order.ID)

	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	assert.Zero(t, f.auditor.CallCount)
}

func TestRetriggerDelivery_GivenAuditFails_ThenStillSucceeds(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder(t)
	_, err := f.gw.MarkOrderAsPaid(context.Background(), rootAdmin, order.ID)
	require.NoError(t, err)
	f.auditor.AdminActionFunc = func(string) error { return errAuditDown }

	out, err := f.gw.RetriggerDelivery(context.Background(), rootAdmin, order.ID)

	require.NoError(t, err)
	assert.NotEmpty(t, out.Message)
	stored, err := f.store.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaid, stored.Status)
}
