// Package admin is the single entry point for administrative mutations. Every
// change is witnessed by an AdminAction record carrying the value it replaced;
// a change whose witness cannot be written is rolled back.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
	"github.com/kazsia/rainyday-new-sub001/internal/metrics"
	"github.com/kazsia/rainyday-new-sub001/internal/orders"
)

// Rule violations. Nothing is written when one of these is returned.
var (
	ErrLastAdmin      = errors.New("cannot demote the last administrator")
	ErrSelfRoleChange = errors.New("administrators cannot change their own role")
	ErrGuestCustomer  = errors.New("guest customers have no account to change")
	ErrInvalidValue   = errors.New("invalid value")
)

// Admin action names
const (
	ActionCustomerStatus  = "customer_status_update"
	ActionCustomerRole    = "customer_role_update"
	ActionCustomerBalance = "customer_balance_update"
	ActionCustomerBan     = "customer_ban"
	ActionCustomerUnban   = "customer_unban"
	ActionOrderStatus     = "order_status_update"
	ActionOrderMarkPaid   = "order_mark_paid"
	ActionOrderRetrigger  = "order_retrigger_delivery"
)

// Auditor writes AdminAction witnesses.
// Implementations: audit.Recorder
type Auditor interface {
	AdminAction(ctx context.Context, adminID, targetID, action string, details map[string]any, ip string) error
}

// OrderOps is the slice of the order service exposed to administrators.
// Implementations: orders.Service
type OrderOps interface {
	UpdateOrderStatus(ctx context.Context, orderID string, status core.OrderStatus, opts ...orders.Option) (orders.Result, error)
	MarkOrderAsPaid(ctx context.Context, orderID string, opts ...orders.Option) (orders.Result, error)
	RetriggerDelivery(ctx context.Context, orderID string) (orders.Retrigger, error)
}

// Actor identifies the administrator making a request.
type Actor struct {
	AdminID string
	IP      string
}

// Gateway applies administrative mutations.
type Gateway struct {
	customers core.CustomerStore
	identity  core.Identity
	orders    OrderOps
	audit     Auditor
	logger    *slog.Logger
}

// Deps holds dependencies for constructing a Gateway.
type Deps struct {
	Customers core.CustomerStore
	Identity  core.Identity
	Orders    OrderOps
	Audit     Auditor
	Logger    *slog.Logger
}

// NewGatewayWithDeps creates a gateway with explicit dependencies.
func NewGatewayWithDeps(deps Deps) *Gateway {
	g := &Gateway{
		customers: deps.Customers,
		identity:  deps.Identity,
		orders:    deps.Orders,
		audit:     deps.Audit,
		logger:    deps.Logger,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// mutation is one reversible change and its witness.
type mutation struct {
	action   string
	targetID string
	details  map[string]any
	apply    func(ctx context.Context) error
	revert   func(ctx context.Context) error
}

// run applies m, then writes its witness. If the witness fails the change is
// reverted and core.ErrReverted returned; if the revert fails too,
// core.ErrCompensationFailed.
func (g *Gateway) run(ctx context.Context, actor Actor, m mutation) error {
	if err := m.apply(ctx); err != nil {
		return fmt.Errorf("%s: %w", m.action, err)
	}

	werr := g.audit.AdminAction(ctx, actor.AdminID, m.targetID, m.action, m.details, actor.IP)
	if werr == nil {
		g.logger.Info("admin action", "action", m.action, "admin_id", actor.AdminID, "target_id", m.targetID)
		return nil
	}

	if rerr := m.revert(ctx); rerr != nil {
		metrics.CompensationsTotal.WithLabelValues(m.action, "failed").Inc()
		g.logger.Error("COMPENSATION FAILED: state and audit trail diverged",
			"action", m.action, "admin_id", actor.AdminID, "target_id", m.targetID,
			"details", m.details, "witness_error", werr, "error", rerr)
		return fmt.Errorf("%w: %s on %s: %v (audit: %v)", core.ErrCompensationFailed, m.action, m.targetID, rerr, werr)
	}
	metrics.CompensationsTotal.WithLabelValues(m.action, "reverted").Inc()
	g.logger.Warn("admin action reverted", "action", m.action, "admin_id", actor.AdminID,
		"target_id", m.targetID, "error", werr)
	return fmt.Errorf("%w: %w", core.ErrReverted, werr)
}

func (g *Gateway) account(ctx context.Context, customerID string) (*core.Customer, error) {
	c, err := g.customers.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if c.Guest() {
		return nil, fmt.Errorf("%w: %s", ErrGuestCustomer, customerID)
	}
	return c, nil
}

// UpdateCustomerStatus sets a customer's account status. Moving to or from
// banned goes through BanCustomer / UnbanCustomer.
func (g *Gateway) UpdateCustomerStatus(ctx context.Context, actor Actor, customerID, status string) (*core.Customer, error) {
	switch status {
	case core.CustomerBanned:
		return g.BanCustomer(ctx, actor, customerID)
	case core.CustomerActive, core.CustomerSuspended:
	default:
		return nil, fmt.Errorf("%w: status %q", ErrInvalidValue, status)
	}

	c, err := g.account(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if c.Status == core.CustomerBanned && status == core.CustomerActive {
		return g.UnbanCustomer(ctx, actor, customerID)
	}

	prev := c.Status
	err = g.run(ctx, actor, mutation{
		action:   ActionCustomerStatus,
		targetID: c.ID,
		details:  map[string]any{"previous_status": prev, "status": status},
		apply: func(ctx context.Context) error {
			return g.customers.UpdateCustomerStatus(ctx, c.ID, status)
		},
		revert: func(ctx context.Context) error {
			return g.customers.UpdateCustomerStatus(ctx, c.ID, prev)
		},
	})
	if err != nil {
		return nil, err
	}
	c.Status = status
	return c, nil
}

// UpdateCustomerRole changes a customer's role. Administrators cannot change
// their own role, and the last administrator cannot be demoted.
func (g *Gateway) UpdateCustomerRole(ctx context.Context, actor Actor, customerID, role string) (*core.Customer, error) {
	switch role {
	case core.RoleCustomer, core.RoleStaff, core.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: role %q", ErrInvalidValue, role)
	}

	c, err := g.account(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if actor.AdminID != "" && (actor.AdminID == c.ID || actor.AdminID == c.UserID) {
		return nil, ErrSelfRoleChange
	}
	if c.Role == core.RoleAdmin && role != core.RoleAdmin {
		admins, err := g.customers.CountAdmins(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count administrators: %w", err)
		}
		if admins <= 1 {
			return nil, ErrLastAdmin
		}
	}

	prev := c.Role
	err = g.run(ctx, actor, mutation{
		action:   ActionCustomerRole,
		targetID: c.ID,
		details:  map[string]any{"previous_role": prev, "role": role},
		apply: func(ctx context.Context) error {
			return g.customers.UpdateCustomerRole(ctx, c.ID, role)
		},
		revert: func(ctx context.Context) error {
			return g.customers.UpdateCustomerRole(ctx, c.ID, prev)
		},
	})
	if err != nil {
		return nil, err
	}
	c.Role = role
	return c, nil
}

// UpdateCustomerBalance sets a customer's store credit. Guests may hold credit.
func (g *Gateway) UpdateCustomerBalance(ctx context.Context, actor Actor, customerID string, balance decimal.Decimal) (*core.Customer, error) {
	if balance.IsNegative() {
		return nil, fmt.Errorf("%w: balance must not be negative", ErrInvalidValue)
	}
	c, err := g.customers.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	prev := c.Balance
	err = g.run(ctx, actor, mutation{
		action:   ActionCustomerBalance,
		targetID: c.ID,
		details:  map[string]any{"previous_balance": prev.String(), "balance": balance.String()},
		apply: func(ctx context.Context) error {
			return g.customers.UpdateCustomerBalance(ctx, c.ID, balance)
		},
		revert: func(ctx context.Context) error {
			return g.customers.UpdateCustomerBalance(ctx, c.ID, prev)
		},
	})
	if err != nil {
		return nil, err
	}
	c.Balance = balance
	return c, nil
}

// BanCustomer marks the customer banned, suspends the account indefinitely at
// the identity layer and signs out its sessions.
func (g *Gateway) BanCustomer(ctx context.Context, actor Actor, customerID string) (*core.Customer, error) {
	c, err := g.account(ctx, customerID)
	if err != nil {
		return nil, err
	}

	prev := c.Status
	wasBanned := prev == core.CustomerBanned
	err = g.run(ctx, actor, mutation{
		action:   ActionCustomerBan,
		targetID: c.ID,
		details:  map[string]any{"previous_status": prev, "status": core.CustomerBanned, "user_id": c.UserID},
		apply: func(ctx context.Context) error {
			if err := g.customers.UpdateCustomerStatus(ctx, c.ID, core.CustomerBanned); err != nil {
				return err
			}
			if err := g.identity.SetBanned(ctx, c.UserID, true); err != nil {
				if rerr := g.customers.UpdateCustomerStatus(ctx, c.ID, prev); rerr != nil {
					g.logger.Error("failed to restore status after identity ban failed",
						"customer_id", c.ID, "error", rerr)
				}
				return fmt.Errorf("identity ban: %w", err)
			}
			return nil
		},
		revert: func(ctx context.Context) error {
			return errors.Join(
				g.identity.SetBanned(ctx, c.UserID, wasBanned),
				g.customers.UpdateCustomerStatus(ctx, c.ID, prev),
			)
		},
	})
	if err != nil {
		return nil, err
	}

	if err := g.identity.ForceSignOut(ctx, c.UserID); err != nil {
		g.logger.Error("failed to sign out banned user", "customer_id", c.ID, "user_id", c.UserID, "error", err)
	}
	c.Status = core.CustomerBanned
	return c, nil
}

// UnbanCustomer lifts a ban and reactivates the account.
func (g *Gateway) UnbanCustomer(ctx context.Context, actor Actor, customerID string) (*core.Customer, error) {
	c, err := g.account(ctx, customerID)
	if err != nil {
		return nil, err
	}

	prev := c.Status
	wasBanned := prev == core.CustomerBanned
	err = g.run(ctx, actor, mutation{
		action:   ActionCustomerUnban,
		targetID: c.ID,
		details:  map[string]any{"previous_status": prev, "status": core.CustomerActive, "user_id": c.UserID},
		apply: func(ctx context.Context) error {
			if err := g.identity.SetBanned(ctx, c.UserID, false); err != nil {
				return fmt.Errorf("identity unban: %w", err)
			}
			return g.customers.UpdateCustomerStatus(ctx, c.ID, core.CustomerActive)
		},
		revert: func(ctx context.Context) error {
			return errors.Join(
				g.customers.UpdateCustomerStatus(ctx, c.ID, prev),
				g.identity.SetBanned(ctx, c.UserID, wasBanned),
			)
		},
	})
	if err != nil {
		return nil, err
	}
	c.Status = core.CustomerActive
	return c, nil
}

func (g *Gateway) orderWitness(actor Actor, action string) orders.Witness {
	return func(ctx context.Context, r orders.Result) error {
		return g.audit.AdminAction(ctx, actor.AdminID, r.Order.ID, action, map[string]any{
			"previous_status": string(r.From),
			"status":          string(r.Order.Status),
			"changed":         r.Changed,
		}, actor.IP)
	}
}

// UpdateOrderStatus overrides an order's status. The order service reverts
// the transition when the witness cannot be written.
func (g *Gateway) UpdateOrderStatus(ctx context.Context, actor Actor, orderID string, status core.OrderStatus) (orders.Result, error) {
	if !status.Valid() {
		return orders.Result{}, fmt.Errorf("%w: status %q", ErrInvalidValue, status)
	}
	return g.orders.UpdateOrderStatus(ctx, orderID, status,
		orders.WithActor(orders.ActorAdmin),
		orders.WithWitness(g.orderWitness(actor, ActionOrderStatus)),
	)
}

// MarkOrderAsPaid manually settles an order.
func (g *Gateway) MarkOrderAsPaid(ctx context.Context, actor Actor, orderID string) (orders.Result, error) {
	return g.orders.MarkOrderAsPaid(ctx, orderID,
		orders.WithActor(orders.ActorAdmin),
		orders.WithWitness(g.orderWitness(actor, ActionOrderMarkPaid)),
	)
}

// RetriggerDelivery re-runs fulfillment. It changes no status, so its audit
// record is best effort.
func (g *Gateway) RetriggerDelivery(ctx context.Context, actor Actor, orderID string) (orders.Retrigger, error) {
	out, err := g.orders.RetriggerDelivery(ctx, orderID)
	if err != nil {
		return out, err
	}
	if err := g.audit.AdminAction(ctx, actor.AdminID, orderID, ActionOrderRetrigger,
		map[string]any{"assets": len(out.Assets)}, actor.IP); err != nil {
		g.logger.Warn("failed to audit delivery retrigger", "order_id", orderID, "error", err)
	}
	return out, nil
}
