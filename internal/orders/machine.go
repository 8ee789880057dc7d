package orders

import (
	"fmt"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

// Actor distinguishes automatic (gateway-driven) triggers from administrator commands.
type Actor int

const (
	ActorSystem Actor = iota
	ActorAdmin
)

// transitions is the order lifecycle. Keys are the current status; values the
// statuses reachable from it by anyone. Cancel and refund are further limited
// to administrators by Allowed.
var transitions = map[core.OrderStatus][]core.OrderStatus{
	core.StatusPending: {
		core.StatusProcessing, core.StatusPaid,
		core.StatusExpired, core.StatusFailed, core.StatusCancelled,
	},
	core.StatusProcessing: {
		core.StatusPaid, core.StatusExpired, core.StatusFailed, core.StatusCancelled,
	},
	core.StatusPaid: {
		core.StatusDelivered, core.StatusCompleted, core.StatusRefunded, core.StatusCancelled,
	},
	core.StatusDelivered: {
		core.StatusCompleted, core.StatusRefunded, core.StatusCancelled,
	},
	core.StatusCompleted: {core.StatusRefunded},
	core.StatusRefunded:  {core.StatusCancelled},
	core.StatusExpired:   {core.StatusCancelled},
	core.StatusFailed:    {core.StatusCancelled},
	core.StatusCancelled: {},
}

// adminOnly are targets only an administrator may request.
var adminOnly = map[core.OrderStatus]bool{
	core.StatusCancelled: true,
	core.StatusRefunded:  true,
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to core.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Allowed validates a transition for the given actor. Leaving a terminal
// status is an administrator-only terminal-to-terminal relabel.
func Allowed(from, to core.OrderStatus, actor Actor) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", core.ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, from, to)
	}
	if actor != ActorAdmin && (adminOnly[to] || from.Terminal()) {
		return fmt.Errorf("%w: %s -> %s requires an administrator", core.ErrInvalidTransition, from, to)
	}
	return nil
}

// orderTarget maps a payment's state after an update onto the order status it
// implies. ok is false when the payment does not move the order.
func orderTarget(order *core.Order, p *core.Payment) (core.OrderStatus, bool) {
	if order.Status != core.StatusPending && order.Status != core.StatusProcessing {
		return "", false
	}

	switch p.Status {
	case core.PaymentPaid:
		if p.TxID != "" {
			return core.StatusPaid, true
		}
		return core.StatusProcessing, order.Status == core.StatusPending
	case core.PaymentWaiting, core.PaymentConfirming:
		return core.StatusProcessing, order.Status == core.StatusPending
	case core.PaymentExpired, core.PaymentFailed:
		if order.HasSettledPayment() {
			return "", false
		}
		// A newer attempt may still be open.
		if active := order.ActivePayment(); active != nil && active.ID != p.ID {
			return "", false
		}
		if p.Status == core.PaymentExpired {
			return core.StatusExpired, true
		}
		return core.StatusFailed, true
	}
	return "", false
}
