package orders

import (
	"errors"
	"testing"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

func TestAllowed(t *testing.T) {
	tests := []struct {
		name    string
		from    core.OrderStatus
		to      core.OrderStatus
		actor   Actor
		wantErr bool
	}{
		{"Given pending When system moves to processing Then allowed", core.StatusPending, core.StatusProcessing, ActorSystem, false},
		{"Given pending When system moves to paid Then allowed", core.StatusPending, core.StatusPaid, ActorSystem, false},
		{"Given processing When system expires Then allowed", core.StatusProcessing, core.StatusExpired, ActorSystem, false},
		{"Given paid When system marks delivered Then allowed", core.StatusPaid, core.StatusDelivered, ActorSystem, false},
		{"Given delivered When system completes Then allowed", core.StatusDelivered, core.StatusCompleted, ActorSystem, false},
		{"Given pending When system cancels Then rejected", core.StatusPending, core.StatusCancelled, ActorSystem, true},
		{"Given pending When admin cancels Then allowed", core.StatusPending, core.StatusCancelled, ActorAdmin, false},
		{"Given completed When admin cancels Then rejected", core.StatusCompleted, core.StatusCancelled, ActorAdmin, true},
		{"Given completed When admin refunds Then allowed", core.StatusCompleted, core.StatusRefunded, ActorAdmin, false},
		{"Given paid When system refunds Then rejected", core.StatusPaid, core.StatusRefunded, ActorSystem, true},
		{"Given pending When admin refunds Then rejected", core.StatusPending, core.StatusRefunded, ActorAdmin, true},
		{"Given expired When admin cancels Then allowed", core.StatusExpired, core.StatusCancelled, ActorAdmin, false},
		{"Given cancelled When admin moves anywhere Then rejected", core.StatusCancelled, core.StatusPending, ActorAdmin, true},
		{"Given paid When moved back to pending Then rejected", core.StatusPaid, core.StatusPending, ActorAdmin, true},
		{"Given unknown target Then rejected", core.StatusPending, core.OrderStatus("shipped"), ActorAdmin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Allowed(tt.from, tt.to, tt.actor)
			if tt.wantErr {
				if !errors.Is(err, core.ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestOrderTarget(t *testing.T) {
	open := func(status core.OrderStatus, payments ...core.Payment) *core.Order {
		return &core.Order{ID: "o1", Status: status, Payments: payments}
	}

	tests := []struct {
		name   string
		order  *core.Order
		update core.Payment
		want   core.OrderStatus
		wantOK bool
	}{
		{
			name:   "Given pending order When payment waiting Then processing",
			order:  open(core.StatusPending),
			update: core.Payment{ID: "p1", Status: core.PaymentWaiting},
			want:   core.StatusProcessing, wantOK: true,
		},
		{
			name:   "Given pending order When payment confirming Then processing",
			order:  open(core.StatusPending),
			update: core.Payment{ID: "p1", Status: core.PaymentConfirming},
			want:   core.StatusProcessing, wantOK: true,
		},
		{
			name:   "Given processing order When payment paid without txid Then stays",
			order:  open(core.StatusProcessing),
			update: core.Payment{ID: "p1", Status: core.PaymentPaid},
			want:   core.StatusProcessing, wantOK: false,
		},
		{
			name:   "Given processing order When payment paid with txid Then paid",
			order:  open(core.StatusProcessing),
			update: core.Payment{ID: "p1", Status: core.PaymentPaid, TxID: "abc"},
			want:   core.StatusPaid, wantOK: true,
		},
		{
			name:   "Given pending order When payment expired Then expired",
			order:  open(core.StatusPending, core.Payment{ID: "p1", Status: core.PaymentWaiting}),
			update: core.Payment{ID: "p1", Status: core.PaymentExpired},
			want:   core.StatusExpired, wantOK: true,
		},
		{
			name:   "Given processing order When payment failed Then failed",
			order:  open(core.StatusProcessing, core.Payment{ID: "p1", Status: core.PaymentConfirming}),
			update: core.Payment{ID: "p1", Status: core.PaymentFailed},
			want:   core.StatusFailed, wantOK: true,
		},
		{
			name: "Given a settled payment When another expires Then no change",
			order: open(core.StatusProcessing,
				core.Payment{ID: "p0", Status: core.PaymentPaid},
				core.Payment{ID: "p1", Status: core.PaymentWaiting}),
			update: core.Payment{ID: "p1", Status: core.PaymentExpired},
			wantOK: false,
		},
		{
			name:   "Given paid order When payment confirming Then no change",
			order:  open(core.StatusPaid),
			update: core.Payment{ID: "p1", Status: core.PaymentConfirming},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := orderTarget(tt.order, &tt.update)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("target = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	if k.size() != 2 {
		t.Fatalf("expected 2 entries, got %d", k.size())
	}
	unlockA()
	unlockB()
	if k.size() != 0 {
		t.Errorf("expected entries to be released, got %d", k.size())
	}
}
