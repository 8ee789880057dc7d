package core

import "errors"

// Sentinel errors shared across services. Wrap with fmt.Errorf("...: %w").
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrActivePayment     = errors.New("order already has an active payment")
	ErrConflict          = errors.New("concurrent modification")
	ErrInvalidOrder      = errors.New("invalid order")

	// ErrReverted means a mutation was applied, its audit witness failed,
	// and the mutation was rolled back.
	ErrReverted = errors.New("action reverted: audit record could not be written")

	// ErrCompensationFailed means the rollback itself failed; state and
	// audit trail have diverged.
	ErrCompensationFailed = errors.New("compensation failed: state and audit trail diverged")
)
