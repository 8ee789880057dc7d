package delivery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
	"github.com/kazsia/rainyday-new-sub001/internal/guard"
	"github.com/kazsia/rainyday-new-sub001/internal/metrics"
	"github.com/kazsia/rainyday-new-sub001/internal/orders"
)

// Caller-facing denial reasons.
const (
	ReasonTokenExpired     = "TokenExpired"
	ReasonTokenAlreadyUsed = "TokenAlreadyUsed"
	ReasonInvalidToken     = "InvalidSignatureOrFormat"
	ReasonOrderNotFound    = "OrderNotFound"
	ReasonEmailMismatch    = "EmailMismatch"
	ReasonOrderNotReady    = "OrderNotReady"
	ReasonRateLimited      = guard.ReasonRateLimited
	ReasonBotDetected      = guard.ReasonBotDetected

	// ReasonUnavailable is returned when the decision could not be made
	// because a store failed. The token is left unused.
	ReasonUnavailable = "TemporarilyUnavailable"
)

// unknownOrder attributes access-log rows for unreadable tokens.
const unknownOrder = "unknown"

// OrderReader is the slice of the order service delivery needs.
// Implementations: orders.Service
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*core.Order, error)
	ConfirmDelivered(ctx context.Context, id string) (orders.Result, error)
}

// SecurityLog records security events.
// Implementations: audit.Recorder
type SecurityLog interface {
	Security(ctx context.Context, action string, details map[string]any)
}

// Request is one attempt to use a delivery token.
type Request struct {
	OrderID   string
	Token     string
	IPAddress string
	UserAgent string
	// Consume marks the token used on success. Pre-flight checks leave it unset.
	Consume bool
}

// Outcome is the decision for a Request.
type Outcome struct {
	Granted bool
	// Reason is one of the Reason constants when denied.
	Reason     string
	RetryAfter time.Duration
	Order      *core.Order
	Assets     []core.Asset

	detail  string
	tokenID string
}

// Service gates fulfillment content behind single-use delivery tokens.
type Service struct {
	signer   *Signer
	guard    *guard.Guard
	orders   OrderReader
	uses     core.TokenUseStore
	access   core.AccessLog
	assets   core.AssetReader
	security SecurityLog
	logger   *slog.Logger
	now      func() time.Time
}

// Deps holds dependencies for constructing a Service.
type Deps struct {
	Signer   *Signer
	Guard    *guard.Guard
	Orders   OrderReader
	Uses     core.TokenUseStore
	Access   core.AccessLog
	Assets   core.AssetReader
	Security SecurityLog
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewServiceWithDeps creates a delivery service with explicit dependencies.
func NewServiceWithDeps(deps Deps) *Service {
	s := &Service{
		signer:   deps.Signer,
		guard:    deps.Guard,
		orders:   deps.Orders,
		uses:     deps.Uses,
		access:   deps.Access,
		assets:   deps.Assets,
		security: deps.Security,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if s.guard == nil {
		s.guard = guard.New(nil, nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Access runs the guard, verifies the token, re-validates the order and, for
// consuming requests, loads the content and marks the token used before
// disclosing it.
func (s *Service) Access(ctx context.Context, req Request) Outcome {
	verdict := s.guard.Check(guard.ActionDeliveryAccess, req.IPAddress, req.UserAgent)
	if !verdict.Allowed {
		metrics.TokenVerificationsTotal.WithLabelValues(core.AccessDenied, verdict.Reason).Inc()
		s.securityEvent(ctx, "delivery_"+strings.ToLower(verdict.Reason), req, map[string]any{
			"retry_after_ms": verdict.RetryAfter.Milliseconds(),
			"signature":      verdict.Signature,
		})
		return Outcome{Reason: verdict.Reason, RetryAfter: verdict.RetryAfter}
	}

	out := s.verify(ctx, req)
	s.record(ctx, req, &out)
	return out
}

func (s *Service) verify(ctx context.Context, req Request) Outcome {
	v, err := s.signer.Parse(req.Token)
	if err != nil {
		out := Outcome{Reason: ReasonInvalidToken, detail: err.Error()}
		switch {
		case errors.Is(err, ErrExpired):
			out.Reason = ReasonTokenExpired
		case errors.Is(err, ErrInvalidSignature):
			s.securityEvent(ctx, "delivery_token_signature_invalid", req, nil)
		}
		return out
	}

	out := Outcome{tokenID: v.TokenID}
	used, err := s.uses.IsTokenUsed(ctx, v.TokenID)
	if err != nil {
		s.logger.Error("token used lookup failed", "order_id", v.OrderID, "error", err)
		return deny(out, ReasonUnavailable, "used lookup failed")
	}
	if used {
		return deny(out, ReasonTokenAlreadyUsed, "")
	}

	if req.OrderID != "" && req.OrderID != v.OrderID {
		s.securityEvent(ctx, "delivery_token_order_mismatch", req, map[string]any{"token_order_id": v.OrderID})
		return deny(out, ReasonInvalidToken, "order mismatch")
	}

	order, err := s.orders.GetOrder(ctx, v.OrderID)
	if err != nil {
		if errors.Is(err, core.ErrOrderNotFound) {
			return deny(out, ReasonOrderNotFound, "")
		}
		s.logger.Error("order lookup failed", "order_id", v.OrderID, "error", err)
		return deny(out, ReasonUnavailable, "order lookup failed")
	}
	out.Order = order
	if !strings.EqualFold(strings.TrimSpace(order.Email), strings.TrimSpace(v.Email)) {
		return deny(out, ReasonEmailMismatch, "")
	}
	if !order.Status.Deliverable() {
		return deny(out, ReasonOrderNotReady, string(order.Status))
	}

	if !req.Consume {
		out.Granted = true
		return out
	}

	// Content is read before the token is spent so a failed read leaves it usable.
	var assets []core.Asset
	if s.assets != nil {
		assets, err = s.assets.ListAssets(ctx, order.ID)
		if err != nil {
			s.logger.Error("failed to load delivery assets", "order_id", order.ID, "error", err)
			return deny(out, ReasonUnavailable, "asset lookup failed")
		}
		if len(assets) == 0 {
			return deny(out, ReasonOrderNotReady, "no content attached")
		}
	}

	marked, err := s.uses.MarkTokenUsed(ctx, core.TokenUse{
		TokenID:   v.TokenID,
		OrderID:   v.OrderID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		UsedAt:    s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to mark token used", "order_id", v.OrderID, "error", err)
		return deny(out, ReasonUnavailable, "mark used failed")
	}
	if !marked {
		return deny(out, ReasonTokenAlreadyUsed, "lost race")
	}
	out.Assets = assets

	if order.Status != core.StatusCompleted {
		if res, err := s.orders.ConfirmDelivered(ctx, order.ID); err != nil {
			s.logger.Warn("failed to complete order after delivery", "order_id", order.ID, "error", err)
		} else {
			out.Order = res.Order
		}
	}
	out.Granted = true
	return out
}

func deny(out Outcome, reason, detail string) Outcome {
	out.Granted = false
	out.Reason = reason
	out.detail = detail
	return out
}

// record writes the access-log row for a verification attempt. Failures are
// logged; they never change the outcome.
func (s *Service) record(ctx context.Context, req Request, out *Outcome) {
	outcome := core.AccessDenied
	if out.Granted {
		outcome = core.AccessGranted
	}
	metrics.TokenVerificationsTotal.WithLabelValues(outcome, out.Reason).Inc()

	orderID := unknownOrder
	switch {
	case out.Order != nil:
		orderID = out.Order.ID
	case OrderIDHint(req.Token) != "":
		orderID = OrderIDHint(req.Token)
	case req.OrderID != "":
		orderID = req.OrderID
	}

	reason := out.Reason
	if out.detail != "" {
		reason += ": " + out.detail
	}
	entry := &core.AccessLogEntry{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		TokenID:   out.tokenID,
		Outcome:   outcome,
		Reason:    reason,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		CreatedAt: s.now().UTC(),
	}
	if s.access != nil {
		if err := s.access.LogAccess(ctx, entry); err != nil {
			s.logger.Error("failed to write access log", "order_id", orderID, "error", err)
		}
	}
	s.logger.Info("delivery access", "order_id", orderID, "outcome", outcome, "reason", reason,
		"consume", req.Consume, "ip", req.IPAddress)
}

func (s *Service) securityEvent(ctx context.Context, action string, req Request, extra map[string]any) {
	if s.security == nil {
		return
	}
	details := map[string]any{
		"target_id":  req.OrderID,
		"ip":         req.IPAddress,
		"user_agent": req.UserAgent,
	}
	for k, v := range extra {
		details[k] = v
	}
	s.security.Security(ctx, action, details)
}
