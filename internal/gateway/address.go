package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kazsia/rainyday-new-sub001/internal/metrics"
)

// Strategy names one way of obtaining a payable address.
type Strategy string

// Strategies in the order they are tried.
const (
	StrategyWhiteLabel    Strategy = "white_label"
	StrategyLegacyAddress Strategy = "legacy_address"
	StrategyInvoice       Strategy = "invoice"
	StrategyStaticAddress Strategy = "static_address"
	StrategyInquiryPoll   Strategy = "inquiry_poll"
	StrategyPayLink       Strategy = "pay_link"
)

var (
	// ErrNoAddress means the provider answered but sent no address.
	ErrNoAddress = errors.New("provider returned no address")
	// ErrNoTrackID means there is no invoice to poll.
	ErrNoTrackID = errors.New("no track id to poll")
	// ErrNoPaymentRoute means every strategy failed and no pay link was seen.
	ErrNoPaymentRoute = errors.New("no payment address or pay link could be obtained")
)

// StrategyError is one failed acquisition attempt.
type StrategyError struct {
	Strategy Strategy
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// PaymentDetails is what the buyer needs to pay.
type PaymentDetails struct {
	Strategy    Strategy        `json:"strategy"`
	TrackID     string          `json:"track_id,omitempty"`
	Address     string          `json:"address,omitempty"`
	Network     string          `json:"network,omitempty"`
	PayCurrency string          `json:"pay_currency,omitempty"`
	PayAmount   decimal.Decimal `json:"pay_amount"`
	PayLink     string          `json:"pay_link,omitempty"`
	// QRCode is the string to render as a QR code: the address when one was
	// obtained, otherwise the pay link.
	QRCode    string    `json:"qr_code"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	// IsRedirect is always false; the pay link is rendered, never navigated to.
	IsRedirect bool            `json:"is_redirect"`
	Attempts   []StrategyError `json:"-"`
}

// Inquiry polling defaults used when ResolverConfig leaves them unset.
const (
	DefaultInquiryAttempts = 5
	DefaultInquiryDelay    = 3 * time.Second
)

// ResolverConfig tunes the inquiry-poll strategy.
type ResolverConfig struct {
	InquiryAttempts int
	InquiryDelay    time.Duration
}

// AddressResolver walks the fallback chain until a payable address is found.
type AddressResolver struct {
	provider Provider
	cfg      ResolverConfig
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewAddressResolver creates a resolver over provider.
func NewAddressResolver(provider Provider, cfg ResolverConfig, logger *slog.Logger) *AddressResolver {
	if cfg.InquiryAttempts <= 0 {
		cfg.InquiryAttempts = DefaultInquiryAttempts
	}
	if cfg.InquiryDelay <= 0 {
		cfg.InquiryDelay = DefaultInquiryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AddressResolver{provider: provider, cfg: cfg, logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// seen accumulates references from failed attempts for later strategies.
type seen struct {
	trackID string
	payLink string
	expiry  time.Time
	amount  decimal.Decimal
}

func (s *seen) note(resp *Response) {
	if resp == nil {
		return
	}
	if resp.TrackID != "" {
		s.trackID = string(resp.TrackID)
	}
	if resp.PayLink != "" {
		s.payLink = resp.PayLink
	}
	if exp := resp.Expiry(); !exp.IsZero() {
		s.expiry = exp
	}
	if !resp.PayAmount.IsZero() {
		s.amount = resp.PayAmount
	}
}

// Resolve tries, in order: white-label, legacy address, invoice, static
// address, then polling the last invoice for an address. When all of those
// fail it falls back to the last pay link seen, presented as a QR payload.
func (r *AddressResolver) Resolve(ctx context.Context, req InvoiceRequest) (*PaymentDetails, error) {
	var (
		attempts []StrategyError
		refs     seen
	)
	fail := func(strategy Strategy, err error) {
		metrics.AddressStrategiesTotal.WithLabelValues(string(strategy), "failed").Inc()
		r.logger.Info("address strategy failed", "order_id", req.OrderID, "strategy", strategy, "error", err)
		attempts = append(attempts, StrategyError{Strategy: strategy, Err: err})
	}
	succeed := func(strategy Strategy, resp *Response) *PaymentDetails {
		metrics.AddressStrategiesTotal.WithLabelValues(string(strategy), "ok").Inc()
		d := r.details(strategy, req, resp, refs)
		d.Attempts = attempts
		r.logger.Info("payment address acquired", "order_id", req.OrderID, "strategy", strategy, "track_id", d.TrackID)
		return d
	}

	direct := []struct {
		strategy Strategy
		call     func(context.Context, InvoiceRequest) (*Response, error)
	}{
		{StrategyWhiteLabel, r.provider.WhiteLabel},
		{StrategyLegacyAddress, r.provider.RequestAddress},
		{StrategyInvoice, r.provider.CreateInvoice},
		{StrategyStaticAddress, r.provider.StaticAddress},
	}
	for _, step := range direct {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := step.call(ctx, req)
		refs.note(resp)
		switch {
		case err != nil:
			fail(step.strategy, err)
		case resp.Address == "":
			fail(step.strategy, ErrNoAddress)
		default:
			return succeed(step.strategy, resp), nil
		}
	}

	if refs.trackID == "" {
		fail(StrategyInquiryPoll, ErrNoTrackID)
	} else {
		var lastErr error = ErrNoAddress
		for i := 0; i < r.cfg.InquiryAttempts; i++ {
			if i > 0 {
				if err := r.sleep(ctx, r.cfg.InquiryDelay); err != nil {
					return nil, err
				}
			}
			resp, err := r.provider.Inquiry(ctx, refs.trackID)
			if err != nil {
				lastErr = err
				continue
			}
			if resp.TrackID == "" {
				resp.TrackID = flexString(refs.trackID)
			}
			refs.note(resp)
			if resp.Address != "" {
				return succeed(StrategyInquiryPoll, resp), nil
			}
			lastErr = ErrNoAddress
		}
		fail(StrategyInquiryPoll, fmt.Errorf("after %d inquiries: %w", r.cfg.InquiryAttempts, lastErr))
	}

	if refs.payLink == "" {
		fail(StrategyPayLink, ErrNoPaymentRoute)
		r.logger.Error("payment address acquisition exhausted", "order_id", req.OrderID, "attempts", len(attempts))
		return &PaymentDetails{Attempts: attempts}, ErrNoPaymentRoute
	}
	metrics.AddressStrategiesTotal.WithLabelValues(string(StrategyPayLink), "ok").Inc()
	r.logger.Warn("falling back to pay link", "order_id", req.OrderID, "track_id", refs.trackID)
	return &PaymentDetails{
		Strategy:    StrategyPayLink,
		TrackID:     refs.trackID,
		PayCurrency: req.PayCurrency,
		Network:     req.Network,
		PayAmount:   refs.amount,
		PayLink:     refs.payLink,
		QRCode:      refs.payLink,
		ExpiresAt:   refs.expiry,
		IsRedirect:  false,
		Attempts:    attempts,
	}, nil
}

func (r *AddressResolver) details(strategy Strategy, req InvoiceRequest, resp *Response, refs seen) *PaymentDetails {
	d := &PaymentDetails{
		Strategy:    strategy,
		TrackID:     string(resp.TrackID),
		Address:     resp.Address,
		Network:     resp.Network,
		PayCurrency: resp.PayCurrency,
		PayAmount:   resp.PayAmount,
		PayLink:     resp.PayLink,
		QRCode:      resp.Address,
		ExpiresAt:   resp.Expiry(),
	}
	if d.TrackID == "" {
		d.TrackID = refs.trackID
	}
	if d.PayLink == "" {
		d.PayLink = refs.payLink
	}
	if d.ExpiresAt.IsZero() {
		d.ExpiresAt = refs.expiry
	}
	if d.PayAmount.IsZero() {
		d.PayAmount = refs.amount
	}
	if d.Network == "" {
		d.Network = req.Network
	}
	if d.PayCurrency == "" {
		d.PayCurrency = req.PayCurrency
	}
	return d
}
