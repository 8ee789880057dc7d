// Package gateway integrates the crypto settlement provider: invoice and
// address acquisition, status inquiry, webhook verification and the
// reconciliation of local payments with the provider's view.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
	"github.com/kazsia/rainyday-new-sub001/internal/metrics"
)

const (
	defaultBaseURL        = "https://api.oxapay.com"
	defaultRequestTimeout = 15 * time.Second
	resultSuccess         = 100
	providerName          = "oxapay"
)

// Provider endpoints
const (
	endpointWhiteLabel    = "/merchants/request/whitelabel"
	endpointAddress       = "/merchants/request/address"
	endpointInvoice       = "/merchants/request"
	endpointStaticAddress = "/merchants/request/staticaddress"
	endpointInquiry       = "/merchants/inquiry"
)

// ErrMissingCredentials is returned when the merchant key or webhook secret
// is not configured.
var ErrMissingCredentials = errors.New("payment gateway credentials are not configured")

// Config is the provider configuration, constructed once at startup.
type Config struct {
	BaseURL         string
	MerchantKey     string
	CallbackURL     string
	ReturnURL       string
	RequestTimeout  time.Duration
	InvoiceLifetime time.Duration
}

// APIError is a provider response that did not carry the success result code.
type APIError struct {
	Endpoint   string
	StatusCode int
	Result     int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider %s failed (http %d, result %d): %s", e.Endpoint, e.StatusCode, e.Result, e.Message)
}

// flexString accepts a JSON string or number. The provider returns track ids
// as either depending on the endpoint.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// InvoiceRequest describes the payment the store wants to receive.
type InvoiceRequest struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	PayCurrency string
	Network     string
	Email       string
	Description string
}

// Response is the union of the provider's response fields.
type Response struct {
	Result      int             `json:"result"`
	Message     string          `json:"message"`
	TrackID     flexString      `json:"trackId"`
	Address     string          `json:"address"`
	PayLink     string          `json:"payLink"`
	PayAmount   decimal.Decimal `json:"payAmount"`
	PayCurrency string          `json:"payCurrency"`
	Network     string          `json:"network"`
	QRCode      string          `json:"QRCode"`
	ExpiredAt   int64           `json:"expiredAt"`
	Status      string          `json:"status"`
	TxID        string          `json:"txID"`
}

// Expiry returns the invoice expiry, or zero when the provider sent none.
func (r *Response) Expiry() time.Time {
	if r.ExpiredAt <= 0 {
		return time.Time{}
	}
	return time.Unix(r.ExpiredAt, 0).UTC()
}

// Provider is the settlement provider API.
// Implementations: Client
type Provider interface {
	WhiteLabel(ctx context.Context, req InvoiceRequest) (*Response, error)
	RequestAddress(ctx context.Context, req InvoiceRequest) (*Response, error)
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Response, error)
	StaticAddress(ctx context.Context, req InvoiceRequest) (*Response, error)
	Inquiry(ctx context.Context, trackID string) (*Response, error)
}

// Client talks to the provider's merchant API.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a provider client. It fails fast without a merchant key.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.MerchantKey) == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, client: &http.Client{}, logger: logger}, nil
}

func (c *Client) invoiceBody(req InvoiceRequest) map[string]any {
	body := map[string]any{
		"merchant":    c.cfg.MerchantKey,
		"amount":      req.Amount,
		"currency":    req.Currency,
		"payCurrency": req.PayCurrency,
		"orderId":     req.OrderID,
		"email":       req.Email,
		"description": req.Description,
		"callbackUrl": c.cfg.CallbackURL,
		"returnUrl":   c.cfg.ReturnURL,
	}
	if req.Network != "" {
		body["network"] = req.Network
	}
	if c.cfg.InvoiceLifetime > 0 {
		body["lifeTime"] = int(c.cfg.InvoiceLifetime.Minutes())
	}
	return body
}

// WhiteLabel requests a payable address directly, without a hosted page.
func (c *Client) WhiteLabel(ctx context.Context, req InvoiceRequest) (*Response, error) {
	return c.post(ctx, endpointWhiteLabel, c.invoiceBody(req))
}

// RequestAddress is the legacy address-request endpoint.
func (c *Client) RequestAddress(ctx context.Context, req InvoiceRequest) (*Response, error) {
	return c.post(ctx, endpointAddress, c.invoiceBody(req))
}

// CreateInvoice creates a hosted invoice. The response carries a pay link and
// sometimes an embedded address.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Response, error) {
	return c.post(ctx, endpointInvoice, c.invoiceBody(req))
}

// StaticAddress requests a long-lived address for the currency.
func (c *Client) StaticAddress(ctx context.Context, req InvoiceRequest) (*Response, error) {
	body := map[string]any{
		"merchant":    c.cfg.MerchantKey,
		"currency":    req.PayCurrency,
		"orderId":     req.OrderID,
		"email":       req.Email,
		"callbackUrl": c.cfg.CallbackURL,
	}
	if req.Network != "" {
		body["network"] = req.Network
	}
	return c.post(ctx, endpointStaticAddress, body)
}

// Inquiry returns the provider's current view of a track id.
func (c *Client) Inquiry(ctx context.Context, trackID string) (*Response, error) {
	return c.post(ctx, endpointInquiry, map[string]any{
		"merchant": c.cfg.MerchantKey,
		"trackId":  trackID,
	})
}

// LookupTransaction implements core.TxLookup.
func (c *Client) LookupTransaction(ctx context.Context, trackID string) (core.GatewayStatus, error) {
	resp, err := c.Inquiry(ctx, trackID)
	if err != nil {
		return core.GatewayStatus{}, err
	}
	status, ok := MapStatus(resp.Status)
	if !ok {
		return core.GatewayStatus{}, fmt.Errorf("unknown provider status %q for %s", resp.Status, trackID)
	}
	return core.GatewayStatus{TrackID: trackID, Status: status, TxID: resp.TxID}, nil
}

// post sends one request. Transport errors, timeouts and non-success result
// codes are all returned as errors; callers treat them as "no data yet".
func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.do(ctx, endpoint, payload)
	metrics.GatewayRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	outcome := "ok"
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		outcome = "result_" + strconv.Itoa(apiErr.Result)
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	metrics.GatewayRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	if err != nil {
		c.logger.Debug("provider request failed", "endpoint", endpoint, "error", err)
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, endpoint string, payload map[string]any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: string(respBody)}
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Result != resultSuccess {
		return nil, &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Result: out.Result, Message: out.Message}
	}
	return &out, nil
}

// MapStatus maps a provider status onto a payment status, case-insensitively.
func MapStatus(s string) (core.PaymentStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "new":
		return core.PaymentNew, true
	case "waiting", "paying":
		return core.PaymentWaiting, true
	case "confirming":
		return core.PaymentConfirming, true
	case "paid":
		return core.PaymentPaid, true
	case "expired":
		return core.PaymentExpired, true
	case "failed":
		return core.PaymentFailed, true
	}
	return "", false
}
