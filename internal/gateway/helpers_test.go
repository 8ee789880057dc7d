package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
	"github.com/kazsia/rainyday-new-sub001/internal/orders"
	"github.com/kazsia/rainyday-new-sub001/internal/storage"
)

const testMerchantKey = "merchant-key-for-tests"

// providerHandler answers the n-th call (1-based) to one endpoint.
type providerHandler func(n int, body map[string]any) (int, any)

// fakeProvider is a scripted settlement provider.
type fakeProvider struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]providerHandler
	bodies   map[string][]map[string]any
}

func newFakeProvider(t *testing.T, handlers map[string]providerHandler) (*fakeProvider, *httptest.Server) {
	t.Helper()
	f := &fakeProvider{
		calls:    make(map[string]int),
		handlers: handlers,
		bodies:   make(map[string][]map[string]any),
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls[r.URL.Path]++
	n := f.calls[r.URL.Path]
	f.bodies[r.URL.Path] = append(f.bodies[r.URL.Path], body)
	h := f.handlers[r.URL.Path]
	f.mu.Unlock()

	status, payload := http.StatusOK, any(map[string]any{"result": 102, "message": "endpoint unavailable"})
	if h != nil {
		status, payload = h(n, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if s, ok := payload.(string); ok {
		w.Write([]byte(s))
		return
	}
	json.NewEncoder(w).Encode(payload)
}

func (f *fakeProvider) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeProvider) lastBody(path string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bodies[path]
	if len(b) == 0 {
		return nil
	}
	return b[len(b)-1]
}

func ok(fields map[string]any) (int, any) {
	out := map[string]any{"result": resultSuccess, "message": "Successful operation"}
	for k, v := range fields {
		out[k] = v
	}
	return http.StatusOK, out
}

func refuse(n int, _ map[string]any) (int, any) {
	return http.StatusOK, map[string]any{"result": 102, "message": "Validating problem"}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: baseURL, MerchantKey: testMerchantKey, RequestTimeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	return c
}

// stubIssuer mints predictable delivery tokens.
type stubIssuer struct{}

func (stubIssuer) Issue(orderID, _ string) (string, error) {
	return "tok-" + orderID, nil
}

// MockNotifier captures buyer notifications.
type MockNotifier struct {
	mu        sync.Mutex
	PaidLinks []string
}

func (m *MockNotifier) OrderPaid(_ context.Context, _ *core.Order, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PaidLinks = append(m.PaidLinks, link)
	return nil
}

func (m *MockNotifier) OrderStatusChanged(context.Context, *core.Order, core.OrderStatus) error {
	return nil
}

func (m *MockNotifier) PaidCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PaidLinks)
}

// MockSecurity captures security events.
type MockSecurity struct {
	mu     sync.Mutex
	Events []string
}

func (m *MockSecurity) Security(_ context.Context, action string, _ map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, action)
}

func (m *MockSecurity) Has(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Events {
		if e == action {
			return true
		}
	}
	return false
}

type harness struct {
	store    *storage.Store
	orders   *orders.Service
	notifier *MockNotifier
	security *MockSecurity
	provider *fakeProvider
	client   *Client
	rec      *Reconciler
}

func newHarness(t *testing.T, handlers map[string]providerHandler) *harness {
	t.Helper()
	store, err := storage.Open(storage.DriverSQLite, filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{store: store, notifier: &MockNotifier{}, security: &MockSecurity{}}
	h.orders = orders.NewServiceWithDeps(orders.Deps{
		Store:       store,
		Tokens:      stubIssuer{},
		Notifier:    h.notifier,
		DeliveryURL: "https://shop.example",
	})

	var srv *httptest.Server
	h.provider, srv = newFakeProvider(t, handlers)
	h.client = newTestClient(t, srv.URL)
	verifier, err := NewWebhookVerifier(testMerchantKey, "")
	require.NoError(t, err)

	h.rec = NewReconciler(ReconcilerDeps{
		Orders:   h.orders,
		Resolver: NewAddressResolver(h.client, ResolverConfig{InquiryAttempts: 3, InquiryDelay: time.Millisecond}, nil),
		Lookup:   h.client,
		Stale:    store,
		Journal:  store,
		Verifier: verifier,
		Security: h.security,
	})
	return h
}

func (h *harness) newOrder(t *testing.T) *core.Order {
	t.Helper()
	order, err := h.orders.CreateOrder(context.Background(), orders.NewOrder{
		Email: "buyer@example.com",
		Total: decimal.RequireFromString("25.00"),
		Items: []core.LineItem{{ProductID: "prod-1", Quantity: 1, UnitPrice: decimal.RequireFromString("25.00")}},
	})
	require.NoError(t, err)
	return order
}

func (h *harness) status(t *testing.T, id string) core.OrderStatus {
	t.Helper()
	order, err := h.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return order.Status
}

// whiteLabelAddress answers the first strategy with a payable address.
func whiteLabelAddress(trackID string, expiresAt time.Time) providerHandler {
	return func(int, map[string]any) (int, any) {
		return ok(map[string]any{
			"trackId":     trackID,
			"address":     "bc1qexampleaddress",
			"payAmount":   "0.00042",
			"payCurrency": "BTC",
			"network":     "Bitcoin Network",
			"payLink":     "https://pay.example/" + trackID,
			"expiredAt":   expiresAt.Unix(),
		})
	}
}

// inquirySequence answers successive inquiries with statuses; the last one
// repeats. A "Paid" status carries txID.
func inquirySequence(txID string, statuses ...string) providerHandler {
	return func(n int, _ map[string]any) (int, any) {
		i := n - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		fields := map[string]any{"status": statuses[i]}
		if statuses[i] == "Paid" {
			fields["txID"] = txID
		}
		return ok(fields)
	}
}
