package gateway

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, handlers map[string]providerHandler) (*AddressResolver, *fakeProvider) {
	t.Helper()
	provider, srv := newFakeProvider(t, handlers)
	r := NewAddressResolver(newTestClient(t, srv.URL), ResolverConfig{InquiryAttempts: 3, InquiryDelay: time.Millisecond}, nil)
	return r, provider
}

func TestNewAddressResolver_GivenZeroConfig_ThenFiveInquiriesThreeSecondsApart(t *testing.T) {
	r := NewAddressResolver(nil, ResolverConfig{}, nil)

	assert.Equal(t, 5, r.cfg.InquiryAttempts)
	assert.Equal(t, 3*time.Second, r.cfg.InquiryDelay)
}

func TestResolve_GivenZeroConfigAndNoAddress_ThenInquiresFiveTimes(t *testing.T) {
	provider, srv := newFakeProvider(t, map[string]providerHandler{
		endpointInvoice: func(int, map[string]any) (int, any) {
			return ok(map[string]any{"trackId": "t5", "payLink": "https://pay.example/t5"})
		},
	})
	r := NewAddressResolver(newTestClient(t, srv.URL), ResolverConfig{}, nil)
	var delays []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := r.Resolve(context.Background(), InvoiceRequest{OrderID: "o1", PayCurrency: "BTC"})

	require.NoError(t, err)
	assert.Equal(t, 5, provider.count(endpointInquiry))
	require.Len(t, delays, 4)
	for _, d := range delays {
		assert.Equal(t, 3*time.Second, d)
	}
}

func TestResolve_GivenWhiteLabelSucceeds_ThenNoFallbackIsTried(t *testing.T) {
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	r, provider := newTestResolver(t, map[string]providerHandler{
		endpointWhiteLabel: whiteLabelAddress("t1", expires),
	})

	d, err := r.Resolve(context.Background(), InvoiceRequest{OrderID: "o1", PayCurrency: "BTC"})

	require.NoError(t, err)
	assert.Equal(t, StrategyWhiteLabel, d.Strategy)
	assert.Equal(t, "bc1qexampleaddress", d.Address)
	assert.Equal(t, "bc1qexampleaddress", d.QRCode)
	assert.Equal(t, "t1", d.TrackID)
	assert.True(t, d.ExpiresAt.Equal(expires))
	assert.Empty(t, d.Attempts)
	assert.Zero(t, provider.count(endpointAddress))
	assert.Zero(t, provider.count(endpointInvoice))
}

func TestResolve_GivenStrategiesOneToFourFail_WhenInquiryYieldsAddress_ThenPolledAddressIsUsed(t *testing.T) {
	r, provider := newTestResolver(t, map[string]providerHandler{
		endpointWhiteLabel: refuse,
		endpointAddress: func(int, map[string]any) (int, any) {
			return http.StatusInternalServerError, map[string]any{"result": 500, "message": "internal"}
		},
		endpointInvoice: func(int, map[string]any) (int, any) {
			return ok(map[string]any{"trackId": 555001, "payLink": "https://pay.example/555001"})
		},
		endpointStaticAddress: refuse,
		endpointInquiry: func(n int, body map[string]any) (int, any) {
			if n < 2 {
				return ok(map[string]any{"status": "New"})
			}
			return ok(map[string]any{"status": "New", "address": "TQpolledaddress", "network": "TRON"})
		},
	})

	d, err := r.Resolve(context.Background(), InvoiceRequest{OrderID: "o1", PayCurrency: "USDT"})

	require.NoError(t, err)
	assert.Equal(t, StrategyInquiryPoll, d.Strategy)
	assert.Equal(t, "TQpolledaddress", d.Address)
	assert.Equal(t, "555001", d.TrackID)
	assert.Equal(t, "https://pay.example/555001", d.PayLink)
	assert.Equal(t, "USDT", d.PayCurrency)
	assert.False(t, d.IsRedirect)
	assert.Equal(t, 2, provider.count(endpointInquiry))
	assert.Equal(t, "555001", provider.lastBody(endpointInquiry)["trackId"])

	require.Len(t, d.Attempts, 4)
	strategies := []Strategy{}
	for _, a := range d.Attempts {
		strategies = append(strategies, a.Strategy)
	}
	assert.Equal(t, []Strategy{StrategyWhiteLabel, StrategyLegacyAddress, StrategyInvoice, StrategyStaticAddress}, strategies)
	assert.ErrorIs(t, &d.Attempts[2], ErrNoAddress)
}

func TestResolve_GivenEveryAddressStrategyFails_ThenPayLinkIsRenderedAsQR(t *testing.T) {
	r, provider := newTestResolver(t, map[string]providerHandler{
		endpointWhiteLabel: refuse,
		endpointAddress:    refuse,
		endpointInvoice: func(int, map[string]any) (int, any) {
			return ok(map[string]any{"trackId": "inv-9", "payLink": "https://pay.example/inv-9", "expiredAt": time.Now().Add(time.Hour).Unix()})
		},
		endpointStaticAddress: refuse,
		endpointInquiry: func(int, map[string]any) (int, any) {
			return ok(map[string]any{"status": "New"})
		},
	})

	d, err := r.Resolve(context.Background(), InvoiceRequest{OrderID: "o1"})

	require.NoError(t, err)
	assert.Equal(t, StrategyPayLink, d.Strategy)
	assert.Equal(t, "https://pay.example/inv-9", d.QRCode)
	assert.Equal(t, "inv-9", d.TrackID)
	assert.Empty(t, d.Address)
	assert.False(t, d.IsRedirect)
	assert.False(t, d.ExpiresAt.IsZero())
	assert.Equal(t, 3, provider.count(endpointInquiry))
	assert.Len(t, d.Attempts, 5)
}

func TestResolve_GivenNoTrackIDOrPayLink_ThenNoPaymentRoute(t *testing.T) {
	r, provider := newTestResolver(t, map[string]providerHandler{})

	d, err := r.Resolve(context.Background(), InvoiceRequest{OrderID: "o1"})

	assert.ErrorIs(t, err, ErrNoPaymentRoute)
	require.NotNil(t, d)
	assert.Len(t, d.Attempts, 6)
	assert.ErrorIs(t, &d.Attempts[4], ErrNoTrackID)
	assert.Zero(t, provider.count(endpointInquiry))
}

func TestResolve_GivenCancelledContext_ThenStopsEarly(t *testing.T) {
	r, provider := newTestResolver(t, map[string]providerHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, InvoiceRequest{OrderID: "o1"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, provider.count(endpointWhiteLabel))
}
