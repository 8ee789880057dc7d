package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

func (h *harness) start(t *testing.T, orderID string) *core.Payment {
	t.Helper()
	_, payment, err := h.rec.StartPayment(context.Background(), StartRequest{OrderID: orderID, PayCurrency: "BTC"})
	require.NoError(t, err)
	return payment
}

func (h *harness) signed(t *testing.T, payload map[string]any) WebhookRequest {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return WebhookRequest{Body: body, Signature: h.rec.Verifier().Sign(body), IPAddress: "203.0.113.7"}
}

func TestStartPayment_RecordsPaymentFromResolvedAddress(t *testing.T) {
	h := newHarness(t, map[string]providerHandler{
		endpointWhiteLabel: whiteLabelAddress("12345", time.Now().Add(time.Hour)),
	})
	order := h.newOrder(t)

	details, payment, err := h.rec.StartPayment(context.Background(), StartRequest{OrderID: order.ID, PayCurrency: "BTC"})

	require.NoError(t, err)
	assert.Equal(t, StrategyWhiteLabel, details.Strategy)
	assert.Equal(t, "12345", payment.TrackID)
	assert.Equal(t, core.PaymentNew, payment.Status)
	assert.Equal(t, core.ProviderCrypto, payment.Provider)
	assert.Equal(t, "bc1qexampleaddress", payment.Address)
	assert.True(t, payment.Amount.Equal(order.Total))
	assert.Equal(t, core.StatusPending, h.status(t, order.ID))
}

func TestStartPayment_GivenOpenPayment_ThenRefusesWithoutCallingProvider(t *testing.T) {
	h := newHarness(t, map[string]providerHandler{
		endpointWhiteLabel: whiteLabelAddress("12345", time.Now().Add(time.Hour)),
	})
	order := h.newOrder(t)
	h.start(t, order.ID)

	_, _, err := h.rec.StartPayment(context.Background(), StartRequest{OrderID: order.ID, PayCurrency: "BTC"})

	assert.ErrorIs(t, err, core.ErrActivePayment)
	assert.Equal(t, 1, h.provider.count(endpointWhiteLabel))
}

func TestPoll_GivenNewConfirmingPaid_ThenOrderIsPaidWithTxIDAndDeliveryLink(t *testing.T) {
	h := newHarness(t, map[string]providerHandler{
		endpointWhiteLabel: whiteLabelAddress("12345", time.Now().Add(time.Hour)),
		endpointInquiry:    inquirySequence("abc123", "New", "Confirming", "Paid"),
	})
	order := h.newOrder(t)
	h.start(t, order.ID)
	ctx := context.Background()

	got, err := h.rec.Poll(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)

	got, err = h.rec.Poll(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, got.Status)

	got, err = h.rec.Poll(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaid, got.Status)

	stored, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Payments, 1)
	assert.Equal(t, core.PaymentPaid, stored.Payments[0].Status)
	assert.Equal(t, "abc123", stored.Payments[0].TxID)

	require.Equal(t, 1, h.notifier.PaidCount())
	assert.True(t, strings.HasPrefix(h.notifier.PaidLinks[0], "https://shop.example/delivery/"+order.ID+"?token="))
	assert.False(t, Pollable(got))
}

func TestPoll_GivenProviderError_ThenNothingChanges(t *testing.T) {
	h := newHarness(t, map[string]providerHandler{
		endpointWhiteLabel: whiteLabelAddress("12345", time.Now().Add(time.Hour)),
		endpointInquiry:    refuse,
	})
	order := h.newOrder(t)
	h.start(t, order.ID)

	got, err := h.rec.Poll(context.Background(), order.ID)

	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.True(t, Pollable(got))
}

func TestHandleWebhook_GivenBadSignature_ThenStatusUnchangedAndSecurityEventLogged(t *testing.T) {
	h := newHarness(t, map[string]providerHandler{
		endpointWhiteLabel: whiteLabelAddress("12345", time.Now().Add(time.Hour)),
	})
	order := h.newOrder(t)
	h.start(t, order.ID)
	req := h.signed(t, map[string]any{"trackId": "12345", "status": "Paid", "txID": "abc123"})
	req.Signature = strings.Repeat("0", 128)

	_, err := h.rec.HandleWebhook(context.Background(), req)

	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, core.StatusPending, h.status(t, order.ID))
	assert.True(t, h.security.Has("webhook_signature_invalid"))
	_, err = h.store.GetWebhookEvent(context.Background(), providerName, "12345", "Paid", "abc123")
	assert.Error(t, err, "rejected notification must not be journaled")
}

func TestHandleWebhook_GivenTamperedBody_ThenRejected(t *testing.T) {
	h := newHarness(t, map[string]providerHandler{
		endpointWhiteLabel: whiteLabelAddress("12345", time.Now().Add(time.Hour)),
	})
	order := h.newOrder(t)
	h.start(t, order.ID)
	req := h.signed(t, map[string]any{"trackId": "12345", "status": "Expired"})
	req.Body = []byte(`{"trackId":"12345","status":"Paid","txID":"forged"}`)

	_, err := h.rec.HandleWebhook(context.Background(), req)

	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, core.StatusPending, h.status(t, order.ID))
}

func TestHandleWebhook_GivenPaidNotificationTwice_ThenAppliedOnce(t *testing.T) {
	h := newHarness(t, map[string]providerHandler{
		endpointWhiteLabel: whiteLabelAddress("12345", time.Now().Add(time.Hour)),
	})
	order := h.newOrder(t)
	h.start(t, order.ID)
	req := h.signed(t, map[string]any{"trackId": 12345, "status": "Paid", "txID": "abc123"})
	ctx := context.Background()

	first, err := h.rec.HandleWebhook(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, order.ID, first.OrderID)

	second, err := h.rec.HandleWebhook(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	assert.Equal(t, core.StatusPaid, h.status(t, order.ID))
	assert.Equal(t, 1, h.notifier.PaidCount())
	event, err := h.store.GetWebhookEvent(ctx, providerName, "12345", "Paid", "abc123")
	require.NoError(t, err)
	assert.False(t, event.ProcessedAt.IsZero())
	assert.Empty(t, event.ProcessingError)
}

func TestHandleWebhook_GivenPaidWithoutTxIDThenWithTxID_ThenOrderPaid(t *testing.T) {
	h := newHarness(t, map[string]providerHandler{
		endpointWhiteLabel: whiteLabelAddress("12345", time.Now().Add(time.Hour)),
	})
	order := h.newOrder(t)
	h.start(t, order.ID)
	ctx := context.Background()

	first, err := h.rec.HandleWebhook(ctx, h.signed(t, map[string]any{"trackId": "12345", "status": "Paid"}))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, core.StatusProcessing, h.status(t, order.ID))

	second, err := h.rec.HandleWebhook(ctx, h.signed(t, map[string]any{"trackId": "12345", "status": "Paid", "txID": "abc123"}))
	require.NoError(t, err)
	assert.False(t, second.Duplicate, "a newly known tx id is not a redelivery")
	assert.True(t, second.Changed)
	assert.Equal(t, core.StatusPaid, h.status(t, order.ID))

	got, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Payments, 1)
	assert.Equal(t, "abc123", got.Payments[0].TxID)
	assert.Equal(t, 1, h.notifier.PaidCount())

	third, err := h.rec.HandleWebhook(ctx, h.signed(t, map[string]any{"trackId": "12345", "status": "Paid", "txID": "abc123"}))
	require.NoError(t, err)
	assert.True(t, third.Duplicate)
}

func TestHandleWebhook_GivenSchemaViolation_ThenInvalidPayload(t *testing.T) {
	h := newHarness(t, nil)
	req := h.signed(t, map[string]any{"trackId": "12345"})

	_, err := h.rec.HandleWebhook(context.Background(), req)

	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestHandleWebhook_GivenUnknownTrackID_ThenPaymentNotFound(t *testing.T) {
	h := newHarness(t, nil)
	req := h.signed(t, map[string]any{"trackId": "nope", "status": "Paid"})

	_, err := h.rec.HandleWebhook(context.Background(), req)

	assert.ErrorIs(t, err, core.ErrPaymentNotFound)
	assert.True(t, h.security.Has("webhook_unknown_track_id"))
}

func TestExpireStale_GivenLapsedInvoice_ThenOrderExpires(t *testing.T) {
	h := newHarness(t, map[string]providerHandler{
		endpointWhiteLabel: whiteLabelAddress("777", time.Now().Add(-time.Minute)),
		endpointInquiry:    inquirySequence("", "Waiting"),
	})
	order := h.newOrder(t)
	h.start(t, order.ID)

	n, err := h.rec.ExpireStale(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, core.StatusExpired, h.status(t, order.ID))
}

func TestExpireStale_GivenLatePayment_ThenPaymentWins(t *testing.T) {
	h := newHarness(t, map[string]providerHandler{
		endpointWhiteLabel: whiteLabelAddress("778", time.Now().Add(-time.Minute)),
		endpointInquiry:    inquirySequence("late-tx", "Paid"),
	})
	order := h.newOrder(t)
	h.start(t, order.ID)

	n, err := h.rec.ExpireStale(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, core.StatusPaid, h.status(t, order.ID))
}

func TestWebhookVerifier_RequiresSecret(t *testing.T) {
	_, err := NewWebhookVerifier("", "")
	assert.ErrorIs(t, err, ErrMissingCredentials)

	v, err := NewWebhookVerifier("secret", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSignatureHeader, v.Header())
	assert.False(t, v.Verify([]byte("{}"), "not-hex"))
	assert.True(t, v.Verify([]byte("{}"), v.Sign([]byte("{}"))))
}
