package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// DefaultSignatureHeader carries the provider's HMAC of the raw body.
const DefaultSignatureHeader = "HMAC"

var (
	// ErrInvalidSignature means the notification failed HMAC verification.
	ErrInvalidSignature = errors.New("webhook signature is invalid")
	// ErrInvalidPayload means the notification body does not match the schema.
	ErrInvalidPayload = errors.New("webhook payload is invalid")
)

const notificationSchema = `{
	"type": "object",
	"required": ["trackId", "status"],
	"properties": {
		"trackId": {"type": ["string", "integer"]},
		"status":  {"type": "string", "minLength": 1},
		"txID":    {"type": "string"},
		"orderId": {"type": "string"},
		"type":    {"type": "string"}
	}
}`

// Notification is a provider callback body.
type Notification struct {
	TrackID flexString `json:"trackId"`
	Status  string     `json:"status"`
	TxID    string     `json:"txID"`
	OrderID string     `json:"orderId"`
	Type    string     `json:"type"`
}

// WebhookVerifier authenticates and validates provider callbacks.
type WebhookVerifier struct {
	secret []byte
	header string
	schema gojsonschema.JSONLoader
}

// NewWebhookVerifier creates a verifier. The secret is the merchant API key
// unless a dedicated webhook secret is configured.
func NewWebhookVerifier(secret, header string) (*WebhookVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingCredentials
	}
	if header == "" {
		header = DefaultSignatureHeader
	}
	return &WebhookVerifier{
		secret: []byte(secret),
		header: header,
		schema: gojsonschema.NewStringLoader(notificationSchema),
	}, nil
}

// Header is the request header the signature is read from.
func (v *WebhookVerifier) Header() string {
	return v.header
}

// Sign returns the hex HMAC-SHA512 of body.
func (v *WebhookVerifier) Sign(body []byte) string {
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the HMAC of the exact raw body.
func (v *WebhookVerifier) Verify(body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Decode validates body against the notification schema and decodes it.
func (v *WebhookVerifier) Decode(body []byte) (*Notification, error) {
	result, err := gojsonschema.Validate(v.schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for _, e := range result.Errors() {
			sb.WriteString(e.String())
			sb.WriteString("; ")
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, sb.String())
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &n, nil
}
