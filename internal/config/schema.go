package config

import "time"

// Config represents the full storefront configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Gateway  GatewayConfig  `yaml:"gateway" mapstructure:"gateway"`
	Delivery DeliveryConfig `yaml:"delivery" mapstructure:"delivery"`
	Guard    GuardConfig    `yaml:"guard" mapstructure:"guard"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// TrustedProxies may set X-Forwarded-For. Empty trusts none.
	TrustedProxies []string `yaml:"trusted_proxies" mapstructure:"trusted_proxies"`
}

// DatabaseConfig selects the store backend
type DatabaseConfig struct {
	// Driver is sqlite3 (cgo), sqlite (pure Go) or postgres
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// GatewayConfig configures the settlement provider
type GatewayConfig struct {
	BaseURL         string        `yaml:"base_url" mapstructure:"base_url"`
	MerchantKey     string        `yaml:"merchant_key" mapstructure:"merchant_key"`
	WebhookSecret   string        `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	SignatureHeader string        `yaml:"signature_header" mapstructure:"signature_header"`
	CallbackURL     string        `yaml:"callback_url" mapstructure:"callback_url"`
	ReturnURL       string        `yaml:"return_url" mapstructure:"return_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	InquiryAttempts int           `yaml:"inquiry_attempts" mapstructure:"inquiry_attempts"`
	InquiryDelay    time.Duration `yaml:"inquiry_delay" mapstructure:"inquiry_delay"`
	InvoiceLifetime time.Duration `yaml:"invoice_lifetime" mapstructure:"invoice_lifetime"`
	SweepInterval   time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	DefaultCurrency string        `yaml:"default_pay_currency" mapstructure:"default_pay_currency"`
	DefaultNetwork  string        `yaml:"default_network" mapstructure:"default_network"`
}

// WebhookKey is the HMAC key for provider callbacks: the dedicated webhook
// secret when set, otherwise the merchant key.
func (g GatewayConfig) WebhookKey() string {
	if g.WebhookSecret != "" {
		return g.WebhookSecret
	}
	return g.MerchantKey
}

// DeliveryConfig configures delivery tokens
type DeliveryConfig struct {
	TokenSecret string        `yaml:"token_secret" mapstructure:"token_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
	// PublicURL is the base of links sent to buyers.
	PublicURL string `yaml:"public_url" mapstructure:"public_url"`
}

// GuardConfig configures abuse protection on the delivery endpoint
type GuardConfig struct {
	DeliveryLimit       int           `yaml:"delivery_limit" mapstructure:"delivery_limit"`
	DeliveryWindow      time.Duration `yaml:"delivery_window" mapstructure:"delivery_window"`
	BotSignatures       []string      `yaml:"bot_signatures" mapstructure:"bot_signatures"`
	BlockEmptyUserAgent bool          `yaml:"block_empty_user_agent" mapstructure:"block_empty_user_agent"`
	SweepIdle           time.Duration `yaml:"sweep_idle" mapstructure:"sweep_idle"`
}

// LogConfig configures slog output
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}
