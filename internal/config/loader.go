package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "STOREFRONT"

const redacted = "********"

// Load merges, in increasing precedence: defaults, the global file, the
// project file, the explicit file (if any) and STOREFRONT_* environment
// variables. Missing global and project files are skipped; a missing
// explicit file is an error.
func Load(explicitPath string) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	for _, path := range []string{GlobalConfigPath(), ProjectConfigPath()} {
		if path == "" {
			continue
		}
		if err := mergeFile(v, path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	if explicitPath != "" {
		if err := mergeFile(v, explicitPath); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}

// newViper seeds a viper instance with the defaults so every key is known
// to the environment binding.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.MergeConfigMap(DefaultConfig().toMap()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	return v, nil
}

func mergeFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := v.MergeConfig(f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// Validate reports every structural problem in the configuration. Missing
// secrets are left to the components that need them.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported %q", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn: required"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr: required"))
	}
	if c.Gateway.PollInterval <= 0 {
		errs = append(errs, errors.New("gateway.poll_interval: must be positive"))
	}
	if c.Gateway.SweepInterval <= 0 {
		errs = append(errs, errors.New("gateway.sweep_interval: must be positive"))
	}
	if c.Gateway.InquiryAttempts < 0 {
		errs = append(errs, errors.New("gateway.inquiry_attempts: must not be negative"))
	}
	if c.Guard.DeliveryLimit < 0 {
		errs = append(errs, errors.New("guard.delivery_limit: must not be negative"))
	}
	if c.Guard.DeliveryLimit > 0 && c.Guard.DeliveryWindow <= 0 {
		errs = append(errs, errors.New("guard.delivery_window: must be positive when a limit is set"))
	}
	if c.Guard.SweepIdle <= 0 {
		errs = append(errs, errors.New("guard.sweep_idle: must be positive"))
	}
	if c.Delivery.TokenTTL <= 0 {
		errs = append(errs, errors.New("delivery.token_ttl: must be positive"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unsupported %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&out.Gateway.MerchantKey)
	mask(&out.Gateway.WebhookSecret)
	mask(&out.Delivery.TokenSecret)
	if strings.Contains(out.Database.DSN, "@") {
		out.Database.DSN = redactDSN(out.Database.DSN)
	}
	return &out
}

// redactDSN hides the password of a URL-style DSN.
func redactDSN(dsn string) string {
	scheme := strings.Index(dsn, "://")
	at := strings.LastIndex(dsn, "@")
	if scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		creds = creds[:i] + ":" + redacted
	}
	return dsn[:scheme+3] + creds + dsn[at:]
}

// YAML renders the configuration, with secrets redacted.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted().toMap())
}

// toMap converts the config into nested maps keyed by yaml tag, with
// durations in their string form ("15s") rather than nanoseconds.
func (c *Config) toMap() map[string]any {
	return structMap(reflect.ValueOf(*c))
}

func structMap(v reflect.Value) map[string]any {
	out := make(map[string]any, v.NumField())
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		key := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if key == "" || key == "-" {
			continue
		}
		f := v.Field(i)
		switch {
		case f.Type() == reflect.TypeOf(time.Duration(0)):
			out[key] = time.Duration(f.Int()).String()
		case f.Kind() == reflect.Struct:
			out[key] = structMap(f)
		case f.Kind() == reflect.Slice && f.IsNil():
			out[key] = []string{}
		default:
			out[key] = f.Interface()
		}
	}
	return out
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".storefront", "config.yaml")
}

// ProjectConfigPath returns the path to the project config file
func ProjectConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".storefront", "config.yaml")
}
