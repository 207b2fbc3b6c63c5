package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/harmoni/backend/internal/domain"
)

// Device store backends.
const (
	DeviceStoreRedis    = "redis"
	DeviceStorePostgres = "postgres"
	DeviceStoreMemory   = "memory"
)

// Payment providers.
const (
	PaymentMercadoPago = "mercadopago"
	PaymentMock        = "mock"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port     int    `envconfig:"PORT" default:"4001"`
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisAddr   string `envconfig:"REDIS_ADDR"`
	// DeviceStore picks the device state backend: redis, postgres or memory.
	// Empty means redis when REDIS_ADDR is set, postgres otherwise.
	DeviceStore string        `envconfig:"DEVICE_STORE"`
	DeviceTTL   time.Duration `envconfig:"DEVICE_TTL" default:"720h"`

	JWTSecret     string   `envconfig:"JWT_SECRET" required:"true"`
	EncryptionKey string   `envconfig:"ENCRYPTION_KEY" required:"true"`
	CORSOrigins   []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`

	AppURL       string `envconfig:"APP_URL"`
	PublicAppURL string `envconfig:"NEXT_PUBLIC_APP_URL"`

	SupabaseURL       string `envconfig:"SUPABASE_URL"`
	SupabaseAnonKey   string `envconfig:"SUPABASE_ANON_KEY"`
	SupabaseJWTSecret string `envconfig:"SUPABASE_JWT_SECRET"`

	// PaymentProvider is mercadopago or mock. mock is refused in production.
	PaymentProvider          string        `envconfig:"PAYMENT_PROVIDER" default:"mercadopago"`
	MercadoPagoAccessToken   string        `envconfig:"MERCADO_PAGO_ACCESS_TOKEN"`
	MercadoPagoBaseURL       string        `envconfig:"MERCADO_PAGO_BASE_URL" default:"https://api.mercadopago.com"`
	MercadoPagoWebhookSecret string        `envconfig:"MERCADO_PAGO_WEBHOOK_SECRET"`
	PaymentTimeout           time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"10s"`

	ClaimTTL     time.Duration       `envconfig:"CLAIM_TTL" default:"5m"`
	ExpiryPolicy domain.ExpiryPolicy `envconfig:"EXPIRY_POLICY" default:"manual"`
	ExpiryCron   string              `envconfig:"EXPIRY_CRON"`

	// AdminToken guards the admin and simulate endpoints. Empty disables them.
	AdminToken string `envconfig:"ADMIN_TOKEN"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}
	switch c.ExpiryPolicy {
	case domain.ExpiryManual, domain.ExpiryLapse:
	default:
		return fmt.Errorf("EXPIRY_POLICY must be %q or %q, got %q", domain.ExpiryManual, domain.ExpiryLapse, c.ExpiryPolicy)
	}
	if c.ClaimTTL <= 0 {
		return errors.New("CLAIM_TTL must be positive")
	}
	if (c.SupabaseURL == "") != (c.SupabaseAnonKey == "") {
		return errors.New("SUPABASE_URL and SUPABASE_ANON_KEY must be set together")
	}
	switch c.PaymentProvider {
	case PaymentMercadoPago:
	case PaymentMock:
		if c.IsProduction() {
			return errors.New("PAYMENT_PROVIDER=mock is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.PaymentProvider)
	}
	switch c.DeviceStore {
	case "":
		c.DeviceStore = DeviceStorePostgres
		if c.RedisAddr != "" {
			c.DeviceStore = DeviceStoreRedis
		}
	case DeviceStoreRedis:
		if c.RedisAddr == "" {
			return errors.New("DEVICE_STORE=redis requires REDIS_ADDR")
		}
	case DeviceStorePostgres, DeviceStoreMemory:
	default:
		return fmt.Errorf("unknown DEVICE_STORE %q", c.DeviceStore)
	}
	for i := range c.CORSOrigins {
		c.CORSOrigins[i] = strings.TrimSpace(c.CORSOrigins[i])
	}
	return nil
}

// BaseURL is the configured public app URL used to build checkout return
// links. APP_URL wins over NEXT_PUBLIC_APP_URL; "" means derive per request.
func (c *Config) BaseURL() string {
	if c.AppURL != "" {
		return c.AppURL
	}
	return c.PublicAppURL
}

// UseHostedAuth reports whether the hosted auth service is configured.
func (c *Config) UseHostedAuth() bool {
	return c.SupabaseURL != ""
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
