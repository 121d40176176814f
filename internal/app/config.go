package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (QRMENU_ prefix), flags, or YAML config files.
type Config struct {
	Addr          string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (QRMENU_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Store         string `default:"postgres" usage:"Storage backend: postgres or memory"`
	PublicBaseURL string `default:"http://localhost:3000" usage:"Origin of the customer web app, encoded in QR codes" flag:"public-base-url"`
	QRServiceURL  string `default:"https://api.qrserver.com/v1/create-qr-code/" usage:"QR image rendering service" flag:"qr-service-url"`
	AMQP          AMQPConfig
	Auth          AuthConfig
	Orders        OrdersConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
	Graceful      GracefulConfig
}

// AMQPConfig enables cross-instance live updates through RabbitMQ. An empty
// URL keeps fan-out in process.
type AMQPConfig struct {
	URL      string `usage:"RabbitMQ URL (QRMENU_AMQP_URL or AMQP_URL)" flag:"amqp-url"`
	Exchange string `default:"order_updates" usage:"Fanout exchange for order events" flag:"amqp-exchange"`
}

// AuthConfig controls owner token validation.
type AuthConfig struct {
	JWTSecret string `usage:"HMAC secret for owner tokens (QRMENU_AUTH_JWT_SECRET)" flag:"jwt-secret"`
	Issuer    string `default:"" usage:"Expected token issuer, empty to skip the check" flag:"jwt-issuer"`
}

// OrdersConfig tunes order lifecycle behavior.
type OrdersConfig struct {
	PermissiveTransitions bool `default:"false" usage:"Accept any status change, including out of Served and Canceled" flag:"permissive-transitions"`
	CounterRetries        int  `default:"5" usage:"Attempts to issue an order number under contention" flag:"counter-retries"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "QRMENU",
		Files:     []string{"config.yaml", "/etc/qrmenu/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set QRMENU_DATABASE_URL or DATABASE_URL")
		}
	case StoreMemory:
	default:
		return errors.Errorf("unknown store %q: want %q or %q", c.Store, StorePostgres, StoreMemory)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("owner token secret is required: set QRMENU_AUTH_JWT_SECRET")
	}
	if c.Orders.CounterRetries < 1 {
		return errors.New("counter retries must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's QRMENU_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.AMQP.URL == "" {
		if v := os.Getenv("AMQP_URL"); v != "" {
			c.AMQP.URL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
