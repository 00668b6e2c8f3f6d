package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	Stripe         StripeConfig
	Apple          AppleConfig
	Reconciliation ReconciliationConfig
	Sentry         SentryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	PublicURL       string
}

// DatabaseConfig holds PostgreSQL pool configuration
type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MinConnections int
	MaxLifetime    time.Duration
	MaxIdleTime    time.Duration
	HealthCheck    time.Duration
	ConnectTimeout time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret    string
	AccessTTL time.Duration
	Issuer    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// StripeConfig holds Stripe API and checkout configuration
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Prices        map[valueobject.PlanType]string
	SuccessURL    string
	CancelURL     string
}

// AppleConfig holds App Store configuration
type AppleConfig struct {
	SharedSecret string
	BundleID     string
	ProductPlans map[string]valueobject.PlanType
}

// ReconciliationConfig holds event processing configuration
type ReconciliationConfig struct {
	DedupBackend    string
	DedupRetention  time.Duration
	PlatformTimeout time.Duration
	SweepBatchSize  int
	SweepSchedule   string
	StoreBackend    string
}

// SentryConfig holds Sentry configuration
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
}

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// .env file is optional for production (env vars are used)
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper builds and validates configuration from a viper instance
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server_port"),
			ReadTimeout:     v.GetDuration("server_read_timeout"),
			WriteTimeout:    v.GetDuration("server_write_timeout"),
			ShutdownTimeout: v.GetDuration("server_shutdown_timeout"),
			PublicURL:       strings.TrimRight(v.GetString("public_url"), "/"),
		},
		Database: DatabaseConfig{
			URL:            v.GetString("database_url"),
			MaxConnections: v.GetInt("database_max_connections"),
			MinConnections: v.GetInt("database_min_connections"),
			MaxLifetime:    v.GetDuration("database_max_lifetime"),
			MaxIdleTime:    v.GetDuration("database_max_idle_time"),
			HealthCheck:    v.GetDuration("database_health_check"),
			ConnectTimeout: v.GetDuration("database_connect_timeout"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis_url"),
			PoolSize:     v.GetInt("redis_pool_size"),
			MinIdleConns: v.GetInt("redis_min_idle_conns"),
			DialTimeout:  v.GetDuration("redis_dial_timeout"),
			ReadTimeout:  v.GetDuration("redis_read_timeout"),
			WriteTimeout: v.GetDuration("redis_write_timeout"),
			PoolTimeout:  v.GetDuration("redis_pool_timeout"),
		},
		JWT: JWTConfig{
			Secret:    v.GetString("jwt_secret"),
			AccessTTL: v.GetDuration("jwt_access_ttl"),
			Issuer:    v.GetString("jwt_issuer"),
		},
		Stripe: StripeConfig{
			SecretKey:     v.GetString("stripe_secret_key"),
			WebhookSecret: v.GetString("stripe_webhook_secret"),
			Prices: map[valueobject.PlanType]string{
				valueobject.PlanMonthly:  v.GetString("stripe_price_monthly"),
				valueobject.PlanYearly:   v.GetString("stripe_price_yearly"),
				valueobject.PlanLifetime: v.GetString("stripe_price_lifetime"),
			},
			SuccessURL: v.GetString("stripe_success_url"),
			CancelURL:  v.GetString("stripe_cancel_url"),
		},
		Apple: AppleConfig{
			SharedSecret: v.GetString("apple_shared_secret"),
			BundleID:     v.GetString("apple_bundle_id"),
		},
		Reconciliation: ReconciliationConfig{
			DedupBackend:    v.GetString("dedup_backend"),
			DedupRetention:  v.GetDuration("dedup_retention"),
			PlatformTimeout: v.GetDuration("platform_timeout"),
			SweepBatchSize:  v.GetInt("sweep_batch_size"),
			SweepSchedule:   v.GetString("sweep_schedule"),
			StoreBackend:    v.GetString("store_backend"),
		},
		Sentry: SentryConfig{
			DSN:         v.GetString("sentry_dsn"),
			Environment: v.GetString("environment"),
			Release:     v.GetString("release"),
		},
	}

	plans, err := ParseProductPlans(v.GetString("apple_product_plans"))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	cfg.Apple.ProductPlans = plans

	if cfg.Stripe.SuccessURL == "" {
		cfg.Stripe.SuccessURL = cfg.Server.PublicURL + "/subscription/success?session_id={CHECKOUT_SESSION_ID}"
	}
	if cfg.Stripe.CancelURL == "" {
		cfg.Stripe.CancelURL = cfg.Server.PublicURL + "/subscription"
	}

	// Validate required fields
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ParseProductPlans parses "productId=plan,productId=plan" into a lookup map
func ParseProductPlans(raw string) (map[string]valueobject.PlanType, error) {
	plans := make(map[string]valueobject.PlanType)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		productID, plan, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(productID) == "" {
			return nil, &domainErrors.ConfigurationError{Key: "APPLE_PRODUCT_PLANS", Reason: fmt.Sprintf("has malformed entry %q", pair)}
		}
		pt, err := valueobject.NewBillingPeriod(strings.TrimSpace(plan))
		if err != nil {
			return nil, &domainErrors.ConfigurationError{Key: "APPLE_PRODUCT_PLANS", Reason: fmt.Sprintf("has unknown plan %q", plan)}
		}
		plans[strings.TrimSpace(productID)] = pt
	}
	return plans, nil
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Sentry.Environment == "development"
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server_port", 8080)
	v.SetDefault("server_read_timeout", 10*time.Second)
	v.SetDefault("server_write_timeout", 10*time.Second)
	v.SetDefault("server_shutdown_timeout", 30*time.Second)
	v.SetDefault("public_url", "http://localhost:5173")
	v.SetDefault("environment", "production")

	// Database defaults; the service writes one row per event
	v.SetDefault("database_max_connections", 10)
	v.SetDefault("database_min_connections", 2)
	v.SetDefault("database_max_lifetime", time.Hour)
	v.SetDefault("database_max_idle_time", 15*time.Minute)
	v.SetDefault("database_health_check", 30*time.Second)
	v.SetDefault("database_connect_timeout", 5*time.Second)

	// JWT defaults
	v.SetDefault("jwt_access_ttl", 15*time.Minute)
	v.SetDefault("jwt_issuer", "entitlement-sync")

	// Redis defaults
	v.SetDefault("redis_pool_size", 10)
	v.SetDefault("redis_min_idle_conns", 3)
	v.SetDefault("redis_dial_timeout", 5*time.Second)
	v.SetDefault("redis_read_timeout", 3*time.Second)
	v.SetDefault("redis_write_timeout", 3*time.Second)
	v.SetDefault("redis_pool_timeout", 4*time.Second)

	// Reconciliation defaults
	v.SetDefault("dedup_backend", BackendRedis)
	v.SetDefault("dedup_retention", 720*time.Hour)
	v.SetDefault("platform_timeout", 10*time.Second)
	v.SetDefault("sweep_batch_size", 500)
	v.SetDefault("sweep_schedule", "*/5 * * * *")
	v.SetDefault("store_backend", BackendPostgres)
}

func validate(cfg *Config) error {
	required := []struct {
		key   string
		value string
	}{
		{"STRIPE_SECRET_KEY", cfg.Stripe.SecretKey},
		{"STRIPE_WEBHOOK_SECRET", cfg.Stripe.WebhookSecret},
		{"STRIPE_PRICE_MONTHLY", cfg.Stripe.Prices[valueobject.PlanMonthly]},
		{"STRIPE_PRICE_YEARLY", cfg.Stripe.Prices[valueobject.PlanYearly]},
		{"STRIPE_PRICE_LIFETIME", cfg.Stripe.Prices[valueobject.PlanLifetime]},
		{"APPLE_SHARED_SECRET", cfg.Apple.SharedSecret},
		{"DATABASE_URL", cfg.Database.URL},
		{"REDIS_URL", cfg.Redis.URL},
		{"JWT_SECRET", cfg.JWT.Secret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &domainErrors.ConfigurationError{Key: r.key, Reason: "is required"}
		}
	}
	if len(cfg.Apple.ProductPlans) == 0 {
		return &domainErrors.ConfigurationError{Key: "APPLE_PRODUCT_PLANS", Reason: "is required"}
	}
	if len(cfg.JWT.Secret) < 32 {
		return &domainErrors.ConfigurationError{Key: "JWT_SECRET", Reason: "must be at least 32 characters"}
	}

	switch cfg.Reconciliation.DedupBackend {
	case BackendRedis, BackendPostgres:
	default:
		return &domainErrors.ConfigurationError{Key: "DEDUP_BACKEND", Reason: "must be redis or postgres"}
	}
	switch cfg.Reconciliation.StoreBackend {
	case BackendPostgres:
	case BackendMemory:
		if !cfg.IsDevelopment() {
			return &domainErrors.ConfigurationError{Key: "STORE_BACKEND", Reason: "memory is only allowed in development"}
		}
	default:
		return &domainErrors.ConfigurationError{Key: "STORE_BACKEND", Reason: "must be postgres or memory"}
	}
	if cfg.Reconciliation.PlatformTimeout <= 0 {
		return &domainErrors.ConfigurationError{Key: "PLATFORM_TIMEOUT", Reason: "must be positive"}
	}
	return nil
}
