package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	WheelBaseURL       string `mapstructure:"WHEEL_BASE_URL"`
	WheelAPIKey        string `mapstructure:"WHEEL_API_KEY"`
	WheelWebhookSecret string `mapstructure:"WHEEL_WEBHOOK_SECRET"`

	BookingLeadTime     time.Duration `mapstructure:"TELEHEALTH_BOOKING_LEAD_TIME"`
	TimeSelectStep      int           `mapstructure:"TELEHEALTH_TIME_SELECT_STEP_MINUTES"`
	MaintenanceInterval time.Duration `mapstructure:"TELEHEALTH_MAINTENANCE_INTERVAL"`
	ReminderLead        time.Duration `mapstructure:"TELEHEALTH_REMINDER_LEAD"`

	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"RABBITMQ_URL", "EVENTS_EXCHANGE",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME",
	"WHEEL_BASE_URL", "WHEEL_API_KEY", "WHEEL_WEBHOOK_SECRET",
	"TELEHEALTH_BOOKING_LEAD_TIME", "TELEHEALTH_TIME_SELECT_STEP_MINUTES",
	"TELEHEALTH_MAINTENANCE_INTERVAL", "TELEHEALTH_REMINDER_LEAD",
	"MIGRATIONS_DIR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("EVENTS_EXCHANGE", "odyssey.telehealth")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("OTEL_SERVICE_NAME", "odyssey")
	v.SetDefault("TELEHEALTH_BOOKING_LEAD_TIME", 2*time.Hour)
	v.SetDefault("TELEHEALTH_TIME_SELECT_STEP_MINUTES", 15)
	v.SetDefault("TELEHEALTH_MAINTENANCE_INTERVAL", time.Minute)
	v.SetDefault("TELEHEALTH_REMINDER_LEAD", 30*time.Minute)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("ENV=development: DevAuthMiddleware is active and requests without X-Dev-User-ID get admin access")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to serve traffic with.
// Outside development a token verification source is required.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.WheelBaseURL != "" && c.WheelWebhookSecret == "" && c.IsProduction() {
		return fmt.Errorf("WHEEL_WEBHOOK_SECRET is required when WHEEL_BASE_URL is set in production")
	}
	if c.TimeSelectStep <= 0 || c.TimeSelectStep%5 != 0 {
		return fmt.Errorf("TELEHEALTH_TIME_SELECT_STEP_MINUTES must be a positive multiple of 5, got %d", c.TimeSelectStep)
	}
	if c.BookingLeadTime < 0 {
		return fmt.Errorf("TELEHEALTH_BOOKING_LEAD_TIME must not be negative")
	}
	if c.MaintenanceInterval <= 0 {
		return fmt.Errorf("TELEHEALTH_MAINTENANCE_INTERVAL must be positive")
	}
	if c.ReminderLead <= 0 {
		return fmt.Errorf("TELEHEALTH_REMINDER_LEAD must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
