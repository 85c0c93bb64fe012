package main

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/smartfuturesg/modobio-web-sub003/internal/config"
	"github.com/smartfuturesg/modobio-web-sub003/internal/domain/telehealth"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/auth"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/db"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/events"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/middleware"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/wheel"
	"github.com/smartfuturesg/modobio-web-sub003/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "odyssey-server",
		Short: "Odyssey telehealth booking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(maintenanceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger writes JSON to stdout, or console output in development.
// An unknown LOG_LEVEL falls back to info.
func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// loadConfig loads and validates the configuration and builds the logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

func migrationsFS(cfg *config.Config) fs.FS {
	if cfg.MigrationsDir != "" {
		return os.DirFS(cfg.MigrationsDir)
	}
	return migrations.FS
}

func serviceConfig(cfg *config.Config) telehealth.Config {
	return telehealth.Config{
		LeadTime:     cfg.BookingLeadTime,
		StepMinutes:  cfg.TimeSelectStep,
		ReminderLead: cfg.ReminderLead,
	}
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	if cfg.RateLimitRPS <= 0 {
		return middleware.DefaultRateLimitConfig()
	}
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	jc := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jc.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return jc
}

func wheelConfig(cfg *config.Config) wheel.Config {
	return wheel.Config{
		BaseURL:    cfg.WheelBaseURL,
		APIKey:     cfg.WheelAPIKey,
		Timeout:    10 * time.Second,
		MaxRetries: 3,
	}
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(jwtConfig(cfg))
}

// skipPaths runs mw for every request except those whose URL path is listed.
func skipPaths(mw echo.MiddlewareFunc, paths ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		wrapped := mw(next)
		return func(c echo.Context) error {
			p := c.Request().URL.Path
			for _, skip := range paths {
				if p == skip {
					return next(c)
				}
			}
			return wrapped(c)
		}
	}
}

// newPublisher connects to RabbitMQ when RABBITMQ_URL is set and falls back
// to logging events otherwise.
func newPublisher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (events.Publisher, *events.AMQPPublisher, error) {
	if cfg.RabbitMQURL == "" {
		logger.Warn().Msg("RABBITMQ_URL not set: booking events are logged only")
		return events.NewLogPublisher(logger), nil, nil
	}
	pub, err := events.NewAMQPPublisher(ctx, cfg.RabbitMQURL, cfg.EventsExchange)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("exchange", cfg.EventsExchange).Msg("connected to rabbitmq")
	return pub, pub, nil
}

func newService(cfg *config.Config, pool *pgxpool.Pool, pub events.Publisher, logger zerolog.Logger) *telehealth.Service {
	repos := telehealth.Repositories{
		Settings:     telehealth.NewSettingsRepoPG(pool),
		Availability: telehealth.NewAvailabilityRepoPG(pool),
		Queue:        telehealth.NewQueueRepoPG(pool),
		Bookings:     telehealth.NewBookingRepoPG(pool),
		History:      telehealth.NewHistoryRepoPG(pool),
		Payments:     telehealth.NewPaymentRepoPG(pool),
	}
	return telehealth.NewService(repos, db.NewTxRunner(pool), pub, wheel.New(wheelConfig(cfg)), serviceConfig(cfg), logger)
}
