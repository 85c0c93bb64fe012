package main

import (
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/smartfuturesg/modobio-web-sub003/internal/config"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/middleware"
)

func TestNewLogger_Level(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := newLogger(&config.Config{Env: "production", LogLevel: tt.level})
			if got := logger.GetLevel(); got != tt.want {
				t.Errorf("level for %q = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestMigrationsFS_Embedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS(&config.Config{}), ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Name() == "001_time_increments.sql" {
			found = true
		}
	}
	if !found {
		t.Error("expected 001_time_increments.sql in embedded migrations")
	}
}

func TestMigrationsFS_Dir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "900_local.sql"), []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	fsys := migrationsFS(&config.Config{MigrationsDir: dir})
	if _, err := fs.Stat(fsys, "900_local.sql"); err != nil {
		t.Errorf("expected MIGRATIONS_DIR to be used: %v", err)
	}
	if _, err := fs.Stat(fsys, "001_time_increments.sql"); err == nil {
		t.Error("embedded migrations should not be visible when MIGRATIONS_DIR is set")
	}
}

func TestServiceConfig(t *testing.T) {
	got := serviceConfig(&config.Config{
		BookingLeadTime: 3 * time.Hour,
		TimeSelectStep:  30,
		ReminderLead:    45 * time.Minute,
	})
	if got.LeadTime != 3*time.Hour || got.StepMinutes != 30 || got.ReminderLead != 45*time.Minute {
		t.Errorf("unexpected service config: %+v", got)
	}
}

func TestRateLimitConfig(t *testing.T) {
	def := middleware.DefaultRateLimitConfig()

	if got := rateLimitConfig(&config.Config{}); got != def {
		t.Errorf("zero RPS: got %+v, want defaults %+v", got, def)
	}

	got := rateLimitConfig(&config.Config{RateLimitRPS: 5})
	if got.RequestsPerSecond != 5 || got.BurstSize != def.BurstSize {
		t.Errorf("RPS only: got %+v", got)
	}

	got = rateLimitConfig(&config.Config{RateLimitRPS: 5, RateLimitBurst: 9})
	if got.RequestsPerSecond != 5 || got.BurstSize != 9 || got.IdleTTL != def.IdleTTL {
		t.Errorf("RPS and burst: got %+v", got)
	}
}

func TestJWTConfig(t *testing.T) {
	jc := jwtConfig(&config.Config{AuthIssuer: "iss", AuthAudience: "aud", AuthSigningKey: "secret"})
	if jc.Issuer != "iss" || jc.Audience != "aud" || string(jc.SigningKey) != "secret" {
		t.Errorf("unexpected jwt config: %+v", jc)
	}
	if jc := jwtConfig(&config.Config{AuthJWKSURL: "https://idp/jwks"}); jc.SigningKey != nil || jc.JWKSURL != "https://idp/jwks" {
		t.Errorf("unexpected jwt config: %+v", jc)
	}
}

func TestWorkerConsumerConfig(t *testing.T) {
	cc := workerConsumerConfig("amqp://localhost", "odyssey.telehealth", 4)
	if cc.Queue != notificationQueue || cc.Exchange != "odyssey.telehealth" || cc.Prefetch != 4 {
		t.Errorf("unexpected consumer config: %+v", cc)
	}
	if len(cc.Bindings) != 1 || cc.Bindings[0] != "telehealth.booking.#" {
		t.Errorf("unexpected bindings: %v", cc.Bindings)
	}
}

func TestSkipPaths(t *testing.T) {
	deny := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusUnauthorized)
		}
	}

	e := echo.New()
	e.Use(skipPaths(deny, webhookPath))
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	e.POST(webhookPath, ok)
	e.GET("/api/v1/telehealth/bookings", ok)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, webhookPath, nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("webhook: expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/telehealth/bookings", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bookings: expected 401, got %d", rec.Code)
	}
}
