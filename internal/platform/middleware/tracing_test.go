package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestTracing_RecordsServerSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/telehealth/bookings", nil), httptest.NewRecorder())
	c.SetPath("/api/v1/telehealth/bookings")

	var inner trace.SpanContext
	h := Tracing("odyssey-test")(func(c echo.Context) error {
		inner = trace.SpanContextFromContext(c.Request().Context())
		return echo.NewHTTPError(http.StatusInternalServerError, "db down")
	})
	_ = h(c)

	if !inner.IsValid() {
		t.Fatal("expected span context inside handler")
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "GET /api/v1/telehealth/bookings" {
		t.Errorf("unexpected span name %q", spans[0].Name)
	}
	if spans[0].SpanKind != trace.SpanKindServer {
		t.Errorf("expected server span, got %v", spans[0].SpanKind)
	}
}
