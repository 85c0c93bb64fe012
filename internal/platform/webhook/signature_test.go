package webhook

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

const testSecret = "whsec_test"

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"event_id":"evt_1","event_type":"consult.assigned"}`)
	sig := SignatureHeaderValue(payload, testSecret)

	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("expected sha256= prefix, got %s", sig)
	}
	if !VerifySignature(payload, testSecret, sig) {
		t.Error("expected signature to verify")
	}
	if !VerifySignature(payload, testSecret, SignPayload(payload, testSecret)) {
		t.Error("expected bare hex signature to verify")
	}
	if !VerifySignature(payload, testSecret, strings.ToUpper(SignPayload(payload, testSecret))) {
		t.Error("expected upper-case hex to verify")
	}
}

func TestVerifySignature_Rejects(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig := SignatureHeaderValue(payload, testSecret)

	tests := []struct {
		name    string
		payload []byte
		secret  string
		header  string
	}{
		{"tampered body", []byte(`{"a":2}`), testSecret, sig},
		{"wrong secret", payload, "other", sig},
		{"empty header", payload, testSecret, ""},
		{"empty secret", payload, "", sig},
		{"garbage", payload, testSecret, "sha256=zzzz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifySignature(tt.payload, tt.secret, tt.header) {
				t.Error("expected verification to fail")
			}
		})
	}
}

func TestRequireSignature(t *testing.T) {
	body := `{"event_id":"evt_9"}`
	e := echo.New()

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("X-Wheel-Signature", SignatureHeaderValue([]byte(body), testSecret))
		c := e.NewContext(req, httptest.NewRecorder())

		var seen string
		err := RequireSignature("X-Wheel-Signature", testSecret)(func(c echo.Context) error {
			b, _ := io.ReadAll(c.Request().Body)
			seen = string(b)
			return nil
		})(c)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen != body {
			t.Errorf("expected handler to read original body, got %q", seen)
		}
		if raw, _ := c.Get("raw_body").([]byte); string(raw) != body {
			t.Errorf("expected raw_body set, got %q", raw)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("X-Wheel-Signature", "sha256=deadbeef")
		c := e.NewContext(req, httptest.NewRecorder())

		err := RequireSignature("X-Wheel-Signature", testSecret)(func(c echo.Context) error {
			t.Error("handler must not run")
			return nil
		})(c)
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %v", err)
		}
	})
}
