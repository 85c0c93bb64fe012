// Package webhook authenticates inbound provider callbacks signed with
// HMAC-SHA256.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const signaturePrefix = "sha256="

// maxBodyBytes caps how much of an inbound callback is read for verification.
const maxBodyBytes = 1 << 20

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeaderValue formats a signature the way senders put it on the wire.
func SignatureHeaderValue(payload []byte, secret string) string {
	return signaturePrefix + SignPayload(payload, secret)
}

// VerifySignature checks a header value of the form "sha256=<hex>" (the
// prefix is optional) in constant time.
func VerifySignature(payload []byte, secret, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	got := strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix)
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(got)))
}

// RequireSignature rejects requests whose body does not match the signature in
// header. The raw body is restored for the handler and exposed as
// c.Get("raw_body").
func RequireSignature(header, secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes+1))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
			}
			if len(body) > maxBodyBytes {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
			}
			if !VerifySignature(body, secret, req.Header.Get(header)) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			c.Set("raw_body", body)
			return next(c)
		}
	}
}
