package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/auth"
)

// Recovery turns a handler panic into a 500, logs the stack and marks the
// request span as failed.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)
				msg := fmt.Sprintf("%v", r)

				ev := logger.Error().
					Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
					Str("method", c.Request().Method).
					Str("path", c.Request().URL.Path).
					Str("panic", msg).
					Str("stack", string(stack[:n]))
				if p := auth.PrincipalFromContext(c.Request().Context()); p != nil {
					ev = ev.Str("user_id", p.UserID.String())
				}
				ev.Msg("panic recovered")

				span := trace.SpanFromContext(c.Request().Context())
				span.SetStatus(codes.Error, "panic: "+msg)

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
