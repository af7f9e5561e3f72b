package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const maxStack = 4 << 10

// Recovery turns a transform handler panic into a 500. The log line carries
// the route and the ?name label so the offending upload can be replayed with
// hl7prep convert.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				stack := make([]byte, maxStack)
				stack = stack[:runtime.Stack(stack, false)]

				rid, _ := c.Get("request_id").(string)
				req := c.Request()
				logger.Error().
					Str("request_id", rid).
					Str("method", req.Method).
					Str("route", c.Path()).
					Str("name", c.QueryParam("name")).
					Int64("bytes_in", req.ContentLength).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack).
					Msg("transform handler panicked")

				he := echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				err = he.SetInternal(fmt.Errorf("panic: %v", r))
			}()
			return next(c)
		}
	}
}
