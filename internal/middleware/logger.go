package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/rail-ticketing/internal/logging"
)

// RequestLogger attaches a request-scoped logrus entry to the request
// context and logs one line per request once the handler returns.  The
// request ID is taken from X-Request-ID or generated.
func RequestLogger(log *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid := req.Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, rid)

			entry := log.WithFields(logrus.Fields{
				"request_id": rid,
				"method":     req.Method,
				"path":       req.URL.Path,
			})
			c.SetRequest(req.WithContext(logging.WithContext(req.Context(), entry)))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			fields := logrus.Fields{
				"status":      c.Response().Status,
				"duration_ms": time.Since(start).Milliseconds(),
				"route":       c.Path(),
			}
			if id, ok := UserID(c); ok {
				fields["user_id"] = id
			}
			e := entry.WithFields(fields)
			if err != nil {
				e = e.WithError(err)
			}
			switch {
			case c.Response().Status >= 500:
				e.Error("request failed")
			case c.Response().Status >= 400:
				e.Warn("request rejected")
			default:
				e.Info("request")
			}
			return nil
		}
	}
}
