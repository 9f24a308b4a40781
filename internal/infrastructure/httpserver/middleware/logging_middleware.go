package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type LoggingMiddleware struct {
	logger *logrus.Logger
}

func NewLoggingMiddleware(logger *logrus.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// RequestLogging logs every request at debug level once it has been handled.
func (m *LoggingMiddleware) RequestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m.logger == nil || !m.logger.IsLevelEnabled(logrus.DebugLevel) {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			proxied, _ := c.Get(ProxiedContextKey).(bool)
			entry := m.logger.WithFields(logrus.Fields{
				"method":     c.Request().Method,
				"path":       c.Request().URL.Path,
				"status":     c.Response().Status,
				"proxied":    proxied,
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
				"latency_ms": time.Since(start).Milliseconds(),
			})
			if err != nil {
				entry = entry.WithError(err)
			}
			entry.Debug("request handled")
			return err
		}
	}
}
