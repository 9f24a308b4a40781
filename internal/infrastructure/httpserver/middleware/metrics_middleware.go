package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// ProxiedPath labels requests answered through the offline proxy.
const ProxiedPath = "origin"

// MetricsMiddleware holds the Prometheus metrics
type MetricsMiddleware struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetricsMiddleware creates a new metrics middleware instance
func NewMetricsMiddleware(requestsTotal *prometheus.CounterVec, requestDuration *prometheus.HistogramVec) *MetricsMiddleware {
	return &MetricsMiddleware{
		requestsTotal:   requestsTotal,
		requestDuration: requestDuration,
	}
}

// CollectHTTPMetrics records count and latency per route. Everything sent to
// the origin shares the ProxiedPath label.
func (m *MetricsMiddleware) CollectHTTPMetrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			path := c.Path()
			if proxied, _ := c.Get(ProxiedContextKey).(bool); proxied {
				path = ProxiedPath
			} else if path == "" {
				path = c.Request().URL.Path
			}
			method := c.Request().Method
			m.requestsTotal.WithLabelValues(method, path, statusOf(c, err)).Inc()
			m.requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// statusOf returns the status the client will see. Errors are rendered by
// echo after the middleware chain returns, so the response is not yet
// committed when one is pending.
func statusOf(c echo.Context, err error) string {
	if err == nil || c.Response().Committed {
		return strconv.Itoa(c.Response().Status)
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return strconv.Itoa(he.Code)
	}
	return strconv.Itoa(http.StatusInternalServerError)
}
