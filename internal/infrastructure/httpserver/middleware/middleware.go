package middleware

import (
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// MiddlewareCollection holds all middleware instances
type MiddlewareCollection struct {
	Logging *LoggingMiddleware
	Metrics *MetricsMiddleware
	Offline *OfflineMiddleware
}

// NewMiddlewareCollection creates a new collection of all middleware
func NewMiddlewareCollection(
	origin *url.URL,
	transport http.RoundTripper,
	logger *logrus.Logger,
	requestsTotal *prometheus.CounterVec,
	requestDuration *prometheus.HistogramVec,
) *MiddlewareCollection {
	return &MiddlewareCollection{
		Logging: NewLoggingMiddleware(logger),
		Metrics: NewMetricsMiddleware(requestsTotal, requestDuration),
		Offline: NewOfflineMiddleware(origin, transport, logger),
	}
}
