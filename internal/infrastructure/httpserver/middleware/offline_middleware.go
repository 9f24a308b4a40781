package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// OfflineMiddleware forwards everything the server does not answer itself to
// the origin, through the offline cache transport.
type OfflineMiddleware struct {
	origin    *url.URL
	transport http.RoundTripper
	logger    *logrus.Logger
}

func NewOfflineMiddleware(origin *url.URL, transport http.RoundTripper, logger *logrus.Logger) *OfflineMiddleware {
	return &OfflineMiddleware{origin: origin, transport: transport, logger: logger}
}

// ProxiedContextKey marks a request that was forwarded to the origin.
const ProxiedContextKey = "offline_proxied"

// Proxy returns the proxy middleware. Requests whose path starts with one of
// local are handed to the next handler instead.
func (m *OfflineMiddleware) Proxy(local ...string) echo.MiddlewareFunc {
	if m.origin == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echomw.ProxyWithConfig(echomw.ProxyConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			for _, prefix := range local {
				prefix = strings.TrimSuffix(prefix, "/")
				if path == prefix || strings.HasPrefix(path, prefix+"/") {
					return true
				}
			}
			c.Set(ProxiedContextKey, true)
			return false
		},
		Balancer:  echomw.NewRoundRobinBalancer([]*echomw.ProxyTarget{{Name: "origin", URL: m.origin}}),
		Transport: m.transport,
		ErrorHandler: func(c echo.Context, err error) error {
			if m.logger != nil {
				m.logger.WithFields(logrus.Fields{"method": c.Request().Method, "path": c.Request().URL.Path}).WithError(err).Warn("origin unreachable and no cached copy")
			}
			return err
		},
	})
}
