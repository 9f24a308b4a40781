package httpserver

import (
	"github.com/labstack/echo/v4/middleware"
)

// localPaths are answered by this server and never proxied.
var localPaths = []string{"/api", "/health", "/metrics"}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Logger())
	s.echo.Use(middleware.Recover())
	if len(s.config.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: s.config.AllowedOrigins}))
	} else {
		s.echo.Use(middleware.CORS())
	}
	s.echo.Use(middleware.RequestID())

	s.echo.Use(s.middleware.Metrics.CollectHTTPMetrics())
	s.echo.Use(s.middleware.Logging.RequestLogging())

	s.echo.Use(s.middleware.Offline.Proxy(localPaths...))
}
