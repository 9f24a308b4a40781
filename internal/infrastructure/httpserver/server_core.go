package httpserver

import (
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/imitation-player/internal/core/ports"
	customMiddleware "github.com/avatarctic/imitation-player/internal/infrastructure/httpserver/middleware"
)

type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TLSCertFile    string
	TLSKeyFile     string
	AllowedOrigins []string
}

type ServerDeps struct {
	ProgressService ports.ProgressService
	// Origin is the upstream serving the player; nil disables the proxy.
	Origin *url.URL
	// OfflineTransport performs every request forwarded to Origin.
	OfflineTransport http.RoundTripper
	// OfflineGeneration reports the cache generation being served.
	OfflineGeneration func() string
	HealthCheckers    []ports.HealthChecker
}

type Server struct {
	echo           *echo.Echo
	config         *ServerConfig
	logger         *logrus.Logger
	progress       ports.ProgressService
	middleware     *customMiddleware.MiddlewareCollection
	healthCheckers []ports.HealthChecker
	generation     func() string
}

func NewServer(serverConfig *ServerConfig, logger *logrus.Logger, deps ServerDeps) *Server {
	e := echo.New()
	e.HideBanner = true

	server := &Server{
		echo:           e,
		config:         serverConfig,
		logger:         logger,
		progress:       deps.ProgressService,
		healthCheckers: deps.HealthCheckers,
		generation:     deps.OfflineGeneration,
		middleware: customMiddleware.NewMiddlewareCollection(
			deps.Origin,
			deps.OfflineTransport,
			logger,
			GetRequestsTotal(),
			GetRequestDuration(),
		),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}
