package main

import (
	"context"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	config "github.com/avatarctic/imitation-player/configs"
	"github.com/avatarctic/imitation-player/internal/application/services"
	"github.com/avatarctic/imitation-player/internal/core/ports"
	"github.com/avatarctic/imitation-player/internal/infrastructure/db"
	"github.com/avatarctic/imitation-player/internal/infrastructure/health"
	"github.com/avatarctic/imitation-player/internal/infrastructure/httpserver"
	"github.com/avatarctic/imitation-player/internal/infrastructure/offline"
	"github.com/avatarctic/imitation-player/internal/infrastructure/redis"
	"github.com/avatarctic/imitation-player/internal/infrastructure/repositories"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger := newLogger(cfg.Log)
	logger.Info("Starting imitation player...")

	origin, err := url.Parse(cfg.Cache.OriginURL)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		logger.Fatalf("Invalid ORIGIN_URL %q", cfg.Cache.OriginURL)
	}

	// Progress store: opened lazily, degrades to defaults when unavailable
	progressService := services.NewProgressService(func(ctx context.Context) (ports.ProgressRepository, error) {
		database, err := db.Open(&cfg.Database, db.ProgressMigrations)
		if err != nil {
			return nil, err
		}
		return repositories.NewProgressRepository(database), nil
	}, logger)
	defer progressService.Close()

	go func() { _ = progressService.Initialize(context.Background()) }()

	hcSlice := []ports.HealthChecker{health.NewProgressHealthChecker(progressService)}

	// Response cache backend
	cache, closer, checker, err := openResponseCache(cfg)
	if err != nil {
		logger.Fatal("Failed to open offline cache:", err)
	}
	defer closer.Close()
	hcSlice = append(hcSlice, checker)

	logger.WithField("backend", cfg.Cache.Backend).Info("Offline cache opened")

	controller := offline.NewController(offline.Config{
		Origin:       origin,
		Generation:   cfg.Cache.Generation,
		Shell:        cfg.Cache.Shell,
		AudioMarker:  cfg.Cache.AudioMarker,
		RootDocument: cfg.Cache.RootDocument,
	}, cache, nil, logger, httpserver.GetOfflineRequests())

	if err := controller.Restore(context.Background()); err != nil {
		logger.WithError(err).Warn("Failed to restore active cache generation")
	}
	installGeneration(controller, logger)

	// Create server configuration
	serverConfig := &httpserver.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		TLSCertFile:    cfg.Server.TLSCertFile,
		TLSKeyFile:     cfg.Server.TLSKeyFile,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}

	server := httpserver.NewServer(serverConfig, logger, httpserver.ServerDeps{
		ProgressService:   progressService,
		Origin:            origin,
		OfflineTransport:  controller,
		OfflineGeneration: controller.Generation,
		HealthCheckers:    hcSlice,
	})

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.Info("Server stopped: ", err)
		}
	}()

	logger.Infof("Server started on %s:%s, proxying %s", cfg.Server.Host, cfg.Server.Port, origin)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(level)
	}
	return logger
}

func openResponseCache(cfg *config.Config) (ports.ResponseCache, io.Closer, ports.HealthChecker, error) {
	if cfg.Cache.Backend == "redis" {
		client, err := redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, nil, nil, err
		}
		return redis.NewResponseCache(client, cfg.Cache.KeyPrefix), client, health.NewRedisHealthChecker(client), nil
	}
	database, err := db.Open(&cfg.Cache.Database, db.CacheMigrations)
	if err != nil {
		return nil, nil, nil, err
	}
	return repositories.NewResponseCacheRepository(database), database, health.NewDBHealthChecker("offline_cache", database), nil
}

// installGeneration pre-populates the build generation and activates it. On
// failure the previously active generation keeps serving.
func installGeneration(controller *offline.Controller, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := controller.Install(ctx); err != nil {
		logger.WithError(err).Warn("Offline cache install failed; keeping previous generation")
		return
	}
	if err := controller.Activate(ctx); err != nil {
		logger.WithError(err).Error("Offline cache activation failed")
	}
}
