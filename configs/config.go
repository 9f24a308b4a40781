package configs

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/avatarctic/imitation-player/internal/core/domain/offline"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Log      LogConfig
}

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

// DatabaseConfig describes a local SQLite database file.
type DatabaseConfig struct {
	Path        string
	BusyTimeout time.Duration
	// Connection pool settings
	MaxOpenConns    int
	ConnMaxIdleTime time.Duration
}

type CacheConfig struct {
	Backend      string // sqlite or redis
	OriginURL    string
	Generation   string
	Shell        []string
	AudioMarker  string
	RootDocument string
	KeyPrefix    string
	Database     DatabaseConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	// Pool and timeout settings
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
	IdleTimeout  time.Duration
}

type LogConfig struct {
	Level  string
	Format string // json or text
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "127.0.0.1"),
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:    getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			TLSCertFile:    getEnv("TLS_CERT_FILE", ""),
			TLSKeyFile:     getEnv("TLS_KEY_FILE", ""),
			AllowedOrigins: getListEnv("ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Path:            getEnv("PROGRESS_DB_PATH", "data/progress.db"),
			BusyTimeout:     getDurationEnv("DB_BUSY_TIMEOUT", 5*time.Second),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 1),
			ConnMaxIdleTime: getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Cache: CacheConfig{
			Backend:      strings.ToLower(getEnv("CACHE_BACKEND", "sqlite")),
			OriginURL:    getEnvRequired("ORIGIN_URL"),
			Generation:   getEnv("CACHE_GENERATION", offline.DefaultGeneration),
			Shell:        getListEnv("CACHE_SHELL", slices.Clone(offline.DefaultShell)),
			AudioMarker:  getEnv("CACHE_AUDIO_MARKER", offline.DefaultAudioMarker),
			RootDocument: getEnv("CACHE_ROOT_DOCUMENT", offline.DefaultRootDocument),
			KeyPrefix:    getEnv("CACHE_KEY_PREFIX", "offline"),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getIntEnv("REDIS_DB", 0),
			PoolSize:     getIntEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: getIntEnv("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
			PoolTimeout:  getDurationEnv("REDIS_POOL_TIMEOUT", 4*time.Second),
			IdleTimeout:  getDurationEnv("REDIS_IDLE_TIMEOUT", 5*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// The response cache gets its own database file next to the progress store.
	cfg.Cache.Database = cfg.Database
	cfg.Cache.Database.Path = getEnv("CACHE_DB_PATH", "data/offline-cache.db")

	if cfg.Cache.Backend != "sqlite" && cfg.Cache.Backend != "redis" {
		return nil, fmt.Errorf("unsupported CACHE_BACKEND %q", cfg.Cache.Backend)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("Required environment variable %s is not set", key))
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated value, dropping empty items.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
