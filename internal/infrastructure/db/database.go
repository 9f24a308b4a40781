package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/avatarctic/imitation-player/configs"
)

//go:embed migrations
var migrations embed.FS

const (
	ProgressMigrations = "migrations/progress"
	CacheMigrations    = "migrations/cache"
)

type Database struct {
	DB *sqlx.DB
}

// NewDatabase opens a SQLite file with default settings.
func NewDatabase(path string) (*Database, error) {
	cfg := &configs.DatabaseConfig{
		Path:            path,
		BusyTimeout:     5 * time.Second,
		MaxOpenConns:    1,
		ConnMaxIdleTime: 5 * time.Minute,
	}
	return NewDatabaseWithConfig(cfg)
}

// NewDatabaseWithConfig opens (creating if needed) the SQLite file described by cfg.
func NewDatabaseWithConfig(cfg *configs.DatabaseConfig) (*Database, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dbx, err := sqlx.Open("sqlite", dsn(path, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection keeps transactions serialized.
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	dbx.SetMaxOpenConns(maxOpen)
	dbx.SetMaxIdleConns(maxOpen)
	if cfg.ConnMaxIdleTime > 0 {
		dbx.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(ctx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{DB: dbx}, nil
}

func dsn(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	return fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		path, busyTimeout.Milliseconds(),
	)
}

func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// Migrate applies the embedded migration set found under dir.
func (d *Database) Migrate(dir string) error {
	return d.MigrateFS(migrations, dir)
}

// MigrateFS applies migrations read from fsys.
func (d *Database) MigrateFS(fsys fs.FS, dir string) error {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(d.DB.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Open opens the database and applies the migration set in dir.
func Open(cfg *configs.DatabaseConfig, dir string) (*Database, error) {
	database, err := NewDatabaseWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(dir); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}
