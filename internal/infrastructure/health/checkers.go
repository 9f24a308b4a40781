package health

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/avatarctic/imitation-player/internal/core/ports"
	infraDB "github.com/avatarctic/imitation-player/internal/infrastructure/db"
)

// Pinger is anything that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// dbHealthChecker wraps a database for health checks.
type dbHealthChecker struct {
	name string
	db   *infraDB.Database
}

func (d *dbHealthChecker) Name() string                    { return d.name }
func (d *dbHealthChecker) Check(ctx context.Context) error { return d.db.DB.PingContext(ctx) }

// redisHealthChecker wraps the redis client for health checks.
type redisHealthChecker struct{ client *redis.Client }

func (r *redisHealthChecker) Name() string                    { return "redis" }
func (r *redisHealthChecker) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }

type pingHealthChecker struct {
	name string
	p    Pinger
}

func (p *pingHealthChecker) Name() string                    { return p.name }
func (p *pingHealthChecker) Check(ctx context.Context) error { return p.p.Ping(ctx) }

// NewDBHealthChecker creates a health checker for a database.
func NewDBHealthChecker(name string, db *infraDB.Database) ports.HealthChecker {
	return &dbHealthChecker{name: name, db: db}
}

// NewRedisHealthChecker creates a health checker for Redis.
func NewRedisHealthChecker(client *redis.Client) ports.HealthChecker {
	return &redisHealthChecker{client: client}
}

// NewProgressHealthChecker reports the progress store. It is unhealthy while
// the store runs without persistence.
func NewProgressHealthChecker(p Pinger) ports.HealthChecker {
	return &pingHealthChecker{name: "progress_store", p: p}
}
