package ports

import "context"

// HealthChecker probes one dependency of the service (a database, Redis or
// the progress store). Check returns nil when the dependency is usable.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}
