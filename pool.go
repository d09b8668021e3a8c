package redis

import (
	"context"
	"time"
)

// Pool is a bounded set of Connections with a checkout/return discipline.
// A checked-out connection is owned exclusively by the acquiring goroutine
// until released; the pool itself is safe for concurrent use.
type Pool interface {
	// Acquire checks out a connection, creating one if the pool is under
	// its size limit, or waiting for a release otherwise. The wait is
	// bounded by ctx; a deadline expiry surfaces as ErrPoolExhausted.
	Acquire(ctx context.Context) (Resource, error)

	// AcquireAllIdle drains the idle set for maintenance sweeps.
	AcquireAllIdle() []Resource

	// Close shuts down every pooled connection, best-effort.
	Close()

	// Stats returns a snapshot of pool statistics.
	Stats() PoolStats
}

// Resource is one checked-out pool slot.
type Resource interface {
	Value() *Connection

	// Release returns the connection to the idle set.
	Release()

	// ReleaseUnused returns the connection without refreshing its
	// last-used stamp. Maintenance sweeps use it so health probes don't
	// mask real idleness.
	ReleaseUnused()

	// Destroy closes the connection and frees the slot.
	Destroy()

	CreationTime() time.Time
	IdleDuration() time.Duration
}

// PoolFactory builds a Pool from a connection constructor and a size bound.
type PoolFactory func(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (Pool, error)
