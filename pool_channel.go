package redis

import (
	"context"
	"sync"
	"time"

	"github.com/coralkv/redis/internal/coarsetime"
)

// NewChannelPool creates a channel-based connection pool. This is the
// default pool implementation.
func NewChannelPool(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (Pool, error) {
	return &channelPool{
		constructor: constructor,
		maxSize:     maxSize,
		resources:   make(chan *channelResource, maxSize),
		stats:       newPoolStatsCollector(),
	}, nil
}

// channelResource implements Resource for the channel pool.
type channelResource struct {
	conn         *Connection
	pool         *channelPool
	creationTime time.Time
	lastUsedTime time.Time
}

func (r *channelResource) Value() *Connection { return r.conn }

func (r *channelResource) Release() {
	r.lastUsedTime = coarsetime.Now()
	r.pool.put(r)
}

func (r *channelResource) ReleaseUnused() {
	r.pool.put(r)
}

func (r *channelResource) Destroy() {
	r.conn.Close()
	r.pool.removeResource()
}

func (r *channelResource) CreationTime() time.Time { return r.creationTime }

func (r *channelResource) IdleDuration() time.Duration {
	return time.Since(r.lastUsedTime)
}

// channelPool is a simple, allocation-optimized connection pool built on a
// buffered channel of idle resources.
type channelPool struct {
	constructor func(ctx context.Context) (*Connection, error)
	maxSize     int32

	mu        sync.Mutex
	resources chan *channelResource
	size      int32
	closed    bool

	stats *poolStatsCollector
}

func (p *channelPool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	// Idle connection available: fast path. A closed receive means the
	// pool is shut down.
	select {
	case res, ok := <-p.resources:
		if !ok {
			p.stats.recordAcquireError()
			return nil, ErrClosed
		}
		p.stats.recordAcquireFromIdle()
		return res, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.stats.recordAcquireError()
		return nil, ErrClosed
	}

	if p.size < p.maxSize {
		p.size++
		p.mu.Unlock()

		conn, err := p.constructor(ctx)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			p.stats.recordAcquireError()
			return nil, err
		}

		p.stats.recordCreate()
		p.stats.recordActivate()

		now := coarsetime.Now()
		return &channelResource{
			conn:         conn,
			pool:         p,
			creationTime: now,
			lastUsedTime: now,
		}, nil
	}
	p.mu.Unlock()

	// Pool is at capacity: wait for a release, bounded by ctx.
	waitStart := time.Now()
	select {
	case res, ok := <-p.resources:
		if !ok {
			p.stats.recordAcquireError()
			return nil, ErrClosed
		}
		p.stats.recordAcquireWait(time.Since(waitStart))
		p.stats.recordAcquireFromIdle()
		return res, nil
	case <-ctx.Done():
		p.stats.recordAcquireError()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrPoolExhausted
		}
		return nil, ctx.Err()
	}
}

// put returns a resource to the idle set. The send happens under the
// mutex so Close cannot close the channel out from under it.
func (p *channelPool) put(res *channelResource) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		res.conn.Close()
		return
	}

	select {
	case p.resources <- res:
		p.mu.Unlock()
		p.stats.recordRelease()
	default:
		p.mu.Unlock()
		// Idle channel is full; shed the connection.
		res.conn.Close()
		p.removeResource()
	}
}

func (p *channelPool) removeResource() {
	p.mu.Lock()
	p.size--
	p.mu.Unlock()
	p.stats.recordDestroy()
}

func (p *channelPool) AcquireAllIdle() []Resource {
	var idle []Resource
	for {
		select {
		case res := <-p.resources:
			idle = append(idle, res)
		default:
			return idle
		}
	}
}

func (p *channelPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.resources)
	p.mu.Unlock()

	for res := range p.resources {
		res.conn.Close()
	}
}

func (p *channelPool) Stats() PoolStats {
	return p.stats.snapshot()
}
