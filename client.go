package redis

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coralkv/redis/resp"
)

// Client is a pooled RESP3 client. All methods are safe for concurrent
// use; every operation checks out a connection, runs on it exclusively,
// and returns it on all exit paths.
type Client struct {
	cfg     Config
	pool    Pool
	breaker *CircuitBreaker // nil if not configured
	cache   *Cache          // nil if not configured
	events  *emitter
	stats   *clientStatsCollector
	logger  zerolog.Logger

	stopHealthCheck chan struct{}
	closed          atomic.Bool
}

// NewClient creates a client for the server described by cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: no server address configured")
	}
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("redis: pool MaxSize must be > 0, got %d", cfg.MaxSize)
	}

	client := &Client{
		cfg:             cfg,
		events:          newEmitter(cfg.Logger),
		stats:           newClientStatsCollector(),
		logger:          cfg.Logger,
		stopHealthCheck: make(chan struct{}),
	}

	if cfg.Cache != nil {
		client.cache = NewCache(*cfg.Cache)
	}

	constructor := func(ctx context.Context) (*Connection, error) {
		conn := NewConnection(&client.cfg, client.events)
		if client.cache != nil {
			conn.enableTracking()
			conn.OnPush(client.cache.HandlePush)
		}
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		return conn, nil
	}

	poolFactory := cfg.Pool
	if poolFactory == nil {
		poolFactory = NewChannelPool
	}
	pool, err := poolFactory(constructor, cfg.MaxSize)
	if err != nil {
		return nil, err
	}
	client.pool = pool
	client.events.emit(Event{Kind: EventPoolCreated, Addr: cfg.Addr})

	if cfg.Breaker != nil {
		client.breaker = NewCircuitBreaker(cfg.Addr, *cfg.Breaker)
	}

	if cfg.HealthCheckInterval > 0 {
		go client.healthCheckLoop()
	}

	return client, nil
}

// Close shuts down the pool, best-effort, and stops background health
// checks. The client cannot be reused afterwards.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.cfg.HealthCheckInterval > 0 {
		close(c.stopHealthCheck)
	}
	c.pool.Close()
}

// OnEvent registers a listener for lifecycle events from the client, its
// pool, and every pooled connection. The returned function unsubscribes.
func (c *Client) OnEvent(kind EventKind, fn Listener) (cancel func()) {
	return c.events.subscribe(kind, fn)
}

// Do runs one command and returns its decoded reply. A server error reply
// is returned as a *resp.CommandError.
func (c *Client) Do(ctx context.Context, name string, args ...any) (resp.Value, error) {
	if c.closed.Load() {
		return resp.Value{}, ErrClosed
	}
	c.stats.recordCall()

	if c.cache != nil && c.cache.Cacheable(name, args) {
		if v, ok := c.cache.Lookup(name, args); ok {
			c.stats.recordCacheHit()
			return v, nil
		}
		c.stats.recordCacheMiss()
		v, err := c.exec(ctx, name, args)
		if err == nil {
			c.cache.Store(name, args, v)
		}
		return v, err
	}

	return c.exec(ctx, name, args)
}

// Pipeline sends a batch of commands over one connection and returns their
// replies in order. Command errors appear as error values at their
// position in the result slice.
func (c *Client) Pipeline(ctx context.Context, cmds []resp.Command) ([]resp.Value, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.stats.recordPipeline()

	if c.breaker != nil {
		out, err := c.breaker.Execute(func() (any, error) {
			return c.pipelineDirect(ctx, cmds)
		})
		if err != nil {
			c.stats.recordError()
			return nil, err
		}
		return out.([]resp.Value), nil
	}

	values, err := c.pipelineDirect(ctx, cmds)
	if err != nil {
		c.stats.recordError()
	}
	return values, err
}

// With checks out one connection, runs fn with it, and returns it on all
// exit paths. The whole sequence runs under the circuit breaker when one
// is configured.
func (c *Client) With(ctx context.Context, fn func(conn *Connection) error) error {
	if c.closed.Load() {
		return ErrClosed
	}

	if c.breaker != nil {
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.withDirect(ctx, fn)
		})
		return err
	}
	return c.withDirect(ctx, fn)
}

func (c *Client) exec(ctx context.Context, name string, args []any) (resp.Value, error) {
	if c.breaker != nil {
		out, err := c.breaker.Execute(func() (any, error) {
			return c.execDirect(ctx, name, args)
		})
		if err != nil {
			c.stats.recordError()
			v, _ := out.(resp.Value)
			return v, err
		}
		return out.(resp.Value), nil
	}

	v, err := c.execDirect(ctx, name, args)
	if err != nil {
		c.stats.recordError()
	}
	return v, err
}

func (c *Client) execDirect(ctx context.Context, name string, args []any) (resp.Value, error) {
	res, err := c.acquire(ctx)
	if err != nil {
		return resp.Value{}, err
	}

	conn := res.Value()
	v, callErr := conn.Call(ctx, name, args...)
	c.release(res, callErr)
	return v, callErr
}

func (c *Client) pipelineDirect(ctx context.Context, cmds []resp.Command) ([]resp.Value, error) {
	res, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	conn := res.Value()
	values, callErr := conn.Pipeline(ctx, cmds)
	c.release(res, callErr)
	return values, callErr
}

func (c *Client) withDirect(ctx context.Context, fn func(conn *Connection) error) error {
	res, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	fnErr := fn(res.Value())
	c.release(res, fnErr)
	return fnErr
}

// acquire checks out a connection, bounding the wait by CheckoutTimeout
// and emitting pool events.
func (c *Client) acquire(ctx context.Context) (Resource, error) {
	acquireCtx := ctx
	if c.cfg.CheckoutTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, c.cfg.CheckoutTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := c.pool.Acquire(acquireCtx)
	if err != nil {
		if err == ErrPoolExhausted {
			s := c.pool.Stats()
			c.events.emit(Event{
				Kind:        EventPoolExhausted,
				Addr:        c.cfg.Addr,
				Err:         err,
				WaitTime:    time.Since(start),
				ActiveConns: s.ActiveConns,
				IdleConns:   s.IdleConns,
			})
		}
		return nil, err
	}

	s := c.pool.Stats()
	c.events.emit(Event{
		Kind:        EventConnAcquired,
		Addr:        c.cfg.Addr,
		WaitTime:    time.Since(start),
		ActiveConns: s.ActiveConns,
		IdleConns:   s.IdleConns,
	})
	return res, nil
}

// release returns a connection to the pool, destroying it when the
// operation's error indicates the stream can no longer be trusted.
func (c *Client) release(res Resource, opErr error) {
	if opErr != nil && resp.ShouldCloseConnection(opErr) {
		res.Destroy()
	} else {
		res.Release()
	}

	s := c.pool.Stats()
	c.events.emit(Event{
		Kind:        EventConnReleased,
		Addr:        c.cfg.Addr,
		ActiveConns: s.ActiveConns,
		IdleConns:   s.IdleConns,
	})
}

// healthCheckLoop periodically sweeps idle connections, culling those past
// their lifetime or idle limits and probing the rest with PING.
func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkIdleConnections()
		}
	}
}

func (c *Client) checkIdleConnections() {
	now := time.Now()

	for _, res := range c.pool.AcquireAllIdle() {
		if c.cfg.MaxConnLifetime > 0 && now.Sub(res.CreationTime()) > c.cfg.MaxConnLifetime {
			res.Destroy()
			continue
		}
		if c.cfg.MaxConnIdleTime > 0 && res.IdleDuration() > c.cfg.MaxConnIdleTime {
			res.Destroy()
			continue
		}

		if err := c.healthCheck(res.Value()); err != nil {
			c.logger.Debug().Err(err).Str("addr", c.cfg.Addr).Msg("health check failed, destroying connection")
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}

// healthCheck probes one connection. Failures are observed by the circuit
// breaker when one is configured.
func (c *Client) healthCheck(conn *Connection) error {
	probe := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		defer cancel()
		return conn.Ping(ctx)
	}

	if c.breaker != nil {
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, probe()
		})
		return err
	}
	return probe()
}

// Stats returns a snapshot of client operation statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// PoolStats returns a snapshot of connection pool statistics.
func (c *Client) PoolStats() PoolStats {
	return c.pool.Stats()
}

// BreakerState returns the circuit breaker state, or BreakerClosed when no
// breaker is configured.
func (c *Client) BreakerState() BreakerState {
	if c.breaker == nil {
		return BreakerClosed
	}
	return c.breaker.State()
}
