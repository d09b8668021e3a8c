package redis

import (
	"sync/atomic"
	"time"
)

// PoolStats contains statistics about a connection pool.
// All fields are safe for concurrent access.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
//   - Histogram: derive wait durations from AcquireWaitCount and AcquireWaitTimeNs
type PoolStats struct {
	AcquireCount      uint64 // total acquire attempts
	AcquireWaitCount  uint64 // acquires that had to wait
	CreatedConns      uint64 // total connections created
	DestroyedConns    uint64 // total connections destroyed
	AcquireErrors     uint64 // failed acquire attempts
	AcquireWaitTimeNs uint64 // total nanoseconds spent waiting

	TotalConns  int32 // connections in pool (active + idle)
	IdleConns   int32 // idle connections available
	ActiveConns int32 // connections currently checked out
	_           int32 // padding to align to 64 bytes
}

// ClientStats contains statistics about client operations.
// All fields are safe for concurrent access.
type ClientStats struct {
	Calls       uint64 // total single-command calls
	Pipelines   uint64 // total pipeline batches
	CacheHits   uint64 // calls served from the client-side cache
	CacheMisses uint64 // cacheable calls that went to the server
	Errors      uint64 // total errors across all operations
	_           [3]uint64
}

// poolStatsCollector provides internal methods for updating pool stats.
type poolStatsCollector struct {
	stats *PoolStats
}

func newPoolStatsCollector() *poolStatsCollector {
	return &poolStatsCollector{stats: &PoolStats{}}
}

func (c *poolStatsCollector) recordAcquire() {
	atomic.AddUint64(&c.stats.AcquireCount, 1)
}

func (c *poolStatsCollector) recordAcquireWait(duration time.Duration) {
	atomic.AddUint64(&c.stats.AcquireWaitCount, 1)
	atomic.AddUint64(&c.stats.AcquireWaitTimeNs, uint64(duration.Nanoseconds()))
}

func (c *poolStatsCollector) recordCreate() {
	atomic.AddUint64(&c.stats.CreatedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, 1)
}

func (c *poolStatsCollector) recordDestroy() {
	atomic.AddUint64(&c.stats.DestroyedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, -1)
}

func (c *poolStatsCollector) recordAcquireError() {
	atomic.AddUint64(&c.stats.AcquireErrors, 1)
}

func (c *poolStatsCollector) recordAcquireFromIdle() {
	atomic.AddInt32(&c.stats.IdleConns, -1)
	atomic.AddInt32(&c.stats.ActiveConns, 1)
}

func (c *poolStatsCollector) recordActivate() {
	atomic.AddInt32(&c.stats.ActiveConns, 1)
}

func (c *poolStatsCollector) recordRelease() {
	atomic.AddInt32(&c.stats.IdleConns, 1)
	atomic.AddInt32(&c.stats.ActiveConns, -1)
}

func (c *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		TotalConns:        atomic.LoadInt32(&c.stats.TotalConns),
		IdleConns:         atomic.LoadInt32(&c.stats.IdleConns),
		ActiveConns:       atomic.LoadInt32(&c.stats.ActiveConns),
		AcquireCount:      atomic.LoadUint64(&c.stats.AcquireCount),
		AcquireWaitCount:  atomic.LoadUint64(&c.stats.AcquireWaitCount),
		CreatedConns:      atomic.LoadUint64(&c.stats.CreatedConns),
		DestroyedConns:    atomic.LoadUint64(&c.stats.DestroyedConns),
		AcquireErrors:     atomic.LoadUint64(&c.stats.AcquireErrors),
		AcquireWaitTimeNs: atomic.LoadUint64(&c.stats.AcquireWaitTimeNs),
	}
}

// clientStatsCollector provides internal methods for updating client stats.
type clientStatsCollector struct {
	stats *ClientStats
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{stats: &ClientStats{}}
}

func (c *clientStatsCollector) recordCall() {
	atomic.AddUint64(&c.stats.Calls, 1)
}

func (c *clientStatsCollector) recordPipeline() {
	atomic.AddUint64(&c.stats.Pipelines, 1)
}

func (c *clientStatsCollector) recordCacheHit() {
	atomic.AddUint64(&c.stats.CacheHits, 1)
}

func (c *clientStatsCollector) recordCacheMiss() {
	atomic.AddUint64(&c.stats.CacheMisses, 1)
}

func (c *clientStatsCollector) recordError() {
	atomic.AddUint64(&c.stats.Errors, 1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Calls:       atomic.LoadUint64(&c.stats.Calls),
		Pipelines:   atomic.LoadUint64(&c.stats.Pipelines),
		CacheHits:   atomic.LoadUint64(&c.stats.CacheHits),
		CacheMisses: atomic.LoadUint64(&c.stats.CacheMisses),
		Errors:      atomic.LoadUint64(&c.stats.Errors),
	}
}
