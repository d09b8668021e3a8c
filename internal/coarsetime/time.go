// Package coarsetime serves timestamps with a bounded staleness so hot
// paths can record activity without a time.Now() call per operation. A
// background goroutine refreshes the clock every 25ms.
package coarsetime

import (
	"sync/atomic"
	"time"
)

const resolution = 25 * time.Millisecond

var clock atomic.Pointer[time.Time]

func init() {
	t := time.Now()
	clock.Store(&t)

	go func() {
		for range time.Tick(resolution) {
			t := time.Now()
			clock.Store(&t)
		}
	}()
}

// Now returns the current time, stale by at most the refresh resolution.
func Now() time.Time {
	return *clock.Load()
}

// Since returns the time elapsed since t, measured against the coarse
// clock. It can be slightly negative for a t taken just after a refresh.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
