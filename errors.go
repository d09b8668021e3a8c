package redis

import "errors"

var (
	// ErrPoolExhausted is returned when a checkout wait elapses with no
	// connection available. It means "no capacity", not "resource broken".
	ErrPoolExhausted = errors.New("redis: connection pool exhausted")

	// ErrCircuitOpen is returned without attempting any I/O while the
	// circuit breaker is protecting a presumed-unhealthy server.
	ErrCircuitOpen = errors.New("redis: circuit breaker is open")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("redis: client is closed")

	// ErrNil is returned by typed helpers when the server replies with a
	// null value (missing key).
	ErrNil = errors.New("redis: nil reply")
)
