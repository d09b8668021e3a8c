package resp

import (
	"errors"
	"fmt"
)

// Error types for RESP3 operations.
// These errors let callers decide connection handling: a command error leaves
// the connection healthy, everything else means the stream state is
// unknowable and the connection must be torn down and redialed.

// ConnError wraps transport-level failures: refused, unreachable, reset,
// closed mid-frame, resolution failure, TLS handshake failure, rejected
// authentication or database selection.
//
// Connection handling: already broken, CLOSE and reconnect.
type ConnError struct {
	Op  string // operation that failed: dial, read, write, handshake, auth
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("redis: connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// ShouldCloseConnection returns true - the transport is gone.
func (e *ConnError) ShouldCloseConnection() bool { return true }

// TimeoutError reports that a read, write, handshake, or pool-checkout wait
// exceeded its bound. Kept distinct from ConnError so diagnostics can tell
// "slow" from "broken", even though both contaminate the connection.
//
// Connection handling: a reply may still be in flight, CLOSE and reconnect.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("redis: %s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout implements net.Error-style timeout reporting.
func (e *TimeoutError) Timeout() bool { return true }

// ShouldCloseConnection returns true - an interrupted round trip leaves
// unread bytes on the stream.
func (e *TimeoutError) ShouldCloseConnection() bool { return true }

// ProtocolError reports a malformed frame: an unrecognized type marker, a
// bad boolean token, an invalid length. The framing is now unknowable; the
// only safe recovery is reconnect, not resynchronization.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "redis: protocol error: " + e.Message
}

// ShouldCloseConnection returns true - framing is lost.
func (e *ProtocolError) ShouldCloseConnection() bool { return true }

// CommandError is the server's own structured error reply (`-` or `!`
// frames). It is a normal result, not a transport fault: the command failed,
// the connection is fine.
type CommandError struct {
	Message string // full message, e.g. "ERR unknown command 'FOO'"
}

func (e *CommandError) Error() string { return "redis: " + e.Message }

// Code returns the leading error code word (ERR, WRONGTYPE, MOVED, ...).
func (e *CommandError) Code() string {
	for i := 0; i < len(e.Message); i++ {
		if e.Message[i] == ' ' {
			return e.Message[:i]
		}
	}
	return e.Message
}

// ShouldCloseConnection returns false - the reply stream is still in sync.
func (e *CommandError) ShouldCloseConnection() bool { return false }

// ErrorWithConnectionState is implemented by all protocol error types and
// reports whether the connection can be reused after the error.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err requires discarding the
// connection. Unknown error types are treated conservatively and close.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}
	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}
	return true
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}
