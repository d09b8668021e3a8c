package resp

import (
	"io"
	"net"
	"time"
)

// writeDeadliner is the capability the writer needs to bound writes.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Writer writes whole frames to a stream under a write timeout. Like Reader
// it is exclusively owned by one connection.
type Writer struct {
	dst      io.Writer
	deadline writeDeadliner
	timeout  time.Duration
}

// NewWriter returns a Writer over dst. A zero timeout means writes block
// indefinitely.
func NewWriter(dst io.Writer, timeout time.Duration) *Writer {
	w := &Writer{dst: dst, timeout: timeout}
	if d, ok := dst.(writeDeadliner); ok {
		w.deadline = d
	}
	return w
}

// Reset retargets the writer at dst.
func (w *Writer) Reset(dst io.Writer) {
	w.dst = dst
	w.deadline = nil
	if d, ok := dst.(writeDeadliner); ok {
		w.deadline = d
	}
}

// Write writes all of p to the stream, bounded by the write timeout.
// Failures surface as *TimeoutError or *ConnError only.
func (w *Writer) Write(p []byte) (int, error) {
	if w.deadline != nil {
		if w.timeout > 0 {
			w.deadline.SetWriteDeadline(time.Now().Add(w.timeout))
		} else {
			w.deadline.SetWriteDeadline(time.Time{})
		}
	}

	written := 0
	for written < len(p) {
		n, err := w.dst.Write(p[written:])
		written += n
		if err != nil {
			if e, ok := err.(net.Error); ok && e.Timeout() {
				return written, &TimeoutError{Op: "write", Err: err}
			}
			return written, &ConnError{Op: "write", Err: err}
		}
		if n == 0 {
			// A zero-length write with no error means the stream reports
			// closed.
			return written, &ConnError{Op: "write", Err: io.ErrClosedPipe}
		}
	}
	return written, nil
}
