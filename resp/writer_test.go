package resp

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWriterWritesAll(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&shortWriter{dst: &buf, chunk: 3}, 0)

	n, err := w.Write([]byte("hello world"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 11 {
		t.Errorf("Write() = %d, want 11", n)
	}
	if got := buf.String(); got != "hello world" {
		t.Errorf("written = %q, want %q", got, "hello world")
	}
}

func TestWriterMapsErrors(t *testing.T) {
	w := NewWriter(&failWriter{err: errors.New("broken pipe")}, 0)
	_, err := w.Write([]byte("x"))

	var connErr *ConnError
	if !errors.As(err, &connErr) {
		t.Fatalf("Write() error = %v, want *ConnError", err)
	}
	if connErr.Op != "write" {
		t.Errorf("ConnError.Op = %q, want %q", connErr.Op, "write")
	}
}

func TestWriterTimeoutError(t *testing.T) {
	w := NewWriter(&failWriter{err: timeoutNetError{}}, 0)
	_, err := w.Write([]byte("x"))

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Write() error = %v, want *TimeoutError", err)
	}
}

func TestWriterZeroWrite(t *testing.T) {
	w := NewWriter(&failWriter{}, 0)
	_, err := w.Write([]byte("x"))

	var connErr *ConnError
	if !errors.As(err, &connErr) {
		t.Fatalf("Write() error = %v, want *ConnError", err)
	}
	if !errors.Is(connErr.Err, io.ErrClosedPipe) {
		t.Errorf("ConnError.Err = %v, want io.ErrClosedPipe", connErr.Err)
	}
}

// shortWriter accepts at most chunk bytes per call.
type shortWriter struct {
	dst   *bytes.Buffer
	chunk int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.chunk {
		p = p[:w.chunk]
	}
	return w.dst.Write(p)
}

// failWriter returns its error on every call; with a nil error it reports
// zero bytes written.
type failWriter struct {
	err error
}

func (w *failWriter) Write(p []byte) (int, error) {
	return 0, w.err
}
