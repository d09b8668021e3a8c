package resp

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestReadLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"single line", "OK\r\n", []string{"OK"}},
		{"empty line", "\r\n", []string{""}},
		{"two lines", "first\r\nsecond\r\n", []string{"first", "second"}},
		{"bare CR inside line", "a\rb\r\n", []string{"a\rb"}},
		{"bare LF inside line", "a\nb\r\n", []string{"a\nb"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tt.input), 0)
			for _, want := range tt.want {
				line, err := r.ReadLine()
				if err != nil {
					t.Fatalf("ReadLine() error = %v", err)
				}
				if string(line) != want {
					t.Errorf("ReadLine() = %q, want %q", line, want)
				}
			}
		})
	}
}

func TestReadLineAcrossFills(t *testing.T) {
	// One byte per Read call forces the scan to resume mid-line.
	src := iotest{data: []byte("a long line that arrives byte by byte\r\n")}
	r := NewReader(&src, 0)

	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine() error = %v", err)
	}
	if got := string(line); got != "a long line that arrives byte by byte" {
		t.Errorf("ReadLine() = %q", got)
	}
}

func TestReadLineTruncated(t *testing.T) {
	r := NewReader(strings.NewReader("partial line without terminator"), 0)
	_, err := r.ReadLine()

	var connErr *ConnError
	if !errors.As(err, &connErr) {
		t.Fatalf("ReadLine() error = %v, want *ConnError", err)
	}
}

func TestReadLineCleanEOF(t *testing.T) {
	r := NewReader(strings.NewReader(""), 0)
	if _, err := r.ReadLine(); err != io.EOF {
		t.Fatalf("ReadLine() error = %v, want io.EOF", err)
	}
}

func TestReadInt(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"0\r\n", 0},
		{"5\r\n", 5},
		{"9\r\n", 9},
		{"10\r\n", 10},
		{"1000\r\n", 1000},
		{"-1\r\n", -1},
		{"-2\r\n", -2},
		{"123456789\r\n", 123456789},
		{"-987654321\r\n", -987654321},
		{"9223372036854775807\r\n", 9223372036854775807},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			r := NewReader(strings.NewReader(tt.input), 0)
			got, err := r.ReadInt()
			if err != nil {
				t.Fatalf("ReadInt() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

// The single-digit fast path and the general loop must agree, including
// when the stream dribbles in one byte at a time and the fast path cannot
// trigger.
func TestReadIntFastPathEquivalence(t *testing.T) {
	values := []int64{0, 1, 9, 10, 42, 99, 100, 12345, -1, -9, -10, -12345,
		1<<62 - 1, -(1 << 62)}

	for _, v := range values {
		input := strconv.FormatInt(v, 10) + "\r\n"

		buffered := NewReader(strings.NewReader(input), 0)
		got, err := buffered.ReadInt()
		if err != nil {
			t.Fatalf("ReadInt(%q) error = %v", input, err)
		}
		if got != v {
			t.Errorf("ReadInt(%q) = %d, want %d", input, got, v)
		}

		dribbled := NewReader(&iotest{data: []byte(input)}, 0)
		got, err = dribbled.ReadInt()
		if err != nil {
			t.Fatalf("ReadInt(%q) dribbled error = %v", input, err)
		}
		if got != v {
			t.Errorf("ReadInt(%q) dribbled = %d, want %d", input, got, v)
		}
	}
}

func TestReadIntInvalid(t *testing.T) {
	tests := []string{"abc\r\n", "1a\r\n", "-\r\n", "+5\r\n"}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			r := NewReader(strings.NewReader(input), 0)
			_, err := r.ReadInt()

			var protoErr *ProtocolError
			if !errors.As(err, &protoErr) {
				t.Fatalf("ReadInt(%q) error = %v, want *ProtocolError", input, err)
			}
		})
	}
}

func TestReadBulk(t *testing.T) {
	r := NewReader(strings.NewReader("hello\r\nnext"), 0)

	got, err := r.ReadBulk(5)
	if err != nil {
		t.Fatalf("ReadBulk() error = %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadBulk() = %q, want %q", got, "hello")
	}

	// The terminator is consumed with the payload.
	b, err := r.ReadByte()
	if err != nil {
		t.Fatalf("ReadByte() error = %v", err)
	}
	if b != 'n' {
		t.Errorf("ReadByte() = %q, want 'n'", b)
	}
}

func TestReadBulkWithBinaryPayload(t *testing.T) {
	payload := "a\r\nb\x00c"
	r := NewReader(strings.NewReader(payload+"\r\n"), 0)

	got, err := r.ReadBulk(len(payload))
	if err != nil {
		t.Fatalf("ReadBulk() error = %v", err)
	}
	if string(got) != payload {
		t.Errorf("ReadBulk() = %q, want %q", got, payload)
	}
}

func TestReadBulkMissingTerminator(t *testing.T) {
	r := NewReader(strings.NewReader("helloXX"), 0)
	_, err := r.ReadBulk(5)

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("ReadBulk() error = %v, want *ProtocolError", err)
	}
}

func TestReadBulkReturnsCopy(t *testing.T) {
	r := NewReader(strings.NewReader("first\r\nsecond\r\n"), 0)

	first, err := r.ReadBulk(5)
	if err != nil {
		t.Fatalf("ReadBulk() error = %v", err)
	}
	if _, err := r.ReadBulk(6); err != nil {
		t.Fatalf("ReadBulk() error = %v", err)
	}
	if string(first) != "first" {
		t.Errorf("first bulk corrupted by second read: %q", first)
	}
}

func TestSkip(t *testing.T) {
	r := NewReader(strings.NewReader("abcdef"), 0)
	if err := r.Skip(3); err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	b, err := r.ReadByte()
	if err != nil {
		t.Fatalf("ReadByte() error = %v", err)
	}
	if b != 'd' {
		t.Errorf("ReadByte() after Skip = %q, want 'd'", b)
	}
}

func TestBufferGrowsForLargePayload(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 3*defaultChunkSize)
	var src bytes.Buffer
	src.Write(payload)
	src.WriteString("\r\n")

	r := NewReader(&src, 0)
	got, err := r.ReadBulk(len(payload))
	if err != nil {
		t.Fatalf("ReadBulk() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("large payload corrupted")
	}
}

func TestBufferShrinksAfterLargePayload(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 2*shrinkCutoff)
	var src bytes.Buffer
	src.Write(payload)
	src.WriteString("\r\nok\r\n")

	r := NewReader(&src, 0)
	if _, err := r.ReadBulk(len(payload)); err != nil {
		t.Fatalf("ReadBulk() error = %v", err)
	}

	// The next fill reclaims the oversized buffer.
	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine() error = %v", err)
	}
	if string(line) != "ok" {
		t.Errorf("ReadLine() = %q, want %q", line, "ok")
	}
	if cap(r.buf) > shrinkCutoff {
		t.Errorf("buffer capacity %d not shrunk below %d", cap(r.buf), shrinkCutoff)
	}
}

func TestWithReadTimeoutRestores(t *testing.T) {
	r := NewReader(strings.NewReader("x"), time.Second)

	err := r.WithReadTimeout(time.Millisecond, func() error {
		if r.timeout != time.Millisecond {
			t.Errorf("timeout inside override = %v", r.timeout)
		}
		return errors.New("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("WithReadTimeout() error = %v", err)
	}
	if r.timeout != time.Second {
		t.Errorf("timeout after override = %v, want 1s", r.timeout)
	}
}

func TestReadTimeoutMapsToTimeoutError(t *testing.T) {
	r := NewReader(&timeoutReader{}, time.Millisecond)
	_, err := r.ReadLine()

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("ReadLine() error = %v, want *TimeoutError", err)
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout() = false for timeout error")
	}
}

// iotest yields one byte per Read call.
type iotest struct {
	data []byte
	off  int
}

func (s *iotest) Read(p []byte) (int, error) {
	if s.off >= len(s.data) {
		return 0, io.EOF
	}
	p[0] = s.data[s.off]
	s.off++
	return 1, nil
}

// timeoutReader fails every read with a net.Error timeout.
type timeoutReader struct{}

func (timeoutReader) Read(p []byte) (int, error) {
	return 0, timeoutNetError{}
}

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }
