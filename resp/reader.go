package resp

import (
	"io"
	"net"
	"time"
)

const (
	// defaultChunkSize is the granularity of stream reads and the capacity
	// the buffer shrinks back to after a large response.
	defaultChunkSize = 4096

	// shrinkCutoff is the high-water mark above which a fully consumed
	// buffer is reallocated, so one large response does not pin memory for
	// the lifetime of the connection.
	shrinkCutoff = 64 * 1024
)

// readDeadliner is the capability the reader needs to bound reads.
// net.Conn implements it; in-memory test streams usually don't, in which
// case reads are unbounded.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Reader is a buffered RESP3 stream reader. It maintains a single growable
// buffer and a read offset; bytes before the offset are consumed and
// reclaimed on the next refill.
//
// A Reader is exclusively owned by one connection and is not safe for
// concurrent use. Slices returned by ReadLine are views into the internal
// buffer and are only valid until the next read.
type Reader struct {
	src      io.Reader
	deadline readDeadliner // nil when src has no deadline support
	timeout  time.Duration

	buf []byte
	pos int
}

// NewReader returns a Reader over src. A zero timeout means reads block
// indefinitely.
func NewReader(src io.Reader, timeout time.Duration) *Reader {
	r := &Reader{
		src:     src,
		timeout: timeout,
		buf:     make([]byte, 0, defaultChunkSize),
	}
	if d, ok := src.(readDeadliner); ok {
		r.deadline = d
	}
	return r
}

// Reset discards buffered data and retargets the reader at src.
func (r *Reader) Reset(src io.Reader) {
	r.src = src
	r.deadline = nil
	if d, ok := src.(readDeadliner); ok {
		r.deadline = d
	}
	r.buf = r.buf[:0]
	r.pos = 0
}

// Buffered returns the number of unread bytes currently held.
func (r *Reader) Buffered() int { return len(r.buf) - r.pos }

// WithReadTimeout runs fn with the read timeout overridden to d, restoring
// the previous timeout on every exit path.
func (r *Reader) WithReadTimeout(d time.Duration, fn func() error) error {
	prev := r.timeout
	r.timeout = d
	defer func() { r.timeout = prev }()
	return fn()
}

// fill ensures at least min unread bytes are buffered, reading from the
// stream as needed.
//
// Returns io.EOF only when the stream is closed and nothing at all is
// buffered: the clean between-frames boundary. EOF with a partial frame
// buffered is a *ConnError, timeouts are *TimeoutError.
func (r *Reader) fill(min int) error {
	if r.Buffered() >= min {
		return nil
	}

	// Fully consumed: reclaim the whole buffer. Shrink it back down if an
	// earlier large response grew it past the cutoff.
	if r.pos == len(r.buf) {
		if cap(r.buf) > shrinkCutoff {
			r.buf = make([]byte, 0, defaultChunkSize)
		} else {
			r.buf = r.buf[:0]
		}
		r.pos = 0
	}

	for r.Buffered() < min {
		if free := cap(r.buf) - len(r.buf); free < defaultChunkSize {
			r.grow(min)
		}

		if r.deadline != nil {
			if r.timeout > 0 {
				r.deadline.SetReadDeadline(time.Now().Add(r.timeout))
			} else {
				r.deadline.SetReadDeadline(time.Time{})
			}
		}

		n, err := r.src.Read(r.buf[len(r.buf):cap(r.buf)])
		r.buf = r.buf[:len(r.buf)+n]

		if err != nil {
			if r.Buffered() >= min {
				return nil
			}
			return r.readError(err)
		}
	}
	return nil
}

// grow makes room for at least need more bytes, compacting consumed bytes
// to the front before allocating.
func (r *Reader) grow(need int) {
	unread := r.Buffered()

	// Compact first: the consumed prefix is free space.
	if r.pos > 0 {
		copy(r.buf, r.buf[r.pos:])
		r.buf = r.buf[:unread]
		r.pos = 0
		if cap(r.buf)-len(r.buf) >= defaultChunkSize && cap(r.buf) >= need {
			return
		}
	}

	newCap := cap(r.buf) * 2
	if newCap < defaultChunkSize {
		newCap = defaultChunkSize
	}
	for newCap < unread+need {
		newCap *= 2
	}
	nb := make([]byte, unread, newCap)
	copy(nb, r.buf[r.pos:])
	r.buf = nb
	r.pos = 0
}

// readError maps a stream failure onto the package error taxonomy.
func (r *Reader) readError(err error) error {
	if err == io.EOF {
		if len(r.buf) == 0 || r.pos == len(r.buf) {
			return io.EOF
		}
		return &ConnError{Op: "read", Err: io.ErrUnexpectedEOF}
	}
	var ne net.Error
	if isNetTimeout(err, &ne) {
		return &TimeoutError{Op: "read", Err: err}
	}
	return &ConnError{Op: "read", Err: err}
}

// ReadByte returns the next byte, refilling from the stream if needed.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.fill(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadLine returns the bytes up to the next CRLF, consuming the terminator
// but not returning it. The returned slice points into the internal buffer
// and is only valid until the next read.
func (r *Reader) ReadLine() ([]byte, error) {
	scanned := 0
	for {
		// Scan only bytes not examined on a previous pass.
		avail := r.buf[r.pos:]
		for i := scanned; i+1 < len(avail); i++ {
			if avail[i] == '\r' && avail[i+1] == '\n' {
				line := avail[:i]
				r.pos += i + 2
				return line, nil
			}
		}
		if n := len(avail) - 1; n > 0 {
			scanned = n
		}
		if err := r.fill(r.Buffered() + 1); err != nil {
			return nil, err
		}
	}
}

// ReadInt parses a signed ASCII integer terminated by CRLF, accumulating
// digits in place instead of materializing a line first. The single-digit
// shape (":0\r\n" and friends) is by far the most common and is resolved
// without entering the loop.
func (r *Reader) ReadInt() (int64, error) {
	if err := r.fill(3); err != nil {
		return 0, err
	}

	// Fast path: one digit plus CRLF already buffered.
	if b := r.buf[r.pos]; b >= '0' && b <= '9' &&
		r.buf[r.pos+1] == '\r' && r.buf[r.pos+2] == '\n' {
		r.pos += 3
		return int64(b - '0'), nil
	}

	neg := false
	if r.buf[r.pos] == '-' {
		neg = true
		r.pos++
	}

	var n int64
	digits := 0
	for {
		if err := r.fill(1); err != nil {
			return 0, err
		}
		b := r.buf[r.pos]
		if b == '\r' {
			break
		}
		if b < '0' || b > '9' {
			return 0, &ProtocolError{Message: "invalid character " + quoteByte(b) + " in integer"}
		}
		n = n*10 + int64(b-'0')
		digits++
		r.pos++
	}
	if digits == 0 {
		return 0, &ProtocolError{Message: "empty integer"}
	}
	if err := r.skipCRLF(); err != nil {
		return 0, err
	}
	if neg {
		return -n, nil
	}
	return n, nil
}

// ReadBulk returns exactly n bytes followed by a discarded CRLF terminator.
// The returned slice is an owned copy.
func (r *Reader) ReadBulk(n int) ([]byte, error) {
	if err := r.fill(n + 2); err != nil {
		return nil, err
	}
	if r.buf[r.pos+n] != '\r' || r.buf[r.pos+n+1] != '\n' {
		return nil, &ProtocolError{Message: "bulk payload missing CRLF terminator"}
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n + 2
	return out, nil
}

// ReadFull returns exactly n bytes with no terminator semantics.
func (r *Reader) ReadFull(n int) ([]byte, error) {
	if err := r.fill(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// Skip discards exactly n bytes.
func (r *Reader) Skip(n int) error {
	if err := r.fill(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

// skipCRLF consumes a CRLF terminator, failing if anything else is present.
func (r *Reader) skipCRLF() error {
	if err := r.fill(2); err != nil {
		return err
	}
	if r.buf[r.pos] != '\r' || r.buf[r.pos+1] != '\n' {
		return &ProtocolError{Message: "expected CRLF terminator"}
	}
	r.pos += 2
	return nil
}

func isNetTimeout(err error, ne *net.Error) bool {
	if e, ok := err.(net.Error); ok && e.Timeout() {
		*ne = e
		return true
	}
	return false
}

func quoteByte(b byte) string {
	return "'" + string(rune(b)) + "'"
}
