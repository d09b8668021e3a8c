package testutils

import (
	"bytes"
	"net"
	"strings"
	"sync"
	"time"
)

// HelloReply is a minimal RESP3 reply to the HELLO handshake, for
// preloading mock connections.
const HelloReply = "%3\r\n$6\r\nserver\r\n$5\r\nredis\r\n$7\r\nversion\r\n$5\r\n7.4.0\r\n$5\r\nproto\r\n:3\r\n"

// ConnectionMock is a scripted net.Conn: reads serve pre-queued RESP
// frames, writes are captured for inspection.
type ConnectionMock struct {
	mu       sync.Mutex
	readBuf  *bytes.Buffer
	writeBuf *bytes.Buffer
	readErr  error
	closed   bool
}

// NewConnectionMock creates a mock connection whose reads serve the given
// frames in order.
func NewConnectionMock(frames ...string) *ConnectionMock {
	return &ConnectionMock{
		readBuf:  bytes.NewBufferString(strings.Join(frames, "")),
		writeBuf: &bytes.Buffer{},
	}
}

// QueueReply appends a frame to the pending read data.
func (m *ConnectionMock) QueueReply(frame string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBuf.WriteString(frame)
}

// FailReads makes every subsequent Read return err once the queued frames
// are drained.
func (m *ConnectionMock) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

func (m *ConnectionMock) Read(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readBuf.Len() == 0 && m.readErr != nil {
		return 0, m.readErr
	}
	return m.readBuf.Read(b)
}

func (m *ConnectionMock) Write(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeBuf.Write(b)
}

func (m *ConnectionMock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *ConnectionMock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Written returns the raw request bytes written to the mock connection.
func (m *ConnectionMock) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeBuf.String()
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6379}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error      { return nil }
func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return nil }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }
