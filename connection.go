package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/coralkv/redis/internal/coarsetime"
	"github.com/coralkv/redis/resp"
	"github.com/rs/zerolog"
)

// ConnState is the connection lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

// PushHandler receives out-of-band push frames (pub/sub deliveries,
// invalidation notices) decoded while a command reply was being read.
type PushHandler func(resp.Value)

// Connection owns one transport stream, one encoder, and one buffered
// reader/writer pair. It is not safe for concurrent use: the pool's
// checkout discipline is the synchronization boundary, and at most one
// goroutine operates a Connection at a time.
//
// A Connection connects lazily on first use and transparently reconnects
// after fork detection or a contaminated reply stream.
type Connection struct {
	cfg    *Config
	logger zerolog.Logger
	events *emitter

	mu     sync.Mutex
	conn   net.Conn
	reader *resp.Reader
	writer *resp.Writer
	enc    *resp.Encoder
	dec    *resp.Decoder
	state  ConnState

	// pendingReads counts requests written whose replies have not been
	// fully consumed. Non-zero at the start of an operation means a prior
	// round trip was interrupted and the reply stream is indeterminate.
	pendingReads int

	// connectedPID is the process identity recorded at connect time. A
	// mismatch means this process inherited the socket through a fork and
	// must not reuse (or close) it.
	connectedPID int

	pushHandler PushHandler
	trackingOn  bool
	lastUsed    time.Time
}

// NewConnection returns an unconnected Connection for cfg. The shared
// emitter may be nil, in which case the connection gets a private one.
func NewConnection(cfg *Config, events *emitter) *Connection {
	if events == nil {
		events = newEmitter(cfg.Logger)
	}
	return &Connection{
		cfg:    cfg,
		logger: cfg.Logger,
		events: events,
		enc:    resp.NewEncoder(),
	}
}

// Dial returns a Connection that is already connected and authenticated.
func Dial(ctx context.Context, cfg *Config) (*Connection, error) {
	c := NewConnection(cfg, nil)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// OnPush registers the handler invoked with push-tagged values decoded
// during a call. Without a handler, pushes are silently discarded; they are
// never returned as command replies.
func (c *Connection) OnPush(fn PushHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushHandler = fn
}

// Subscribe registers a lifecycle event listener on this connection's
// emitter and returns a cancel function.
func (c *Connection) Subscribe(kind EventKind, fn Listener) (cancel func()) {
	return c.events.subscribe(kind, fn)
}

// Connect establishes the transport eagerly. Call and Pipeline connect on
// demand, so calling Connect is only needed to surface dial and handshake
// errors up front, as pool constructors do.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnectedLocked(ctx)
}

// Connected reports whether the transport is currently established.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.conn != nil
}

// PendingReads returns the number of outstanding unread replies.
func (c *Connection) PendingReads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingReads
}

// LastUsed returns when the connection last completed an operation.
func (c *Connection) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

func (c *Connection) pid() int {
	if c.cfg.pidFn != nil {
		return c.cfg.pidFn()
	}
	return os.Getpid()
}

// Call writes one command and reads exactly one reply. A server error reply
// is returned as a *resp.CommandError with the connection left healthy;
// transport, timeout, and protocol failures contaminate the connection so
// the next operation reconnects.
func (c *Connection) Call(ctx context.Context, name string, args ...any) (resp.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked(ctx); err != nil {
		return resp.Value{}, err
	}

	buf, err := c.enc.EncodeCommand(name, args...)
	if err != nil {
		return resp.Value{}, err
	}

	c.pendingReads++
	if _, err := c.writer.Write(buf); err != nil {
		c.operationFailed(err)
		return resp.Value{}, err
	}

	v, err := c.readReply()
	if err != nil {
		c.operationFailed(err)
		return resp.Value{}, err
	}
	c.pendingReads--
	c.lastUsed = coarsetime.Now()

	if v.IsError() {
		return v, v.Err
	}
	return v, nil
}

// Pipeline writes all commands as one batch and reads exactly len(cmds)
// replies in order. A command error for cmds[i] appears as an error value
// at results[i]; it never derails the remaining reads. A transport failure
// partway through leaves pendingReads reflecting the outstanding replies,
// which forces a reconnect on the next operation.
func (c *Connection) Pipeline(ctx context.Context, cmds []resp.Command) ([]resp.Value, error) {
	if len(cmds) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked(ctx); err != nil {
		return nil, err
	}

	buf, err := c.enc.EncodePipeline(cmds)
	if err != nil {
		return nil, err
	}

	c.pendingReads += len(cmds)
	if _, err := c.writer.Write(buf); err != nil {
		c.operationFailed(err)
		return nil, err
	}

	results := make([]resp.Value, 0, len(cmds))
	for range cmds {
		v, err := c.readReply()
		if err != nil {
			c.operationFailed(err)
			return nil, err
		}
		c.pendingReads--
		results = append(results, v)
	}
	c.lastUsed = coarsetime.Now()
	return results, nil
}

// readReply decodes values until one is a command reply, routing push
// frames out of band along the way.
func (c *Connection) readReply() (resp.Value, error) {
	for {
		v, err := c.dec.Decode()
		if err != nil {
			if err == io.EOF {
				// The peer closed the stream while a reply was owed.
				err = &resp.ConnError{Op: "read", Err: io.ErrUnexpectedEOF}
			}
			return resp.Value{}, err
		}
		if v.IsPush() {
			c.dispatchPush(v)
			continue
		}
		return v, nil
	}
}

func (c *Connection) dispatchPush(v resp.Value) {
	fn := c.pushHandler
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("push handler panicked")
		}
	}()
	fn(v)
}

// operationFailed records an interrupted round trip. The socket is left in
// place; pendingReads stays non-zero, so ensureConnected tears the
// connection down before it can be reused.
func (c *Connection) operationFailed(err error) {
	c.events.emit(Event{Kind: EventError, Addr: c.cfg.Addr, Err: err})
}

// ensureConnectedLocked brings the connection to a clean connected state:
//   - a changed process identity means we are a forked child holding the
//     parent's socket: drop our references without closing the handle and
//     dial fresh
//   - outstanding pendingReads mean the reply stream is indeterminate:
//     discard and dial fresh
//   - otherwise connect lazily if needed
func (c *Connection) ensureConnectedLocked(ctx context.Context) error {
	if c.conn != nil && c.connectedPID != c.pid() {
		// The parent still owns the handle; closing it here would yank the
		// socket out from under it.
		c.conn = nil
		c.state = StateDisconnected
		c.pendingReads = 0
		c.events.emit(Event{Kind: EventDisconnected, Addr: c.cfg.Addr})
		return c.connectLocked(ctx)
	}

	if c.conn != nil && c.pendingReads > 0 {
		return c.reconnectLocked(ctx)
	}

	if c.conn == nil {
		return c.connectLocked(ctx)
	}
	return nil
}

// Reconnect resets pending state, closes the transport best-effort, and
// dials again.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectLocked(ctx)
}

func (c *Connection) reconnectLocked(ctx context.Context) error {
	c.pendingReads = 0
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	c.events.emit(Event{Kind: EventReconnected, Addr: c.cfg.Addr})
	return nil
}

// Close releases the transport. It is idempotent, and the connection can be
// revived by a later call through the lazy-connect path.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.state = StateDisconnected
	c.pendingReads = 0
	c.events.emit(Event{Kind: EventDisconnected, Addr: c.cfg.Addr})
	return err
}

func (c *Connection) connectLocked(ctx context.Context) error {
	c.state = StateConnecting

	netConn, err := c.dial(ctx)
	if err != nil {
		c.state = StateDisconnected
		c.events.emit(Event{Kind: EventError, Addr: c.cfg.Addr, Err: err})
		return err
	}

	c.conn = netConn
	if c.reader == nil {
		c.reader = resp.NewReader(netConn, c.cfg.ReadTimeout)
		c.writer = resp.NewWriter(netConn, c.cfg.WriteTimeout)
		c.dec = resp.NewDecoder(c.reader)
	} else {
		c.reader.Reset(netConn)
		c.writer.Reset(netConn)
	}
	c.pendingReads = 0
	c.connectedPID = c.pid()

	if err := c.handshake(); err != nil {
		c.conn.Close()
		c.conn = nil
		c.state = StateDisconnected
		c.events.emit(Event{Kind: EventError, Addr: c.cfg.Addr, Err: err})
		return err
	}

	c.state = StateConnected
	c.lastUsed = coarsetime.Now()
	c.events.emit(Event{Kind: EventConnected, Addr: c.cfg.Addr})
	return nil
}

func (c *Connection) dial(ctx context.Context) (net.Conn, error) {
	if c.cfg.dialer != nil {
		return c.cfg.dialer(ctx)
	}

	d := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	raw, err := d.DialContext(ctx, c.cfg.network(), c.cfg.Addr)
	if err != nil {
		return nil, c.classifyDialError(err)
	}

	if c.cfg.TLS == nil {
		return raw, nil
	}

	tlsConf, err := c.cfg.TLS.Build()
	if err != nil {
		raw.Close()
		return nil, err
	}
	if tlsConf.ServerName == "" && !tlsConf.InsecureSkipVerify {
		host, _, splitErr := net.SplitHostPort(c.cfg.Addr)
		if splitErr == nil {
			tlsConf.ServerName = host
		}
	}

	tlsConn := tls.Client(raw, tlsConf)

	// HandshakeContext drives the handshake under the connect deadline; the
	// runtime netpoller supplies the read/write readiness waits.
	hctx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		raw.Close()
		if isTimeoutErr(err) {
			return nil, &resp.TimeoutError{Op: "handshake", Err: err}
		}
		return nil, &resp.ConnError{Op: "handshake", Err: err}
	}
	return tlsConn, nil
}

// classifyDialError folds transport failures into the package taxonomy.
// Unix-socket failures keep their distinct causes so a misconfigured path,
// a permissions problem, and a dead server are each diagnosable.
func (c *Connection) classifyDialError(err error) error {
	if c.cfg.network() == "unix" {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return &resp.ConnError{Op: "dial", Err: fmt.Errorf("socket path %q does not exist: %w", c.cfg.Addr, err)}
		case errors.Is(err, fs.ErrPermission):
			return &resp.ConnError{Op: "dial", Err: fmt.Errorf("permission denied opening socket %q: %w", c.cfg.Addr, err)}
		case errors.Is(err, syscall.ECONNREFUSED):
			return &resp.ConnError{Op: "dial", Err: fmt.Errorf("connection refused at %q, is the server listening: %w", c.cfg.Addr, err)}
		}
	}
	if isTimeoutErr(err) {
		return &resp.TimeoutError{Op: "dial", Err: err}
	}
	return &resp.ConnError{Op: "dial", Err: err}
}

// handshake authenticates and selects the logical database immediately
// after the transport comes up. It runs on every connect, including
// reconnects.
func (c *Connection) handshake() error {
	helloArgs := []any{3}
	if c.cfg.Password != "" {
		user := c.cfg.Username
		if user == "" {
			user = "default"
		}
		helloArgs = append(helloArgs, "AUTH", user, c.cfg.Password)
	}
	if _, err := c.roundTrip("HELLO", helloArgs...); err != nil {
		return &resp.ConnError{Op: "auth", Err: err}
	}

	if c.cfg.DB != 0 {
		if _, err := c.roundTrip("SELECT", c.cfg.DB); err != nil {
			return &resp.ConnError{Op: "select", Err: err}
		}
	}

	if c.trackingOn {
		if _, err := c.roundTrip("CLIENT", "TRACKING", "ON"); err != nil {
			return &resp.ConnError{Op: "tracking", Err: err}
		}
	}
	return nil
}

// roundTrip performs one command exchange on an already-established
// transport, bypassing ensureConnected. Used by the handshake and probes.
func (c *Connection) roundTrip(name string, args ...any) (resp.Value, error) {
	buf, err := c.enc.EncodeCommand(name, args...)
	if err != nil {
		return resp.Value{}, err
	}
	if _, err := c.writer.Write(buf); err != nil {
		return resp.Value{}, err
	}
	v, err := c.readReply()
	if err != nil {
		return resp.Value{}, err
	}
	if v.IsError() {
		return v, v.Err
	}
	return v, nil
}

// enableTracking makes every (re)connect turn on server-assisted client
// caching, so invalidation pushes flow to the push handler.
func (c *Connection) enableTracking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trackingOn = true
}

// Ping sends a PING to verify liveness.
func (c *Connection) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, "PING")
	return err
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
