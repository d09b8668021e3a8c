package redis

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coralkv/redis/resp"
)

// Message is one pub/sub delivery. Pattern is empty for plain channel
// subscriptions and holds the matching pattern for PSUBSCRIBE deliveries.
type Message struct {
	Channel string
	Pattern string
	Payload []byte
}

// PubSub is a subscriber over one dedicated connection. Once subscribed,
// the server sends everything as push frames, so the connection cannot be
// shared with regular commands; a background loop reads deliveries into
// the Messages channel.
type PubSub struct {
	conn   *Connection
	logger zerolog.Logger

	sendMu sync.Mutex // serializes subscribe/unsubscribe writes

	messages chan Message
	done     chan struct{}

	mu       sync.Mutex
	channels map[string]struct{}
	patterns map[string]struct{}
	err      error
	closed   bool
}

// NewPubSub dials a dedicated subscriber connection. Reads block until the
// server pushes a delivery, so the configured ReadTimeout does not apply.
func NewPubSub(ctx context.Context, cfg Config) (*PubSub, error) {
	cfg.ReadTimeout = 0
	ps := &PubSub{
		conn:     NewConnection(&cfg, nil),
		logger:   cfg.Logger,
		messages: make(chan Message, 64),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
	}
	if err := ps.conn.Connect(ctx); err != nil {
		return nil, err
	}
	go ps.listen()
	return ps, nil
}

// PubSub opens a dedicated subscriber connection to the client's server.
// The connection lives outside the pool and must be closed separately.
func (c *Client) PubSub(ctx context.Context) (*PubSub, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return NewPubSub(ctx, c.cfg)
}

// Messages returns the delivery channel. It is closed when the subscriber
// shuts down; check Err afterwards to distinguish Close from a transport
// failure.
func (ps *PubSub) Messages() <-chan Message {
	return ps.messages
}

// Err returns the terminal error that stopped the subscriber, or nil after
// a clean Close.
func (ps *PubSub) Err() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.err
}

// Subscribe adds channel subscriptions. The server confirms each one with
// a push frame consumed by the read loop.
func (ps *PubSub) Subscribe(channels ...string) error {
	if err := ps.send("SUBSCRIBE", channels); err != nil {
		return err
	}
	ps.mu.Lock()
	for _, ch := range channels {
		ps.channels[ch] = struct{}{}
	}
	ps.mu.Unlock()
	return nil
}

// PSubscribe adds pattern subscriptions.
func (ps *PubSub) PSubscribe(patterns ...string) error {
	if err := ps.send("PSUBSCRIBE", patterns); err != nil {
		return err
	}
	ps.mu.Lock()
	for _, p := range patterns {
		ps.patterns[p] = struct{}{}
	}
	ps.mu.Unlock()
	return nil
}

// Unsubscribe removes channel subscriptions; with no arguments it removes
// all of them.
func (ps *PubSub) Unsubscribe(channels ...string) error {
	if err := ps.send("UNSUBSCRIBE", channels); err != nil {
		return err
	}
	ps.mu.Lock()
	if len(channels) == 0 {
		ps.channels = make(map[string]struct{})
	} else {
		for _, ch := range channels {
			delete(ps.channels, ch)
		}
	}
	ps.mu.Unlock()
	return nil
}

// PUnsubscribe removes pattern subscriptions; with no arguments it removes
// all of them.
func (ps *PubSub) PUnsubscribe(patterns ...string) error {
	if err := ps.send("PUNSUBSCRIBE", patterns); err != nil {
		return err
	}
	ps.mu.Lock()
	if len(patterns) == 0 {
		ps.patterns = make(map[string]struct{})
	} else {
		for _, p := range patterns {
			delete(ps.patterns, p)
		}
	}
	ps.mu.Unlock()
	return nil
}

// Close shuts down the subscriber and its connection. The Messages channel
// is closed once the read loop exits.
func (ps *PubSub) Close() error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil
	}
	ps.closed = true
	ps.mu.Unlock()

	close(ps.done)
	return ps.conn.Close()
}

// send writes one subscription command. The confirmation arrives as a push
// frame on the read loop, so no reply is read here.
func (ps *PubSub) send(name string, args []string) error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return ErrClosed
	}
	if ps.err != nil {
		err := ps.err
		ps.mu.Unlock()
		return err
	}
	ps.mu.Unlock()

	ps.sendMu.Lock()
	defer ps.sendMu.Unlock()

	anyArgs := make([]any, len(args))
	for i, a := range args {
		anyArgs[i] = a
	}
	buf, err := ps.conn.enc.EncodeCommand(name, anyArgs...)
	if err != nil {
		return err
	}
	_, err = ps.conn.writer.Write(buf)
	return err
}

// listen reads push frames until the connection fails or Close is called.
func (ps *PubSub) listen() {
	defer close(ps.messages)

	for {
		v, err := ps.conn.dec.Decode()
		if err != nil {
			ps.mu.Lock()
			if !ps.closed {
				ps.err = err
			}
			ps.mu.Unlock()
			if ps.Err() != nil {
				ps.logger.Debug().Err(err).Msg("pubsub read loop stopped")
			}
			return
		}

		msg, ok := parseDelivery(v)
		if !ok {
			continue
		}
		select {
		case ps.messages <- msg:
		case <-ps.done:
			return
		}
	}
}

// parseDelivery extracts a Message from a push frame. Subscription
// confirmations and other pushes are not deliveries.
func parseDelivery(v resp.Value) (Message, bool) {
	if len(v.Elems) == 0 {
		return Message{}, false
	}
	switch string(v.Elems[0].Bytes) {
	case "message":
		if len(v.Elems) != 3 {
			return Message{}, false
		}
		return Message{
			Channel: string(v.Elems[1].Bytes),
			Payload: v.Elems[2].Bytes,
		}, true
	case "pmessage":
		if len(v.Elems) != 4 {
			return Message{}, false
		}
		return Message{
			Pattern: string(v.Elems[1].Bytes),
			Channel: string(v.Elems[2].Bytes),
			Payload: v.Elems[3].Bytes,
		}, true
	default:
		return Message{}, false
	}
}

// Channels returns the currently subscribed channel names.
func (ps *PubSub) Channels() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]string, 0, len(ps.channels))
	for ch := range ps.channels {
		out = append(out, ch)
	}
	return out
}

// Patterns returns the currently subscribed patterns.
func (ps *PubSub) Patterns() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]string, 0, len(ps.patterns))
	for p := range ps.patterns {
		out = append(out, p)
	}
	return out
}
