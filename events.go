package redis

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventKind names a lifecycle event.
type EventKind int

const (
	// Connection-level events.
	EventConnected EventKind = iota
	EventDisconnected
	EventReconnected
	EventError

	// Pool-level events.
	EventPoolCreated
	EventConnAcquired
	EventConnReleased
	EventPoolExhausted
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnected:
		return "reconnected"
	case EventError:
		return "error"
	case EventPoolCreated:
		return "pool_created"
	case EventConnAcquired:
		return "connection_acquired"
	case EventConnReleased:
		return "connection_released"
	case EventPoolExhausted:
		return "pool_exhausted"
	}
	return "unknown"
}

// Event is the structured payload delivered to listeners.
type Event struct {
	Kind EventKind
	Time time.Time
	Addr string // host:port or socket path

	// Err is set for EventError and EventPoolExhausted.
	Err error

	// Pool fields, set for pool-level events.
	WaitTime    time.Duration
	ActiveConns int32
	IdleConns   int32
}

// Listener receives events. Listeners must not block; slow work should be
// handed off.
type Listener func(Event)

// emitter fans events out to registered listeners. It is shared by the
// client and every connection belonging to it, so one subscription observes
// the whole lifecycle.
type emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[EventKind]map[int]Listener
	logger    zerolog.Logger
}

func newEmitter(logger zerolog.Logger) *emitter {
	return &emitter{
		listeners: make(map[EventKind]map[int]Listener),
		logger:    logger,
	}
}

// subscribe registers fn for kind and returns a cancel function that
// removes it.
func (e *emitter) subscribe(kind EventKind, fn Listener) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners[kind] == nil {
		e.listeners[kind] = make(map[int]Listener)
	}
	id := e.nextID
	e.nextID++
	e.listeners[kind][id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners[kind], id)
	}
}

// emit delivers ev to every listener registered for its kind. A panicking
// listener is logged and never aborts the operation that triggered the
// event.
func (e *emitter) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.mu.RLock()
	fns := make([]Listener, 0, len(e.listeners[ev.Kind]))
	for _, fn := range e.listeners[ev.Kind] {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		e.safeInvoke(fn, ev)
	}
}

func (e *emitter) safeInvoke(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("event", ev.Kind.String()).
				Str("addr", ev.Addr).
				Interface("panic", r).
				Msg("event listener panicked")
		}
	}()
	fn(ev)
}
