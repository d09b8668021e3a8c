package redis

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestEmitterSubscribe(t *testing.T) {
	e := newEmitter(zerolog.Nop())

	var got []Event
	e.subscribe(EventConnected, func(ev Event) {
		got = append(got, ev)
	})

	e.emit(Event{Kind: EventConnected, Addr: "127.0.0.1:6379"})
	e.emit(Event{Kind: EventDisconnected, Addr: "127.0.0.1:6379"})

	assert.Len(t, got, 1)
	assert.Equal(t, EventConnected, got[0].Kind)
	assert.Equal(t, "127.0.0.1:6379", got[0].Addr)
	assert.False(t, got[0].Time.IsZero())
}

func TestEmitterCancel(t *testing.T) {
	e := newEmitter(zerolog.Nop())

	calls := 0
	cancel := e.subscribe(EventError, func(Event) { calls++ })

	e.emit(Event{Kind: EventError})
	cancel()
	e.emit(Event{Kind: EventError})

	assert.Equal(t, 1, calls)
}

func TestEmitterPanickingListener(t *testing.T) {
	e := newEmitter(zerolog.Nop())

	e.subscribe(EventConnected, func(Event) { panic("boom") })
	delivered := false
	e.subscribe(EventConnected, func(Event) { delivered = true })

	assert.NotPanics(t, func() {
		e.emit(Event{Kind: EventConnected})
	})
	assert.True(t, delivered)
}

func TestEventKindString(t *testing.T) {
	kinds := map[EventKind]string{
		EventConnected:     "connected",
		EventDisconnected:  "disconnected",
		EventReconnected:   "reconnected",
		EventError:         "error",
		EventPoolCreated:   "pool_created",
		EventConnAcquired:  "connection_acquired",
		EventConnReleased:  "connection_released",
		EventPoolExhausted: "pool_exhausted",
		EventKind(99):      "unknown",
	}
	for kind, want := range kinds {
		assert.Equal(t, want, kind.String())
	}
}
