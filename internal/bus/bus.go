// Package bus implements the synchronous EventBus that carries every
// phase transition, tool call, and decision between the Orchestrator and
// its observers (Tracer, console subscriber).
package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/loopworks/agentcore/internal/types"
)

// Handler receives one published payload. It must not retain it beyond the
// call — payloads are not copied for isolation, so a handler that stores
// or mutates one risks a data race with whoever published it.
type Handler func(payload any)

// TapHandler receives every published event along with its type, since a
// tap (unlike a type-scoped Subscribe handler) doesn't already know what it
// is looking at.
type TapHandler func(t types.EventType, payload any)

// Bus is the observable event bus. Publish calls every subscriber's
// handler synchronously and in subscription order, because the Orchestrator
// needs the Tracer to have durably recorded an event before the phase that
// produced it is considered complete (§4.10).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[types.EventType][]Handler
	taps        []TapHandler
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[types.EventType][]Handler),
	}
}

// Subscribe registers handler to run, in order, on every Publish of t.
func (b *Bus) Subscribe(t types.EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], handler)
}

// Tap registers handler to run on every Publish regardless of event type,
// after the type-specific subscribers for that event. Used by the Tracer
// and the console subscriber, which both need to see everything.
func (b *Bus) Tap(handler TapHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps = append(b.taps, handler)
}

// Publish invokes every subscriber of t, then every tap, in registration
// order. A handler panic is recovered and logged; it never aborts delivery
// to the remaining handlers and never escapes to the caller — one
// misbehaving observer must not corrupt the Orchestrator's own control flow.
func (b *Bus) Publish(t types.EventType, payload any) {
	b.mu.RLock()
	subs := append([]Handler(nil), b.subscribers[t]...)
	taps := append([]TapHandler(nil), b.taps...)
	b.mu.RUnlock()

	for _, h := range subs {
		b.invokeSub(t, h, payload)
	}
	for _, h := range taps {
		b.invokeTap(t, h, payload)
	}
}

func (b *Bus) invokeSub(t types.EventType, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("bus handler panicked", "event", string(t), "panic", fmt.Sprint(r))
		}
	}()
	h(payload)
}

func (b *Bus) invokeTap(t types.EventType, h TapHandler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("bus tap panicked", "event", string(t), "panic", fmt.Sprint(r))
		}
	}()
	h(t, payload)
}
