// Package events implements the scheduler's typed event stream (spec.md
// §6 "Event stream (exposed)"): a multi-producer broadcast that every other
// component (policy, mcp, progress, approval, scheduler, thread) emits onto
// and that subscribers attach listener callbacks to.
//
// Modeled per spec.md §9 Design Notes: "the scheduler owns an event channel;
// subscribers receive a handle that, on drop/close, removes their listener."
// A listener that panics is recovered and dropped silently, matching the
// source behavior of never letting a listener error propagate into the
// scheduler.
package events

import "sync"

// Event is one emitted occurrence. Name follows the dotted taxonomy from
// spec.md §6 (e.g. "doom_loop.detected", "policy.tool.blocked"). Data is
// the event-specific payload, typed per emitter.
type Event struct {
	Name string
	Data any
}

// Listener receives events emitted after it subscribes.
type Listener func(Event)

// Unsubscribe removes a previously registered Listener. Safe to call more
// than once.
type Unsubscribe func()

// Bus is a broadcast multi-producer, multi-consumer event stream. The zero
// value is not usable; construct with New.
type Bus struct {
	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{listeners: make(map[int]Listener)}
}

// On registers a Listener and returns an Unsubscribe handle.
func (b *Bus) On(fn Listener) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Emit satisfies the EventSink shape consumed by internal/policy and other
// components (Emit(name string, data any)). Every registered listener is
// invoked synchronously, in no particular order; a listener panic is
// recovered and swallowed so one bad subscriber can never break emission
// for the rest, or for the emitting caller.
func (b *Bus) Emit(name string, data any) {
	b.mu.RLock()
	fns := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	ev := Event{Name: name, Data: data}
	for _, fn := range fns {
		b.safeCall(fn, ev)
	}
}

func (b *Bus) safeCall(fn Listener, ev Event) {
	defer func() { _ = recover() }()
	fn(ev)
}
