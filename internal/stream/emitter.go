package stream

import "sync"

// Event Channel signal names. Exactly one EventError or one EventEnd, never
// both, terminates a request's event sequence.
const (
	EventChunk = "chunk" // payload: a raw text fragment
	EventError = "error" // payload: human-readable message
	EventEnd   = "end"   // no payload
)

// Listener receives an event payload. For EventEnd the payload is empty.
type Listener func(payload string)

// Emitter is the event channel for one in-flight request: the producer
// (an LLM provider) emits chunk/error/end signals, consumers listen.
// Emit dispatches serially under the lock, so listeners for a single
// emitter never observe interleaved events.
type Emitter struct {
	mu        sync.Mutex
	nextID    int
	listeners map[string]map[int]Listener
}

// NewEmitter creates an emitter with no listeners.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string]map[int]Listener)}
}

// On registers a listener for the named event and returns an unlisten
// function. Unlistening twice is a no-op.
func (e *Emitter) On(event string, fn Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	if e.listeners[event] == nil {
		e.listeners[event] = make(map[int]Listener)
	}
	e.listeners[event][id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners[event], id)
	}
}

// Emit invokes every listener registered for the named event.
func (e *Emitter) Emit(event, payload string) {
	e.mu.Lock()
	fns := make([]Listener, 0, len(e.listeners[event]))
	for _, fn := range e.listeners[event] {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}

// ListenerCount reports how many listeners are registered for the named
// event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}
