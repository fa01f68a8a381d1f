package stream

import (
	"errors"
	"io"
	"sync"

	"arbor/internal/domain"
)

// ErrCancelled is returned by Read after the consumer has closed the stream.
var ErrCancelled = errors.New("stream cancelled")

// bridgeState tracks the lifecycle of one bridged stream. Transitions only
// move forward; closed, errored and cancelled are terminal.
type bridgeState int

const (
	stateAwaitingFirstEvent bridgeState = iota
	stateStreaming
	stateClosed
	stateErrored
	stateCancelled
)

// Bridge converts the push-based chunk/error/end event sequence of one
// request into a single pull-based byte stream. Chunks are queued FIFO in
// arrival order; Read blocks until data or a terminal signal arrives.
//
// Listeners are registered in NewBridge, before the backend call is
// triggered via Start, so no early event can be missed. Teardown
// (deregistering all three listeners) happens exactly once, on the first
// terminal signal or on Close, whichever comes first; a second terminal
// signal after teardown is a no-op.
type Bridge struct {
	mu   sync.Mutex
	cond *sync.Cond

	state    bridgeState
	queue    [][]byte // chunks not yet handed to the reader
	partial  []byte   // remainder of the chunk currently being read
	err      error    // terminal error, set once in stateErrored
	unlisten []func()
	tornDown bool
}

// NewBridge subscribes to the channel's chunk, error and end events and
// returns a bridge in its initial state. The caller must follow up with
// Start to trigger the backend call.
func NewBridge(ch *Emitter) *Bridge {
	b := &Bridge{}
	b.cond = sync.NewCond(&b.mu)

	b.unlisten = []func(){
		ch.On(EventChunk, b.onChunk),
		ch.On(EventError, b.onError),
		ch.On(EventEnd, b.onEnd),
	}

	return b
}

// Start triggers the backend call. If the invocation rejects synchronously
// the stream is failed and all listeners are deregistered; this path must
// not leave dangling subscriptions.
func (b *Bridge) Start(invoke func() error) {
	if err := invoke(); err != nil {
		b.fail(&domain.TransportError{Message: err.Error()})
	}
}

// Read implements io.Reader. Queued chunks received before a terminal
// signal are always delivered; after the queue drains, Read returns io.EOF
// on graceful end, the backend error on failure, or ErrCancelled after
// Close.
func (b *Bridge) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if len(b.partial) > 0 {
			n := copy(p, b.partial)
			b.partial = b.partial[n:]
			return n, nil
		}
		if len(b.queue) > 0 {
			b.partial = b.queue[0]
			b.queue = b.queue[1:]
			continue
		}

		switch b.state {
		case stateClosed:
			return 0, io.EOF
		case stateErrored:
			return 0, b.err
		case stateCancelled:
			return 0, ErrCancelled
		}

		b.cond.Wait()
	}
}

// Close cancels the stream on behalf of the consumer: all subscriptions are
// deregistered immediately and any event arriving afterwards is dropped,
// never enqueued. Closing an already-terminated bridge is a no-op.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.state == stateAwaitingFirstEvent || b.state == stateStreaming {
		b.state = stateCancelled
	}
	b.cond.Broadcast()
	b.mu.Unlock()

	b.teardown()
	return nil
}

// Err returns the terminal error, or nil if the stream has not failed.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Bridge) onChunk(payload string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Late events after cancellation or a terminal signal are dropped.
	if b.state != stateAwaitingFirstEvent && b.state != stateStreaming {
		return
	}
	b.state = stateStreaming
	b.queue = append(b.queue, []byte(payload))
	b.cond.Broadcast()
}

func (b *Bridge) onError(payload string) {
	b.fail(&domain.TransportError{Message: payload})
}

func (b *Bridge) onEnd(string) {
	b.mu.Lock()
	if b.state == stateAwaitingFirstEvent || b.state == stateStreaming {
		b.state = stateClosed
	}
	b.cond.Broadcast()
	b.mu.Unlock()

	b.teardown()
}

// fail marks the stream errored. A second terminal signal after the first
// is a no-op - the state check makes double failure safe.
func (b *Bridge) fail(err error) {
	b.mu.Lock()
	if b.state == stateAwaitingFirstEvent || b.state == stateStreaming {
		b.state = stateErrored
		b.err = err
	}
	b.cond.Broadcast()
	b.mu.Unlock()

	b.teardown()
}

// teardown deregisters all listeners exactly once. Safe to call from any
// terminal path; subsequent calls do nothing.
func (b *Bridge) teardown() {
	b.mu.Lock()
	if b.tornDown {
		b.mu.Unlock()
		return
	}
	b.tornDown = true
	fns := b.unlisten
	b.unlisten = nil
	b.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
