package stream

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("stream: emitter closed")

// Emitter forwards events from a single producer to a single consumer in
// the order they were emitted. It never drops events: Emit blocks until
// the consumer receives the event or the context is done.
type Emitter struct {
	events chan Event

	mu     sync.Mutex
	closed bool
}

// NewEmitter creates an Emitter. bufferSize bounds how far the producer may
// run ahead of the consumer; zero makes every Emit a hand-off.
func NewEmitter(bufferSize int) *Emitter {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Emitter{events: make(chan Event, bufferSize)}
}

// Emit sends an event to the consumer.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if e.isClosed() {
		return ErrClosed
	}
	if event.Type == EventDone {
		return errors.New("stream: done is emitted by Close")
	}
	select {
	case e.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// doneGrace is how long Close keeps offering Done after ctx has ended, for
// consumers that are still reading.
const doneGrace = time.Second

// Close emits the terminal Done event and closes the channel. If ctx has
// ended, Done is still offered for up to doneGrace before the channel is
// closed without it. Close is idempotent.
func (e *Emitter) Close(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	if !e.sendDone(ctx) {
		grace, cancel := context.WithTimeout(context.WithoutCancel(ctx), doneGrace)
		e.sendDone(grace)
		cancel()
	}
	close(e.events)
}

func (e *Emitter) sendDone(ctx context.Context) bool {
	select {
	case e.events <- Done():
		return true
	default:
	}
	select {
	case e.events <- Done():
		return true
	case <-ctx.Done():
		return false
	}
}

// Events returns a read-only channel of events.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

func (e *Emitter) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Drain reads every remaining event from ch and returns them in order.
func Drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}
