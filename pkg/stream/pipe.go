package stream

import (
	"context"
	"sync"

	"github.com/aretw0/sasya/pkg/domain"
)

// Pipe hands events from a producer goroutine to a consumer through a bounded buffer.
// The producer blocks while the buffer is full, so a slow consumer slows the turn
// instead of growing memory.
type Pipe struct {
	ch     chan domain.OutputEvent
	done   chan struct{}
	once   sync.Once
	closed sync.Once
}

// NewPipe creates a pipe holding up to buffer pending events.
func NewPipe(buffer int) *Pipe {
	if buffer < 0 {
		buffer = 0
	}
	return &Pipe{
		ch:   make(chan domain.OutputEvent, buffer),
		done: make(chan struct{}),
	}
}

// Emit blocks until the event is buffered, the consumer detaches or ctx ends.
func (p *Pipe) Emit(ctx context.Context, ev domain.OutputEvent) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.ch <- ev:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the consumer side. It is closed by Close.
func (p *Pipe) Events() <-chan domain.OutputEvent {
	return p.ch
}

// Close is called by the producer when the turn is over.
func (p *Pipe) Close() {
	p.closed.Do(func() { close(p.ch) })
}

// Detach is called by the consumer when it stops reading, for example on client
// disconnect. Pending and future Emit calls fail with ErrClosed.
func (p *Pipe) Detach() {
	p.once.Do(func() { close(p.done) })
}
