package stream

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/aretw0/sasya/pkg/domain"
)

// ErrClosed is returned when emitting to a closed pipe.
var ErrClosed = errors.New("stream closed")

// Emitter consumes the events of a turn in order. An error tells the producer the
// consumer is gone and no further work should be done for it.
type Emitter interface {
	Emit(ctx context.Context, ev domain.OutputEvent) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev domain.OutputEvent) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, ev domain.OutputEvent) error {
	return f(ctx, ev)
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, domain.OutputEvent) error { return nil })

// Multi forwards each event to every emitter in order and stops at the first error.
func Multi(emitters ...Emitter) Emitter {
	return EmitterFunc(func(ctx context.Context, ev domain.OutputEvent) error {
		for _, e := range emitters {
			if err := e.Emit(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// Collector records events in memory.
type Collector struct {
	mu     sync.Mutex
	events []domain.OutputEvent
}

// Emit implements Emitter.
func (c *Collector) Emit(ctx context.Context, ev domain.OutputEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

// Events returns a copy of everything recorded.
func (c *Collector) Events() []domain.OutputEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.OutputEvent(nil), c.events...)
}

// Types returns the event types in order.
func (c *Collector) Types() []domain.EventType {
	var out []domain.EventType
	for _, ev := range c.Events() {
		out = append(out, ev.Type)
	}
	return out
}

// Of returns the events of type t.
func (c *Collector) Of(t domain.EventType) []domain.OutputEvent {
	var out []domain.OutputEvent
	for _, ev := range c.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Text joins all chunk texts with blank lines.
func (c *Collector) Text() string {
	var parts []string
	for _, ev := range c.Of(domain.EventChunk) {
		parts = append(parts, ev.Text)
	}
	return strings.Join(parts, "\n\n")
}

// States returns the states announced, in order.
func (c *Collector) States() []domain.WorkflowState {
	var out []domain.WorkflowState
	for _, ev := range c.Of(domain.EventState) {
		out = append(out, ev.State)
	}
	return out
}
