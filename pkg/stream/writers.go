package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/sasya/pkg/domain"
)

// SSE frames events as Server-Sent Events. The done event is the terminating sentinel.
type SSE struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewSSE writes to w, flushing after each event when w supports it.
func NewSSE(w io.Writer) *SSE {
	s := &SSE{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// PrepareSSE sets the response headers for an event stream.
func PrepareSSE(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Emit implements Emitter.
func (s *SSE) Emit(ctx context.Context, ev domain.OutputEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// JSONLines writes one JSON object per event.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines writes to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

// Emit implements Emitter.
func (j *JSONLines) Emit(ctx context.Context, ev domain.OutputEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(ev)
}

// Text renders events for a terminal: chunks as paragraphs, the final state with its
// actions, errors prefixed. Progress events are shown only when Verbose is set.
type Text struct {
	W       io.Writer
	Verbose bool

	mu   sync.Mutex
	last domain.OutputEvent
}

// Emit implements Emitter.
func (t *Text) Emit(ctx context.Context, ev domain.OutputEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	switch ev.Type {
	case domain.EventChunk:
		_, err = fmt.Fprintln(t.W, strings.TrimSpace(ev.Text))
	case domain.EventProgress:
		if t.Verbose {
			_, err = fmt.Fprintf(t.W, "... %s\n", ev.Message)
		}
	case domain.EventError:
		_, err = fmt.Fprintf(t.W, "! %s (%s)\n", ev.Message, ev.Kind)
	case domain.EventState:
		t.last = ev
		if t.Verbose {
			_, err = fmt.Fprintf(t.W, "[%s]\n", ev.State)
		}
	case domain.EventDone:
		if t.last.State != "" {
			_, err = fmt.Fprintf(t.W, "[%s] %s\n", t.last.State, strings.Join(t.last.Actions, " | "))
		}
	}
	return err
}
