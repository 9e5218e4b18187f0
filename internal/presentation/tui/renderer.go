package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Renderer is a stream.Emitter for interactive terminals: assistant text is rendered
// as markdown, actions and errors are colored.
type Renderer struct {
	w       io.Writer
	out     *termenv.Output
	md      *glamour.TermRenderer
	verbose bool

	mu   sync.Mutex
	last domain.OutputEvent
}

// NewRenderer creates a renderer writing to w. Progress events are shown only when
// verbose is set.
func NewRenderer(w io.Writer, verbose bool) (*Renderer, error) {
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &Renderer{w: w, out: termenv.NewOutput(w), md: md, verbose: verbose}, nil
}

// Emit implements stream.Emitter.
func (r *Renderer) Emit(ctx context.Context, ev domain.OutputEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	switch ev.Type {
	case domain.EventChunk:
		text, rerr := r.md.Render(ev.Text)
		if rerr != nil {
			text = ev.Text + "\n"
		}
		_, err = io.WriteString(r.w, text)
	case domain.EventProgress:
		if r.verbose {
			_, err = fmt.Fprintln(r.w, r.out.String("... "+ev.Message).Faint())
		}
	case domain.EventError:
		_, err = fmt.Fprintln(r.w, r.out.String(fmt.Sprintf("! %s (%s)", ev.Message, ev.Kind)).Foreground(r.out.Color("#f87171")))
	case domain.EventFollowUps:
		if len(ev.Items) > 0 {
			_, err = fmt.Fprintln(r.w, r.out.String("You could ask: "+strings.Join(ev.Items, " / ")).Italic())
		}
	case domain.EventState:
		r.last = ev
		if r.verbose {
			_, err = fmt.Fprintln(r.w, r.out.String("["+string(ev.State)+"]").Faint())
		}
	case domain.EventDone:
		if len(r.last.Actions) > 0 {
			_, err = fmt.Fprintln(r.w, r.out.String(strings.Join(r.last.Actions, " | ")).Foreground(r.out.Color("#84cc16")))
		}
	}
	return err
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
