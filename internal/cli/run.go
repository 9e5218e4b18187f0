package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/sasya"
	"github.com/aretw0/sasya/internal/presentation/tui"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/stream"
)

// RunOptions contains all the configuration for the chat command.
type RunOptions struct {
	SessionID string
	JSON      bool
	Verbose   bool
	Context   string // Raw JSON string
	Fresh     bool

	// Rich renders markdown and colors for an interactive terminal.
	Rich bool
}

// Chatter is the part of sasya.Engine the chat loop drives.
type Chatter interface {
	Stream(ctx context.Context, req sasya.TurnRequest, out stream.Emitter) (*sasya.TurnResult, error)
	Reset(ctx context.Context, id string) (*domain.Session, error)
}

// Chat reads one message per line from in and streams each turn to out.
//
// Lines starting with a slash are commands:
//   - /image <path> attaches a photo to the next message
//   - /reset starts the conversation over
//   - /quit ends the loop
func Chat(ctx context.Context, eng Chatter, opts RunOptions, in io.Reader, out io.Writer) error {
	var initial map[string]any
	if opts.Context != "" {
		if err := json.Unmarshal([]byte(opts.Context), &initial); err != nil {
			return fmt.Errorf("error parsing --context JSON: %w", err)
		}
	}

	sessionID := opts.SessionID
	if opts.Fresh && sessionID != "" {
		if _, err := eng.Reset(ctx, sessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return fmt.Errorf("failed to reset session: %w", err)
		}
	}

	var emitter stream.Emitter = &stream.Text{W: out, Verbose: opts.Verbose}
	switch {
	case opts.JSON:
		emitter = stream.NewJSONLines(out)
	case opts.Rich:
		r, err := tui.NewRenderer(out, opts.Verbose)
		if err != nil {
			return err
		}
		tui.PrintBanner(out, sasya.Version)
		emitter = r
	}
	quiet := opts.JSON

	lines := readLines(ctx, in)
	var image []byte
	for {
		if !quiet {
			fmt.Fprint(out, "> ")
		}
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		if cmd, arg, isCmd := parseCommand(line); isCmd {
			switch cmd {
			case "quit", "exit":
				return nil
			case "reset":
				if sessionID == "" {
					continue
				}
				if _, err := eng.Reset(ctx, sessionID); err != nil {
					return fmt.Errorf("failed to reset session: %w", err)
				}
				if !quiet {
					systemMessage(out, "Session '%s' reset.", sessionID)
				}
			case "image":
				data, err := os.ReadFile(arg)
				if err != nil {
					systemMessage(out, "Cannot read image: %v", err)
					continue
				}
				image = data
				if !quiet {
					systemMessage(out, "Attached %s (%d bytes) to the next message.", arg, len(data))
				}
			default:
				systemMessage(out, "Unknown command /%s", cmd)
			}
			continue
		}

		req := sasya.TurnRequest{SessionID: sessionID, Message: line, Image: image, Context: initial}
		res, err := eng.Stream(ctx, req, emitter)
		if err != nil && !errors.Is(err, domain.ErrSessionBusy) {
			if isInterrupted(err) {
				return nil
			}
			return err
		}
		image, initial = nil, nil
		if res != nil && sessionID == "" {
			sessionID = res.SessionID
			if !quiet {
				systemMessage(out, "Session '%s' active.", sessionID)
			}
		}
	}
}

func parseCommand(line string) (cmd, arg string, ok bool) {
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	cmd, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg), true
}

// readLines feeds lines from r until EOF or until ctx is canceled. The scanner
// goroutine may stay blocked on a terminal read after cancellation; it exits with
// the process.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
