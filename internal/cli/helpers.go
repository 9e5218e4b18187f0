package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext is a context cancelled on SIGINT or SIGTERM that remembers which
// signal arrived.
type SignalContext struct {
	context.Context
	Cancel func()
}

// signalCause is the cancellation cause recorded when a signal arrives.
type signalCause struct {
	sig os.Signal
}

func (c signalCause) Error() string {
	return "received " + c.sig.String()
}

// NewSignalContext starts watching for SIGINT and SIGTERM until the returned context is done.
func NewSignalContext(parent context.Context) *SignalContext {
	ctx, cancel := context.WithCancelCause(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			cancel(signalCause{sig: sig})
		case <-ctx.Done():
		}
	}()
	return &SignalContext{Context: ctx, Cancel: func() { cancel(nil) }}
}

// Signal returns the signal that cancelled the context, or nil.
func (sc *SignalContext) Signal() os.Signal {
	var cause signalCause
	if errors.As(context.Cause(sc.Context), &cause) {
		return cause.sig
	}
	return nil
}

// systemMessage prints a standardized system message.
func systemMessage(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, ">>> %s\n", fmt.Sprintf(format, args...))
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}
