// Package nats publishes turn events to a NATS subject tree so other systems
// (dashboards, analytics, agronomist consoles) can follow conversations live.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/ports"
	"github.com/nats-io/nats.go"
)

// DefaultPrefix roots every subject.
const DefaultPrefix = "sasya.events"

// publisher is the part of *nats.Conn the sink uses.
type publisher interface {
	Publish(subj string, data []byte) error
}

// Sink implements ports.EventSink. Events land on <prefix>.<session>.<type>.
type Sink struct {
	pub    publisher
	conn   *nats.Conn
	prefix string
}

// Connect dials the server at url.
func Connect(url, prefix string, opts ...nats.Option) (*Sink, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	opts = append([]nats.Option{nats.Name("sasya")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	s := newSink(nc, prefix)
	s.conn = nc
	return s, nil
}

func newSink(pub publisher, prefix string) *Sink {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Sink{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

// Publish implements ports.EventSink.
func (s *Sink) Publish(ctx context.Context, event domain.OutputEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := s.pub.Publish(s.Subject(event), data); err != nil {
		return fmt.Errorf("nats publish: %w: %w", domain.ErrDependencyUnavailable, err)
	}
	return nil
}

// Subject returns the subject an event is published on.
func (s *Sink) Subject(event domain.OutputEvent) string {
	id := token(event.SessionID)
	if id == "" {
		id = "_"
	}
	return s.prefix + "." + id + "." + string(event.Type)
}

// Close drains pending messages and closes the connection.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// token strips characters NATS treats as subject separators or wildcards.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

var _ ports.EventSink = (*Sink)(nil)
