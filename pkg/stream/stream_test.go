package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	ctx := context.Background()
	c := &Collector{}
	require.NoError(t, c.Emit(ctx, domain.StateEvent("s1", domain.StateClarification, []string{"provide_location"})))
	require.NoError(t, c.Emit(ctx, domain.ChunkEvent("s1", "Which district?")))
	require.NoError(t, c.Emit(ctx, domain.ChunkEvent("s1", "Also a photo.")))
	require.NoError(t, c.Emit(ctx, domain.DoneEvent("s1")))

	assert.Equal(t, []domain.EventType{domain.EventState, domain.EventChunk, domain.EventChunk, domain.EventDone}, c.Types())
	assert.Equal(t, "Which district?\n\nAlso a photo.", c.Text())
	assert.Equal(t, []domain.WorkflowState{domain.StateClarification}, c.States())
	assert.Len(t, c.Of(domain.EventError), 0)
}

func TestMulti_StopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	first := &Collector{}
	last := &Collector{}
	m := Multi(first, EmitterFunc(func(context.Context, domain.OutputEvent) error { return boom }), last)

	err := m.Emit(context.Background(), domain.DoneEvent("s1"))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, first.Events(), 1)
	assert.Len(t, last.Events(), 0)
}

func TestPipe_PreservesOrder(t *testing.T) {
	p := NewPipe(1)
	ctx := context.Background()

	go func() {
		defer p.Close()
		for i := 0; i < 5; i++ {
			_ = p.Emit(ctx, domain.ChunkEvent("s1", strings.Repeat("x", i+1)))
		}
		_ = p.Emit(ctx, domain.DoneEvent("s1"))
	}()

	var got []string
	for ev := range p.Events() {
		if ev.Type == domain.EventChunk {
			got = append(got, ev.Text)
		}
	}
	assert.Equal(t, []string{"x", "xx", "xxx", "xxxx", "xxxxx"}, got)
}

func TestPipe_DetachUnblocksProducer(t *testing.T) {
	p := NewPipe(0)
	errc := make(chan error, 1)
	go func() {
		errc <- p.Emit(context.Background(), domain.ChunkEvent("s1", "nobody reads this"))
	}()

	p.Detach()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after Detach")
	}

	assert.ErrorIs(t, p.Emit(context.Background(), domain.DoneEvent("s1")), ErrClosed)
}

func TestPipe_ContextCancel(t *testing.T) {
	p := NewPipe(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Emit(ctx, domain.DoneEvent("s1")), context.Canceled)
}

func TestSSE_Framing(t *testing.T) {
	rec := httptest.NewRecorder()
	PrepareSSE(rec)
	s := NewSSE(rec)
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, domain.StateEvent("s1", domain.StateFollowUp, []string{"confirm_diagnosis"})))
	require.NoError(t, s.Emit(ctx, domain.DoneEvent("s1")))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, frames, 2)
	assert.True(t, strings.HasPrefix(frames[0], "event: state\ndata: "))
	assert.Equal(t, "event: done\ndata: {\"type\":\"done\",\"session_id\":\"s1\"}", frames[1])

	var ev domain.OutputEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "event: state\ndata: ")), &ev))
	assert.Equal(t, domain.StateFollowUp, ev.State)
	assert.Equal(t, []string{"confirm_diagnosis"}, ev.Actions)
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	j := NewJSONLines(&buf)
	ctx := context.Background()
	require.NoError(t, j.Emit(ctx, domain.ChunkEvent("s1", "hello")))
	require.NoError(t, j.Emit(ctx, domain.ErrorEvent("s1", domain.ErrorInvalidInput, "empty")))

	sc := bufio.NewScanner(&buf)
	var types []domain.EventType
	for sc.Scan() {
		var ev domain.OutputEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		types = append(types, ev.Type)
	}
	assert.Equal(t, []domain.EventType{domain.EventChunk, domain.EventError}, types)
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	tx := &Text{W: &buf}
	ctx := context.Background()
	require.NoError(t, tx.Emit(ctx, domain.ProgressEvent("s1", domain.StateClassification, "working")))
	require.NoError(t, tx.Emit(ctx, domain.StateEvent("s1", domain.StatePrescription, []string{"find_vendors", "help"})))
	require.NoError(t, tx.Emit(ctx, domain.ChunkEvent("s1", "  Spray neem oil.  ")))
	require.NoError(t, tx.Emit(ctx, domain.DoneEvent("s1")))

	assert.Equal(t, "Spray neem oil.\n[prescription] find_vendors | help\n", buf.String())
}
