package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/sasya"
	"github.com/aretw0/sasya/internal/testutils"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatEngine(t *testing.T) *sasya.Engine {
	return testutils.NewEngine(t, "early_blight", 0.9)
}

func TestChat_Text(t *testing.T) {
	eng := newChatEngine(t)
	img := filepath.Join(testutils.WriteFiles(t, map[string]string{"leaf.png": string(testutils.Leaf)}), "leaf.png")

	in := strings.NewReader(strings.Join([]string{
		"My tomato plant has yellow spots",
		"/image " + img,
		"I am in Pune",
		"/quit",
		"never read",
	}, "\n"))
	var out bytes.Buffer

	err := Chat(context.Background(), eng, RunOptions{SessionID: "cli-1"}, in, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[clarification]")
	assert.Contains(t, out.String(), "Attached")
	assert.Contains(t, out.String(), "[follow_up]")

	s, err := eng.Session(context.Background(), "cli-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFollowUp, s.State)
	require.NotNil(t, s.Diagnosis)
	// "never read" came after /quit.
	assert.Len(t, s.Messages, 4)
}

func TestChat_JSONWithContext(t *testing.T) {
	eng := newChatEngine(t)
	in := strings.NewReader("Please check my plant\n")
	var out bytes.Buffer

	err := Chat(context.Background(), eng, RunOptions{JSON: true, Context: `{"crop":"tomato","location":"Pune"}`}, in, &out)
	require.NoError(t, err)

	var last domain.OutputEvent
	var types []domain.EventType
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var ev domain.OutputEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev), line)
		types = append(types, ev.Type)
		last = ev
	}
	assert.Equal(t, domain.EventState, types[0])
	assert.Equal(t, domain.EventDone, last.Type)
	assert.NotEmpty(t, last.SessionID)

	s, err := eng.Session(context.Background(), last.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Pune", s.Profile.Location)
}

func TestChat_ResetAndFresh(t *testing.T) {
	eng := newChatEngine(t)
	var out bytes.Buffer
	require.NoError(t, Chat(context.Background(), eng, RunOptions{SessionID: "r"},
		strings.NewReader("My tomato plant has yellow spots\n/reset\n/bogus\n"), &out))
	assert.Contains(t, out.String(), "Session 'r' reset.")
	assert.Contains(t, out.String(), "Unknown command /bogus")

	s, err := eng.Session(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, domain.StateInitial, s.State)

	// --fresh on an unknown session is not an error.
	require.NoError(t, Chat(context.Background(), eng, RunOptions{SessionID: "new", Fresh: true}, strings.NewReader(""), &out))
}

func TestChat_BadContext(t *testing.T) {
	err := Chat(context.Background(), newChatEngine(t), RunOptions{Context: "{"}, strings.NewReader(""), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestChat_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Chat(ctx, newChatEngine(t), RunOptions{}, strings.NewReader("hello\n"), &bytes.Buffer{})
	assert.NoError(t, err)
}
