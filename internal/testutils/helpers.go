// Package testutils holds fixtures shared by the engine and transport tests.
package testutils

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/sasya"
	"github.com/aretw0/sasya/pkg/adapters/stub"
	"github.com/stretchr/testify/require"
)

// Leaf is the smallest payload the image sniffer accepts as a PNG.
var Leaf = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRleaf")

// NewEngine builds an engine on stub collaborators whose classifier always answers
// label with confidence. It is closed when the test ends.
func NewEngine(t *testing.T, label string, confidence float64, opts ...sasya.Option) *sasya.Engine {
	t.Helper()
	base := []sasya.Option{
		sasya.WithClassifier(&stub.Classifier{Label: label, Confidence: confidence}),
		sasya.WithRetriever(stub.NewRetriever()),
		sasya.WithLLM(stub.NewLLM()),
		sasya.WithVendors(stub.NewVendors()),
	}
	eng, err := sasya.New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng
}

// ReadyRequest carries everything needed to go straight to a diagnosis.
func ReadyRequest(sessionID string) sasya.TurnRequest {
	return sasya.TurnRequest{
		SessionID: sessionID,
		Message:   "Please check my plant",
		Image:     Leaf,
		Context:   map[string]any{"crop": "tomato", "location": "Pune"},
	}
}

// WriteFiles creates a temporary directory holding files and returns its path.
func WriteFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}
