package cli

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/sasya"
	"github.com/aretw0/sasya/internal/config"
	"github.com/aretw0/sasya/internal/testutils"
	"github.com/aretw0/sasya/pkg/adapters/stub"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

func greet(t *testing.T, eng *sasya.Engine, id string) {
	t.Helper()
	res, err := eng.Turn(context.Background(), sasya.TurnRequest{SessionID: id, Message: "My tomato plant has yellow spots"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	s, err := eng.Session(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "tomato", s.Profile.Crop)
}

func TestNewEngine_Stores(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"memory", func(c *config.Config) {}},
		{"file", func(c *config.Config) {
			c.Store.Driver = config.DriverFile
			c.Store.Path = t.TempDir()
		}},
		{"sqlite sealed", func(c *config.Config) {
			c.Store.Driver = config.DriverSQLite
			c.Store.Path = filepath.Join(t.TempDir(), "sessions.db")
			c.Store.EncryptionKey = testKey
		}},
		{"redis", func(c *config.Config) {
			c.Store.Driver = config.DriverRedis
			c.Store.RedisAddr = mr.Addr()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			eng, err := NewEngine(cfg, nil, nil)
			require.NoError(t, err)
			greet(t, eng, "farm-"+strings.ReplaceAll(tt.name, " ", "-"))
			assert.NoError(t, eng.Close(context.Background()))
		})
	}

	assert.NotEmpty(t, mr.Keys())
}

func TestNewEngine_SealedSessionsSurviveReopen(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = config.DriverSQLite
	cfg.Store.Path = filepath.Join(t.TempDir(), "sessions.db")
	cfg.Store.EncryptionKey = testKey

	eng, err := NewEngine(cfg, nil, nil)
	require.NoError(t, err)
	greet(t, eng, "sealed")
	require.NoError(t, eng.Close(context.Background()))

	// Rotated key: the old one becomes a fallback.
	cfg.Store.EncryptionKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("n", 32)))
	cfg.Store.FallbackKeys = []string{testKey}
	eng, err = NewEngine(cfg, nil, nil)
	require.NoError(t, err)
	defer eng.Close(context.Background())

	s, err := eng.Session(context.Background(), "sealed")
	require.NoError(t, err)
	assert.Equal(t, domain.StateClarification, s.State)
}

func TestNewEngine_NotesRetriever(t *testing.T) {
	notes := make(map[string]string)
	for _, label := range stub.Labels {
		notes[label+".md"] = "---\ntitle: Trichoderma drench\ndisease: " + label +
			"\nkind: organic\n---\nDrench the root zone with Trichoderma viride 5 g/l."
	}
	dir := testutils.WriteFiles(t, notes)

	cfg := config.Default()
	cfg.Collaborators.Retriever = config.ServiceConfig{Driver: config.DriverNotes, Path: dir}
	eng, err := NewEngine(cfg, nil, nil)
	require.NoError(t, err)
	defer eng.Close(context.Background())

	res, err := eng.Turn(context.Background(), testutils.ReadyRequest("notes"))
	require.NoError(t, err)
	assert.True(t, res.Success)

	sess, err := eng.Session(context.Background(), "notes")
	require.NoError(t, err)
	for _, p := range sess.Prescriptions {
		assert.Equal(t, domain.SourceRetrieval, p.Source, "prescriptions come from the notes")
	}
}

func TestNewEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	eng, err := NewEngine(config.Default(), nil, reg)
	require.NoError(t, err)
	defer eng.Close(context.Background())

	greet(t, eng, "m")
	n, err := testutil.GatherAndCount(reg, "sasya_turns_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewEngine_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad key", func(c *config.Config) { c.Store.EncryptionKey = "short" }},
		{"bad fallback key", func(c *config.Config) {
			c.Store.EncryptionKey = testKey
			c.Store.FallbackKeys = []string{"nope"}
		}},
		{"supabase without key", func(c *config.Config) {
			c.Collaborators.Vendors = config.ServiceConfig{Driver: config.DriverSupabase, URL: "https://x.supabase.co"}
		}},
		{"missing classifier program", func(c *config.Config) {
			c.Collaborators.Classifier = config.ServiceConfig{Driver: config.DriverExec, Path: "no-such-classifier-binary"}
		}},
		{"unreachable event bus", func(c *config.Config) {
			c.Store.Driver = config.DriverSQLite
			c.Store.Path = filepath.Join(t.TempDir(), "sessions.db")
			c.Events.NATSURL = "nats://127.0.0.1:1"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			_, err := NewEngine(cfg, nil, nil)
			assert.Error(t, err)
		})
	}
}
