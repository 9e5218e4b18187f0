// Package config loads the service configuration: a YAML file, then a .env file,
// then SASYA_* environment variables, each layer overriding the previous one.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no file is given. A missing file means defaults.
const DefaultPath = "sasya.yaml"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Collaborator drivers.
const (
	DriverStub     = "stub"
	DriverHTTP     = "http"
	DriverAzure    = "azure"
	DriverQdrant   = "qdrant"
	DriverSupabase = "supabase"
	DriverNotes    = "notes"
	DriverExec     = "exec"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Store         StoreConfig         `yaml:"store"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
	Events        EventsConfig        `yaml:"events"`
}

// ServerConfig controls the HTTP transport.
type ServerConfig struct {
	Addr     string   `yaml:"addr"`
	Validate bool     `yaml:"validate"`
	Origins  []string `yaml:"origins"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects and tunes the session store.
type StoreConfig struct {
	Driver string `yaml:"driver"`

	// Path is the directory (file) or database file (sqlite).
	Path string `yaml:"path"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`

	// TTL expires idle sessions. Zero keeps them until swept.
	TTL time.Duration `yaml:"ttl"`

	// EncryptionKey seals sessions at rest: 32 bytes, base64 encoded.
	EncryptionKey string   `yaml:"encryption_key"`
	FallbackKeys  []string `yaml:"fallback_keys"`
}

// WorkflowConfig tunes the controller and the turn loop.
type WorkflowConfig struct {
	ConfidenceFloor float64       `yaml:"confidence_floor"`
	RequiredFields  []string      `yaml:"required_fields"`
	VendorLimit     int           `yaml:"vendor_limit"`
	MaxChain        int           `yaml:"max_chain"`
	StepTimeout     time.Duration `yaml:"step_timeout"`
	Heartbeat       time.Duration `yaml:"heartbeat"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
}

// CollaboratorsConfig points at the inference services.
type CollaboratorsConfig struct {
	Classifier ServiceConfig `yaml:"classifier"`
	Retriever  ServiceConfig `yaml:"retriever"`
	LLM        ServiceConfig `yaml:"llm"`
	Vendors    ServiceConfig `yaml:"vendors"`
}

// ServiceConfig describes one collaborator. Fields not used by a driver are ignored.
type ServiceConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`

	// Model is the chat model (http) or deployment (azure).
	Model string `yaml:"model"`

	// Collection (qdrant) or table (supabase).
	Collection string `yaml:"collection"`

	// Path is the directory of Markdown treatment notes (notes) or the program to
	// run (exec).
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// EventsConfig enables turn event fan-out.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Prefix  string `yaml:"prefix"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Driver:    DriverMemory,
			Path:      "./data/sessions",
			RedisAddr: "localhost:6379",
			Prefix:    "sasya:session:",
		},
		Workflow: WorkflowConfig{
			ConfidenceFloor: 0.6,
			RequiredFields:  []string{string(domain.FieldCrop), string(domain.FieldLocation)},
			VendorLimit:     5,
			MaxChain:        3,
			StepTimeout:     30 * time.Second,
			Heartbeat:       2 * time.Second,
			LockTTL:         2 * time.Minute,
		},
		Collaborators: CollaboratorsConfig{
			Classifier: ServiceConfig{Driver: DriverStub},
			Retriever:  ServiceConfig{Driver: DriverStub},
			LLM:        ServiceConfig{Driver: DriverStub},
			Vendors:    ServiceConfig{Driver: DriverStub},
		},
		Events: EventsConfig{Prefix: "sasya.events"},
	}
}

// Load reads path (DefaultPath when empty), then .env, then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	// Variables already in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, parse func(string) error) {
		if v, ok := os.LookupEnv(key); ok {
			if err := parse(strings.TrimSpace(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}
	duration := func(key string, dst *time.Duration) {
		num(key, func(v string) (err error) {
			*dst, err = time.ParseDuration(v)
			return err
		})
	}
	integer := func(key string, dst *int) {
		num(key, func(v string) (err error) {
			*dst, err = strconv.Atoi(v)
			return err
		})
	}

	str("SASYA_ADDR", &c.Server.Addr)
	num("SASYA_VALIDATE_REQUESTS", func(v string) (err error) {
		c.Server.Validate, err = strconv.ParseBool(v)
		return err
	})
	str("SASYA_LOG_LEVEL", &c.Log.Level)
	str("SASYA_LOG_FORMAT", &c.Log.Format)

	str("SASYA_STORE_DRIVER", &c.Store.Driver)
	str("SASYA_STORE_PATH", &c.Store.Path)
	str("SASYA_REDIS_ADDR", &c.Store.RedisAddr)
	str("SASYA_REDIS_PASSWORD", &c.Store.RedisPassword)
	integer("SASYA_REDIS_DB", &c.Store.RedisDB)
	str("SASYA_STORE_PREFIX", &c.Store.Prefix)
	duration("SASYA_SESSION_TTL", &c.Store.TTL)
	str("SASYA_ENCRYPTION_KEY", &c.Store.EncryptionKey)
	if v, ok := os.LookupEnv("SASYA_FALLBACK_KEYS"); ok {
		c.Store.FallbackKeys = splitList(v)
	}

	num("SASYA_CONFIDENCE_FLOOR", func(v string) (err error) {
		c.Workflow.ConfidenceFloor, err = strconv.ParseFloat(v, 64)
		return err
	})
	if v, ok := os.LookupEnv("SASYA_REQUIRED_FIELDS"); ok {
		c.Workflow.RequiredFields = splitList(v)
	}
	integer("SASYA_VENDOR_LIMIT", &c.Workflow.VendorLimit)
	integer("SASYA_MAX_CHAIN", &c.Workflow.MaxChain)
	duration("SASYA_STEP_TIMEOUT", &c.Workflow.StepTimeout)
	duration("SASYA_HEARTBEAT", &c.Workflow.Heartbeat)
	duration("SASYA_LOCK_TTL", &c.Workflow.LockTTL)

	for name, svc := range map[string]*ServiceConfig{
		"CLASSIFIER": &c.Collaborators.Classifier,
		"RETRIEVER":  &c.Collaborators.Retriever,
		"LLM":        &c.Collaborators.LLM,
		"VENDORS":    &c.Collaborators.Vendors,
	} {
		str("SASYA_"+name+"_DRIVER", &svc.Driver)
		str("SASYA_"+name+"_URL", &svc.URL)
		str("SASYA_"+name+"_API_KEY", &svc.APIKey)
		str("SASYA_"+name+"_MODEL", &svc.Model)
		str("SASYA_"+name+"_COLLECTION", &svc.Collection)
		str("SASYA_"+name+"_PATH", &svc.Path)
		if v, ok := os.LookupEnv("SASYA_" + name + "_ARGS"); ok {
			svc.Args = strings.Fields(v)
		}
	}

	str("SASYA_NATS_URL", &c.Events.NATSURL)
	str("SASYA_NATS_PREFIX", &c.Events.Prefix)
	return errors.Join(errs...)
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory, DriverRedis, DriverFile, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if (c.Store.Driver == DriverFile || c.Store.Driver == DriverSQLite) && c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store path is required for driver %q", c.Store.Driver))
	}
	if c.Store.Driver == DriverRedis && c.Store.RedisAddr == "" {
		errs = append(errs, errors.New("redis address is required"))
	}
	if c.Store.TTL < 0 {
		errs = append(errs, errors.New("session ttl must not be negative"))
	}

	w := c.Workflow
	if w.ConfidenceFloor <= 0 || w.ConfidenceFloor > 1 {
		errs = append(errs, fmt.Errorf("confidence floor must be in (0, 1], got %v", w.ConfidenceFloor))
	}
	for _, f := range w.RequiredFields {
		if !slices.Contains(requirable, domain.Field(f)) {
			errs = append(errs, fmt.Errorf("unknown required field %q", f))
		}
	}
	if w.VendorLimit < 0 || w.MaxChain < 0 {
		errs = append(errs, errors.New("vendor limit and max chain must not be negative"))
	}
	if w.StepTimeout < 0 || w.Heartbeat < 0 || w.LockTTL < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}

	checks := []struct {
		name    string
		svc     ServiceConfig
		drivers []string
	}{
		{"classifier", c.Collaborators.Classifier, []string{DriverStub, DriverHTTP, DriverExec}},
		{"retriever", c.Collaborators.Retriever, []string{DriverStub, DriverHTTP, DriverQdrant, DriverNotes}},
		{"llm", c.Collaborators.LLM, []string{DriverStub, DriverHTTP, DriverAzure}},
		{"vendors", c.Collaborators.Vendors, []string{DriverStub, DriverHTTP, DriverSupabase}},
	}
	for _, ch := range checks {
		if !slices.Contains(ch.drivers, ch.svc.Driver) {
			errs = append(errs, fmt.Errorf("unknown %s driver %q", ch.name, ch.svc.Driver))
			continue
		}
		switch {
		case ch.svc.Driver == DriverNotes || ch.svc.Driver == DriverExec:
			if ch.svc.Path == "" {
				errs = append(errs, fmt.Errorf("%s path is required for driver %q", ch.name, ch.svc.Driver))
			}
		case ch.svc.Driver != DriverStub && ch.svc.URL == "":
			errs = append(errs, fmt.Errorf("%s url is required for driver %q", ch.name, ch.svc.Driver))
		}
	}
	return errors.Join(errs...)
}

// Fields returns the required fields as domain values.
func (w WorkflowConfig) Fields() []domain.Field {
	out := make([]domain.Field, 0, len(w.RequiredFields))
	for _, f := range w.RequiredFields {
		out = append(out, domain.Field(f))
	}
	return out
}

var requirable = []domain.Field{
	domain.FieldCrop,
	domain.FieldLocation,
	domain.FieldSeason,
	domain.FieldGrowthStage,
	domain.FieldSymptoms,
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
