package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/sasya"
	"github.com/aretw0/sasya/internal/config"
	"github.com/aretw0/sasya/internal/logging"
	"github.com/aretw0/sasya/pkg/adapters/azure"
	"github.com/aretw0/sasya/pkg/adapters/file"
	"github.com/aretw0/sasya/pkg/adapters/inference"
	"github.com/aretw0/sasya/pkg/adapters/loam"
	"github.com/aretw0/sasya/pkg/adapters/memory"
	"github.com/aretw0/sasya/pkg/adapters/nats"
	"github.com/aretw0/sasya/pkg/adapters/process"
	"github.com/aretw0/sasya/pkg/adapters/qdrant"
	"github.com/aretw0/sasya/pkg/adapters/redis"
	"github.com/aretw0/sasya/pkg/adapters/sqlite"
	"github.com/aretw0/sasya/pkg/adapters/stub"
	"github.com/aretw0/sasya/pkg/adapters/supabase"
	"github.com/aretw0/sasya/pkg/persistence/codec"
	"github.com/aretw0/sasya/pkg/ports"
	"github.com/aretw0/sasya/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
)

// NewEngine builds an engine from configuration. reg may be nil to skip metrics.
// Connections opened along the way are released by Engine.Close, or here when a
// later step fails.
func NewEngine(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*sasya.Engine, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	f := &factory{cfg: cfg, logger: logger}
	eng, err := f.build(reg)
	if err != nil {
		return nil, errors.Join(err, f.closeAll())
	}
	return eng, nil
}

type factory struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []io.Closer
	// ownedStore is closed by the engine's session manager once the engine exists.
	ownedStore io.Closer
}

func (f *factory) track(c io.Closer) {
	f.closers = append(f.closers, c)
}

func (f *factory) closeAll() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		errs = append(errs, f.closers[i].Close())
	}
	if f.ownedStore != nil {
		errs = append(errs, f.ownedStore.Close())
	}
	return errors.Join(errs...)
}

func (f *factory) build(reg prometheus.Registerer) (*sasya.Engine, error) {
	wf := f.cfg.Workflow
	opts := []sasya.Option{
		sasya.WithLogger(f.logger),
		sasya.WithPolicy(workflow.Policy{
			ConfidenceFloor: wf.ConfidenceFloor,
			RequiredFields:  wf.Fields(),
			VendorLimit:     wf.VendorLimit,
		}),
		sasya.WithMaxChain(wf.MaxChain),
		sasya.WithTimeouts(sasya.Timeouts{Step: wf.StepTimeout, Heartbeat: wf.Heartbeat, Lock: wf.LockTTL}),
	}
	if reg != nil {
		opts = append(opts, sasya.WithMetrics(reg))
	}

	storeOpts, err := f.store()
	if err != nil {
		return nil, err
	}
	opts = append(opts, storeOpts...)

	collabOpts, err := f.collaborators()
	if err != nil {
		return nil, err
	}
	opts = append(opts, collabOpts...)

	if url := f.cfg.Events.NATSURL; url != "" {
		sink, err := nats.Connect(url, f.cfg.Events.Prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event sink: %w", err)
		}
		f.track(sink)
		opts = append(opts, sasya.WithSink(sink))
		f.logger.Info("Publishing turn events", "url", url, "prefix", f.cfg.Events.Prefix)
	}

	for _, c := range f.closers {
		opts = append(opts, sasya.WithCloser(c))
	}
	eng, err := sasya.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return eng, nil
}

// sessionCodec seals sessions when an encryption key is configured.
func (f *factory) sessionCodec() (codec.Codec, error) {
	sc := f.cfg.Store
	if sc.EncryptionKey == "" {
		return codec.Default(), nil
	}
	active, err := codec.ParseKey(sc.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	keys := codec.KeyConfig{ActiveKey: active}
	for i, raw := range sc.FallbackKeys {
		k, err := codec.ParseKey(raw)
		if err != nil {
			return nil, fmt.Errorf("fallback key %d: %w", i, err)
		}
		keys.FallbackKeys = append(keys.FallbackKeys, k)
	}
	return codec.NewSealed(codec.Default(), keys)
}

func (f *factory) store() ([]sasya.Option, error) {
	sc := f.cfg.Store
	c, err := f.sessionCodec()
	if err != nil {
		return nil, err
	}

	var store ports.SessionStore
	var locker ports.DistributedLocker
	switch sc.Driver {
	case config.DriverMemory:
		store = memory.NewStore(memory.WithTTL(sc.TTL))
	case config.DriverFile:
		store = file.New(sc.Path, file.WithCodec(c))
	case config.DriverSQLite:
		s, err := sqlite.Open(sc.Path, sqlite.WithCodec(c), sqlite.WithTTL(sc.TTL))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		f.ownedStore = s
		store = s
	case config.DriverRedis:
		s := redis.New(sc.RedisAddr, sc.RedisPassword, sc.RedisDB,
			redis.WithPrefix(sc.Prefix), redis.WithTTL(sc.TTL), redis.WithCodec(c))
		f.ownedStore = s
		store = s
		locker = redis.NewLocker(s.Client(), sc.Prefix)
	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
	f.logger.Debug("Session store ready", "driver", sc.Driver, "sealed", sc.EncryptionKey != "")

	opts := []sasya.Option{sasya.WithStore(store)}
	if locker != nil {
		opts = append(opts, sasya.WithLocker(locker))
	}
	return opts, nil
}

func (f *factory) collaborators() ([]sasya.Option, error) {
	cc := f.cfg.Collaborators
	httpOpts := func(svc config.ServiceConfig) []inference.Option {
		opts := []inference.Option{inference.WithLogger(f.logger)}
		if svc.APIKey != "" {
			opts = append(opts, inference.WithAPIKey(svc.APIKey))
		}
		return opts
	}
	var opts []sasya.Option

	switch cc.Classifier.Driver {
	case config.DriverHTTP:
		c, err := inference.NewClassifier(cc.Classifier.URL, httpOpts(cc.Classifier)...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sasya.WithClassifier(c))
	case config.DriverExec:
		c, err := process.NewClassifier(process.Config{Command: cc.Classifier.Path, Args: cc.Classifier.Args})
		if err != nil {
			return nil, err
		}
		opts = append(opts, sasya.WithClassifier(c))
	default:
		opts = append(opts, sasya.WithClassifier(stub.NewClassifier()))
	}

	switch cc.Retriever.Driver {
	case config.DriverHTTP:
		r, err := inference.NewRetriever(cc.Retriever.URL, httpOpts(cc.Retriever)...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sasya.WithRetriever(r))
	case config.DriverQdrant:
		r, err := qdrant.New(qdrant.Config{URL: cc.Retriever.URL, Collection: cc.Retriever.Collection, APIKey: cc.Retriever.APIKey})
		if err != nil {
			return nil, err
		}
		f.track(r)
		opts = append(opts, sasya.WithRetriever(r))
	case config.DriverNotes:
		r, err := loam.New(cc.Retriever.Path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sasya.WithRetriever(r))
	default:
		opts = append(opts, sasya.WithRetriever(stub.NewRetriever()))
	}

	switch cc.LLM.Driver {
	case config.DriverHTTP:
		l, err := inference.NewLLM(cc.LLM.URL, cc.LLM.Model, httpOpts(cc.LLM)...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sasya.WithLLM(l))
	case config.DriverAzure:
		l, err := azure.New(cc.LLM.URL, cc.LLM.APIKey, cc.LLM.Model)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sasya.WithLLM(l))
	default:
		opts = append(opts, sasya.WithLLM(stub.NewLLM()))
	}

	switch cc.Vendors.Driver {
	case config.DriverHTTP:
		v, err := inference.NewVendors(cc.Vendors.URL, httpOpts(cc.Vendors)...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sasya.WithVendors(v))
	case config.DriverSupabase:
		v, err := supabase.New(supabase.Config{URL: cc.Vendors.URL, APIKey: cc.Vendors.APIKey, Table: cc.Vendors.Collection})
		if err != nil {
			return nil, err
		}
		opts = append(opts, sasya.WithVendors(v))
	default:
		opts = append(opts, sasya.WithVendors(stub.NewVendors()))
	}

	f.logger.Debug("Collaborators ready",
		"classifier", cc.Classifier.Driver,
		"retriever", cc.Retriever.Driver,
		"llm", cc.LLM.Driver,
		"vendors", cc.Vendors.Driver,
	)
	return opts, nil
}
