// Package sasya is a conversational plant-health assistant engine.
//
// An Engine walks a farmer from a photo of a sick plant to a diagnosis, a treatment
// plan and local sellers, one turn at a time. Each turn runs the handler of the
// session's current workflow state, lets the controller decide the next state and
// streams what happened as ordered events.
//
// Collaborators (classifier, retrieval, LLM, vendor directory) are injected through
// options; stub implementations live in pkg/adapters/stub.
package sasya

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/sasya/internal/logging"
	"github.com/aretw0/sasya/pkg/adapters/memory"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/handlers"
	"github.com/aretw0/sasya/pkg/orchestrator"
	"github.com/aretw0/sasya/pkg/ports"
	"github.com/aretw0/sasya/pkg/session"
	"github.com/aretw0/sasya/pkg/stream"
	"github.com/aretw0/sasya/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-exported so library users rarely need the sub-packages.
type (
	TurnRequest = orchestrator.TurnRequest
	TurnResult  = orchestrator.TurnResult
)

// Timeouts bound the work done on behalf of a turn.
type Timeouts struct {
	// Step bounds a single handler execution. Zero keeps the default.
	Step time.Duration
	// Heartbeat is the interval of progress events while a handler runs.
	Heartbeat time.Duration
	// Lock bounds how long a distributed turn lock outlives a crashed holder.
	Lock time.Duration
}

// Stats summarizes the stored sessions.
type Stats struct {
	Total   int                          `json:"total"`
	ByState map[domain.WorkflowState]int `json:"by_state"`
}

// Engine is the entry point of the library.
type Engine struct {
	sessions     *session.Manager
	orchestrator *orchestrator.Orchestrator
	controller   *workflow.Controller
	artifacts    ports.ArtifactStore
	logger       *slog.Logger
	closers      []io.Closer

	store      ports.SessionStore
	locker     ports.DistributedLocker
	deps       handlers.Deps
	sink       ports.EventSink
	timeouts   Timeouts
	registerer prometheus.Registerer
	maxChain   int
	clock      func() time.Time
}

// Option configures the Engine.
type Option func(*Engine)

// WithStore sets the session store. Default: an in-memory store.
func WithStore(store ports.SessionStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLocker serializes turns across replicas sharing a store.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithClassifier sets the image classifier.
func WithClassifier(c ports.Classifier) Option {
	return func(e *Engine) {
		e.deps.Classifier = c
	}
}

// WithRetriever sets the treatment retriever.
func WithRetriever(r ports.Retriever) Option {
	return func(e *Engine) {
		e.deps.Retriever = r
	}
}

// WithLLM sets the language model used for questions and answers.
func WithLLM(l ports.LLM) Option {
	return func(e *Engine) {
		e.deps.LLM = l
	}
}

// WithVendors sets the vendor directory.
func WithVendors(v ports.VendorLookup) Option {
	return func(e *Engine) {
		e.deps.Vendors = v
	}
}

// WithArtifacts sets where attention maps are kept. Default: in memory.
func WithArtifacts(a ports.ArtifactStore) Option {
	return func(e *Engine) {
		e.artifacts = a
	}
}

// WithSink forwards every turn event to sink.
func WithSink(sink ports.EventSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithPolicy overrides the workflow policy.
func WithPolicy(p workflow.Policy) Option {
	return func(e *Engine) {
		e.deps.Policy = p
	}
}

// WithTimeouts overrides the step, heartbeat and lock timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(e *Engine) {
		e.timeouts = t
	}
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics registers the engine's Prometheus collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registerer = reg
	}
}

// WithMaxChain sets how many extra steps may run in one turn without new input.
func WithMaxChain(n int) Option {
	return func(e *Engine) {
		e.maxChain = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = now
	}
}

// WithCloser registers a resource released by Close, such as a client connection
// owned by an injected collaborator.
func WithCloser(c io.Closer) Option {
	return func(e *Engine) {
		e.closers = append(e.closers, c)
	}
}

// New builds an Engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{maxChain: orchestrator.DefaultMaxChain}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.store == nil {
		e.store = memory.NewStore(memory.WithClock(e.clock))
	}
	if e.artifacts == nil {
		e.artifacts = memory.NewArtifacts()
	}
	if e.maxChain < 0 {
		return nil, fmt.Errorf("max chain must not be negative, got %d", e.maxChain)
	}
	policy := e.deps.Policy.WithDefaults()
	if policy.ConfidenceFloor > 1 {
		return nil, fmt.Errorf("confidence floor must be in (0, 1], got %v", policy.ConfidenceFloor)
	}

	sessOpts := []session.Option{
		session.WithLogger(e.logger),
		session.WithClock(e.clock),
	}
	if e.locker != nil {
		sessOpts = append(sessOpts, session.WithLocker(e.locker))
	}
	if e.timeouts.Lock > 0 {
		sessOpts = append(sessOpts, session.WithLockTTL(e.timeouts.Lock))
	}
	e.sessions = session.NewManager(e.store, sessOpts...)

	deps := e.deps
	deps.Policy = policy
	deps.Artifacts = e.artifacts
	deps.Logger = e.logger
	deps.Now = e.clock

	e.controller = workflow.NewController(policy)
	orchOpts := []orchestrator.Option{
		orchestrator.WithMaxChain(e.maxChain),
		orchestrator.WithStepTimeout(e.timeouts.Step),
		orchestrator.WithHeartbeat(e.timeouts.Heartbeat),
		orchestrator.WithMetrics(orchestrator.NewMetrics(e.registerer)),
		orchestrator.WithLogger(e.logger),
	}
	if e.sink != nil {
		orchOpts = append(orchOpts, orchestrator.WithSink(e.sink))
	}
	e.orchestrator = orchestrator.New(e.sessions, handlers.Default(deps), e.controller, orchOpts...)
	return e, nil
}

// Turn runs one turn and returns its summary.
func (e *Engine) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	return e.orchestrator.HandleTurn(ctx, req, stream.Discard)
}

// Stream runs one turn, writing its events to out as they happen. The last event is
// always done, unless out fails first.
func (e *Engine) Stream(ctx context.Context, req TurnRequest, out stream.Emitter) (*TurnResult, error) {
	return e.orchestrator.HandleTurn(ctx, req, out)
}

// Session returns a snapshot of the stored session.
func (e *Engine) Session(ctx context.Context, id string) (*domain.Session, error) {
	return e.sessions.Load(ctx, id)
}

// Sessions lists stored session IDs.
func (e *Engine) Sessions(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// Actions returns what the user can do next in the session.
func (e *Engine) Actions(s *domain.Session) []string {
	return e.controller.Actions(s.State, s, false)
}

// Delete removes a session.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.sessions.Delete(ctx, id)
}

// Reset starts the session over, keeping its ID.
func (e *Engine) Reset(ctx context.Context, id string) (*domain.Session, error) {
	return e.sessions.Reset(ctx, id)
}

// Sweep removes sessions idle for longer than maxIdle.
func (e *Engine) Sweep(ctx context.Context, maxIdle time.Duration) (int, error) {
	if maxIdle <= 0 {
		return 0, fmt.Errorf("%w: max idle must be positive", domain.ErrInvalidInput)
	}
	n, err := e.sessions.Sweep(ctx, maxIdle)
	if n > 0 {
		e.logger.Info("Swept idle sessions", "count", n, "max_idle", maxIdle)
	}
	return n, err
}

// Stats counts stored sessions by state. Sessions removed while counting are skipped.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	ids, err := e.sessions.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByState: make(map[domain.WorkflowState]int)}
	for _, id := range ids {
		s, err := e.sessions.Load(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return Stats{}, err
		}
		st.Total++
		st.ByState[s.State]++
	}
	return st, nil
}

// Artifact returns the bytes of an artifact referenced by a diagnosis.
func (e *Engine) Artifact(ctx context.Context, ref string) ([]byte, error) {
	return e.artifacts.Get(ctx, ref)
}

// Controller exposes the workflow controller, for rendering and introspection.
func (e *Engine) Controller() *workflow.Controller {
	return e.controller
}

// Close tears down the session store and releases registered resources.
func (e *Engine) Close(ctx context.Context) error {
	errs := []error{e.sessions.Close(ctx)}
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
