package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/aretw0/sasya/internal/logging"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/handlers"
	"github.com/aretw0/sasya/pkg/ports"
	"github.com/aretw0/sasya/pkg/session"
	"github.com/aretw0/sasya/pkg/stream"
	"github.com/aretw0/sasya/pkg/workflow"
)

const (
	// DefaultMaxChain is how many extra handler steps may run after the first one
	// without new user input.
	DefaultMaxChain = 3
	// DefaultStepTimeout bounds a single handler execution.
	DefaultStepTimeout = 30 * time.Second
	// DefaultHeartbeat is the interval of progress events while a handler runs.
	DefaultHeartbeat = 2 * time.Second
)

// TurnRequest is one submission from the user.
type TurnRequest struct {
	// SessionID may be empty to start a new conversation.
	SessionID string         `json:"session_id,omitempty"`
	Message   string         `json:"message"`
	Image     []byte         `json:"image,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// TurnResult is the non-streaming summary of a turn.
type TurnResult struct {
	Success      bool                 `json:"success"`
	SessionID    string               `json:"session_id"`
	ResponseText string               `json:"response_text"`
	State        domain.WorkflowState `json:"current_state"`
	Actions      []string             `json:"available_actions"`
	FollowUps    []string             `json:"follow_ups,omitempty"`
	ErrorKind    domain.ErrorKind     `json:"error_kind,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Steps        int                  `json:"steps"`
}

// Orchestrator drives turns: it runs the handler of the current state, merges the
// result, asks the controller where to go and streams what happened.
type Orchestrator struct {
	sessions   *session.Manager
	registry   *handlers.Registry
	controller *workflow.Controller

	maxChain    int
	stepTimeout time.Duration
	heartbeat   time.Duration
	sink        ports.EventSink
	metrics     *Metrics
	logger      *slog.Logger
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithMaxChain sets the number of extra steps allowed per turn.
func WithMaxChain(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxChain = n
		}
	}
}

// WithStepTimeout bounds each handler execution.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stepTimeout = d
		}
	}
}

// WithHeartbeat sets the progress event interval.
func WithHeartbeat(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.heartbeat = d
		}
	}
}

// WithSink forwards every emitted event to sink.
func WithSink(sink ports.EventSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger configures a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an Orchestrator.
func New(sessions *session.Manager, registry *handlers.Registry, controller *workflow.Controller, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:    sessions,
		registry:    registry,
		controller:  controller,
		maxChain:    DefaultMaxChain,
		stepTimeout: DefaultStepTimeout,
		heartbeat:   DefaultHeartbeat,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	return o
}

// Controller returns the workflow controller.
func (o *Orchestrator) Controller() *workflow.Controller {
	return o.controller
}

// HandleTurn runs one turn and streams its events to out, ending with a done event.
//
// Expected failures (invalid input, unavailable collaborators) are reported in the
// result with a nil error. A busy session returns domain.ErrSessionBusy; an invariant
// violation returns domain.ErrInvariantViolation and leaves the stored session as it was.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest, out stream.Emitter) (*TurnResult, error) {
	if out == nil {
		out = stream.Discard
	}
	id := req.SessionID
	if id == "" {
		id = o.sessions.NewID()
	}

	o.metrics.InFlight.Inc()
	defer o.metrics.InFlight.Dec()

	t := &turn{o: o, id: id, out: out}
	in, prepErr := handlers.Prepare(req.Message, req.Image, req.Context)

	err := o.sessions.Turn(ctx, id, func(ctx context.Context, tx *session.Tx) error {
		s, created, err := tx.LoadOrCreate(ctx)
		if err != nil {
			return err
		}
		if created {
			o.logger.Info("Session created", "session_id", id)
		}
		if prepErr != nil {
			return t.reject(ctx, tx, s, prepErr)
		}
		return t.run(ctx, tx, s, in)
	})

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSessionBusy):
		o.metrics.turn(OutcomeBusy)
		t.result.SessionID = id
		// The turn in flight owns the session; report its last committed state.
		current, lerr := o.sessions.Load(ctx, id)
		if lerr != nil {
			current = domain.NewSession(id, o.sessions.Now())
		}
		t.result.State = current.State
		t.result.Actions = o.controller.Actions(current.State, current, false)
		t.result.ErrorKind = domain.ErrorSessionBusy
		t.result.ErrorMessage = "Another message for this conversation is still being processed. Try again in a moment."
		t.emit(ctx, domain.ErrorEvent(id, domain.ErrorSessionBusy, t.result.ErrorMessage))
		t.emit(ctx, domain.DoneEvent(id))
		return &t.result, err
	default:
		if !errors.Is(err, domain.ErrInvariantViolation) {
			err = fmt.Errorf("%w: %w", domain.ErrInvariantViolation, err)
		}
		o.metrics.turn(OutcomeInternal)
		o.logger.Error("Turn aborted", "session_id", id, "err", err)
		t.result = TurnResult{
			SessionID:    id,
			State:        t.before,
			ErrorKind:    domain.ErrorInternal,
			ErrorMessage: "Something went wrong on our side. Your conversation was not changed.",
		}
		t.emit(ctx, domain.ErrorEvent(id, domain.ErrorInternal, t.result.ErrorMessage))
		t.emit(ctx, domain.DoneEvent(id))
		return &t.result, err
	}

	switch {
	case t.gone:
		o.metrics.turn(OutcomeCanceled)
	case t.result.ErrorKind == domain.ErrorInvalidInput:
		o.metrics.turn(OutcomeInvalid)
	case !t.result.Success:
		o.metrics.turn(OutcomeFailed)
	default:
		o.metrics.turn(OutcomeOK)
	}
	t.emit(ctx, domain.FollowUpsEvent(id, t.result.FollowUps))
	t.emit(ctx, domain.DoneEvent(id))
	return &t.result, nil
}

// turn holds the per-turn bookkeeping.
type turn struct {
	o      *Orchestrator
	id     string
	out    stream.Emitter
	before domain.WorkflowState
	result TurnResult

	// gone is set once the consumer stopped accepting events.
	gone bool
}

// emit forwards ev to the consumer and the sink. After the consumer fails once,
// only the sink keeps receiving events.
func (t *turn) emit(ctx context.Context, ev domain.OutputEvent) {
	if ev.Type == domain.EventFollowUps && len(ev.Items) == 0 {
		return
	}
	if t.o.sink != nil {
		if err := t.o.sink.Publish(context.WithoutCancel(ctx), ev); err != nil {
			t.o.logger.Warn("Event sink publish failed", "session_id", t.id, "err", err)
		}
	}
	if t.gone {
		return
	}
	if err := t.out.Emit(ctx, ev); err != nil {
		t.gone = true
		t.o.logger.Info("Client stopped reading", "session_id", t.id, "err", err)
	}
}

// reject records an input that failed sanitation. Only the activity log changes.
func (t *turn) reject(ctx context.Context, tx *session.Tx, s *domain.Session, cause error) error {
	t.before = s.State
	now := t.o.sessions.Now()
	work := s.Clone()
	work.Record(domain.ActivityEntry{
		Timestamp: now,
		State:     s.State,
		Summary:   "rejected input: " + cause.Error(),
		ErrorKind: domain.ErrorInvalidInput,
	})
	work.LastActiveAt = now

	actions := t.o.controller.Actions(s.State, work, true)
	msg := rejectMessage(cause)
	t.result = TurnResult{
		SessionID:    t.id,
		ResponseText: msg,
		State:        s.State,
		Actions:      actions,
		FollowUps:    []string{"retry"},
		ErrorKind:    domain.ErrorInvalidInput,
		ErrorMessage: msg,
	}
	t.emit(ctx, domain.StateEvent(t.id, s.State, actions))
	t.emit(ctx, domain.ErrorEvent(t.id, domain.ErrorInvalidInput, msg))
	return tx.Commit(context.WithoutCancel(ctx), work)
}

func rejectMessage(cause error) string {
	switch {
	case errors.Is(cause, handlers.ErrEmptyInput):
		return "Please type a message or attach a photo of the plant."
	case errors.Is(cause, handlers.ErrInputTooLarge):
		return "That message is too long. Please shorten it."
	case errors.Is(cause, handlers.ErrImageTooLarge):
		return "That photo is too large. Please send a smaller one."
	case errors.Is(cause, handlers.ErrNotAnImage):
		return "The attachment does not look like a photo. Please send a JPEG or PNG image."
	}
	return "I could not read that message. Please try again."
}

// run executes the step loop on a working copy and commits it once.
func (t *turn) run(ctx context.Context, tx *session.Tx, s *domain.Session, in handlers.Input) error {
	o := t.o
	t.before = s.State
	work := s.Clone()

	var (
		texts     []string
		followUps []string
		actions   []string
		failure   *domain.HandlerResult
		appended  bool
		executed  int
	)

	for {
		st := work.State
		var last *domain.HandlerResult

		if st.HasHandler() {
			h, found := o.registry.Lookup(st)
			if !found {
				return fmt.Errorf("%w: no handler for %q", domain.ErrInvariantViolation, st)
			}
			stepIn := in
			stepIn.Chained = executed > 0
			if stepIn.Chained && in.Image != nil && work.Image != nil && work.Image.Digest == in.Image.Digest {
				stepIn.Image = nil
			}

			res, err := t.step(ctx, st, h, work.Clone(), stepIn)
			if err != nil {
				if errors.Is(err, domain.ErrInvariantViolation) {
					return err
				}
				// The consumer went away mid-step; keep what earlier steps produced.
				t.gone = true
				o.logger.Info("Turn interrupted", "session_id", t.id, "state", st, "err", err)
				break
			}
			executed++

			now := o.sessions.Now()
			if res.Success {
				if !appended {
					work.Append(domain.RoleUser, in.Message, now)
					appended = true
				}
				if err := work.Apply(res.Patch); err != nil {
					return fmt.Errorf("%w: %s handler: %w", domain.ErrInvariantViolation, st, err)
				}
			}
			work.Record(domain.ActivityEntry{
				Timestamp: now,
				State:     st,
				Summary:   summarize(st, res),
				ErrorKind: res.ErrorKind,
			})
			last = &res
		} else if !appended {
			work.Append(domain.RoleUser, in.Message, o.sessions.Now())
			appended = true
		}

		dec, err := o.controller.Decide(st, last, work)
		if err != nil {
			return err
		}
		if dec.NextState != st {
			o.metrics.transition(st, dec.NextState)
			o.logger.Info("State transition", "session_id", t.id, "state", st, "next_state", dec.NextState, "reason", dec.Reason)
		}
		work.State = dec.NextState
		actions = dec.AvailableActions
		t.emit(ctx, domain.StateEvent(t.id, dec.NextState, dec.AvailableActions))

		if last != nil {
			if text := strings.TrimSpace(last.ResponseText); text != "" {
				texts = append(texts, text)
				t.emit(ctx, domain.ChunkEvent(t.id, text))
			}
			followUps = last.FollowUps
			if !last.Success {
				failure = last
				t.emit(ctx, domain.ErrorEvent(t.id, last.ErrorKind, last.ResponseText))
			}
		}

		if t.gone || ctx.Err() != nil {
			t.gone = true
			break
		}
		if last != nil && (!last.Success || last.RequiresUserInput) {
			break
		}
		if !dec.NextState.HasHandler() || (last != nil && dec.NextState == st) {
			break
		}
		if executed > o.maxChain {
			o.logger.Warn("Chain limit reached", "session_id", t.id, "state", dec.NextState, "steps", executed)
			break
		}
	}

	if work.State == domain.StateCompleted && len(texts) == 0 && appended {
		text := "Glad I could help. Send a new photo whenever another plant needs a look."
		texts = append(texts, text)
		t.emit(ctx, domain.ChunkEvent(t.id, text))
	}

	now := o.sessions.Now()
	response := strings.Join(texts, "\n\n")
	if appended {
		work.Append(domain.RoleAssistant, response, now)
	}
	work.LastActiveAt = now

	t.result = TurnResult{
		Success:      failure == nil,
		SessionID:    t.id,
		ResponseText: response,
		State:        work.State,
		Actions:      actions,
		FollowUps:    dedupe(followUps),
		Steps:        executed,
	}
	if failure != nil {
		t.result.ErrorKind = failure.ErrorKind
		t.result.ErrorMessage = failure.ResponseText
	}

	if err := tx.Commit(context.WithoutCancel(ctx), work); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

type outcome struct {
	res domain.HandlerResult
	err error
}

// step runs one handler under the step timeout, sending heartbeats while it works.
// A timeout becomes a dependency_unavailable result. Cancellation of ctx is returned
// as an error; so are handler errors and panics, wrapped as invariant violations.
func (t *turn) step(ctx context.Context, st domain.WorkflowState, h handlers.Handler, s *domain.Session, in handlers.Input) (domain.HandlerResult, error) {
	o := t.o
	stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
	defer cancel()

	start := time.Now()
	defer func() { o.metrics.step(st, time.Since(start).Seconds()) }()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %s handler panicked: %v", domain.ErrInvariantViolation, st, r)}
			}
		}()
		res, err := h.Execute(stepCtx, s, in)
		done <- outcome{res: res, err: err}
	}()

	t.emit(ctx, domain.ProgressEvent(t.id, st, progressMessage(st)))
	ticker := time.NewTicker(o.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case r := <-done:
			if ctx.Err() != nil {
				return domain.HandlerResult{}, ctx.Err()
			}
			if r.err != nil {
				if errors.Is(r.err, context.DeadlineExceeded) {
					return timedOut(st), nil
				}
				if !errors.Is(r.err, domain.ErrInvariantViolation) {
					r.err = fmt.Errorf("%w: %s handler: %w", domain.ErrInvariantViolation, st, r.err)
				}
				return domain.HandlerResult{}, r.err
			}
			if !r.res.Success {
				// Failed results are log-only.
				r.res.Patch = domain.SessionPatch{}
				o.logger.Warn("Step failed", "session_id", t.id, "state", st, "error_kind", r.res.ErrorKind)
			}
			o.logger.Debug("Step finished", "session_id", t.id, "state", st, "duration", time.Since(start))
			return r.res, nil
		case <-ticker.C:
			t.emit(ctx, domain.ProgressEvent(t.id, st, progressMessage(st)))
			if t.gone {
				cancel()
				return domain.HandlerResult{}, stream.ErrClosed
			}
		case <-stepCtx.Done():
			if ctx.Err() != nil {
				return domain.HandlerResult{}, ctx.Err()
			}
			o.logger.Warn("Step timed out", "session_id", t.id, "state", st, "timeout", o.stepTimeout)
			return timedOut(st), nil
		}
	}
}

func timedOut(st domain.WorkflowState) domain.HandlerResult {
	res := domain.Failure(domain.ErrorDependencyUnavailable, "This is taking longer than expected. Please try again in a moment.")
	res.Degraded = true
	res.Summary = "timed out in " + st.String()
	return res
}

func summarize(st domain.WorkflowState, res domain.HandlerResult) string {
	if res.Summary != "" {
		return res.Summary
	}
	if !res.Success {
		return st.String() + " failed"
	}
	return st.String() + " done"
}

var progressMessages = map[domain.WorkflowState]string{
	domain.StateIntentCapture:        "Reading your message",
	domain.StateClarification:        "Working out what else I need",
	domain.StateClassification:       "Analysing the photo",
	domain.StatePrescription:         "Looking up treatments",
	domain.StateConstraintGathering:  "Noting your preferences",
	domain.StateVendorRecommendation: "Finding sellers near you",
	domain.StateFollowUp:             "Thinking about your message",
}

func progressMessage(st domain.WorkflowState) string {
	if m, ok := progressMessages[st]; ok {
		return m
	}
	return "Working"
}

func dedupe(items []string) []string {
	var out []string
	for _, it := range items {
		if it != "" && !slices.Contains(out, it) {
			out = append(out, it)
		}
	}
	return out
}
