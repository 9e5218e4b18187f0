package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/sasya/internal/logging"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/ports"
	"github.com/aretw0/sasya/pkg/workflow"
)

// Input is what the user sent in the current turn, already sanitized.
type Input struct {
	Message string

	// Image is the photo uploaded with this turn, if any.
	Image *domain.Image

	Hints Hints

	// Chained is set when an earlier step of the same turn already saw this input.
	Chained bool
}

// Handler runs the logic of one workflow state.
//
// Execute must not modify s; everything it wants to change goes into the result's patch.
// Expected failures are reported through the result. A returned error means something
// unexpected happened and aborts the turn.
type Handler interface {
	Execute(ctx context.Context, s *domain.Session, in Input) (domain.HandlerResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, s *domain.Session, in Input) (domain.HandlerResult, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, s *domain.Session, in Input) (domain.HandlerResult, error) {
	return f(ctx, s, in)
}

// Deps are the collaborators shared by the handlers. Nil collaborators make the
// handlers that need them report dependency_unavailable (or degrade, where allowed).
type Deps struct {
	Classifier ports.Classifier
	Retriever  ports.Retriever
	LLM        ports.LLM
	Vendors    ports.VendorLookup
	Artifacts  ports.ArtifactStore

	Policy workflow.Policy
	Logger *slog.Logger
	Now    func() time.Time
}

func (d Deps) withDefaults() Deps {
	d.Policy = d.Policy.WithDefaults()
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Registry maps workflow states to handlers. Lookup is a single table access.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.WorkflowState]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.WorkflowState]Handler)}
}

// Default returns a registry with the built-in handler for every state that has one.
func Default(deps Deps) *Registry {
	deps = deps.withDefaults()
	r := NewRegistry()
	r.handlers[domain.StateIntentCapture] = &IntentCapture{deps: deps}
	r.handlers[domain.StateClarification] = &Clarification{deps: deps}
	r.handlers[domain.StateClassification] = &Classification{deps: deps}
	r.handlers[domain.StatePrescription] = &Prescription{deps: deps}
	r.handlers[domain.StateConstraintGathering] = &ConstraintGathering{deps: deps}
	r.handlers[domain.StateVendorRecommendation] = &VendorRecommendation{deps: deps}
	r.handlers[domain.StateFollowUp] = &FollowUp{deps: deps}
	return r
}

// Register installs h for st, replacing any previous handler.
func (r *Registry) Register(st domain.WorkflowState, h Handler) error {
	if !st.HasHandler() {
		return fmt.Errorf("%w: %q takes no handler", domain.ErrUndefinedState, st)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[st] = h
	return nil
}

// Lookup returns the handler for st.
func (r *Registry) Lookup(st domain.WorkflowState) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[st]
	return h, ok
}

func ok(text string) domain.HandlerResult {
	return domain.HandlerResult{Success: true, ResponseText: text}
}
