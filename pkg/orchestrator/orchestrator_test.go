package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/sasya/pkg/adapters/memory"
	"github.com/aretw0/sasya/pkg/adapters/stub"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/handlers"
	"github.com/aretw0/sasya/pkg/session"
	"github.com/aretw0/sasya/pkg/stream"
	"github.com/aretw0/sasya/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func photo(tag string) []byte {
	return append(append([]byte(nil), pngHeader...), tag...)
}

type harness struct {
	store      *memory.Store
	sessions   *session.Manager
	classifier *stub.Classifier
	retriever  *stub.Retriever
	llm        *stub.LLM
	vendors    *stub.Vendors
	registry   *handlers.Registry
	metrics    *Metrics
	orch       *Orchestrator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:      memory.NewStore(),
		classifier: &stub.Classifier{Label: "early_blight", Confidence: 0.9},
		retriever:  stub.NewRetriever(),
		llm:        stub.NewLLM(),
		vendors:    stub.NewVendors(),
		metrics:    NewMetrics(prometheus.NewRegistry()),
	}
	h.sessions = session.NewManager(h.store)
	h.registry = handlers.Default(handlers.Deps{
		Classifier: h.classifier,
		Retriever:  h.retriever,
		LLM:        h.llm,
		Vendors:    h.vendors,
		Artifacts:  memory.NewArtifacts(),
	})
	opts = append([]Option{WithMetrics(h.metrics)}, opts...)
	h.orch = New(h.sessions, h.registry, workflow.NewController(workflow.DefaultPolicy()), opts...)
	return h
}

func (h *harness) turn(t *testing.T, req TurnRequest) (*TurnResult, *stream.Collector) {
	t.Helper()
	c := &stream.Collector{}
	res, err := h.orch.HandleTurn(context.Background(), req, c)
	require.NoError(t, err)
	require.NotNil(t, res)
	events := c.Types()
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventDone, events[len(events)-1], "every turn ends with done")
	return res, c
}

func (h *harness) load(t *testing.T, id string) *domain.Session {
	t.Helper()
	s, err := h.store.Load(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (h *harness) seed(t *testing.T, s *domain.Session) {
	t.Helper()
	require.NoError(t, h.store.Save(context.Background(), s.ID, s))
}

// readyRequest carries a complete profile and a photo.
func readyRequest(id string) TurnRequest {
	return TurnRequest{
		SessionID: id,
		Message:   "Please check my plant",
		Image:     photo("leaf"),
		Context:   map[string]any{"crop": "tomato", "location": "Pune"},
	}
}

func diagnosedSession(t *testing.T, id string) *domain.Session {
	t.Helper()
	img, err := handlers.SanitizeImage(photo("leaf"))
	require.NoError(t, err)
	s := domain.NewSession(id, time.Now().Add(-time.Minute))
	s.State = domain.StateFollowUp
	s.Profile.Crop = "tomato"
	s.Profile.Location = "Pune"
	s.Image = img
	s.Diagnosis = &domain.Diagnosis{Label: "early_blight", Confidence: 0.9, ImageDigest: img.Digest, AttentionRef: "mem://attention/x"}
	s.Classified = map[string]domain.Diagnosis{img.Digest: *s.Diagnosis}
	s.Prescriptions = []domain.Prescription{{
		DiagnosisLabel: "early_blight",
		Treatments:     []domain.Treatment{{Kind: domain.TreatmentChemical, Name: "Mancozeb 75% WP"}},
		Source:         domain.SourceRetrieval,
	}}
	s.Append(domain.RoleUser, "My tomato has spots", s.CreatedAt)
	return s
}

func TestHandleTurn_MissingLocationAsksClarification(t *testing.T) {
	h := newHarness(t)
	res, c := h.turn(t, TurnRequest{Message: "My tomato plant has yellow spots"})

	assert.True(t, res.Success)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, domain.StateClarification, res.State)
	assert.Contains(t, res.Actions, "provide_location")
	assert.Equal(t, []domain.WorkflowState{domain.StateIntentCapture, domain.StateClarification, domain.StateClarification}, c.States())

	s := h.load(t, res.SessionID)
	assert.Equal(t, domain.StateClarification, s.State)
	assert.Equal(t, "tomato", s.Profile.Crop)
	assert.Empty(t, s.Profile.Location)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, domain.RoleUser, s.Messages[0].Role)
	assert.Equal(t, "My tomato plant has yellow spots", s.Messages[0].Text)
	assert.Equal(t, domain.RoleAssistant, s.Messages[1].Role)
	assert.Len(t, s.ActivityLog, 2)
	assert.Equal(t, 0, h.classifier.Calls())
}

func TestHandleTurn_CompleteRequestSkipsClarification(t *testing.T) {
	h := newHarness(t)
	res, c := h.turn(t, readyRequest("b1"))

	assert.True(t, res.Success)
	states := c.States()
	assert.Contains(t, states, domain.StateClassification)
	assert.NotContains(t, states, domain.StateClarification)
	assert.Equal(t, domain.StateFollowUp, res.State)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, 1, h.classifier.Calls())

	s := h.load(t, "b1")
	require.NotNil(t, s.Diagnosis)
	assert.Equal(t, "early_blight", s.Diagnosis.Label)
	assert.NotEmpty(t, s.Diagnosis.AttentionRef)
	assert.Len(t, s.Prescriptions, 1)

	types := c.Types()
	assert.Equal(t, domain.EventState, types[0], "the first decision is announced before any handler runs")
	assert.Contains(t, types, domain.EventProgress)
	assert.Contains(t, types, domain.EventChunk)
}

func TestHandleTurn_LowConfidenceAsksConfirmation(t *testing.T) {
	h := newHarness(t)
	h.classifier.Confidence = 0.40
	res, _ := h.turn(t, readyRequest("c1"))

	assert.True(t, res.Success)
	assert.Equal(t, domain.StateFollowUp, res.State)
	assert.Contains(t, res.Actions, "confirm_diagnosis")
	assert.Contains(t, res.ResponseText, "40%")

	s := h.load(t, "c1")
	assert.Empty(t, s.Prescriptions)
	require.NotNil(t, s.Diagnosis)
	assert.InDelta(t, 0.40, s.Diagnosis.Confidence, 1e-9)
}

func TestHandleTurn_LabelCorrectionReprescribes(t *testing.T) {
	h := newHarness(t)
	h.seed(t, diagnosedSession(t, "d1"))

	res, c := h.turn(t, TurnRequest{SessionID: "d1", Message: "I think it's late blight, not early blight"})

	assert.True(t, res.Success)
	assert.Contains(t, c.States(), domain.StatePrescription)

	s := h.load(t, "d1")
	require.NotNil(t, s.Diagnosis)
	assert.Equal(t, "late_blight", s.Diagnosis.Label)
	assert.True(t, s.Diagnosis.UserOverridden)
	assert.Equal(t, "early_blight", s.Diagnosis.OriginalLabel)
	assert.InDelta(t, 0.9, s.Diagnosis.Confidence, 1e-9)
	assert.Equal(t, "mem://attention/x", s.Diagnosis.AttentionRef)
	assert.Equal(t, "tomato", s.Profile.Crop)
	require.Len(t, s.Prescriptions, 2)
	assert.Equal(t, "late_blight", s.LatestPrescription().DiagnosisLabel)
	assert.Equal(t, 0, h.classifier.Calls())
}

func TestHandleTurn_ClassifierTimeoutKeepsState(t *testing.T) {
	h := newHarness(t, WithStepTimeout(50*time.Millisecond))
	h.classifier.Delay = time.Second

	img, err := handlers.SanitizeImage(photo("leaf"))
	require.NoError(t, err)
	seed := domain.NewSession("e1", time.Now())
	seed.State = domain.StateClassification
	seed.Profile.Crop = "tomato"
	seed.Profile.Location = "Pune"
	seed.Image = img
	h.seed(t, seed)

	res, c := h.turn(t, TurnRequest{SessionID: "e1", Message: "here is the photo"})

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrorDependencyUnavailable, res.ErrorKind)
	assert.Equal(t, domain.StateClassification, res.State)
	assert.Contains(t, res.Actions, "retry")
	assert.Len(t, c.Of(domain.EventError), 1)

	s := h.load(t, "e1")
	assert.Equal(t, domain.StateClassification, s.State)
	assert.Len(t, s.ActivityLog, 1)
	assert.Equal(t, domain.ErrorDependencyUnavailable, s.ActivityLog[0].ErrorKind)
	assert.Empty(t, s.Messages, "a failed first step leaves the transcript alone")
	assert.Nil(t, s.Diagnosis)
}

func TestHandleTurn_ClassifierCache(t *testing.T) {
	h := newHarness(t)
	h.turn(t, readyRequest("k1"))
	require.Equal(t, 1, h.classifier.Calls())

	res, c := h.turn(t, TurnRequest{SessionID: "k1", Message: "please check again"})
	assert.True(t, res.Success)
	assert.Contains(t, c.States(), domain.StateClassification)
	assert.Equal(t, 1, h.classifier.Calls(), "same image must not be classified twice")

	res, _ = h.turn(t, TurnRequest{SessionID: "k1", Message: "here it is again", Image: photo("leaf")})
	assert.True(t, res.Success)
	assert.Equal(t, 1, h.classifier.Calls())
}

func TestHandleTurn_RetryAfterDependencyFailure(t *testing.T) {
	h := newHarness(t)
	h.classifier.Err = errors.New("connection refused")

	res, _ := h.turn(t, readyRequest("r1"))
	assert.False(t, res.Success)
	assert.Equal(t, domain.StateClassification, res.State)

	h.classifier.Err = nil
	res, _ = h.turn(t, TurnRequest{SessionID: "r1", Message: "retry"})
	assert.True(t, res.Success)
	assert.Equal(t, domain.StateFollowUp, res.State)
	assert.Equal(t, 2, h.classifier.Calls())
}

func TestHandleTurn_MessagesNeverShrink(t *testing.T) {
	h := newHarness(t)
	h.classifier.Err = errors.New("down")
	inputs := []TurnRequest{
		{SessionID: "m1", Message: "My tomato plant has yellow spots"},
		{SessionID: "m1", Message: ""},
		{SessionID: "m1", Message: "I live in Pune", Image: photo("leaf")},
		{SessionID: "m1", Message: "try again"},
		{SessionID: "m1", Message: "thanks"},
	}

	prevMsgs, prevLog := 0, 0
	for i, req := range inputs {
		if i == 3 {
			h.classifier.Err = nil
		}
		_, err := h.orch.HandleTurn(context.Background(), req, nil)
		require.NoError(t, err)
		s := h.load(t, "m1")
		assert.GreaterOrEqual(t, len(s.Messages), prevMsgs, "turn %d", i)
		assert.Greater(t, len(s.ActivityLog), prevLog, "turn %d", i)
		assert.True(t, s.State.Valid())
		prevMsgs, prevLog = len(s.Messages), len(s.ActivityLog)
	}
}

func TestHandleTurn_InvalidInput(t *testing.T) {
	h := newHarness(t)
	res, c := h.turn(t, TurnRequest{SessionID: "i1", Message: "   "})

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrorInvalidInput, res.ErrorKind)
	assert.Equal(t, domain.StateInitial, res.State)
	assert.Equal(t, []domain.EventType{domain.EventState, domain.EventError, domain.EventFollowUps, domain.EventDone}, c.Types())

	s := h.load(t, "i1")
	assert.Equal(t, domain.StateInitial, s.State)
	assert.Empty(t, s.Messages)
	require.Len(t, s.ActivityLog, 1)
	assert.Equal(t, domain.ErrorInvalidInput, s.ActivityLog[0].ErrorKind)

	res, _ = h.turn(t, TurnRequest{SessionID: "i1", Message: "leaf", Image: []byte("not a picture at all")})
	assert.Equal(t, domain.ErrorInvalidInput, res.ErrorKind)
	assert.Contains(t, res.ErrorMessage, "photo")
}

func TestHandleTurn_Busy(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, h.registry.Register(domain.StateIntentCapture, handlers.HandlerFunc(
		func(ctx context.Context, s *domain.Session, in handlers.Input) (domain.HandlerResult, error) {
			close(started)
			<-release
			return domain.HandlerResult{Success: true, ResponseText: "ok", RequiresUserInput: true}, nil
		})))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.orch.HandleTurn(context.Background(), TurnRequest{SessionID: "busy", Message: "hello"}, nil)
		assert.NoError(t, err)
	}()
	<-started

	c := &stream.Collector{}
	res, err := h.orch.HandleTurn(context.Background(), TurnRequest{SessionID: "busy", Message: "hello again"}, c)
	assert.ErrorIs(t, err, domain.ErrSessionBusy)
	assert.Equal(t, domain.ErrorSessionBusy, res.ErrorKind)
	assert.Equal(t, domain.StateInitial, res.State, "nothing committed yet")
	assert.NotEmpty(t, res.Actions)
	assert.Equal(t, []domain.EventType{domain.EventError, domain.EventDone}, c.Types())

	close(release)
	wg.Wait()

	s := h.load(t, "busy")
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "hello", s.Messages[0].Text)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Turns.WithLabelValues(OutcomeBusy)))
}

func TestHandleTurn_BusyReportsCommittedState(t *testing.T) {
	h := newHarness(t)
	h.seed(t, diagnosedSession(t, "busy-2"))
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, h.registry.Register(domain.StateFollowUp, handlers.HandlerFunc(
		func(ctx context.Context, s *domain.Session, in handlers.Input) (domain.HandlerResult, error) {
			close(started)
			<-release
			return domain.HandlerResult{Success: true, ResponseText: "ok", RequiresUserInput: true}, nil
		})))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.orch.HandleTurn(context.Background(), TurnRequest{SessionID: "busy-2", Message: "what now?"}, nil)
	}()
	<-started

	res, err := h.orch.HandleTurn(context.Background(), TurnRequest{SessionID: "busy-2", Message: "hello?"}, nil)
	close(release)
	<-done

	assert.ErrorIs(t, err, domain.ErrSessionBusy)
	assert.Equal(t, domain.StateFollowUp, res.State)
	assert.Contains(t, res.Actions, "ask_question")
}

func TestHandleTurn_InvariantViolationRollsBack(t *testing.T) {
	tests := []struct {
		name    string
		handler handlers.HandlerFunc
	}{
		{
			name: "destructive patch",
			handler: func(ctx context.Context, s *domain.Session, in handlers.Input) (domain.HandlerResult, error) {
				res := domain.HandlerResult{Success: true}
				res.Patch.Profile.Crop = "chilli"
				return res, nil
			},
		},
		{
			name: "panic",
			handler: func(ctx context.Context, s *domain.Session, in handlers.Input) (domain.HandlerResult, error) {
				panic("nil map")
			},
		},
		{
			name: "unexpected error",
			handler: func(ctx context.Context, s *domain.Session, in handlers.Input) (domain.HandlerResult, error) {
				return domain.HandlerResult{}, errors.New("bug")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			seed := domain.NewSession("v1", time.Now().Add(-time.Hour))
			seed.State = domain.StateClarification
			seed.Profile.Crop = "tomato"
			seed.Append(domain.RoleUser, "My tomato plant has yellow spots", seed.CreatedAt)
			h.seed(t, seed)
			require.NoError(t, h.registry.Register(domain.StateClarification, tt.handler))

			c := &stream.Collector{}
			res, err := h.orch.HandleTurn(context.Background(), TurnRequest{SessionID: "v1", Message: "Pune"}, c)
			assert.ErrorIs(t, err, domain.ErrInvariantViolation)
			assert.Equal(t, domain.ErrorInternal, res.ErrorKind)
			require.Len(t, c.Of(domain.EventError), 1)
			assert.Equal(t, domain.ErrorInternal, c.Of(domain.EventError)[0].Kind)

			assert.Equal(t, seed, h.load(t, "v1"), "the stored session is untouched")
		})
	}
}

func TestHandleTurn_ClientDisconnect(t *testing.T) {
	h := newHarness(t)
	var seen []domain.EventType
	out := stream.EmitterFunc(func(ctx context.Context, ev domain.OutputEvent) error {
		seen = append(seen, ev.Type)
		if ev.Type == domain.EventChunk {
			return stream.ErrClosed
		}
		return nil
	})

	res, err := h.orch.HandleTurn(context.Background(), readyRequest("x1"), out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, domain.EventChunk, seen[len(seen)-1], "nothing is sent after the consumer fails")
	assert.Equal(t, 0, h.classifier.Calls(), "no further handler work after disconnect")

	s := h.load(t, "x1")
	assert.Equal(t, domain.StateClassification, s.State, "completed steps are committed")
	assert.Equal(t, "tomato", s.Profile.Crop)
	assert.Len(t, s.Messages, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Turns.WithLabelValues(OutcomeCanceled)))
}

func TestHandleTurn_CanceledWhileHandlerRuns(t *testing.T) {
	h := newHarness(t)
	h.classifier.Delay = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	out := stream.EmitterFunc(func(_ context.Context, ev domain.OutputEvent) error {
		if ev.Type == domain.EventProgress && ev.State == domain.StateClassification {
			cancel()
		}
		return nil
	})

	res, err := h.orch.HandleTurn(ctx, readyRequest("x2"), out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Steps)

	s := h.load(t, "x2")
	assert.Equal(t, domain.StateClassification, s.State)
	assert.Nil(t, s.Diagnosis)
	assert.Len(t, s.ActivityLog, 1)
}

func TestHandleTurn_ChainBound(t *testing.T) {
	h := newHarness(t, WithMaxChain(0))
	res, _ := h.turn(t, readyRequest("n1"))
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, domain.StateClassification, res.State)
	assert.Equal(t, 0, h.classifier.Calls())

	h = newHarness(t, WithMaxChain(1))
	res, _ = h.turn(t, readyRequest("n2"))
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, domain.StatePrescription, res.State)
	assert.Empty(t, h.load(t, "n2").Prescriptions)
}

func TestHandleTurn_Heartbeat(t *testing.T) {
	h := newHarness(t, WithHeartbeat(10*time.Millisecond))
	h.classifier.Delay = 80 * time.Millisecond

	_, c := h.turn(t, readyRequest("h1"))
	var beats int
	for _, ev := range c.Of(domain.EventProgress) {
		if ev.State == domain.StateClassification {
			beats++
		}
	}
	assert.GreaterOrEqual(t, beats, 2)
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []domain.OutputEvent
}

func (s *sinkRecorder) Publish(ctx context.Context, ev domain.OutputEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func TestHandleTurn_SinkReceivesEvents(t *testing.T) {
	sink := &sinkRecorder{}
	h := newHarness(t, WithSink(sink))
	_, c := h.turn(t, TurnRequest{SessionID: "s1", Message: "My tomato plant has yellow spots"})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, c.Events(), sink.events)
}

func TestHandleTurn_Completed(t *testing.T) {
	h := newHarness(t)
	seed := diagnosedSession(t, "z1")
	seed.State = domain.StateCompleted
	h.seed(t, seed)

	res, _ := h.turn(t, TurnRequest{SessionID: "z1", Message: "thanks"})
	assert.Equal(t, domain.StateCompleted, res.State)
	assert.NotEmpty(t, res.ResponseText)
	assert.Equal(t, 0, res.Steps)

	res, c := h.turn(t, TurnRequest{SessionID: "z1", Message: "Another plant, my chilli leaves are curling"})
	assert.Equal(t, domain.StateIntentCapture, c.States()[0])
	s := h.load(t, "z1")
	assert.Equal(t, "chilli", s.Profile.Crop)
	assert.Equal(t, "Pune", s.Profile.Location, "location carries over to the new case")
	assert.Nil(t, s.Diagnosis)
	assert.Equal(t, domain.StateClarification, res.State)
}

func TestHandleTurn_Metrics(t *testing.T) {
	h := newHarness(t)
	h.turn(t, readyRequest("p1"))
	h.turn(t, TurnRequest{SessionID: "p1", Message: ""})

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Turns.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Turns.WithLabelValues(OutcomeInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Transitions.WithLabelValues("classification", "prescription")))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.InFlight))
}
