// Package http exposes the engine over HTTP: JSON turns, Server-Sent Event streams,
// a websocket chat and session inspection.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/sasya"
	"github.com/aretw0/sasya/internal/logging"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/stream"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodySize bounds request bodies; images are base64 encoded inside the JSON.
const maxBodySize = 12 << 20

// Engine is the part of sasya.Engine the server uses.
type Engine interface {
	Turn(ctx context.Context, req sasya.TurnRequest) (*sasya.TurnResult, error)
	Stream(ctx context.Context, req sasya.TurnRequest, out stream.Emitter) (*sasya.TurnResult, error)
	Session(ctx context.Context, id string) (*domain.Session, error)
	Sessions(ctx context.Context) ([]string, error)
	Actions(s *domain.Session) []string
	Delete(ctx context.Context, id string) error
	Reset(ctx context.Context, id string) (*domain.Session, error)
	Sweep(ctx context.Context, maxIdle time.Duration) (int, error)
	Stats(ctx context.Context) (sasya.Stats, error)
	Artifact(ctx context.Context, ref string) ([]byte, error)
}

// Server implements ServerInterface.
type Server struct {
	Engine Engine

	logger     *slog.Logger
	gatherer   prometheus.Gatherer
	validate   bool
	origins    []string
	pipeBuffer int
}

var _ ServerInterface = (*Server)(nil)

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer serves the collectors of g on /metrics. Default: the global registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithValidation checks turn request bodies against the OpenAPI schema.
func WithValidation(enabled bool) Option {
	return func(s *Server) {
		s.validate = enabled
	}
}

// WithOrigins sets the origin patterns accepted for websocket upgrades.
func WithOrigins(patterns ...string) Option {
	return func(s *Server) {
		s.origins = patterns
	}
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	server := &Server{
		Engine:     engine,
		logger:     logging.NewNop(),
		gatherer:   prometheus.DefaultGatherer,
		pipeBuffer: 16,
	}
	for _, opt := range opts {
		opt(server)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write(rawSpec())
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(server.gatherer, promhttp.HandlerOpts{}))

	handler := HandlerFromMux(server, r, func(w http.ResponseWriter, r *http.Request, err error) {
		server.fail(w, http.StatusBadRequest, domain.ErrorInvalidInput, err.Error())
	})
	return enableCORS(handler)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if doc, err := GetSwagger(); err == nil && doc.Info != nil {
		apiVersion = doc.Info.Version
	}
	s.json(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"version":     strings.TrimSpace(sasya.Version),
		"api_version": apiVersion,
	})
}

// PostChat handles POST /v1/chat.
func (s *Server) PostChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTurn(w, r)
	if !ok {
		return
	}
	res, err := s.Engine.Turn(r.Context(), req)
	if err != nil {
		s.turnError(w, res, err)
		return
	}
	s.json(w, http.StatusOK, res)
}

// PostChatStream handles POST /v1/chat/stream. Once the stream has started, failures
// are reported as error events; a busy session is an error event followed by done.
func (s *Server) PostChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTurn(w, r)
	if !ok {
		return
	}
	stream.PrepareSSE(w)
	w.WriteHeader(http.StatusOK)
	sse := stream.NewSSE(w)

	ctx := r.Context()
	pipe := stream.NewPipe(s.pipeBuffer)
	go func() {
		defer pipe.Close()
		if _, err := s.Engine.Stream(ctx, req, pipe); err != nil && !errors.Is(err, domain.ErrSessionBusy) {
			s.logger.Error("Stream turn failed", "session_id", req.SessionID, "err", err)
		}
	}()

	for ev := range pipe.Events() {
		if err := sse.Emit(ctx, ev); err != nil {
			s.logger.Debug("Stream client gone", "session_id", ev.SessionID, "err", err)
			pipe.Detach()
			break
		}
	}
	// Drain so the producer can finish its commit.
	for range pipe.Events() {
	}
}

// ListSessions handles GET /v1/sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.Sessions(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.json(w, http.StatusOK, map[string]any{"sessions": ids, "count": len(ids)})
}

// CleanupSessions handles POST /v1/sessions/cleanup.
func (s *Server) CleanupSessions(w http.ResponseWriter, r *http.Request, params CleanupSessionsParams) {
	maxIdle := 24 * time.Hour
	if params.MaxInactive != nil && *params.MaxInactive != "" {
		d, err := time.ParseDuration(*params.MaxInactive)
		if err != nil || d <= 0 {
			s.fail(w, http.StatusBadRequest, domain.ErrorInvalidInput, fmt.Sprintf("invalid max_inactive %q", *params.MaxInactive))
			return
		}
		maxIdle = d
	}
	n, err := s.Engine.Sweep(r.Context(), maxIdle)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.json(w, http.StatusOK, map[string]any{"removed": n, "max_inactive": maxIdle.String()})
}

// GetSession handles GET /v1/sessions/{session_id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, ok := s.load(w, r, sessionID)
	if !ok {
		return
	}
	s.json(w, http.StatusOK, newSessionView(sess, s.Engine.Actions(sess)))
}

// DeleteSession handles DELETE /v1/sessions/{session_id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.Engine.Delete(r.Context(), sessionID); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDiagnosis handles GET /v1/sessions/{session_id}/diagnosis.
func (s *Server) GetDiagnosis(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, ok := s.load(w, r, sessionID)
	if !ok {
		return
	}
	if sess.Diagnosis == nil {
		s.fail(w, http.StatusNotFound, domain.ErrorNone, "no diagnosis yet")
		return
	}
	s.json(w, http.StatusOK, sess.Diagnosis)
}

// GetPrescriptions handles GET /v1/sessions/{session_id}/prescriptions.
func (s *Server) GetPrescriptions(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, ok := s.load(w, r, sessionID)
	if !ok {
		return
	}
	out := sess.Prescriptions
	if out == nil {
		out = []domain.Prescription{}
	}
	s.json(w, http.StatusOK, out)
}

// GetMessages handles GET /v1/sessions/{session_id}/messages.
func (s *Server) GetMessages(w http.ResponseWriter, r *http.Request, sessionID string, params GetMessagesParams) {
	sess, ok := s.load(w, r, sessionID)
	if !ok {
		return
	}
	msgs := sess.Messages
	if params.Limit != nil {
		if *params.Limit < 1 {
			s.fail(w, http.StatusBadRequest, domain.ErrorInvalidInput, "limit must be positive")
			return
		}
		if len(msgs) > *params.Limit {
			msgs = msgs[len(msgs)-*params.Limit:]
		}
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	s.json(w, http.StatusOK, msgs)
}

// GetActions handles GET /v1/sessions/{session_id}/actions.
func (s *Server) GetActions(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, ok := s.load(w, r, sessionID)
	if !ok {
		return
	}
	s.json(w, http.StatusOK, map[string]any{
		"current_state":     sess.State,
		"available_actions": s.Engine.Actions(sess),
	})
}

// GetAttention handles GET /v1/sessions/{session_id}/attention.
func (s *Server) GetAttention(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, ok := s.load(w, r, sessionID)
	if !ok {
		return
	}
	if sess.Diagnosis == nil || sess.Diagnosis.AttentionRef == "" {
		s.fail(w, http.StatusNotFound, domain.ErrorNone, "no attention map")
		return
	}
	ref := sess.Diagnosis.AttentionRef
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		http.Redirect(w, r, ref, http.StatusFound)
		return
	}
	data, err := s.Engine.Artifact(r.Context(), ref)
	if err != nil {
		s.logger.Warn("Attention artifact missing", "session_id", sessionID, "ref", ref, "err", err)
		s.fail(w, http.StatusNotFound, domain.ErrorNone, "attention map not available")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// ResetSession handles POST /v1/sessions/{session_id}/reset.
func (s *Server) ResetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.Engine.Reset(r.Context(), sessionID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.json(w, http.StatusOK, newSessionView(sess, s.Engine.Actions(sess)))
}

// GetStats handles GET /v1/stats.
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Engine.Stats(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.json(w, http.StatusOK, st)
}

// decodeTurn reads a TurnRequest body. Malformed JSON is a 400; content problems
// (oversized message, non-image upload) are left to the engine, which answers them
// as invalid_input turns.
func (s *Server) decodeTurn(w http.ResponseWriter, r *http.Request) (sasya.TurnRequest, bool) {
	var req sasya.TurnRequest
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		s.fail(w, http.StatusBadRequest, domain.ErrorInvalidInput, "request body too large or unreadable")
		return req, false
	}
	if s.validate {
		var generic map[string]any
		if err := json.Unmarshal(buf.Bytes(), &generic); err != nil {
			s.fail(w, http.StatusBadRequest, domain.ErrorInvalidInput, "invalid request body")
			return req, false
		}
		if err := validateTurnRequest(generic); err != nil {
			s.fail(w, http.StatusBadRequest, domain.ErrorInvalidInput, err.Error())
			return req, false
		}
	}
	if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
		s.logger.Warn("Invalid turn request body", "err", err)
		s.fail(w, http.StatusBadRequest, domain.ErrorInvalidInput, "invalid request body")
		return req, false
	}
	return req, true
}

func (s *Server) load(w http.ResponseWriter, r *http.Request, id string) (*domain.Session, bool) {
	sess, err := s.Engine.Session(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) turnError(w http.ResponseWriter, res *sasya.TurnResult, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionBusy):
		w.Header().Set("Retry-After", "1")
		s.fail(w, http.StatusConflict, domain.ErrorSessionBusy, "another turn for this session is in progress")
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
	default:
		s.logger.Error("Turn failed", "err", err)
		body := errorBody{Kind: domain.ErrorInternal, Message: "internal error"}
		if res != nil {
			body.SessionID = res.SessionID
		}
		s.json(w, http.StatusInternalServerError, body)
	}
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		s.fail(w, http.StatusNotFound, domain.ErrorNone, "session not found")
	case errors.Is(err, domain.ErrSessionBusy):
		w.Header().Set("Retry-After", "1")
		s.fail(w, http.StatusConflict, domain.ErrorSessionBusy, "session busy")
	case errors.Is(err, domain.ErrInvalidInput):
		s.fail(w, http.StatusBadRequest, domain.ErrorInvalidInput, err.Error())
	default:
		s.logger.Error("Session store failed", "err", err)
		s.fail(w, http.StatusInternalServerError, domain.ErrorInternal, "internal error")
	}
}

type errorBody struct {
	Kind      domain.ErrorKind `json:"error_kind,omitempty"`
	Message   string           `json:"error"`
	SessionID string           `json:"session_id,omitempty"`
}

func (s *Server) fail(w http.ResponseWriter, status int, kind domain.ErrorKind, msg string) {
	s.json(w, status, errorBody{Kind: kind, Message: msg})
}

func (s *Server) json(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}

// sessionView is the public shape of a session: image bytes and the classifier cache
// stay server side.
type sessionView struct {
	ID            string                `json:"session_id"`
	State         domain.WorkflowState  `json:"current_state"`
	Actions       []string              `json:"available_actions"`
	Profile       domain.UserProfile    `json:"user_profile"`
	Diagnosis     *domain.Diagnosis     `json:"diagnosis,omitempty"`
	Prescriptions []domain.Prescription `json:"prescriptions,omitempty"`
	VendorChoices []domain.VendorChoice `json:"vendor_choices,omitempty"`
	Messages      int                   `json:"message_count"`
	HasImage      bool                  `json:"has_image"`
	CreatedAt     time.Time             `json:"created_at"`
	LastActiveAt  time.Time             `json:"last_active_at"`
}

func newSessionView(s *domain.Session, actions []string) sessionView {
	return sessionView{
		ID:            s.ID,
		State:         s.State,
		Actions:       actions,
		Profile:       s.Profile,
		Diagnosis:     s.Diagnosis,
		Prescriptions: s.Prescriptions,
		VendorChoices: s.VendorChoices,
		Messages:      len(s.Messages),
		HasImage:      s.Image != nil,
		CreatedAt:     s.CreatedAt,
		LastActiveAt:  s.LastActiveAt,
	}
}
