package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// GetMessagesParams are the query parameters of GET /v1/sessions/{session_id}/messages.
type GetMessagesParams struct {
	Limit *int `form:"limit,omitempty" json:"limit,omitempty"`
}

// CleanupSessionsParams are the query parameters of POST /v1/sessions/cleanup.
type CleanupSessionsParams struct {
	MaxInactive *string `form:"max_inactive,omitempty" json:"max_inactive,omitempty"`
}

// ServerInterface lists the operations of openapi.yaml.
type ServerInterface interface {
	GetHealth(w http.ResponseWriter, r *http.Request)
	PostChat(w http.ResponseWriter, r *http.Request)
	PostChatStream(w http.ResponseWriter, r *http.Request)
	GetChatWebSocket(w http.ResponseWriter, r *http.Request)
	ListSessions(w http.ResponseWriter, r *http.Request)
	CleanupSessions(w http.ResponseWriter, r *http.Request, params CleanupSessionsParams)
	GetSession(w http.ResponseWriter, r *http.Request, sessionID string)
	DeleteSession(w http.ResponseWriter, r *http.Request, sessionID string)
	GetDiagnosis(w http.ResponseWriter, r *http.Request, sessionID string)
	GetPrescriptions(w http.ResponseWriter, r *http.Request, sessionID string)
	GetMessages(w http.ResponseWriter, r *http.Request, sessionID string, params GetMessagesParams)
	GetActions(w http.ResponseWriter, r *http.Request, sessionID string)
	GetAttention(w http.ResponseWriter, r *http.Request, sessionID string)
	ResetSession(w http.ResponseWriter, r *http.Request, sessionID string)
	GetStats(w http.ResponseWriter, r *http.Request)
}

// ErrorHandlerFunc reports parameter binding failures.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)

// wrapper binds path and query parameters before calling the ServerInterface.
type wrapper struct {
	handler ServerInterface
	onError ErrorHandlerFunc
}

func (s *wrapper) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "session_id", chi.URLParam(r, "session_id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil || id == "" {
		s.onError(w, r, fmt.Errorf("invalid format for parameter session_id: %w", errOrEmpty(err)))
		return "", false
	}
	return id, true
}

func errOrEmpty(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("empty value")
}

func (s *wrapper) withSession(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.sessionID(w, r)
		if !ok {
			return
		}
		fn(w, r, id)
	}
}

func (s *wrapper) getMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var params GetMessagesParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		s.onError(w, r, fmt.Errorf("invalid format for parameter limit: %w", err))
		return
	}
	s.handler.GetMessages(w, r, id, params)
}

func (s *wrapper) cleanupSessions(w http.ResponseWriter, r *http.Request) {
	var params CleanupSessionsParams
	if err := runtime.BindQueryParameter("form", true, false, "max_inactive", r.URL.Query(), &params.MaxInactive); err != nil {
		s.onError(w, r, fmt.Errorf("invalid format for parameter max_inactive: %w", err))
		return
	}
	s.handler.CleanupSessions(w, r, params)
}

// HandlerFromMux mounts si on r.
func HandlerFromMux(si ServerInterface, r chi.Router, onError ErrorHandlerFunc) http.Handler {
	if onError == nil {
		onError = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	s := &wrapper{handler: si, onError: onError}

	r.Get("/health", si.GetHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", si.PostChat)
		r.Post("/chat/stream", si.PostChatStream)
		r.Get("/chat/ws", si.GetChatWebSocket)
		r.Get("/stats", si.GetStats)

		r.Get("/sessions", si.ListSessions)
		r.Post("/sessions/cleanup", s.cleanupSessions)
		r.Route("/sessions/{session_id}", func(r chi.Router) {
			r.Get("/", s.withSession(si.GetSession))
			r.Delete("/", s.withSession(si.DeleteSession))
			r.Get("/diagnosis", s.withSession(si.GetDiagnosis))
			r.Get("/prescriptions", s.withSession(si.GetPrescriptions))
			r.Get("/messages", s.getMessages)
			r.Get("/actions", s.withSession(si.GetActions))
			r.Get("/attention", s.withSession(si.GetAttention))
			r.Post("/reset", s.withSession(si.ResetSession))
		})
	})
	return r
}
