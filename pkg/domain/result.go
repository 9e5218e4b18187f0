package domain

// ErrorKind classifies expected failures so callers can react without parsing text.
type ErrorKind string

const (
	ErrorNone                  ErrorKind = ""
	ErrorInvalidInput          ErrorKind = "invalid_input"
	ErrorDependencyUnavailable ErrorKind = "dependency_unavailable"
	ErrorSessionBusy           ErrorKind = "session_busy"
	ErrorInternal              ErrorKind = "internal_invariant_violation"
)

// Err maps the kind to its sentinel error.
func (k ErrorKind) Err() error {
	switch k {
	case ErrorInvalidInput:
		return ErrInvalidInput
	case ErrorDependencyUnavailable:
		return ErrDependencyUnavailable
	case ErrorSessionBusy:
		return ErrSessionBusy
	case ErrorInternal:
		return ErrInvariantViolation
	}
	return nil
}

// Route is the follow-up classification of a user message.
type Route string

const (
	RouteNone        Route = ""
	RouteCorrection  Route = "correction"
	RouteConfirm     Route = "confirm"
	RouteNewReport   Route = "new_report"
	RouteReclassify  Route = "reclassify"
	RouteVendors     Route = "vendors"
	RoutePreferences Route = "preferences"
	RouteQuestion    Route = "question"
	RouteDone        Route = "done"
)

// HandlerResult is the outcome of one handler execution.
type HandlerResult struct {
	Success      bool
	ResponseText string

	// Patch is merged into the session only when Success is true.
	Patch SessionPatch

	FollowUps []string

	// RequiresUserInput ends the turn after this step. When false the orchestrator
	// continues immediately with the next state's handler.
	RequiresUserInput bool

	ErrorKind ErrorKind

	// Route carries the handler's reading of the message (corrections, questions, ...).
	Route Route

	// Degraded marks an answer produced while a collaborator was unavailable.
	Degraded bool

	// Summary is the activity-log line for this step.
	Summary string
}

// Failure builds an unsuccessful result that yields back to the user.
func Failure(kind ErrorKind, text string) HandlerResult {
	return HandlerResult{
		Success:           false,
		ResponseText:      text,
		ErrorKind:         kind,
		RequiresUserInput: true,
		FollowUps:         []string{"retry"},
		Summary:           string(kind),
	}
}

// WorkflowDecision is the controller's choice after a step.
type WorkflowDecision struct {
	NextState        WorkflowState `json:"next_state"`
	Reason           string        `json:"reason"`
	AvailableActions []string      `json:"available_actions"`
}
