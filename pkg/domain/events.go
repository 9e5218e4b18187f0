package domain

// EventType tags an OutputEvent.
type EventType string

const (
	EventState     EventType = "state"
	EventProgress  EventType = "progress"
	EventChunk     EventType = "chunk"
	EventFollowUps EventType = "followups"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// OutputEvent is one element of the ordered stream produced during a turn.
// Only the fields relevant to Type are set.
type OutputEvent struct {
	Type      EventType     `json:"type"`
	SessionID string        `json:"session_id,omitempty"`
	State     WorkflowState `json:"state,omitempty"`
	Actions   []string      `json:"actions,omitempty"`
	Text      string        `json:"text,omitempty"`
	Items     []string      `json:"items,omitempty"`
	Message   string        `json:"message,omitempty"`
	Kind      ErrorKind     `json:"kind,omitempty"`
}

// StateEvent announces a decided state and its available actions.
func StateEvent(id string, st WorkflowState, actions []string) OutputEvent {
	return OutputEvent{Type: EventState, SessionID: id, State: st, Actions: actions}
}

// ProgressEvent reports that a handler is in flight.
func ProgressEvent(id string, st WorkflowState, msg string) OutputEvent {
	return OutputEvent{Type: EventProgress, SessionID: id, State: st, Message: msg}
}

// ChunkEvent carries a piece of the composed response.
func ChunkEvent(id, text string) OutputEvent {
	return OutputEvent{Type: EventChunk, SessionID: id, Text: text}
}

// FollowUpsEvent carries suggested next inputs.
func FollowUpsEvent(id string, items []string) OutputEvent {
	return OutputEvent{Type: EventFollowUps, SessionID: id, Items: items}
}

// ErrorEvent reports a failure of the turn or one of its steps.
func ErrorEvent(id string, kind ErrorKind, msg string) OutputEvent {
	return OutputEvent{Type: EventError, SessionID: id, Kind: kind, Message: msg}
}

// DoneEvent terminates the stream of a turn.
func DoneEvent(id string) OutputEvent {
	return OutputEvent{Type: EventDone, SessionID: id}
}
