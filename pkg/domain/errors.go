package domain

import "errors"

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionBusy is returned when a turn is already in flight for the session.
var ErrSessionBusy = errors.New("session busy")

// ErrInvalidInput is returned for empty messages and malformed attachments.
var ErrInvalidInput = errors.New("invalid input")

// ErrDependencyUnavailable wraps classifier, retrieval, LLM and vendor failures.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

// ErrInvariantViolation is returned when a turn would break a session invariant.
var ErrInvariantViolation = errors.New("internal invariant violation")

// ErrUndefinedState is returned when a state token is not part of the workflow.
var ErrUndefinedState = errors.New("undefined workflow state")

// ErrDestructivePatch is returned when a patch would overwrite a committed field
// without an explicit user correction.
var ErrDestructivePatch = errors.New("patch overwrites committed field")
