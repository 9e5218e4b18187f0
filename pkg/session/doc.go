/*
Package session implements session management and persistence orchestration.

The Manager serializes turns per session ID with reference-counted local locks and,
optionally, a distributed lock shared across replicas. A second turn for a session that
already has one in flight is rejected with domain.ErrSessionBusy rather than queued.
*/
package session
