// Package stream carries the ordered output of a turn from the orchestrator to a
// transport: in-memory collection, a bounded producer/consumer pipe, and framing for
// Server-Sent Events, JSON lines and plain terminals.
package stream
