// Package protocol implements the command processor from spec.md §4.D:
// envelope validation, CRDT-kind dispatch, and an idempotency window over
// (session, request_id) pairs.
package protocol

import "crdtsync/internal/crdt"

// Envelope is the inbound peer->server command shape from spec.md §6:
// `{ "event": "<type>", "payload": {...}, "request_id"?: string }`.
type Envelope struct {
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
}

// Result is what a successfully processed command yields: the affected
// key and its resulting wire-encoded state.
type Result struct {
	Key   string     `json:"key"`
	State crdt.Wire  `json:"state"`
	Extra map[string]any `json:"extra,omitempty"`
}
