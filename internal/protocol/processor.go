package protocol

import (
	"fmt"

	"github.com/google/uuid"

	"crdtsync/internal/crdt"
	"crdtsync/internal/registry"
)

// Processor is the command processor from spec.md §4.D: it validates
// envelopes, resolves the CRDT kind implied by the event, ensures the
// target replica exists, dispatches to the Registry, and gates on the
// idempotency window. No direct teacher precedent (the teacher has no
// command envelope); grounded directly on spec.md §4.D.
type Processor struct {
	registry    *registry.Registry
	idempotency *idempotencyCache
}

// New creates a Processor backed by reg, with a bounded idempotency
// window of capacity entries (0 uses the documented default of 10 000).
func New(reg *registry.Registry, capacity int) *Processor {
	return &Processor{registry: reg, idempotency: newIdempotencyCache(capacity)}
}

// Stats reports the idempotency cache's current size/eviction count, the
// externally-observable bound spec.md §4.D requires.
func (p *Processor) Stats() Stats { return p.idempotency.stats() }

// DropSession clears sessionID's idempotency entries, called on session
// close (spec.md §4.E "drain idempotency cache asynchronously").
func (p *Processor) DropSession(sessionID string) { p.idempotency.drop(sessionID) }

// NextRequestID returns a fresh random request id. Process does not call
// it: an envelope without a request_id is executed without being recorded
// in the idempotency cache.
func NextRequestID() string { return uuid.NewString() }

// Process validates and executes env on behalf of sessionID, returning
// the resulting key/state or a typed *Error. node is the session's
// authenticated node id, used when the envelope's payload omits one.
func (p *Processor) Process(sessionID string, node crdt.NodeID, env Envelope) (*Result, error) {
	if env.RequestID != "" {
		if cached, ok := p.idempotency.lookup(sessionID, env.RequestID); ok {
			_ = cached
			return nil, errDuplicate(env.RequestID)
		}
	}

	result, err := p.dispatch(sessionID, node, env)
	if err != nil {
		return nil, err
	}

	if env.RequestID != "" {
		p.idempotency.record(sessionID, env.RequestID, result)
	}
	return result, nil
}

func (p *Processor) dispatch(sessionID string, node crdt.NodeID, env Envelope) (*Result, error) {
	if env.Event == "" {
		return nil, errInvalid("empty event")
	}
	payload := env.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if s, ok := stringField(payload, "node_id"); ok && crdt.NodeID(s) != node {
		return nil, errInvalid(fmt.Sprintf("node_id %q does not match the session's node %q", s, node))
	}

	key, ok := stringField(payload, "key")
	if !ok && env.Event != "merge" {
		return nil, errMissingField("key")
	}

	switch env.Event {
	case "increment":
		return p.update(sessionID, key, crdt.KindGCounter, func(r crdt.Replica) (crdt.Replica, error) {
			return r.(*crdt.GCounter).Increment(nodeOrDefault(payload, node)), nil
		})

	case "increment_by":
		amount, ok := uintField(payload, "amount")
		if !ok {
			return nil, errMissingField("amount")
		}
		return p.update(sessionID, key, crdt.KindGCounter, func(r crdt.Replica) (crdt.Replica, error) {
			return r.(*crdt.GCounter).IncrementBy(nodeOrDefault(payload, node), amount), nil
		})

	case "decrement":
		return p.update(sessionID, key, crdt.KindPNCounter, func(r crdt.Replica) (crdt.Replica, error) {
			return r.(*crdt.PNCounter).Decrement(nodeOrDefault(payload, node)), nil
		})

	case "set":
		value, hasValue := payload["value"]
		if !hasValue {
			return nil, errMissingField("value")
		}
		return p.update(sessionID, key, crdt.KindLWWRegister, func(r crdt.Replica) (crdt.Replica, error) {
			return r.(*crdt.LWWRegister).Set(value, nodeOrDefault(payload, node)), nil
		})

	case "add":
		element, ok := stringField(payload, "element")
		if !ok {
			return nil, errMissingField("element")
		}
		return p.update(sessionID, key, crdt.KindORSet, func(r crdt.Replica) (crdt.Replica, error) {
			return r.(*crdt.ORSet).Add(element, nodeOrDefault(payload, node)), nil
		})

	case "remove":
		element, ok := stringField(payload, "element")
		if !ok {
			return nil, errMissingField("element")
		}
		return p.update(sessionID, key, crdt.KindORSet, func(r crdt.Replica) (crdt.Replica, error) {
			return r.(*crdt.ORSet).Remove(element), nil
		})

	case "merge":
		rawState, ok := payload["state"]
		if !ok {
			return nil, errMissingField("state")
		}
		if key == "" {
			k, ok2 := stringField(payload, "key")
			if !ok2 {
				return nil, errMissingField("key")
			}
			key = k
		}
		incoming, err := decodeWirePayload(rawState)
		if err != nil {
			return nil, errInvalid(fmt.Sprintf("bad state payload: %v", err))
		}
		merged, err := p.registry.Merge(key, incoming, sessionID)
		return p.wrap(key, merged, err)

	case "sync":
		rawState, ok := payload["state"]
		if !ok {
			return nil, errMissingField("state")
		}
		clientState, err := decodeWirePayload(rawState)
		if err != nil {
			return nil, errInvalid(fmt.Sprintf("bad state payload: %v", err))
		}
		delta, err := p.registry.Delta(key, clientState)
		return p.wrap(key, delta, err)

	default:
		return nil, errUnknownCommand(env.Event)
	}
}

// update ensures key exists with kind, then applies f under the
// Registry's per-key critical section, tagging the resulting broadcast
// with sessionID as its origin (spec.md §4.E echo suppression).
func (p *Processor) update(sessionID, key string, kind crdt.Kind, f func(crdt.Replica) (crdt.Replica, error)) (*Result, error) {
	if _, err := p.registry.GetOrCreate(key, kind); err != nil {
		return nil, translateRegistryErr(err)
	}
	replica, err := p.registry.Update(key, f, sessionID)
	return p.wrap(key, replica, err)
}

func (p *Processor) wrap(key string, replica crdt.Replica, err error) (*Result, error) {
	if err != nil {
		return nil, translateRegistryErr(err)
	}
	return &Result{Key: key, State: replica.Encode()}, nil
}

// translateRegistryErr maps registry.ErrNotFound/ErrKindMismatch and
// crdt.ErrKindMismatch onto the stable protocol.Error kinds (spec.md §5:
// a type mismatch MUST surface as kind_mismatch, no silent upgrade).
func translateRegistryErr(err error) error {
	switch e := err.(type) {
	case *registry.ErrNotFound:
		return errNotFound(e.Key)
	case *registry.ErrKindMismatch:
		return errKindMismatch(fmt.Sprintf("key %q: want %s, got %s", e.Key, e.Want, e.Got))
	case *crdt.ErrKindMismatch:
		return errKindMismatch(fmt.Sprintf("want %s, got %s", e.Want, e.Got))
	default:
		return err
	}
}

func stringField(payload map[string]any, field string) (string, bool) {
	v, ok := payload[field]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func uintField(payload map[string]any, field string) (uint64, bool) {
	v, ok := payload[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

// nodeOrDefault reads payload["node_id"] if present, else falls back to
// the session's authenticated node (spec.md §6 snake_case field name).
func nodeOrDefault(payload map[string]any, fallback crdt.NodeID) crdt.NodeID {
	if s, ok := stringField(payload, "node_id"); ok {
		return crdt.NodeID(s)
	}
	return fallback
}

// decodeWirePayload converts the loosely-typed JSON payload of a
// crdt.merge/sync command's "state" field into a crdt.Wire and decodes
// it into a concrete Replica.
func decodeWirePayload(raw any) (crdt.Replica, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("state must be an object")
	}
	kindStr, _ := stringField(m, "kind")
	payload, _ := m["payload"].(map[string]any)
	wire := crdt.Wire{Kind: crdt.Kind(kindStr), Payload: payload}
	if v, ok := uintField(m, "version"); ok {
		wire.Version = v
	}
	return crdt.Decode(wire)
}
