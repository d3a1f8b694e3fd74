package protocol

import (
	"testing"

	"crdtsync/internal/crdt"
	"crdtsync/internal/registry"
)

func TestProcessIncrementCreatesAndUpdates(t *testing.T) {
	p := New(registry.New(), 0)
	res, err := p.Process("s1", "A", Envelope{Event: "increment", Payload: map[string]any{"key": "c1"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.State.Payload["counts"].(map[string]any)["A"].(uint64) != 1 {
		t.Fatalf("unexpected state: %+v", res.State)
	}
}

func TestProcessIncrementByAndDecrementKindMismatch(t *testing.T) {
	p := New(registry.New(), 0)
	if _, err := p.Process("s1", "A", Envelope{Event: "increment_by", Payload: map[string]any{"key": "c1", "amount": 3}}); err != nil {
		t.Fatal(err)
	}
	_, err := p.Process("s1", "A", Envelope{Event: "decrement", Payload: map[string]any{"key": "c1"}})
	pe, ok := err.(*Error)
	if !ok || pe.Kind != KindMismatch {
		t.Fatalf("expected kind_mismatch, got %v", err)
	}
}

func TestProcessMissingField(t *testing.T) {
	p := New(registry.New(), 0)
	_, err := p.Process("s1", "A", Envelope{Event: "increment_by", Payload: map[string]any{"key": "c1"}})
	pe, ok := err.(*Error)
	if !ok || pe.Kind != KindMissingField {
		t.Fatalf("expected missing_field, got %v", err)
	}
}

func TestProcessUnknownCommand(t *testing.T) {
	p := New(registry.New(), 0)
	_, err := p.Process("s1", "A", Envelope{Event: "teleport", Payload: map[string]any{"key": "c1"}})
	pe, ok := err.(*Error)
	if !ok || pe.Kind != KindUnknownCommand {
		t.Fatalf("expected unknown_command, got %v", err)
	}
}

func TestProcessIdempotentDuplicate(t *testing.T) {
	// S6 from spec.md §8.
	p := New(registry.New(), 0)
	env := Envelope{Event: "increment", Payload: map[string]any{"key": "c1"}, RequestID: "r7"}

	first, err := p.Process("s1", "A", env)
	if err != nil {
		t.Fatal(err)
	}
	if first.State.Payload["counts"].(map[string]any)["A"].(uint64) != 1 {
		t.Fatalf("expected value 1 after first delivery")
	}

	_, err = p.Process("s1", "A", env)
	pe, ok := err.(*Error)
	if !ok || pe.Kind != KindDuplicate {
		t.Fatalf("expected duplicate on replay, got %v", err)
	}

	// The replica must have advanced by exactly 1, not 2.
	v, _ := p.registry.Get("c1")
	if v.(*crdt.GCounter).Value() != 1 {
		t.Fatalf("expected value still 1, got %d", v.(*crdt.GCounter).Value())
	}
}

func TestProcessRemoveOnMissingKeyCreatesEmptyORSet(t *testing.T) {
	// remove goes through the same getOrCreate-then-update path as every
	// other command (unlike merge/sync, which operate on an explicit
	// key), so a cold key takes on the OR-Set kind instead of erroring:
	// removing an element that was never added is a no-op, not a
	// not_found.
	p := New(registry.New(), 0)
	res, err := p.Process("s1", "A", Envelope{Event: "remove", Payload: map[string]any{"key": "missing", "element": "x"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.State.Kind != crdt.KindORSet {
		t.Fatalf("expected or_set kind, got %+v", res.State)
	}
	elements := res.State.Payload["elements"]
	if elements != nil {
		if m, ok := elements.(map[string]any); !ok || len(m) != 0 {
			t.Fatalf("expected an empty set, got %+v", elements)
		}
	}
}

func TestProcessMergeDerivesKindFromPayload(t *testing.T) {
	p := New(registry.New(), 0)
	incoming := crdt.NewGCounter().IncrementBy("A", 3).Encode()
	state := map[string]any{
		"kind":    string(incoming.Kind),
		"payload": incoming.Payload,
		"version": incoming.Version,
	}
	res, err := p.Process("s1", "A", Envelope{Event: "merge", Payload: map[string]any{"key": "c1", "state": state}})
	if err != nil {
		t.Fatal(err)
	}
	if res.State.Payload["counts"].(map[string]any)["A"].(uint64) != 3 {
		t.Fatalf("expected merged value 3: %+v", res.State)
	}
}

func TestProcessSyncReturnsDelta(t *testing.T) {
	// S2 from spec.md §8, through the command processor.
	p := New(registry.New(), 0)
	if _, err := p.Process("s1", "A", Envelope{Event: "increment_by", Payload: map[string]any{"key": "c1", "amount": 3}}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Process("s1", "B", Envelope{Event: "increment_by", Payload: map[string]any{"key": "c1", "node_id": "B", "amount": 5}}); err != nil {
		t.Fatal(err)
	}

	clientKnown := crdt.NewGCounter().IncrementBy("A", 3).IncrementBy("B", 2).Encode()
	state := map[string]any{"kind": string(clientKnown.Kind), "payload": clientKnown.Payload}
	res, err := p.Process("s1", "A", Envelope{Event: "sync", Payload: map[string]any{"key": "c1", "state": state}})
	if err != nil {
		t.Fatal(err)
	}
	counts := res.State.Payload["counts"].(map[string]any)
	if _, hasA := counts["A"]; hasA {
		t.Fatalf("delta should omit unchanged A: %+v", counts)
	}
}
