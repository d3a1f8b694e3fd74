package crdt

import "testing"

// TestGCounterConvergence is S1 from spec.md §8: two peers increment
// independently; after merge both converge to the summed value.
func TestGCounterConvergence(t *testing.T) {
	a := NewGCounter().Increment("A").Increment("A").Increment("A")
	if a.Value() != 3 {
		t.Fatalf("a.Value() = %d, want 3", a.Value())
	}

	b := NewGCounter().IncrementBy("B", 5)
	if b.Value() != 5 {
		t.Fatalf("b.Value() = %d, want 5", b.Value())
	}

	merged, err := a.Merge(b)
	if err != nil {
		t.Fatal(err)
	}
	mc := merged.(*GCounter)
	if mc.Value() != 8 {
		t.Fatalf("merged.Value() = %d, want 8", mc.Value())
	}
	if mc.counts["A"] != 3 || mc.counts["B"] != 5 {
		t.Fatalf("merged.counts = %v, want A:3 B:5", mc.counts)
	}
}

func TestGCounterRejectsNegativeViaUnsignedType(t *testing.T) {
	// IncrementBy takes uint64, so negative k cannot be represented —
	// the type system enforces the "reject negative k" contract.
	g := NewGCounter().IncrementBy("A", 0)
	if g.Value() != 0 {
		t.Fatalf("expected zero increment to be a no-op")
	}
}

func TestGCounterKindMismatch(t *testing.T) {
	g := NewGCounter()
	_, err := g.Merge(NewORSet())
	if err == nil {
		t.Fatal("expected kind mismatch")
	}
}

func TestGCounterLessEq(t *testing.T) {
	a := NewGCounter().IncrementBy("A", 2)
	b := NewGCounter().IncrementBy("A", 3)
	if !a.LessEq(b) {
		t.Fatalf("expected a <= b")
	}
	if b.LessEq(a) {
		t.Fatalf("expected b > a, not <=")
	}
}
