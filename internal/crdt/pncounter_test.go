package crdt

import "testing"

func TestPNCounterValueCanBeNegative(t *testing.T) {
	p := NewPNCounter().Decrement("A").Decrement("A")
	if p.Value() != -2 {
		t.Fatalf("p.Value() = %d, want -2", p.Value())
	}
}

func TestPNCounterIncrementDecrementMerge(t *testing.T) {
	a := NewPNCounter().Increment("A").Increment("A").Decrement("A")
	b := NewPNCounter().Increment("B").Decrement("B").Decrement("B")

	merged, err := a.Merge(b)
	if err != nil {
		t.Fatal(err)
	}
	mp := merged.(*PNCounter)
	// a: +2 -1 = 1; b: +1 -2 = -1; total = 0
	if mp.Value() != 0 {
		t.Fatalf("merged.Value() = %d, want 0", mp.Value())
	}
}

func TestPNCounterKindMismatch(t *testing.T) {
	p := NewPNCounter()
	_, err := p.Merge(NewLWWRegister())
	if err == nil {
		t.Fatal("expected kind mismatch")
	}
}
