package crdt

import "testing"

// TestORSetAddWinsUnderPartition is S3 from spec.md §8: peer A (offline)
// adds "x"; peer B adds "x" then removes it. B's local replica shows "x"
// absent. When A's state merges in, "x" is present again because A's add
// tag was never observed by B at remove time.
func TestORSetAddWinsUnderPartition(t *testing.T) {
	a := NewORSet().Add("x", "A")

	b := NewORSet().Add("x", "B")
	b = b.Remove("x")

	if b.Contains("x") {
		t.Fatalf("B should show x absent before merge")
	}

	merged, err := b.Merge(a)
	if err != nil {
		t.Fatal(err)
	}
	if !merged.(*ORSet).Contains("x") {
		t.Fatalf("expected add-wins: x should be present after merging A's unobserved add")
	}
}

func TestORSetRemoveIsAuthorAgnostic(t *testing.T) {
	s := NewORSet().Add("x", "A")
	s = s.Remove("x")
	if s.Contains("x") {
		t.Fatalf("expected x removed")
	}
}

func TestORSetKindMismatch(t *testing.T) {
	s := NewORSet()
	_, err := s.Merge(NewLWWRegister())
	if err == nil {
		t.Fatal("expected kind mismatch error")
	}
}
