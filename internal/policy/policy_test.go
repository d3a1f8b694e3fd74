package policy

import "testing"

func TestAssignProfileFull(t *testing.T) {
	p := AssignProfile(CapabilityReport{
		HasWorkers: true, HasSAB: true, MemoryMB: 4096, Connection: ConnectionWifi,
	})
	if p != ProfileFull {
		t.Fatalf("expected full, got %s", p)
	}
}

func TestAssignProfileFullViaEffective4G(t *testing.T) {
	p := AssignProfile(CapabilityReport{
		HasWorkers: true, HasSAB: true, MemoryMB: 2048, Connection: ConnectionCellular, Effective: Effective4G,
	})
	if p != ProfileFull {
		t.Fatalf("expected full via 4g, got %s", p)
	}
}

func TestAssignProfileFullRequiresMemoryFloor(t *testing.T) {
	p := AssignProfile(CapabilityReport{
		HasWorkers: true, HasSAB: true, MemoryMB: 1024, Connection: ConnectionWifi,
	})
	if p != ProfileConstrained {
		t.Fatalf("expected constrained when below the full memory floor, got %s", p)
	}
}

func TestAssignProfileConstrained(t *testing.T) {
	p := AssignProfile(CapabilityReport{HasWorkers: true, MemoryMB: 512})
	if p != ProfileConstrained {
		t.Fatalf("expected constrained, got %s", p)
	}
}

func TestAssignProfileMinimalFallback(t *testing.T) {
	p := AssignProfile(CapabilityReport{HasWorkers: false, MemoryMB: 8192})
	if p != ProfileMinimal {
		t.Fatalf("expected minimal without workers, got %s", p)
	}
}

func TestConfigsTableMatchesProfiles(t *testing.T) {
	full := Configs[ProfileFull]
	if full.UpdateFrequencyMs != 16 || full.BatchEvents || !full.DeltaSync || full.ServerRender || full.MaxBatchSize != 1 {
		t.Fatalf("unexpected full config: %+v", full)
	}
	minimal := Configs[ProfileMinimal]
	if minimal.UpdateFrequencyMs != 1000 || !minimal.BatchEvents || minimal.DeltaSync || !minimal.ServerRender || minimal.MaxBatchSize != 50 {
		t.Fatalf("unexpected minimal config: %+v", minimal)
	}
}

func TestRegisterUpdateUnregister(t *testing.T) {
	p := New()
	profile := p.Register("nodeA", CapabilityReport{HasWorkers: true, MemoryMB: 512})
	if profile != ProfileConstrained {
		t.Fatalf("expected constrained, got %s", profile)
	}
	got, ok := p.Get("nodeA")
	if !ok || got != ProfileConstrained {
		t.Fatalf("expected stored constrained profile, got %s, %v", got, ok)
	}

	next := p.Update("nodeA", CapabilityReport{HasWorkers: true, HasSAB: true, MemoryMB: 4096, Connection: ConnectionEthernet})
	if next != ProfileFull {
		t.Fatalf("expected upgraded to full, got %s", next)
	}

	p.Unregister("nodeA")
	if _, ok := p.Get("nodeA"); ok {
		t.Fatal("expected node gone after unregister")
	}
	if p.Count() != 0 {
		t.Fatalf("expected empty table, got %d", p.Count())
	}
}
