package crdt

// PNCounter is a counter that supports both increment and decrement. It is
// represented as a pair of GCounters; its value may be negative.
type PNCounter struct {
	positive *GCounter
	negative *GCounter
	version  uint64
}

// NewPNCounter returns the identity element.
func NewPNCounter() *PNCounter {
	return &PNCounter{positive: NewGCounter(), negative: NewGCounter()}
}

func (p *PNCounter) Kind() Kind      { return KindPNCounter }
func (p *PNCounter) Version() uint64 { return p.version }

// Value returns value(positive) - value(negative); it may be negative.
func (p *PNCounter) Value() int64 {
	return int64(p.positive.Value()) - int64(p.negative.Value())
}

// Increment bumps the positive side's entry for node by one.
func (p *PNCounter) Increment(node NodeID) *PNCounter {
	return p.IncrementBy(node, 1)
}

// IncrementBy bumps the positive side's entry for node by k.
func (p *PNCounter) IncrementBy(node NodeID, k uint64) *PNCounter {
	out := p.clone()
	out.positive = p.positive.IncrementBy(node, k)
	out.version = p.version + 1
	return out
}

// Decrement bumps the negative side's entry for node by one. There is no
// underflow handling: the resulting value may be negative.
func (p *PNCounter) Decrement(node NodeID) *PNCounter {
	return p.DecrementBy(node, 1)
}

// DecrementBy bumps the negative side's entry for node by k.
func (p *PNCounter) DecrementBy(node NodeID, k uint64) *PNCounter {
	out := p.clone()
	out.negative = p.negative.IncrementBy(node, k)
	out.version = p.version + 1
	return out
}

// Merge merges both sides independently.
func (p *PNCounter) Merge(other Replica) (Replica, error) {
	o, ok := other.(*PNCounter)
	if !ok {
		return nil, &ErrKindMismatch{Want: KindPNCounter, Got: other.Kind()}
	}
	posM, err := p.positive.Merge(o.positive)
	if err != nil {
		return nil, err
	}
	negM, err := p.negative.Merge(o.negative)
	if err != nil {
		return nil, err
	}
	version := p.version
	if o.version > version {
		version = o.version
	}
	return &PNCounter{positive: posM.(*GCounter), negative: negM.(*GCounter), version: version}, nil
}

// Delta returns the pairwise deltas of both sides.
func (p *PNCounter) Delta(since Replica) (Replica, error) {
	s, ok := since.(*PNCounter)
	if !ok {
		return nil, &ErrKindMismatch{Want: KindPNCounter, Got: since.Kind()}
	}
	posD, err := p.positive.Delta(s.positive)
	if err != nil {
		return nil, err
	}
	negD, err := p.negative.Delta(s.negative)
	if err != nil {
		return nil, err
	}
	return &PNCounter{positive: posD.(*GCounter), negative: negD.(*GCounter), version: p.version}, nil
}

// Encode produces the {positive: {...}, negative: {...}} wire payload.
func (p *PNCounter) Encode() Wire {
	posWire := p.positive.Encode()
	negWire := p.negative.Encode()
	return Wire{
		Kind: KindPNCounter,
		Payload: map[string]any{
			"positive": posWire.Payload["counts"],
			"negative": negWire.Payload["counts"],
		},
		Version: p.version,
	}
}

func decodePNCounter(w Wire) (Replica, error) {
	out := NewPNCounter()
	if raw, ok := w.Payload["positive"].(map[string]any); ok {
		pos, _ := decodeGCounter(Wire{Kind: KindGCounter, Payload: map[string]any{"counts": raw}})
		out.positive = pos.(*GCounter)
	}
	if raw, ok := w.Payload["negative"].(map[string]any); ok {
		neg, _ := decodeGCounter(Wire{Kind: KindGCounter, Payload: map[string]any{"counts": raw}})
		out.negative = neg.(*GCounter)
	}
	out.version = w.Version
	return out, nil
}

func (p *PNCounter) clone() *PNCounter {
	return &PNCounter{positive: p.positive.clone(), negative: p.negative.clone(), version: p.version}
}
