// Package policy implements the capability negotiation module from
// spec.md §4.C: a pure rule that maps a peer's capability report to a
// delivery Profile, plus an in-memory table of registered peers.
package policy

import (
	"sync"
	"time"

	"crdtsync/internal/crdt"
	"crdtsync/internal/logging"
)

// Connection is the peer's reported network class.
type Connection string

const (
	ConnectionWifi     Connection = "wifi"
	ConnectionEthernet Connection = "ethernet"
	ConnectionCellular Connection = "cellular"
	ConnectionUnknown  Connection = "unknown"
)

// Effective is the peer's reported effective connection type (as surfaced
// by the Network Information API on the browser side).
type Effective string

const (
	EffectiveSlow2G Effective = "slow-2g"
	Effective2G     Effective = "2g"
	Effective3G     Effective = "3g"
	Effective4G     Effective = "4g"
)

// CapabilityReport is what a peer sends on connect (spec.md §3/§6).
type CapabilityReport struct {
	HasWorkers      bool       `json:"has_workers"`
	HasSAB          bool       `json:"has_sab"`
	HasWebTransport bool       `json:"has_web_transport"`
	MemoryMB        uint       `json:"memory_mb"`
	Connection      Connection `json:"connection"`
	Effective       Effective  `json:"effective"`
}

// Profile is the delivery profile assigned to a peer.
type Profile string

const (
	ProfileFull        Profile = "full"
	ProfileConstrained Profile = "constrained"
	ProfileMinimal     Profile = "minimal"
)

// ProfileConfig is the tuning table a Profile maps to (spec.md §4.C).
type ProfileConfig struct {
	UpdateFrequencyMs int  `json:"update_frequency_ms"`
	BatchEvents       bool `json:"batch_events"`
	DeltaSync         bool `json:"delta_sync"`
	ServerRender      bool `json:"server_render"`
	MaxBatchSize      int  `json:"max_batch_size"`
}

// Configs is the fixed table of ProfileConfig per Profile from spec.md §4.C.
var Configs = map[Profile]ProfileConfig{
	ProfileFull:        {UpdateFrequencyMs: 16, BatchEvents: false, DeltaSync: true, ServerRender: false, MaxBatchSize: 1},
	ProfileConstrained: {UpdateFrequencyMs: 100, BatchEvents: true, DeltaSync: true, ServerRender: false, MaxBatchSize: 10},
	ProfileMinimal:     {UpdateFrequencyMs: 1000, BatchEvents: true, DeltaSync: false, ServerRender: true, MaxBatchSize: 50},
}

// AssignProfile is the pure ordered-rule function from spec.md §4.C: first
// match wins.
func AssignProfile(report CapabilityReport) Profile {
	if report.HasWorkers && report.HasSAB && report.MemoryMB >= 2048 &&
		(report.Connection == ConnectionWifi || report.Connection == ConnectionEthernet || report.Effective == Effective4G) {
		return ProfileFull
	}
	if report.HasWorkers && report.MemoryMB >= 512 {
		return ProfileConstrained
	}
	return ProfileMinimal
}

// registration is one row of the in-memory capability table.
type registration struct {
	Report       CapabilityReport
	Profile      Profile
	RegisteredAt time.Time
}

// Policy is the in-memory NodeID -> (report, profile, registeredAt) table
// from spec.md §4.C, grounded on the teacher's cluster.Membership
// (internal/cluster/membership.go): the same map-under-RWMutex shape,
// repurposed from cluster node bookkeeping to capability registration.
type Policy struct {
	mu    sync.RWMutex
	peers map[crdt.NodeID]*registration
}

// New creates an empty Policy.
func New() *Policy {
	return &Policy{peers: make(map[crdt.NodeID]*registration)}
}

// Register assigns and records a profile for node on first contact.
func (p *Policy) Register(node crdt.NodeID, report CapabilityReport) Profile {
	profile := AssignProfile(report)
	p.mu.Lock()
	p.peers[node] = &registration{Report: report, Profile: profile, RegisteredAt: time.Now()}
	p.mu.Unlock()
	return profile
}

// Update re-evaluates node's profile from a new capability report. If the
// assigned profile changes, a structured log event is emitted
// (observability only — spec.md §4.C says no behavior change is signalled
// through the channel from this).
func (p *Policy) Update(node crdt.NodeID, report CapabilityReport) Profile {
	next := AssignProfile(report)

	p.mu.Lock()
	prev, existed := p.peers[node]
	p.peers[node] = &registration{Report: report, Profile: next, RegisteredAt: time.Now()}
	p.mu.Unlock()

	if existed && prev.Profile != next {
		logging.Event("profile_changed", map[string]any{
			"node_id":  string(node),
			"previous": string(prev.Profile),
			"next":     string(next),
		})
	}
	return next
}

// Unregister removes node from the table, e.g. on session close.
func (p *Policy) Unregister(node crdt.NodeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, node)
}

// Get returns the current profile for node, if registered.
func (p *Policy) Get(node crdt.NodeID) (Profile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.peers[node]
	if !ok {
		return "", false
	}
	return r.Profile, true
}

// Count returns the number of currently registered peers.
func (p *Policy) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.peers)
}
