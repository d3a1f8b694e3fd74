// Package session implements the per-peer coordinator from spec.md §4.E:
// a small state machine that owns exactly one transport and, at most, one
// joined topic, routing inbound frames to the command processor and
// forwarding Registry broadcasts back out as state_updated frames.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"crdtsync/internal/crdt"
	"crdtsync/internal/logging"
	"crdtsync/internal/policy"
	"crdtsync/internal/protocol"
	"crdtsync/internal/registry"
	"crdtsync/internal/transport"
)

// State is one of the four points in spec.md §4.E's diagram.
type State int

const (
	StateInit State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// inboundRateLimit and inboundBurst bound the per-session command rate;
// exceeding it is the "exceeded backpressure threshold" fatal condition
// named in spec.md §5.
const (
	inboundRateLimit = 50 // commands/sec
	inboundBurst     = 100
)

// connectFrame is the one-time payload a peer sends at socket open
// (spec.md §6): `{ "node_id": string, "capabilities": CapabilityReport }`.
type connectFrame struct {
	NodeID       string                  `json:"node_id"`
	Capabilities policy.CapabilityReport `json:"capabilities"`
}

// inboundFrame is the general shape of every frame after connect: either
// a command envelope or a join/leave control message, both riding the
// same {event, payload, request_id} shape (spec.md §6).
type inboundFrame struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"request_id,omitempty"`
}

// outboundReply is the {status, data, error} shape from spec.md §6.
type outboundReply struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
	Error  *errorPayload  `json:"error,omitempty"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// outboundBroadcast is the state_updated shape from spec.md §6.
type outboundBroadcast struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// Session is the per-peer coordinator: owns one Transport, routes
// commands to a Processor, and relays Registry broadcasts for its joined
// key back to the peer with FIFO ordering and echo suppression.
type Session struct {
	id        string
	transport transport.Transport
	registry  *registry.Registry
	policy    *policy.Policy
	processor *protocol.Processor

	limiter *rate.Limiter

	mu      sync.Mutex
	state   State
	node    crdt.NodeID
	key     string // joined registry key, empty until JOINED
	sub     *registry.Subscriber
	subDone chan struct{} // closed to stop this topic's pumpBroadcasts goroutine

	sendMu sync.Mutex // serializes writes to transport for FIFO ordering
}

// New creates a Session in StateInit over t, backed by the given shared
// services. There is no server-wide default CRDT kind: a cold key's kind
// is whatever the client's first command on it implies (see handleJoin).
func New(id string, t transport.Transport, reg *registry.Registry, pol *policy.Policy, proc *protocol.Processor) *Session {
	return &Session{
		id:        id,
		transport: t,
		registry:  reg,
		policy:    pol,
		processor: proc,
		limiter:   rate.NewLimiter(rate.Limit(inboundRateLimit), inboundBurst),
		state:     StateInit,
	}
}

// Run drives the session's lifetime: reads connect, then services frames
// until a fatal condition or ctx cancellation, then cleans up. It returns
// only once the session is fully closed.
func (s *Session) Run(ctx context.Context) {
	defer s.Close()

	if err := s.handleConnect(ctx); err != nil {
		logging.Event("session_reject", map[string]any{"session_id": s.id, "error": err.Error()})
		return
	}

	for {
		frame, err := s.transport.Receive(ctx)
		if err != nil {
			logging.Event("session_closed", map[string]any{"session_id": s.id, "reason": "transport_error"})
			return
		}
		if !s.limiter.Allow() {
			logging.Event("session_closed", map[string]any{"session_id": s.id, "reason": "backpressure_exceeded"})
			return
		}
		if err := s.handleFrame(frame); err != nil {
			logging.Event("session_closed", map[string]any{"session_id": s.id, "reason": "decode_error", "error": err.Error()})
			return
		}
	}
}

func (s *Session) handleConnect(ctx context.Context) error {
	raw, err := s.transport.Receive(ctx)
	if err != nil {
		return err
	}
	var cf connectFrame
	if err := json.Unmarshal(raw, &cf); err != nil {
		return fmt.Errorf("decode connect frame: %w", err)
	}
	if cf.NodeID == "" {
		s.writeError("", protocol.Unauthorized("node_id is required"))
		return fmt.Errorf("missing node_id")
	}

	profile := s.policy.Register(crdt.NodeID(cf.NodeID), cf.Capabilities)

	s.mu.Lock()
	s.node = crdt.NodeID(cf.NodeID)
	s.state = StateAuthenticated
	s.mu.Unlock()

	logging.Event("session_connect", map[string]any{"session_id": s.id, "node_id": cf.NodeID, "profile": string(profile)})
	return nil
}

func (s *Session) handleFrame(raw []byte) error {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return err
	}

	switch f.Event {
	case "join":
		s.handleJoin(f)
		return nil
	case "leave":
		s.handleLeave(f)
		return nil
	default:
		s.handleCommand(f)
		return nil
	}
}

type joinPayload struct {
	Topic string `json:"topic"`
}

func (s *Session) handleJoin(f inboundFrame) {
	var jp joinPayload
	_ = json.Unmarshal(f.Payload, &jp)

	const topicPrefix = "crdt:"
	if len(jp.Topic) <= len(topicPrefix) || jp.Topic[:len(topicPrefix)] != topicPrefix {
		s.writeError(f.RequestID, protocol.Unauthorized(fmt.Sprintf("unrecognized topic %q", jp.Topic)))
		return
	}
	key := jp.Topic[len(topicPrefix):]

	s.mu.Lock()
	if s.state == StateJoined {
		s.registry.Unsubscribe(s.key, s.sub)
		close(s.subDone)
	}
	sub := registry.NewSubscriber(s.id)
	done := make(chan struct{})
	s.key = key
	s.sub = sub
	s.subDone = done
	s.state = StateJoined
	s.mu.Unlock()

	// Subscribe first (spec.md §4.E step order), then report whatever
	// state already exists. A cold key is NOT created here: its kind is
	// not yet known, and getOrCreate-ing it with a fixed default would
	// wrongly lock every new key to one server-wide kind regardless of
	// what the client's first command actually turns out to be. The
	// first real command creates the key itself, with the kind that
	// command implies (protocol.Processor.update's own GetOrCreate).
	s.registry.Subscribe(key, sub)
	go s.pumpBroadcasts(sub, done)

	var state any
	if replica, ok := s.registry.Get(key); ok {
		state = replica.Encode()
	}

	profile, _ := s.policy.Get(s.node)
	s.writeOK(f.RequestID, map[string]any{
		"state":   state,
		"profile": string(profile),
		"config":  policy.Configs[profile],
	})
}

func (s *Session) handleLeave(f inboundFrame) {
	s.leaveCurrentTopic()
	s.writeOK(f.RequestID, nil)
}

func (s *Session) handleCommand(f inboundFrame) {
	var payload map[string]any
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			s.writeError(f.RequestID, protocol.Internal("malformed payload"))
			return
		}
	}

	s.mu.Lock()
	key := s.key
	node := s.node
	joined := s.state == StateJoined
	s.mu.Unlock()

	if !joined {
		s.writeError(f.RequestID, protocol.Unauthorized("no active join"))
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["key"] = key

	env := protocol.Envelope{Event: f.Event, Payload: payload, RequestID: f.RequestID}
	result, err := s.processor.Process(s.id, node, env)
	if err != nil {
		s.writeError(f.RequestID, translateErr(err))
		return
	}
	s.writeOK(f.RequestID, map[string]any{"state": result.State})
}

// pumpBroadcasts drains sub's outbox and forwards state_updated frames,
// suppressing echo of this session's own mutation via an origin tag
// (spec.md §4.E). It stops when done is closed rather than when Outbox is
// closed, since the registry — not this goroutine — owns that channel's
// lifetime and may still be mid-delivery to it after unsubscribe.
func (s *Session) pumpBroadcasts(sub *registry.Subscriber, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case b := <-sub.Outbox:
			if b.Origin == s.id {
				continue
			}
			s.sendMu.Lock()
			data, _ := json.Marshal(outboundBroadcast{Event: "state_updated", Payload: map[string]any{"state": b.Wire}})
			_ = s.transport.Send(data)
			s.sendMu.Unlock()
		}
	}
}

func (s *Session) writeOK(requestID string, data map[string]any) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	raw, _ := json.Marshal(outboundReply{Status: "ok", Data: data})
	_ = s.transport.Send(raw)
}

func (s *Session) writeError(requestID string, err *protocol.Error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	raw, _ := json.Marshal(outboundReply{Status: "error", Error: &errorPayload{Kind: err.Kind, Message: err.Message}})
	_ = s.transport.Send(raw)
}

func (s *Session) leaveCurrentTopic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateJoined {
		return
	}
	s.registry.Unsubscribe(s.key, s.sub)
	close(s.subDone)
	s.key = ""
	s.sub = nil
	s.subDone = nil
	s.state = StateAuthenticated
}

// Close tears down the session: unsubscribes, unregisters from Policy,
// drains the idempotency cache, and closes the transport. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	node := s.node
	s.state = StateClosed
	s.mu.Unlock()

	s.leaveCurrentTopic()
	if node != "" {
		s.policy.Unregister(node)
	}
	s.processor.DropSession(s.id)
	_ = s.transport.Close()
	logging.Event("session_close", map[string]any{"session_id": s.id})
}

// State returns the session's current state. Safe for concurrent use.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func translateErr(err error) *protocol.Error {
	if pe, ok := err.(*protocol.Error); ok {
		return pe
	}
	return protocol.Internal(err.Error())
}
