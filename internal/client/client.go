// Package client provides a Go SDK for talking to a crdtsync node.
//
// A Client owns one WebSocket connection (spec.md §4.F/§6): Dial opens
// it and sends the one-time connect frame, Join subscribes to a topic,
// Command issues a command and waits for its reply, and Watch streams
// state_updated broadcasts for whatever topic is currently joined. The
// distributed logic (CRDT merge, capability profiling, idempotency) all
// happens server-side; this client only frames requests and demultiplexes
// replies from broadcasts on the same socket.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"crdtsync/internal/policy"
)

// Client represents a connection to ONE crdtsync node. It does not
// implement any cross-node logic — that is the server's job.
type Client struct {
	conn *websocket.Conn

	httpClient *http.Client
	httpBase   string

	mu        sync.Mutex // serializes one in-flight request/reply at a time
	replyCh   chan map[string]any
	broadcast chan map[string]any
	closed    chan struct{}
	closeOnce sync.Once

	reqSeq atomic.Uint64
}

// NewHTTP creates a Client for the HTTP-only introspection surface
// (Peers, RegistryKeys, RegistryGet), with no WebSocket session. Used by
// commands that only need /registry, /peers, or /health.
func NewHTTP(httpBase string) *Client {
	return &Client{httpClient: &http.Client{Timeout: 10 * time.Second}, httpBase: httpBase}
}

// Dial opens a WebSocket to wsURL (e.g. "ws://localhost:8080/ws"),
// performs the connect handshake with nodeID/capabilities, and starts the
// background read loop. httpBase, if non-empty, is used by Peers and the
// Registry* methods for the handful of operations that are plain REST
// (registry/peer introspection) rather than session commands.
func Dial(ctx context.Context, wsURL string, nodeID string, caps policy.CapabilityReport, httpBase string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &Client{
		conn:       conn,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		httpBase:   httpBase,
		replyCh:    make(chan map[string]any, 1),
		broadcast:  make(chan map[string]any, 64),
		closed:     make(chan struct{}),
	}
	go c.readLoop()

	connectFrame := map[string]any{"node_id": nodeID, "capabilities": caps}
	if err := c.writeJSON(connectFrame); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.closed)
	defer close(c.broadcast)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if ev, ok := frame["event"]; ok && ev == "state_updated" {
			select {
			case c.broadcast <- frame:
			default:
				// Watcher isn't draining fast enough; drop rather than block
				// the read loop, matching the server's own drop-on-
				// backpressure policy.
			}
			continue
		}
		select {
		case c.replyCh <- frame:
		default:
		}
	}
}

func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// request sends frame and waits for the next non-broadcast reply, failing
// on ctx cancellation or connection close. Requests are serialized: only
// one may be in flight at a time per Client.
func (c *Client) request(ctx context.Context, frame map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeJSON(frame); err != nil {
		return nil, err
	}
	select {
	case reply := <-c.replyCh:
		if reply["status"] == "error" {
			errObj, _ := reply["error"].(map[string]any)
			return nil, &APIError{Kind: fmt.Sprint(errObj["kind"]), Message: fmt.Sprint(errObj["message"])}
		}
		return reply, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Join subscribes to topic (a "crdt:<key>" string) and returns the
// server's join reply data: {state, profile, config}.
func (c *Client) Join(ctx context.Context, topic string) (map[string]any, error) {
	reply, err := c.request(ctx, map[string]any{"event": "join", "payload": map[string]any{"topic": topic}})
	if err != nil {
		return nil, err
	}
	data, _ := reply["data"].(map[string]any)
	return data, nil
}

// Leave leaves the currently joined topic.
func (c *Client) Leave(ctx context.Context) error {
	_, err := c.request(ctx, map[string]any{"event": "leave"})
	return err
}

// Command issues one CRDT command (increment, increment_by, decrement,
// set, add, remove, merge, sync) against the currently joined topic and
// returns the resulting data.
func (c *Client) Command(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	reply, err := c.request(ctx, map[string]any{
		"event":      event,
		"payload":    payload,
		"request_id": c.nextRequestID(),
	})
	if err != nil {
		return nil, err
	}
	data, _ := reply["data"].(map[string]any)
	return data, nil
}

func (c *Client) nextRequestID() string {
	return fmt.Sprintf("ctl-%d", c.reqSeq.Add(1))
}

// Watch returns the channel of state_updated broadcast frames (event and
// payload) for whatever topic is currently joined. The channel is closed when the
// connection closes.
func (c *Client) Watch() <-chan map[string]any {
	return c.broadcast
}

// Close closes the underlying connection, if any. Idempotent. Safe to
// call on an HTTP-only Client (NewHTTP), where it is a no-op.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// ─── Errors ─────────────────────────────────────────────────────────────

// ErrClosed is returned by Client methods once the connection has closed.
var ErrClosed = fmt.Errorf("client: connection closed")

// APIError carries the server's stable error kind and message (spec.md
// §7's typed-error contract), propagated across the wire.
type APIError struct {
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
