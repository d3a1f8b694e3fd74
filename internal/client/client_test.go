package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"crdtsync/internal/policy"
)

// fakeServer accepts exactly one WS connection and replies to connect/
// join/command frames with canned responses, exercising the Client's
// request/reply demultiplexing against a real socket rather than a
// registry+session stack.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// connect frame: no reply expected.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			_ = json.Unmarshal(data, &frame)

			switch frame["event"] {
			case "join":
				reply, _ := json.Marshal(map[string]any{
					"status": "ok",
					"data":   map[string]any{"state": map[string]any{"kind": "g_counter", "payload": map[string]any{"counts": map[string]any{}}}},
				})
				conn.WriteMessage(websocket.TextMessage, reply)
				broadcast, _ := json.Marshal(map[string]any{
					"event":   "state_updated",
					"payload": map[string]any{"state": map[string]any{"kind": "g_counter"}},
				})
				conn.WriteMessage(websocket.TextMessage, broadcast)
			case "increment":
				reply, _ := json.Marshal(map[string]any{
					"status": "ok",
					"data":   map[string]any{"state": map[string]any{"kind": "g_counter", "payload": map[string]any{"counts": map[string]any{"A": 1}}}},
				})
				conn.WriteMessage(websocket.TextMessage, reply)
			default:
				reply, _ := json.Marshal(map[string]any{
					"status": "error",
					"error":  map[string]any{"kind": "unknown_command", "message": "unknown event"},
				})
				conn.WriteMessage(websocket.TextMessage, reply)
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + srv.URL[len("http"):]
}

func TestDialJoinCommand(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL(srv), "node1", policy.CapabilityReport{}, srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Join(ctx, "crdt:c1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	data, err := c.Command(ctx, "increment", nil)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	state := data["state"].(map[string]any)
	payload := state["payload"].(map[string]any)
	counts := payload["counts"].(map[string]any)
	if counts["A"].(float64) != 1 {
		t.Fatalf("expected A=1, got %+v", counts)
	}
}

func TestCommandSurfacesAPIError(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL(srv), "node1", policy.CapabilityReport{}, srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	_, err = c.Command(ctx, "bogus", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Kind != "unknown_command" {
		t.Fatalf("expected unknown_command, got %q", apiErr.Kind)
	}
}

func TestWatchReceivesBroadcast(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL(srv), "node1", policy.CapabilityReport{}, srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Join(ctx, "crdt:c1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	select {
	case frame := <-c.Watch():
		if frame["event"] != "state_updated" {
			t.Fatalf("expected state_updated, got %+v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast")
	}
}
