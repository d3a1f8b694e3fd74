package transport

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sendBufferSize bounds the outbound queue drained by the writer pump.
// Same buffered-channel shape as the ws_poc reference
// (other_examples/...ws_poc...connection.go), sized for message transport
// rather than tick fanout.
const sendBufferSize = 256

// keepAlive is the inactivity window from spec.md §4.F: if no pong is
// seen within this window the connection is considered dead.
const keepAlive = 45 * time.Second

// wsTransport adapts a *websocket.Conn to the Transport interface. Writes
// go through a single writer goroutine (gorilla/websocket connections are
// not safe for concurrent writers) fed by a bounded channel; a full
// channel surfaces as ErrBackpressure instead of blocking the caller.
type wsTransport struct {
	conn *websocket.Conn

	outbound chan []byte
	closeCh  chan struct{}
	closeErr error

	mu     sync.Mutex
	closed bool
}

// NewWS wraps conn, starting its writer pump and keepalive handling.
func NewWS(conn *websocket.Conn) Transport {
	t := &wsTransport{
		conn:     conn,
		outbound: make(chan []byte, sendBufferSize),
		closeCh:  make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(keepAlive))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(keepAlive))
		return nil
	})
	go t.writePump()
	return t
}

func (t *wsTransport) writePump() {
	ticker := time.NewTicker(keepAlive / 3)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-t.outbound:
			if !ok {
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				t.fail(err)
				return
			}
		case <-ticker.C:
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.fail(err)
				return
			}
		case <-t.closeCh:
			return
		}
	}
}

func (t *wsTransport) fail(err error) {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		t.closeErr = err
		close(t.closeCh)
	}
	t.mu.Unlock()
}

// Send enqueues msg without blocking. A full outbound buffer means the
// peer cannot keep up with the write rate; the caller (session) decides
// whether that peer gets disconnected per spec.md §5.
func (t *wsTransport) Send(msg []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case t.outbound <- msg:
		return nil
	default:
		return ErrBackpressure
	}
}

// Receive blocks for the next text/binary frame, honoring ctx cancellation
// by racing the blocking read against ctx.Done in a helper goroutine.
func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	type result struct {
		msg []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		_, data, err := t.conn.ReadMessage()
		done <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closeCh:
		return nil, ErrClosed
	case r := <-done:
		if r.err != nil {
			t.fail(r.err)
			return nil, ErrClosed
		}
		return r.msg, nil
	}
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closeCh)
	t.mu.Unlock()
	return t.conn.Close()
}

// Backoff computes the attempt'th reconnect delay: 100ms, 200ms, 400ms...
// capped at max, with up to 20% jitter to avoid a thundering herd of
// reconnecting clients. Grounded on the teacher's
// Replicator.sendReplicateRequest (internal/cluster/replicator.go), whose
// exponential-backoff-with-cap retry loop is adapted here from
// replicate-to-peer retries to client reconnect retries — the one piece
// of cluster/replicator.go's idiom with a home in this spec, since there
// is no multi-node replication target left to retry against.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * base
	if delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 5 + 1))
	return delay + jitter
}
