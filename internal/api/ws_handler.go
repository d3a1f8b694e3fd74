package api

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"crdtsync/internal/logging"
	"crdtsync/internal/policy"
	"crdtsync/internal/protocol"
	"crdtsync/internal/registry"
	"crdtsync/internal/session"
	"crdtsync/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser peers connect from arbitrary origins in this deployment
	// model (no same-origin web app is assumed); authorization happens at
	// the session layer via the connect frame's node_id, not at the
	// handshake.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler mounts the GET /ws upgrade endpoint that hosts one Session
// per accepted connection, and tracks every live session so the server
// can close them all on graceful shutdown (spec.md §4.E's leave/close
// contract extended to a whole-process stop, not just one connection's
// own disconnect).
type WSHandler struct {
	registry     *registry.Registry
	policy       *policy.Policy
	processor    *protocol.Processor
	sessionCount *atomic.Int64

	rootCtx context.Context

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewWSHandler creates a WSHandler backed by the shared services. Every
// session's lifetime is derived from rootCtx rather than from its own
// HTTP request context, since http.Server.Shutdown does not cancel
// in-flight handler contexts — cancelling rootCtx (see Shutdown) is what
// actually tells a blocked session to stop.
func NewWSHandler(rootCtx context.Context, reg *registry.Registry, pol *policy.Policy, proc *protocol.Processor, sessionCount *atomic.Int64) *WSHandler {
	return &WSHandler{
		registry:     reg,
		policy:       pol,
		processor:    proc,
		sessionCount: sessionCount,
		rootCtx:      rootCtx,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Register mounts GET /ws on r.
func (h *WSHandler) Register(r *gin.Engine) {
	r.GET("/ws", h.serve)
}

func (h *WSHandler) serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Event("ws_upgrade_failed", map[string]any{"error": err.Error()})
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(h.rootCtx)
	h.track(id, cancel)
	defer h.untrack(id)

	t := transport.NewWS(conn)
	s := session.New(id, t, h.registry, h.policy, h.processor)

	h.sessionCount.Add(1)
	h.wg.Add(1)
	defer h.sessionCount.Add(-1)
	defer h.wg.Done()

	s.Run(ctx)
}

func (h *WSHandler) track(id string, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancels[id] = cancel
}

func (h *WSHandler) untrack(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cancels, id)
}

// Shutdown cancels every live session's context so each one unsubscribes
// and closes its transport, then waits up to timeout for them all to
// finish. Call before (or concurrently with) http.Server.Shutdown so the
// HTTP shutdown isn't left waiting on handlers this package itself can
// unblock.
func (h *WSHandler) Shutdown(timeout time.Duration) {
	h.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(h.cancels))
	for _, cancel := range h.cancels {
		cancels = append(cancels, cancel)
	}
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Event("ws_sessions_closed", map[string]any{"count": len(cancels)})
	case <-time.After(timeout):
		logging.Event("ws_sessions_close_timeout", map[string]any{"remaining": len(cancels)})
	}
}
