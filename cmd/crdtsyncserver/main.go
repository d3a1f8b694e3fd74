// cmd/crdtsyncserver is the main entrypoint for a CRDT sync coordination
// node.
//
// Configuration is entirely via flags so a single binary can serve any
// node in a fleet of otherwise-independent coordinators (this spec has
// no cross-node replication; each node holds its own in-process
// Registry).
//
// Example:
//
//	./crdtsyncserver --id node1 --addr :8080 \
//	                  --snapshot-file /var/crdtsync/node1.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"crdtsync/internal/api"
	"crdtsync/internal/crdt"
	"crdtsync/internal/logging"
	"crdtsync/internal/policy"
	"crdtsync/internal/protocol"
	"crdtsync/internal/registry"
)

func main() {
	nodeID := flag.String("id", "node1", "Unique node identifier")
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	snapshotFile := flag.String("snapshot-file", "", "Path to load/save Registry snapshots (disabled if empty)")
	snapshotInterval := flag.Duration("snapshot-interval", 60*time.Second, "Background snapshot interval")
	idempotencyCapacity := flag.Int("idempotency-capacity", 0, "Per-process idempotency cache capacity (0 = package default)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 15*time.Second, "Grace period to let live sessions close on shutdown")
	flag.Parse()

	reg := registry.New()
	pol := policy.New()
	proc := protocol.New(reg, *idempotencyCapacity)

	if *snapshotFile != "" {
		if err := loadSnapshot(reg, *snapshotFile); err != nil {
			logging.Event("snapshot_load_failed", map[string]any{"error": err.Error(), "file": *snapshotFile})
		} else {
			logging.Event("snapshot_loaded", map[string]any{"file": *snapshotFile})
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(), api.Recovery())

	var sessionCount atomic.Int64
	handler := api.NewHandler(reg, pol, &sessionCount, *nodeID)
	handler.Register(router)

	// Sessions are rooted on sessionsCtx, not on their own HTTP request
	// context, so cancelling it on shutdown actually unblocks every live
	// session's Receive loop instead of leaving srv.Shutdown waiting on
	// handlers it has no way to interrupt.
	sessionsCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()
	wsHandler := api.NewWSHandler(sessionsCtx, reg, pol, proc, &sessionCount)
	wsHandler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logging.Event("server_listening", map[string]any{"node": *nodeID, "addr": *addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("server_error", err, nil)
			os.Exit(1)
		}
	}()

	stopSnapshots := make(chan struct{})
	if *snapshotFile != "" {
		go func() {
			ticker := time.NewTicker(*snapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stopSnapshots:
					return
				case <-ticker.C:
					if err := saveSnapshot(reg, *snapshotFile); err != nil {
						logging.Errorf("snapshot_save_failed", err, map[string]any{"file": *snapshotFile})
					} else {
						logging.Event("snapshot_saved", map[string]any{"file": *snapshotFile})
					}
				}
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Event("server_shutting_down", map[string]any{"node": *nodeID})
	close(stopSnapshots)

	// Close every live session first so each unsubscribes and its
	// transport closes cleanly, then shut down the HTTP server — by then
	// its /ws handlers have already returned.
	wsHandler.Shutdown(*shutdownTimeout)
	cancelSessions()

	ctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()

	if *snapshotFile != "" {
		if err := saveSnapshot(reg, *snapshotFile); err != nil {
			logging.Errorf("final_snapshot_failed", err, nil)
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		logging.Errorf("server_shutdown_error", err, nil)
	}
}

func loadSnapshot(reg *registry.Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var snap map[string]crdt.Wire
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	return reg.Restore(snap)
}

func saveSnapshot(reg *registry.Registry, path string) error {
	snap := reg.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
