// Package api wires up the Gin HTTP router with all handler functions.
package api

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"crdtsync/internal/crdt"
	"crdtsync/internal/policy"
	"crdtsync/internal/registry"
)

// Handler holds all dependencies injected from main.
type Handler struct {
	registry     *registry.Registry
	policy       *policy.Policy
	sessionCount *atomic.Int64
	selfID       string
}

// NewHandler creates a Handler.
func NewHandler(reg *registry.Registry, pol *policy.Policy, sessionCount *atomic.Int64, selfID string) *Handler {
	return &Handler{registry: reg, policy: pol, sessionCount: sessionCount, selfID: selfID}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	// Read-only registry introspection — used by operators and dashboards,
	// not by peers in the CRDT sync path itself (that goes over /ws).
	reg := r.Group("/registry")
	reg.GET("", h.ListKeys)
	reg.GET("/:key", h.GetReplica)

	// Capability-policy introspection, the repurposed analog of the
	// teacher's /cluster/* surface.
	peers := r.Group("/peers")
	peers.GET("", h.ListPeers)
	peers.POST("/:nodeId/capabilities", h.UpdateCapabilities)

	r.GET("/health", h.Health)
}

// ListKeys handles GET /registry
func (h *Handler) ListKeys(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"keys": h.registry.Keys()})
}

// GetReplica handles GET /registry/:key
func (h *Handler) GetReplica(c *gin.Context) {
	key := c.Param("key")
	replica, ok := h.registry.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, replica.Encode())
}

// ListPeers handles GET /peers
func (h *Handler) ListPeers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.policy.Count()})
}

// UpdateCapabilities handles POST /peers/:nodeId/capabilities
// Body: a CapabilityReport. Re-evaluates and returns the peer's profile.
func (h *Handler) UpdateCapabilities(c *gin.Context) {
	nodeID := c.Param("nodeId")

	var report policy.CapabilityReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile := h.policy.Update(crdt.NodeID(nodeID), report)
	c.JSON(http.StatusOK, gin.H{
		"node_id": nodeID,
		"profile": string(profile),
		"config":  policy.Configs[profile],
	})
}

// Health handles GET /health — direct teacher carryover, repurposed to
// report registry key count and active session count instead of cluster
// node count.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node":     h.selfID,
		"status":   "ok",
		"keys":     len(h.registry.Keys()),
		"sessions": h.sessionCount.Load(),
	})
}
