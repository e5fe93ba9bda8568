package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"aptos-mirror/config"
	"aptos-mirror/middleware"
	"aptos-mirror/models"
	"aptos-mirror/storage"
	"aptos-mirror/syncer"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests
type Handler struct {
	cfg          *config.Config
	manager      *syncer.Manager
	store        storage.DataStore
	metricsStore *syncer.MetricsStore
}

// NewHandler creates a new handler
func NewHandler(cfg *config.Config, manager *syncer.Manager, store storage.DataStore, metricsStore *syncer.MetricsStore) *Handler {
	return &Handler{
		cfg:          cfg,
		manager:      manager,
		store:        store,
		metricsStore: metricsStore,
	}
}

// GetStatus returns the monitoring state of every followed leader
func (h *Handler) GetStatus(c *gin.Context) {
	status := h.manager.Status()
	c.JSON(http.StatusOK, gin.H{
		"leaders": status,
		"count":   len(status),
	})
}

// GetActions returns the mirrored action audit trail, newest first
func (h *Handler) GetActions(c *gin.Context) {
	leader := strings.ToLower(strings.TrimSpace(c.Query("leader")))

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 10000 {
			limit = l
		}
	}

	actions, err := h.store.ListMirrorActions(c.Request.Context(), leader, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load actions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"actions": actions,
		"count":   len(actions),
	})
}

// GetStats returns aggregate counts over the audit trail
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.store.GetMirrorStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetMetrics returns live replicator counters, falling back to the last
// persisted set when no replicators run in this process
func (h *Handler) GetMetrics(c *gin.Context) {
	metrics := h.manager.SystemMetrics()
	if len(metrics.Replicators) == 0 && h.metricsStore != nil {
		persisted, err := h.metricsStore.Load(c.Request.Context())
		if err == nil {
			metrics = persisted
		}
	}
	c.JSON(http.StatusOK, metrics)
}

// GetLeaders returns the leader registry
func (h *Handler) GetLeaders(c *gin.Context) {
	leaders, err := h.store.GetLeaders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load leaders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"leaders": leaders,
		"count":   len(leaders),
	})
}

type followRequest struct {
	Address string `json:"address" binding:"required"`
	VaultID string `json:"vault_id" binding:"required"`
}

// FollowLeader starts mirroring a new leader
func (h *Handler) FollowLeader(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address and vault_id required"})
		return
	}

	address := strings.ToLower(strings.TrimSpace(req.Address))
	if !middleware.IsValidAptosAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid leader address"})
		return
	}

	err := h.manager.Follow(c.Request.Context(), models.Leader{
		Address: address,
		VaultID: req.VaultID,
		Enabled: true,
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"leader":   address,
		"vault_id": req.VaultID,
	})
}

// UnfollowLeader stops mirroring a leader
func (h *Handler) UnfollowLeader(c *gin.Context) {
	address := c.GetString("validatedAddress")
	if address == "" {
		address = strings.ToLower(strings.TrimSpace(c.Param("address")))
	}

	if err := h.manager.Unfollow(c.Request.Context(), address); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": address})
}

// Health is a liveness probe
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
