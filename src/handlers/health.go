package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/repositories"
)

var startTime = time.Now()

// HealthHandler handles health check requests
type HealthHandler struct {
	store   repositories.RecordStore
	backend string
}

// NewHealthHandler creates a new health handler for the configured record store
func NewHealthHandler(store repositories.RecordStore, backend string) *HealthHandler {
	return &HealthHandler{
		store:   store,
		backend: backend,
	}
}

// HandleHealth returns health status with a storage check
func (hh *HealthHandler) HandleHealth(c *gin.Context) {
	start := time.Now()
	err := hh.store.Health(c.Request.Context())
	latency := time.Since(start)

	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"storage": hh.backend,
			"error":   "storage unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"storage":         hh.backend,
		"storage_latency": latency.String(),
		"uptime":          time.Since(startTime).String(),
	})
}

// HandleInfo returns service information
func (hh *HealthHandler) HandleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "agent-talk",
		"version": "1.0.0",
		"status":  "running",
		"uptime":  time.Since(startTime).String(),
	})
}

// HandleReady returns readiness status (for load balancers)
func (hh *HealthHandler) HandleReady(c *gin.Context) {
	if err := hh.store.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready": false,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ready": true,
	})
}
