package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetMonitorStatus returns the live state of every applicant task.
func (h *Handler) GetMonitorStatus(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor is not running"})
		return
	}
	c.JSON(http.StatusOK, h.monitor.Status())
}

// StartMonitor launches the monitoring run, picking up every applicant
// currently in monitoring status.
func (h *Handler) StartMonitor(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor is not configured"})
		return
	}
	if err := h.monitor.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "starting"})
}

// StopMonitor cancels the active monitoring run.
func (h *Handler) StopMonitor(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor is not configured"})
		return
	}
	if err := h.monitor.Stop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}
