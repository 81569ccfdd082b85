package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartTracking handles POST /api/buses/:id/tracking. It turns the monitoring
// flag on and launches the bus's loop in this process.
func (h *Handler) StartTracking(c *gin.Context) {
	id, ok := busID(c)
	if !ok {
		return
	}
	if err := h.store.SetMonitoringEnabled(c.Request.Context(), id, true); err != nil {
		writeError(c, err)
		return
	}
	started := h.monitor.Start(id)
	c.JSON(http.StatusAccepted, gin.H{
		"bus_id":     id,
		"monitoring": true,
		"started":    started,
	})
}

// StopTracking handles DELETE /api/buses/:id/tracking. Loops on other replicas
// stop on their next tick when they see the flag off.
func (h *Handler) StopTracking(c *gin.Context) {
	id, ok := busID(c)
	if !ok {
		return
	}
	if err := h.store.SetMonitoringEnabled(c.Request.Context(), id, false); err != nil {
		writeError(c, err)
		return
	}
	h.monitor.Stop(id)
	c.JSON(http.StatusOK, gin.H{"bus_id": id, "monitoring": false})
}

// Evaluate handles POST /api/buses/:id/evaluate by running one tick synchronously.
func (h *Handler) Evaluate(c *gin.Context) {
	id, ok := busID(c)
	if !ok {
		return
	}
	report, err := h.tracker.EvaluateOnce(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bus_id":        report.BusID,
		"route_mode":    report.Mode,
		"eligible":      report.Eligible,
		"evaluated":     report.Evaluated,
		"skipped":       report.Skipped,
		"failed":        report.Failed,
		"notifications": report.Notified,
		"running":       h.monitor.Running(id),
	})
}
