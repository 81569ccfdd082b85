package api

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"bus-tracking-backend/internal/model"
	"bus-tracking-backend/internal/mw"
	"bus-tracking-backend/internal/parse"
)

type locationRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

// UpdateLocation handles PATCH /api/buses/:id/location.
func (h *Handler) UpdateLocation(c *gin.Context) {
	id, ok := busID(c)
	if !ok {
		return
	}
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errInvalidRequest)
		return
	}
	loc := model.Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if !loc.Valid() {
		writeError(c, fmt.Errorf("%w: %s", parse.ErrInvalidLocation, loc))
		return
	}
	if err := h.store.UpdateBusLocation(c.Request.Context(), id, loc, time.Now()); err != nil {
		writeError(c, err)
		return
	}
	if h.etaCache != nil {
		mw.Invalidate(h.etaCache, fmt.Sprintf("/api/buses/%d/", id))
	}
	c.Status(http.StatusNoContent)
}

type routeModeRequest struct {
	RouteMode string `json:"route_mode" binding:"required"`
}

// UpdateRouteMode handles PUT /api/buses/:id/route-mode. Every alert flag of
// the bus's students is reset with the change.
func (h *Handler) UpdateRouteMode(c *gin.Context) {
	id, ok := busID(c)
	if !ok {
		return
	}
	var req routeModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errInvalidRequest)
		return
	}
	mode, err := parse.ParseRouteMode(req.RouteMode)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.store.SetRouteMode(c.Request.Context(), id, mode); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bus_id": id, "route_mode": mode})
}

type etaEntry struct {
	StudentID int64 `json:"student_id"`
	Minutes   int   `json:"minutes"`
}

// GetETAs handles GET /api/buses/:id/eta: minutes until the bus reaches the
// home of each student on board, in visiting order.
func (h *Handler) GetETAs(c *gin.Context) {
	id, ok := busID(c)
	if !ok {
		return
	}
	etas, err := h.tracker.ETAs(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]etaEntry, 0, len(etas))
	for studentID, d := range etas {
		out = append(out, etaEntry{StudentID: studentID, Minutes: int((d + 30*time.Second) / time.Minute)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Minutes != out[j].Minutes {
			return out[i].Minutes < out[j].Minutes
		}
		return out[i].StudentID < out[j].StudentID
	})
	c.JSON(http.StatusOK, gin.H{"bus_id": id, "etas": out})
}
