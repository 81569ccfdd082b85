package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bus-tracking-backend/internal/model"
)

type studentEventRequest struct {
	EventType string `json:"event_type" binding:"required"`
	StudentID *int64 `json:"student_id"`
}

func eventResponse(e *model.Event) gin.H {
	return gin.H{
		"event_id":   e.ID,
		"event_type": e.Kind,
		"bus_id":     e.BusID,
		"student_id": e.StudentID,
		"time":       e.OccurredAt,
	}
}

// CreateStudentEvent handles POST /api/buses/:id/events. The raw enter/exit
// signal is classified by where the bus is; riders that are not students of
// the bus are recorded as unauthorized.
func (h *Handler) CreateStudentEvent(c *gin.Context) {
	id, ok := busID(c)
	if !ok {
		return
	}
	var req studentEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errInvalidRequest)
		return
	}
	event, err := h.events.RecordStudentSignal(c.Request.Context(), id, req.StudentID, req.EventType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, eventResponse(event))
}

type busEventRequest struct {
	EventType string `json:"event_type" binding:"required"`
}

// CreateBusEvent handles POST /api/buses/:id/bus-events.
func (h *Handler) CreateBusEvent(c *gin.Context) {
	id, ok := busID(c)
	if !ok {
		return
	}
	var req busEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errInvalidRequest)
		return
	}
	event, err := h.events.RecordBusEvent(c.Request.Context(), id, req.EventType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, eventResponse(event))
}
