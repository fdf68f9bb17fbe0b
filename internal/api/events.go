package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/engagement"
	"github.com/jonesrussell/amplify/internal/logger"
)

// EventHandler ingests inbound comment events from the platform webhook.
type EventHandler struct {
	manager *engagement.Manager
	logger  logger.Logger
}

// NewEventHandler creates an event handler.
func NewEventHandler(manager *engagement.Manager, log logger.Logger) *EventHandler {
	return &EventHandler{manager: manager, logger: log}
}

// Ingest stores and processes one inbound comment. Redeliveries of the same
// comment id return 200 without reprocessing.
func (h *EventHandler) Ingest(c *gin.Context) {
	var req engagement.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.manager.Ingest(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrEscalationRequired) {
			c.JSON(http.StatusAccepted, gin.H{
				"event":     event,
				"escalated": true,
			})
			return
		}
		if event == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Stored but processing failed; the event can be reprocessed.
		h.logger.Error("event processing failed after ingest",
			logger.String("event_id", event.ID),
			logger.Error(err))
		c.JSON(http.StatusAccepted, gin.H{"event": event})
		return
	}

	if event == nil {
		c.JSON(http.StatusOK, gin.H{"duplicate": true})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": event})
}
