package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
	"github.com/jonesrussell/amplify/internal/producer"
	"github.com/jonesrussell/amplify/internal/scheduler"
)

// ContentHandler exposes the scheduling queue.
type ContentHandler struct {
	service  *scheduler.Service
	producer producer.Producer
	logger   logger.Logger
}

// NewContentHandler creates a content handler. The producer may be nil when
// the collaborator is not configured; Produce then responds 503.
func NewContentHandler(service *scheduler.Service, prod producer.Producer, log logger.Logger) *ContentHandler {
	return &ContentHandler{service: service, producer: prod, logger: log}
}

type scheduleRequest struct {
	Channel     string    `json:"channel" binding:"required"`
	Body        string    `json:"body" binding:"required"`
	MediaRefs   []string  `json:"media_refs"`
	ContentType string    `json:"content_type"`
	PublishAt   time.Time `json:"publish_at"`
	Priority    int       `json:"priority"`
}

// Schedule enqueues a content item for future publication.
func (h *ContentHandler) Schedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contentType := domain.ContentType(req.ContentType)
	if req.ContentType == "" {
		contentType = domain.ContentTypeText
	}

	item, err := h.service.Enqueue(c.Request.Context(), scheduler.EnqueueRequest{
		Channel:     req.Channel,
		Body:        req.Body,
		MediaRefs:   req.MediaRefs,
		ContentType: contentType,
		PublishAt:   req.PublishAt,
		Priority:    req.Priority,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSchedule) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("failed to enqueue content", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue content"})
		return
	}

	c.JSON(http.StatusCreated, item)
}

type produceRequest struct {
	Topic     string    `json:"topic" binding:"required"`
	Style     string    `json:"style"`
	Channel   string    `json:"channel" binding:"required"`
	PublishAt time.Time `json:"publish_at"`
	Priority  int       `json:"priority"`
}

// Produce asks the content producer collaborator for a payload on a topic
// and schedules the result.
func (h *ContentHandler) Produce(c *gin.Context) {
	if h.producer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "content producer is not configured"})
		return
	}

	var req produceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := h.producer.Produce(c.Request.Context(), req.Topic, req.Style)
	if err != nil {
		h.logger.Error("producer call failed",
			logger.String("topic", req.Topic),
			logger.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "content producer unavailable"})
		return
	}

	contentType := domain.ContentType(payload.Format)
	if !domain.IsSupportedContentType(contentType) {
		contentType = domain.ContentTypeText
	}

	item, err := h.service.Enqueue(c.Request.Context(), scheduler.EnqueueRequest{
		Channel:     req.Channel,
		Body:        payload.Body,
		MediaRefs:   payload.MediaRefs,
		ContentType: contentType,
		PublishAt:   req.PublishAt,
		Priority:    req.Priority,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSchedule) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("failed to enqueue produced content", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue content"})
		return
	}

	c.JSON(http.StatusCreated, item)
}

// Get returns a single content item.
func (h *ContentHandler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "content item not found"})
			return
		}
		h.logger.Error("failed to load content item", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load content item"})
		return
	}
	c.JSON(http.StatusOK, item)
}

// Cancel removes a still-pending item from the queue.
func (h *ContentHandler) Cancel(c *gin.Context) {
	err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusConflict, gin.H{"error": "item is not pending"})
			return
		}
		h.logger.Error("failed to cancel content item", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel content item"})
		return
	}
	c.Status(http.StatusNoContent)
}

type boostRequest struct {
	Delta int `json:"delta" binding:"required"`
}

// Boost raises the priority of a post's remaining pending items.
func (h *ContentHandler) Boost(c *gin.Context) {
	var req boostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	boosted, err := h.service.Boost(c.Request.Context(), c.Param("id"), req.Delta)
	if err != nil {
		h.logger.Error("failed to boost content", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to boost content"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"boosted": boosted})
}

// QueueStats returns queue depth by status.
func (h *ContentHandler) QueueStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load queue stats", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load queue stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
