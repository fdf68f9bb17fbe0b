package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/amplify/internal/abtest"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
)

// ExperimentHandler exposes the A/B testing engine.
type ExperimentHandler struct {
	engine *abtest.Engine
	logger logger.Logger
}

// NewExperimentHandler creates an experiment handler.
func NewExperimentHandler(engine *abtest.Engine, log logger.Logger) *ExperimentHandler {
	return &ExperimentHandler{engine: engine, logger: log}
}

type variantRequest struct {
	Channel     string    `json:"channel" binding:"required"`
	Body        string    `json:"body" binding:"required"`
	ContentType string    `json:"content_type"`
	PublishAt   time.Time `json:"publish_at"`
}

type createExperimentRequest struct {
	Name            string           `json:"name" binding:"required"`
	Type            string           `json:"type" binding:"required"`
	MinSampleSize   int64            `json:"min_sample_size"`
	DurationSeconds int64            `json:"duration_seconds"`
	ConfidenceLevel float64          `json:"confidence_level"`
	Variants        []variantRequest `json:"variants" binding:"required"`
}

// Create validates and creates an experiment, enqueueing one content item per
// variant.
func (h *ExperimentHandler) Create(c *gin.Context) {
	var req createExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	create := abtest.CreateRequest{
		Name:            req.Name,
		Type:            domain.ExperimentType(req.Type),
		MinSampleSize:   req.MinSampleSize,
		Duration:        time.Duration(req.DurationSeconds) * time.Second,
		ConfidenceLevel: req.ConfidenceLevel,
	}
	for _, v := range req.Variants {
		contentType := domain.ContentType(v.ContentType)
		if v.ContentType == "" {
			contentType = domain.ContentTypeText
		}
		create.Variants = append(create.Variants, abtest.VariantSpec{
			Channel:     v.Channel,
			Body:        v.Body,
			ContentType: contentType,
			PublishAt:   v.PublishAt,
		})
	}

	exp, err := h.engine.CreateExperiment(c.Request.Context(), create)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSchedule) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("failed to create experiment", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create experiment"})
		return
	}

	c.JSON(http.StatusCreated, exp)
}

// Get returns an experiment with its variants and running statistics.
func (h *ExperimentHandler) Get(c *gin.Context) {
	exp, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "experiment not found"})
			return
		}
		h.logger.Error("failed to load experiment", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load experiment"})
		return
	}
	c.JSON(http.StatusOK, exp)
}

// Evaluate forces an evaluation cycle outside the collector cadence.
func (h *ExperimentHandler) Evaluate(c *gin.Context) {
	concluded, err := h.engine.Evaluate(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientSamples):
			c.JSON(http.StatusAccepted, gin.H{"concluded": false, "reason": "insufficient samples"})
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "experiment not found"})
		default:
			h.logger.Error("failed to evaluate experiment", logger.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to evaluate experiment"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"concluded": concluded})
}

// Cancel concludes an experiment without a winner (manual admin override).
func (h *ExperimentHandler) Cancel(c *gin.Context) {
	err := h.engine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyConcluded):
			c.JSON(http.StatusConflict, gin.H{"error": "experiment already concluded"})
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "experiment not found"})
		default:
			h.logger.Error("failed to cancel experiment", logger.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel experiment"})
		}
		return
	}
	c.Status(http.StatusNoContent)
}
