package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/amplify/internal/database"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
	"github.com/jonesrussell/amplify/internal/scheduler"
)

// AggregateStore reads computed post metrics.
type AggregateStore interface {
	GetAggregate(ctx context.Context, postID, window string) (*domain.MetricAggregate, error)
}

// ExperimentLister lists experiments by lifecycle status.
type ExperimentLister interface {
	ListByStatus(ctx context.Context, status domain.ExperimentStatus) ([]string, error)
}

// DashboardHandler serves the admin summary and per-post metrics.
type DashboardHandler struct {
	scheduler   *scheduler.Service
	aggregates  AggregateStore
	experiments ExperimentLister
	logger      logger.Logger
}

// NewDashboardHandler creates a dashboard handler.
func NewDashboardHandler(sched *scheduler.Service, aggregates AggregateStore, experiments ExperimentLister, log logger.Logger) *DashboardHandler {
	return &DashboardHandler{
		scheduler:   sched,
		aggregates:  aggregates,
		experiments: experiments,
		logger:      log,
	}
}

type dashboardResponse struct {
	Queue                *database.QueueStats `json:"queue"`
	RunningExperiments   []string             `json:"running_experiments"`
	ConcludedExperiments []string             `json:"concluded_experiments"`
}

// Summary returns the periodic admin overview: queue depth and experiment
// states.
func (h *DashboardHandler) Summary(c *gin.Context) {
	ctx := c.Request.Context()

	queue, err := h.scheduler.Stats(ctx)
	if err != nil {
		h.logger.Error("failed to load queue stats", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dashboard"})
		return
	}
	running, err := h.experiments.ListByStatus(ctx, domain.ExperimentStatusRunning)
	if err != nil {
		h.logger.Error("failed to list running experiments", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dashboard"})
		return
	}
	concluded, err := h.experiments.ListByStatus(ctx, domain.ExperimentStatusConcluded)
	if err != nil {
		h.logger.Error("failed to list concluded experiments", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dashboard"})
		return
	}

	c.JSON(http.StatusOK, dashboardResponse{
		Queue:                queue,
		RunningExperiments:   running,
		ConcludedExperiments: concluded,
	})
}

// PostMetrics returns the current lifetime aggregate for a post.
func (h *DashboardHandler) PostMetrics(c *gin.Context) {
	agg, err := h.aggregates.GetAggregate(c.Request.Context(), c.Param("id"), domain.AggregateWindowLifetime)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no metrics for post"})
			return
		}
		h.logger.Error("failed to load post metrics", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load post metrics"})
		return
	}
	c.JSON(http.StatusOK, agg)
}
