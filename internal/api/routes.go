package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/amplify/internal/telemetry"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Content     *ContentHandler
	Experiments *ExperimentHandler
	Events      *EventHandler
	Clicks      *ClickHandler
	Dashboard   *DashboardHandler
	Health      *HealthHandler
	Metrics     *telemetry.Metrics
}

// RouteConfig holds router-level options.
type RouteConfig struct {
	JWTSecret       string
	ClickRateLimit  int
	ClickRateWindow time.Duration
}

// SetupRoutes mounts all engine routes.
func SetupRoutes(router *gin.Engine, h Handlers, cfg RouteConfig) {
	router.GET("/health", h.Health.HealthCheck)
	router.GET("/health/ready", h.Health.ReadyCheck)
	router.GET("/metrics", gin.WrapH(h.Metrics.Handler()))

	// Public click redirect with per-IP rate limiting
	click := router.Group("")
	click.Use(RateLimiter(cfg.ClickRateLimit, cfg.ClickRateWindow))
	click.GET("/click", h.Clicks.Handle)

	v1 := router.Group("/api/v1")
	v1.Use(JWTAuth(cfg.JWTSecret))
	{
		v1.POST("/content", h.Content.Schedule)
		v1.POST("/content/produce", h.Content.Produce)
		v1.GET("/content/:id", h.Content.Get)
		v1.DELETE("/content/:id", h.Content.Cancel)
		v1.POST("/content/:id/boost", h.Content.Boost)
		v1.GET("/queue/stats", h.Content.QueueStats)

		v1.POST("/experiments", h.Experiments.Create)
		v1.GET("/experiments/:id", h.Experiments.Get)
		v1.POST("/experiments/:id/evaluate", h.Experiments.Evaluate)
		v1.POST("/experiments/:id/cancel", h.Experiments.Cancel)

		v1.POST("/events", h.Events.Ingest)

		v1.GET("/posts/:id/metrics", h.Dashboard.PostMetrics)
		v1.GET("/dashboard", h.Dashboard.Summary)
	}
}
