package dashboard

import (
	"github.com/gin-gonic/gin"
)

// Routes mounts the dashboard query surface under /dashboard.
func Routes(router *gin.RouterGroup, h *Handler) {
	group := router.Group("/dashboard")
	{
		group.GET("/summary", h.SummaryHandler)
		group.GET("/models", h.ModelsHandler)
		group.GET("/models/production", h.ProductionModelHandler)
		group.GET("/retraining-status", h.RetrainingStatusHandler)
		group.GET("/ab-tests/:test_name", h.ABTestResultsHandler)
		group.GET("/metrics-timeline", h.MetricsTimelineHandler)
		group.GET("/alerts", h.AlertsHandler)
		group.GET("/health", h.HealthHandler)
	}
}
