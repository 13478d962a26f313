// Package dashboard exposes the read-only query surface consumed by the
// external dashboard and API collaborators.
package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/predixa/mlops/common/errors"
	"github.com/predixa/mlops/internal/experiments"
	"github.com/predixa/mlops/internal/monitor"
	"github.com/predixa/mlops/internal/orchestrator"
	"github.com/predixa/mlops/internal/registry"
)

// Handler serves dashboard queries. All endpoints are read-only.
type Handler struct {
	logger       *zap.Logger
	registry     registry.Registry
	orchestrator orchestrator.Orchestrator
	experiments  experiments.Manager
	monitor      monitor.Monitor
	modelName    string
}

// NewHandler creates a dashboard handler. modelName is the default model
// whose history the /models endpoint lists.
func NewHandler(
	logger *zap.Logger,
	reg registry.Registry,
	orch orchestrator.Orchestrator,
	exp experiments.Manager,
	mon monitor.Monitor,
	modelName string,
) *Handler {
	return &Handler{
		logger:       logger,
		registry:     reg,
		orchestrator: orch,
		experiments:  exp,
		monitor:      mon,
		modelName:    modelName,
	}
}

// SummaryHandler returns the overall dashboard view.
func (h *Handler) SummaryHandler(c *gin.Context) {
	ctx := c.Request.Context()

	status, err := h.orchestrator.Status(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}

	activeTests, err := h.experiments.ActiveTestCount(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}

	alerts, err := h.monitor.RecentAlerts(ctx, 10)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamp":         time.Now().UTC(),
		"production_model":  status.ProductionModel,
		"active_ab_tests":   activeTests,
		"models_in_staging": len(status.StagingModels),
		"retraining_needed": status.ShouldRetrain,
		"recent_alerts":     alerts,
	})
}

// ModelsHandler lists recent versions of the default model.
func (h *Handler) ModelsHandler(c *gin.Context) {
	limit := queryInt(c, "limit", 10)
	name := c.DefaultQuery("name", h.modelName)

	history, err := h.registry.History(c.Request.Context(), name, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// ProductionModelHandler returns the current production version.
func (h *Handler) ProductionModelHandler(c *gin.Context) {
	mv, err := h.registry.ProductionVersion(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if mv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no production model"})
		return
	}
	c.JSON(http.StatusOK, mv)
}

// RetrainingStatusHandler returns the orchestrator's composite status.
func (h *Handler) RetrainingStatusHandler(c *gin.Context) {
	status, err := h.orchestrator.Status(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ABTestResultsHandler returns aggregate experiment results. Insufficient
// data is a valid terminal result, not an error.
func (h *Handler) ABTestResultsHandler(c *gin.Context) {
	testName := c.Param("test_name")
	if _, err := h.experiments.GetTest(c.Request.Context(), testName); err != nil {
		h.respondError(c, err)
		return
	}

	results, err := h.experiments.Results(c.Request.Context(), testName)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// MetricsTimelineHandler returns per-day serving aggregates for
// visualization. The window is capped at 30 days.
func (h *Handler) MetricsTimelineHandler(c *gin.Context) {
	days := queryInt(c, "days", 7)
	if days > 30 {
		days = 30
	}

	timeline, err := h.monitor.MetricsTimeline(c.Request.Context(), days)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"daily_metrics": timeline, "timestamp": time.Now().UTC()})
}

// AlertsHandler lists recent drift alerts.
func (h *Handler) AlertsHandler(c *gin.Context) {
	limit := queryInt(c, "limit", 10)
	alerts, err := h.monitor.RecentAlerts(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "timestamp": time.Now().UTC()})
}

// HealthHandler reports component health.
func (h *Handler) HealthHandler(c *gin.Context) {
	_, err := h.registry.StagingVersions(c.Request.Context())
	healthy := err == nil
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"healthy": healthy, "timestamp": time.Now().UTC()})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errors.NotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errors.DuplicateVersion),
		errors.Is(err, errors.InvalidTransition),
		errors.Is(err, errors.InvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("dashboard request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	if v > 100 {
		return 100
	}
	return v
}
