package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/predixa/mlops/internal/experiments"
	"github.com/predixa/mlops/internal/monitor"
	"github.com/predixa/mlops/internal/orchestrator"
	"github.com/predixa/mlops/internal/registry"
	"github.com/predixa/mlops/pkg/models"
)

type env struct {
	router      *gin.Engine
	registry    registry.Registry
	experiments experiments.Manager
	db          *gorm.DB
}

func setupRouter(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))

	log := zap.NewNop()
	reg, err := registry.NewService(log, db, nil)
	require.NoError(t, err)
	mon, err := monitor.NewService(log, db)
	require.NoError(t, err)
	exp, err := experiments.NewService(log, db, reg)
	require.NoError(t, err)
	orch, err := orchestrator.NewService(log, reg, mon, orchestrator.DefaultPolicy())
	require.NoError(t, err)

	router := gin.New()
	Routes(router.Group("/"), NewHandler(log, reg, orch, exp, mon, "churn_model"))
	return &env{router: router, registry: reg, experiments: exp, db: db}
}

func (e *env) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) seedProduction(t *testing.T, version string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.registry.Register(ctx, registry.RegisterInput{
		ModelName: "churn_model",
		Version:   version,
		Metrics:   map[string]float64{"auc": 0.9},
	})
	require.NoError(t, err)
	for _, status := range []string{models.StatusStaging, models.StatusProduction} {
		_, err := e.registry.Promote(ctx, registry.PromoteInput{
			Version: version, ToStatus: status, Reason: "setup",
		})
		require.NoError(t, err)
	}
}

func TestProductionModelEndpoint(t *testing.T) {
	e := setupRouter(t)

	w := e.get(t, "/dashboard/models/production")
	assert.Equal(t, http.StatusNotFound, w.Code)

	e.seedProduction(t, "v1.0")

	w = e.get(t, "/dashboard/models/production")
	require.Equal(t, http.StatusOK, w.Code)

	var body models.ModelVersion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "v1.0", body.Version)
	assert.Equal(t, models.StatusProduction, body.Status)
}

func TestModelsEndpoint(t *testing.T) {
	e := setupRouter(t)
	e.seedProduction(t, "v1.0")

	w := e.get(t, "/dashboard/models?limit=5")
	require.Equal(t, http.StatusOK, w.Code)

	var body []models.ModelVersion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "v1.0", body[0].Version)
}

func TestSummaryEndpoint(t *testing.T) {
	e := setupRouter(t)
	e.seedProduction(t, "v1.0")

	w := e.get(t, "/dashboard/summary")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "production_model")
	assert.Contains(t, body, "active_ab_tests")
	assert.Contains(t, body, "retraining_needed")
	assert.Equal(t, false, body["retraining_needed"])
}

func TestABTestResultsEndpoint(t *testing.T) {
	e := setupRouter(t)
	ctx := context.Background()

	w := e.get(t, "/dashboard/ab-tests/ghost")
	assert.Equal(t, http.StatusNotFound, w.Code)

	e.seedProduction(t, "v1.0")
	_, err := e.registry.Register(ctx, registry.RegisterInput{
		ModelName: "churn_model",
		Version:   "v1.1",
		Metrics:   map[string]float64{"auc": 0.91},
	})
	require.NoError(t, err)

	created, err := e.experiments.StartTest(ctx, experiments.StartTestInput{
		TestName:       "churn_test_1",
		ControlVersion: "v1.0",
		VariantVersion: "v1.1",
		TrafficSplit:   0.5,
	})
	require.NoError(t, err)
	require.True(t, created)

	w = e.get(t, "/dashboard/ab-tests/churn_test_1")
	require.Equal(t, http.StatusOK, w.Code)

	var body experiments.Results
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, experiments.ResultsStatusInsufficientData, body.Status)
}

func TestMetricsTimelineEndpoint(t *testing.T) {
	e := setupRouter(t)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	for _, m := range []models.ModelMetric{
		{MetricDate: today, TotalPredictions: 400, AvgProbability: 0.5, AvgLatencyMS: 100},
		{MetricDate: today.AddDate(0, 0, -1), TotalPredictions: 200, AvgProbability: 0.5, AvgLatencyMS: 90},
	} {
		require.NoError(t, e.db.Create(&m).Error)
	}

	w := e.get(t, "/dashboard/metrics-timeline?days=7")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		DailyMetrics []monitor.DailyMetric `json:"daily_metrics"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.DailyMetrics, 2)
	assert.Equal(t, int64(400), body.DailyMetrics[0].TotalPredictions)
}

func TestHealthEndpoint(t *testing.T) {
	e := setupRouter(t)

	w := e.get(t, "/dashboard/health")
	assert.Equal(t, http.StatusOK, w.Code)
}
