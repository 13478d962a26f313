package registry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/predixa/mlops/common/errors"
	"github.com/predixa/mlops/pkg/models"
)

func setupTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every session on the same in-memory
	// database and serializes concurrent writers.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))

	svc, err := NewService(zap.NewNop(), db, nil)
	require.NoError(t, err)
	return svc.(*Service), db
}

func registerVersion(t *testing.T, s *Service, version string, auc float64) *models.ModelVersion {
	t.Helper()
	mv, err := s.Register(context.Background(), RegisterInput{
		ModelName:       "churn_model",
		Version:         version,
		ModelPath:       "/models/" + version + ".bin",
		ScalerPath:      "/models/" + version + "_scaler.bin",
		TrainingSamples: 5000,
		Features:        []string{"sessions_30d", "days_since_last_login"},
		Hyperparameters: map[string]interface{}{"C": 1.0},
		Metrics:         map[string]float64{"auc": auc, "precision": 0.8, "recall": 0.7},
	})
	require.NoError(t, err)
	return mv
}

func TestRegisterAndGet(t *testing.T) {
	s, _ := setupTestService(t)
	ctx := context.Background()

	mv := registerVersion(t, s, "v1.0", 0.9)
	assert.Equal(t, models.StatusCandidate, mv.Status)
	assert.Equal(t, []string{"sessions_30d", "days_since_last_login"}, mv.Features())

	got, err := s.Get(ctx, "v1.0")
	require.NoError(t, err)
	assert.Equal(t, "churn_model", got.ModelName)
	assert.InDelta(t, 0.9, got.Metrics()["auc"], 1e-9)

	_, err = s.Get(ctx, "v9.9")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestRegisterDuplicateVersion(t *testing.T) {
	s, _ := setupTestService(t)

	registerVersion(t, s, "v1.0", 0.9)
	_, err := s.Register(context.Background(), RegisterInput{
		ModelName: "churn_model",
		Version:   "v1.0",
	})
	assert.True(t, errors.Is(err, errors.DuplicateVersion))
}

func TestTransitionClosure(t *testing.T) {
	allStatuses := []string{
		models.StatusCandidate, models.StatusStaging, models.StatusProduction,
		models.StatusDeprecated, models.StatusFailed,
	}
	allowed := map[string]map[string]bool{
		models.StatusCandidate:  {models.StatusStaging: true, models.StatusFailed: true},
		models.StatusStaging:    {models.StatusProduction: true, models.StatusFailed: true},
		models.StatusProduction: {models.StatusDeprecated: true},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			s, db := setupTestService(t)
			ctx := context.Background()
			registerVersion(t, s, "v1.0", 0.9)
			require.NoError(t, db.Model(&models.ModelVersion{}).
				Where("version = ?", "v1.0").
				Update("status", from).Error)

			_, err := s.Promote(ctx, PromoteInput{Version: "v1.0", ToStatus: to, Reason: "test"})
			if allowed[from][to] {
				assert.NoError(t, err, "%s -> %s should be allowed", from, to)
				continue
			}

			assert.True(t, errors.Is(err, errors.InvalidTransition),
				"%s -> %s should be rejected, got %v", from, to, err)

			var mv models.ModelVersion
			require.NoError(t, db.Where("version = ?", "v1.0").First(&mv).Error)
			assert.Equal(t, from, mv.Status, "status must be unchanged after rejected transition")
		}
	}
}

func TestPromoteAppendsRecord(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()

	registerVersion(t, s, "v1.0", 0.9)
	_, err := s.Promote(ctx, PromoteInput{
		Version:            "v1.0",
		ToStatus:           models.StatusStaging,
		Reason:             "validated",
		PromotedBy:         "orchestrator",
		MetricsImprovement: map[string]float64{"auc": 0.02},
	})
	require.NoError(t, err)

	var records []models.PromotionRecord
	require.NoError(t, db.Where("to_version = ?", "v1.0").Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, models.StatusCandidate, records[0].FromStatus)
	assert.Equal(t, models.StatusStaging, records[0].ToStatus)
	assert.Equal(t, "validated", records[0].Reason)
	assert.Equal(t, "orchestrator", records[0].PromotedBy)
	assert.InDelta(t, 0.02, records[0].Improvement()["auc"], 1e-9)
}

func TestPromoteToProductionDeprecatesPrevious(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()

	registerVersion(t, s, "v1.0", 0.90)
	registerVersion(t, s, "v1.1", 0.905)

	for _, step := range []struct{ version, status string }{
		{"v1.0", models.StatusStaging},
		{"v1.0", models.StatusProduction},
		{"v1.1", models.StatusStaging},
		{"v1.1", models.StatusProduction},
	} {
		_, err := s.Promote(ctx, PromoteInput{Version: step.version, ToStatus: step.status, Reason: "test"})
		require.NoError(t, err)
	}

	var old models.ModelVersion
	require.NoError(t, db.Where("version = ?", "v1.0").First(&old).Error)
	assert.Equal(t, models.StatusDeprecated, old.Status)
	require.NotNil(t, old.RetiredAt, "deprecated version must have retired_at set")

	var productionCount int64
	require.NoError(t, db.Model(&models.ModelVersion{}).
		Where("status = ?", models.StatusProduction).
		Count(&productionCount).Error)
	assert.Equal(t, int64(1), productionCount)

	prod, err := s.ProductionVersion(ctx)
	require.NoError(t, err)
	require.NotNil(t, prod)
	assert.Equal(t, "v1.1", prod.Version)

	// The demotion is itself a transition and must be audited.
	var demotions []models.PromotionRecord
	require.NoError(t, db.Where("to_version = ? AND to_status = ?", "v1.0", models.StatusDeprecated).
		Find(&demotions).Error)
	assert.Len(t, demotions, 1)
}

// setupFileBackedService uses a file-backed database with a multi-connection
// pool, so concurrent transactions genuinely interleave instead of being
// serialized by a single shared connection.
func setupFileBackedService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "registry.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	svc, err := NewService(zap.NewNop(), db, nil)
	require.NoError(t, err)
	return svc.(*Service), db
}

func TestProductionRowIsUnique(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()

	registerVersion(t, s, "v1.0", 0.9)
	registerVersion(t, s, "v1.1", 0.9)
	for _, status := range []string{models.StatusStaging, models.StatusProduction} {
		_, err := s.Promote(ctx, PromoteInput{Version: "v1.0", ToStatus: status, Reason: "test"})
		require.NoError(t, err)
	}

	// A second production row must be rejected by the schema itself, not
	// just by the service's read-then-update sequence.
	err := db.Model(&models.ModelVersion{}).
		Where("version = ?", "v1.1").
		Update("status", models.StatusProduction).Error
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))
}

func TestConcurrentPromotionsOfDistinctVersions(t *testing.T) {
	s, db := setupFileBackedService(t)
	ctx := context.Background()

	registerVersion(t, s, "v1.0", 0.9)
	for _, status := range []string{models.StatusStaging, models.StatusProduction} {
		_, err := s.Promote(ctx, PromoteInput{Version: "v1.0", ToStatus: status, Reason: "setup"})
		require.NoError(t, err)
	}

	challengers := []string{"v1.1", "v1.2"}
	for _, v := range challengers {
		registerVersion(t, s, v, 0.9)
		_, err := s.Promote(ctx, PromoteInput{Version: v, ToStatus: models.StatusStaging, Reason: "setup"})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, v := range challengers {
		wg.Add(1)
		go func(version string) {
			defer wg.Done()
			_, _ = s.Promote(ctx, PromoteInput{Version: version, ToStatus: models.StatusProduction, Reason: "race"})
		}(v)
	}
	wg.Wait()

	var productionCount int64
	require.NoError(t, db.Model(&models.ModelVersion{}).
		Where("status = ?", models.StatusProduction).
		Count(&productionCount).Error)
	assert.Equal(t, int64(1), productionCount, "invariant: at most one production version")

	// The audit trail must reflect what actually happened: no version is
	// demoted twice, and the surviving production version carries no
	// demotion record.
	var prod models.ModelVersion
	require.NoError(t, db.Where("status = ?", models.StatusProduction).First(&prod).Error)
	for _, v := range []string{"v1.0", "v1.1", "v1.2"} {
		var demotions int64
		require.NoError(t, db.Model(&models.PromotionRecord{}).
			Where("to_version = ? AND to_status = ?", v, models.StatusDeprecated).
			Count(&demotions).Error)
		if v == prod.Version {
			assert.Zero(t, demotions, "production version %s must have no demotion record", v)
		} else {
			assert.LessOrEqual(t, demotions, int64(1), "version %s demoted at most once", v)
		}
	}
}

func TestConcurrentProductionPromotions(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()

	versions := []string{"v1.0", "v1.1", "v1.2", "v1.3"}
	for _, v := range versions {
		registerVersion(t, s, v, 0.9)
		_, err := s.Promote(ctx, PromoteInput{Version: v, ToStatus: models.StatusStaging, Reason: "test"})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, v := range versions {
		wg.Add(1)
		go func(version string) {
			defer wg.Done()
			_, _ = s.Promote(ctx, PromoteInput{Version: version, ToStatus: models.StatusProduction, Reason: "race"})
		}(v)
	}
	wg.Wait()

	var productionCount int64
	require.NoError(t, db.Model(&models.ModelVersion{}).
		Where("status = ?", models.StatusProduction).
		Count(&productionCount).Error)
	assert.Equal(t, int64(1), productionCount, "invariant: at most one production version")
}

func TestProductionVersionNoneIsNil(t *testing.T) {
	s, _ := setupTestService(t)

	prod, err := s.ProductionVersion(context.Background())
	require.NoError(t, err)
	assert.Nil(t, prod)
}

func TestHistoryNewestFirst(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range []string{"v1.0", "v1.1", "v1.2"} {
		registerVersion(t, s, v, 0.9)
		require.NoError(t, db.Model(&models.ModelVersion{}).
			Where("version = ?", v).
			Update("created_at", base.Add(time.Duration(i)*time.Hour)).Error)
	}

	history, err := s.History(ctx, "churn_model", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "v1.2", history[0].Version)
	assert.Equal(t, "v1.1", history[1].Version)
}

func TestStagingVersions(t *testing.T) {
	s, _ := setupTestService(t)
	ctx := context.Background()

	registerVersion(t, s, "v1.0", 0.9)
	registerVersion(t, s, "v1.1", 0.9)
	_, err := s.Promote(ctx, PromoteInput{Version: "v1.1", ToStatus: models.StatusStaging, Reason: "test"})
	require.NoError(t, err)

	staging, err := s.StagingVersions(ctx)
	require.NoError(t, err)
	require.Len(t, staging, 1)
	assert.Equal(t, "v1.1", staging[0].Version)
}

func TestPromotionsAuditTrail(t *testing.T) {
	s, _ := setupTestService(t)
	ctx := context.Background()

	registerVersion(t, s, "v1.0", 0.9)
	for _, status := range []string{models.StatusStaging, models.StatusProduction} {
		_, err := s.Promote(ctx, PromoteInput{Version: "v1.0", ToStatus: status, Reason: "test"})
		require.NoError(t, err)
	}

	records, err := s.Promotions(ctx, "v1.0", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.StatusProduction, records[0].ToStatus)
	assert.Equal(t, models.StatusStaging, records[1].ToStatus)
}

func TestPromoteUnknownVersion(t *testing.T) {
	s, _ := setupTestService(t)

	_, err := s.Promote(context.Background(), PromoteInput{
		Version:  "ghost",
		ToStatus: models.StatusStaging,
	})
	assert.True(t, errors.Is(err, errors.NotFound))
}
