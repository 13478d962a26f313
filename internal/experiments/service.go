// Package experiments manages A/B tests between model versions: sticky
// variant assignment, observation logging, and statistically-sound result
// comparison.
package experiments

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/predixa/mlops/common/dbutil"
	"github.com/predixa/mlops/common/errors"
	"github.com/predixa/mlops/pkg/metrics"
	"github.com/predixa/mlops/pkg/models"
)

const significanceLevel = 0.05

// VersionGetter is the slice of the registry the experiment manager needs to
// validate test definitions.
type VersionGetter interface {
	Get(ctx context.Context, version string) (*models.ModelVersion, error)
}

// StartTestInput defines a new experiment.
type StartTestInput struct {
	TestName       string
	ControlVersion string
	VariantVersion string
	TrafficSplit   float64
	DurationDays   int
}

// VariantStats are per-variant aggregates of logged observations.
type VariantStats struct {
	Variant        string  `json:"variant"`
	NumPredictions int64   `json:"num_predictions"`
	AvgProbability float64 `json:"avg_probability"`
	StdProbability float64 `json:"std_probability"`
	AvgLatencyMS   float64 `json:"avg_latency"`
	MinLatencyMS   float64 `json:"min_latency"`
	MaxLatencyMS   float64 `json:"max_latency"`
}

// SignificanceTest is the Welch t-test verdict on churn probability means.
type SignificanceTest struct {
	TStatistic  float64 `json:"t_statistic"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
	Winner      string  `json:"winner"`
}

// Results is the aggregate outcome of a test.
type Results struct {
	Status          string            `json:"status"`
	Control         *VariantStats     `json:"control,omitempty"`
	Variant         *VariantStats     `json:"variant,omitempty"`
	ProbabilityTest *SignificanceTest `json:"probability_test,omitempty"`
}

// Result statuses.
const (
	ResultsStatusActive           = "active"
	ResultsStatusInsufficientData = "insufficient_data"
)

// Manager defines experiment operations.
type Manager interface {
	StartTest(ctx context.Context, in StartTestInput) (bool, error)
	GetTest(ctx context.Context, testName string) (*models.ABTest, error)
	AssignVariant(ctx context.Context, userID int64, testName string, trafficSplit float64) (string, error)
	RecordObservation(ctx context.Context, userID int64, testName, variant string, churnProbability, latencyMS float64) error
	Results(ctx context.Context, testName string) (*Results, error)
	EndTest(ctx context.Context, testName, winner string) error
	ActiveTestCount(ctx context.Context) (int64, error)
}

// Service implements Manager.
type Service struct {
	logger   *zap.Logger
	db       *gorm.DB
	registry VersionGetter
}

// NewService creates a new experiment Manager. registry may be nil, which
// disables version validation on StartTest.
func NewService(logger *zap.Logger, db *gorm.DB, registry VersionGetter) (Manager, error) {
	return &Service{logger: logger, db: db, registry: registry}, nil
}

// StartTest creates an experiment if one with the same name does not already
// exist. Idempotent: an existing definition is never overwritten. Returns
// whether a new test was created.
func (s *Service) StartTest(ctx context.Context, in StartTestInput) (bool, error) {
	if in.TrafficSplit <= 0 || in.TrafficSplit >= 1 {
		return false, errors.InvalidState.Explain("traffic split must be in (0,1), got %v", in.TrafficSplit)
	}

	if s.registry != nil {
		if _, err := s.registry.Get(ctx, in.ControlVersion); err != nil {
			return false, errors.NotFound.Explain("control version %s is not registered", in.ControlVersion)
		}
		if _, err := s.registry.Get(ctx, in.VariantVersion); err != nil {
			return false, errors.NotFound.Explain("variant version %s is not registered", in.VariantVersion)
		}
	}

	test := models.ABTest{
		TestName:       in.TestName,
		ControlVersion: in.ControlVersion,
		VariantVersion: in.VariantVersion,
		TrafficSplit:   in.TrafficSplit,
		StartDate:      time.Now().UTC(),
		DurationDays:   in.DurationDays,
		Status:         models.TestStatusActive,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "test_name"}},
		DoNothing: true,
	}).Create(&test)
	if res.Error != nil {
		return false, dbutil.WrapError(res.Error)
	}

	created := res.RowsAffected > 0
	if created {
		s.logger.Info("started A/B test",
			zap.String("test_name", in.TestName),
			zap.String("control", in.ControlVersion),
			zap.String("variant", in.VariantVersion),
			zap.Float64("traffic_split", in.TrafficSplit))
	}
	return created, nil
}

// GetTest fetches an experiment definition.
func (s *Service) GetTest(ctx context.Context, testName string) (*models.ABTest, error) {
	var test models.ABTest
	if err := s.db.WithContext(ctx).Where("test_name = ?", testName).First(&test).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound.Explain("test %s not found", testName)
		}
		return nil, dbutil.WrapError(err)
	}
	return &test, nil
}

// AssignVariant returns the sticky variant for (user, test). An existing
// assignment is returned unconditionally, ignoring trafficSplit. A missing
// or inactive test defaults to control without persisting anything, so a
// test activated later can still assign normally. First-time assignment is
// an atomic insert-if-absent: concurrent callers race on the unique
// (user_id, test_name) index and the loser adopts the winner's row.
func (s *Service) AssignVariant(ctx context.Context, userID int64, testName string, trafficSplit float64) (string, error) {
	var existing models.ABAssignment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND test_name = ?", userID, testName).
		First(&existing).Error
	if err == nil {
		return existing.Variant, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", dbutil.WrapError(err)
	}

	var test models.ABTest
	err = s.db.WithContext(ctx).
		Where("test_name = ? AND status = ?", testName, models.TestStatusActive).
		First(&test).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.VariantControl, nil
		}
		return "", dbutil.WrapError(err)
	}

	variant := models.VariantControl
	if rand.Float64() < trafficSplit {
		variant = models.VariantVariant
	}

	assignment := models.ABAssignment{
		UserID:         userID,
		TestName:       testName,
		Variant:        variant,
		ControlVersion: test.ControlVersion,
		VariantVersion: test.VariantVersion,
		AssignedAt:     time.Now().UTC(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "test_name"}},
		DoNothing: true,
	}).Create(&assignment)
	if res.Error != nil {
		return "", dbutil.WrapError(res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the insert race; the stored assignment wins.
		if err := s.db.WithContext(ctx).
			Where("user_id = ? AND test_name = ?", userID, testName).
			First(&existing).Error; err != nil {
			return "", dbutil.WrapError(err)
		}
		return existing.Variant, nil
	}

	metrics.AssignmentsTotal.WithLabelValues(variant).Inc()
	return variant, nil
}

// RecordObservation appends one observation row. Failures are logged and
// swallowed: observation logging must never fail the caller's prediction
// path.
func (s *Service) RecordObservation(ctx context.Context, userID int64, testName, variant string, churnProbability, latencyMS float64) error {
	row := models.ABTestResult{
		ID:               uuid.New(),
		UserID:           userID,
		TestName:         testName,
		Variant:          variant,
		ChurnProbability: churnProbability,
		LatencyMS:        latencyMS,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Warn("failed to log experiment observation",
			zap.String("test_name", testName),
			zap.Int64("user_id", userID),
			zap.Error(err))
		return nil
	}
	metrics.ObservationsTotal.Inc()
	return nil
}

// variantAgg mirrors the portable aggregate projection used by Results.
type variantAgg struct {
	Variant    string
	N          int64
	SumProb    float64
	SumProbSq  float64
	AvgLatency float64
	MinLatency float64
	MaxLatency float64
}

// Results aggregates observations per variant and runs Welch's t-test on the
// churn probability means. Requires data in both groups; otherwise reports
// insufficient data. The variant wins only with a lower mean probability at
// p < 0.05; ties and non-significant differences go to control.
func (s *Service) Results(ctx context.Context, testName string) (*Results, error) {
	var rows []variantAgg
	err := s.db.WithContext(ctx).Model(&models.ABTestResult{}).
		Select("variant, COUNT(*) AS n, " +
			"SUM(churn_probability) AS sum_prob, " +
			"SUM(churn_probability * churn_probability) AS sum_prob_sq, " +
			"AVG(latency_ms) AS avg_latency, " +
			"MIN(latency_ms) AS min_latency, " +
			"MAX(latency_ms) AS max_latency").
		Where("test_name = ?", testName).
		Group("variant").
		Scan(&rows).Error
	if err != nil {
		return nil, dbutil.WrapError(err)
	}

	byVariant := make(map[string]*VariantStats, len(rows))
	for i := range rows {
		r := rows[i]
		if r.N == 0 {
			continue
		}
		byVariant[r.Variant] = &VariantStats{
			Variant:        r.Variant,
			NumPredictions: r.N,
			AvgProbability: r.SumProb / float64(r.N),
			StdProbability: sampleStd(r.N, r.SumProb, r.SumProbSq),
			AvgLatencyMS:   r.AvgLatency,
			MinLatencyMS:   r.MinLatency,
			MaxLatencyMS:   r.MaxLatency,
		}
	}

	control, hasControl := byVariant[models.VariantControl]
	variant, hasVariant := byVariant[models.VariantVariant]
	if !hasControl || !hasVariant {
		return &Results{Status: ResultsStatusInsufficientData}, nil
	}

	t, p := welchTTest(
		control.AvgProbability, control.StdProbability, control.NumPredictions,
		variant.AvgProbability, variant.StdProbability, variant.NumPredictions,
	)

	winner := models.VariantControl
	if variant.AvgProbability < control.AvgProbability && p < significanceLevel {
		winner = models.VariantVariant
	}

	return &Results{
		Status:  ResultsStatusActive,
		Control: control,
		Variant: variant,
		ProbabilityTest: &SignificanceTest{
			TStatistic:  t,
			PValue:      p,
			Significant: p < significanceLevel,
			Winner:      winner,
		},
	}, nil
}

// EndTest marks a test completed and records the declared winner. It does
// not trigger any promotion; that decision belongs to the orchestrator.
func (s *Service) EndTest(ctx context.Context, testName, winner string) error {
	if winner != models.VariantControl && winner != models.VariantVariant {
		return errors.InvalidState.Explain("winner must be control or variant, got %q", winner)
	}

	endDate := time.Now().UTC().Truncate(24 * time.Hour)
	res := s.db.WithContext(ctx).Model(&models.ABTest{}).
		Where("test_name = ?", testName).
		Updates(map[string]interface{}{
			"status":   models.TestStatusCompleted,
			"end_date": endDate,
			"winner":   winner,
		})
	if res.Error != nil {
		return dbutil.WrapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.NotFound.Explain("test %s not found", testName)
	}

	s.logger.Info("ended A/B test", zap.String("test_name", testName), zap.String("winner", winner))
	return nil
}

// ActiveTestCount reports how many experiments are currently running.
func (s *Service) ActiveTestCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ABTest{}).
		Where("status = ?", models.TestStatusActive).
		Count(&count).Error
	if err != nil {
		return 0, dbutil.WrapError(err)
	}
	return count, nil
}
