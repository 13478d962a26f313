// Package monitor computes feature-drift and performance-degradation signals
// from serving-time prediction logs and periodic aggregate metrics. The
// component is advisory: storage failures degrade to "no signal" and are
// never surfaced to callers on the serving path.
package monitor

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/predixa/mlops/common/dbutil"
	"github.com/predixa/mlops/pkg/metrics"
	"github.com/predixa/mlops/pkg/models"
)

// Degradation statuses.
const (
	StatusOK               = "ok"
	StatusDegraded         = "degraded"
	StatusInsufficientData = "insufficient_data"
)

// Detection thresholds, matching the serving collaborator's alerting rules.
const (
	driftPValueThreshold    = 0.05
	driftMeanChangePct      = 30.0
	degradedProbabilityPct  = 10.0
	degradedLatencyPct      = 50.0
	referenceSampleSize     = 1000
	predictionSampleLimit   = 5000
	meanChangeEpsilon       = 1e-6
	minReferenceSigma       = 1e-6
)

// FeatureBaseline is the training-time reference distribution of a feature.
type FeatureBaseline struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// BaselineStats maps feature names to their reference distributions. It is
// an explicit value passed into each drift check rather than hidden service
// state, so long-running processes cannot silently go stale.
type BaselineStats map[string]FeatureBaseline

// DriftSignal is the drift verdict for a single feature.
type DriftSignal struct {
	FeatureName   string  `json:"feature_name"`
	BaselineMean  float64 `json:"baseline_mean"`
	BaselineStd   float64 `json:"baseline_std"`
	CurrentMean   float64 `json:"current_mean"`
	CurrentStd    float64 `json:"current_std"`
	MeanChangePct float64 `json:"mean_change_pct"`
	KSStatistic   float64 `json:"ks_statistic"`
	PValue        float64 `json:"p_value"`
	DriftDetected bool    `json:"drift_detected"`
	DriftScore    float64 `json:"drift_score"`
}

// DegradationSignal compares the current window against an earlier baseline
// window of aggregate serving metrics.
type DegradationSignal struct {
	Status               string  `json:"status"`
	BaselineProbability  float64 `json:"baseline_probability"`
	RecentProbability    float64 `json:"recent_probability"`
	ProbabilityChangePct float64 `json:"probability_change_pct"`
	BaselineLatencyMS    float64 `json:"baseline_latency_ms"`
	RecentLatencyMS      float64 `json:"recent_latency_ms"`
	LatencyChangePct     float64 `json:"latency_change_pct"`
	DaysMeasured         int     `json:"days_measured"`
	Degraded             bool    `json:"degraded"`
}

// DailyMetric is one day of aggregated serving metrics, for the dashboard
// timeline view.
type DailyMetric struct {
	MetricDate       time.Time `json:"date"`
	TotalPredictions int64     `json:"total_predictions"`
	AvgProbability   float64   `json:"avg_probability"`
	AvgLatency       float64   `json:"avg_latency"`
}

// Monitor computes drift and degradation signals.
type Monitor interface {
	LoadBaseline(ctx context.Context) (BaselineStats, error)
	SetBaseline(ctx context.Context, stats BaselineStats) error
	ComputeDrift(ctx context.Context, baseline BaselineStats, windowDays int) map[string]DriftSignal
	LogDrift(ctx context.Context, results map[string]DriftSignal) error
	ComputeDegradation(ctx context.Context, windowDays int) *DegradationSignal
	PredictionVolume(ctx context.Context, days int) (int64, error)
	MetricsTimeline(ctx context.Context, days int) ([]DailyMetric, error)
	RecentAlerts(ctx context.Context, limit int) ([]*models.DriftRecord, error)
}

// Service implements Monitor against the shared relational store.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new Monitor.
func NewService(logger *zap.Logger, db *gorm.DB) (Monitor, error) {
	return &Service{logger: logger, db: db}, nil
}

// LoadBaseline reads the persisted per-feature reference statistics.
func (s *Service) LoadBaseline(ctx context.Context) (BaselineStats, error) {
	var rows []models.BaselineStat
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, dbutil.WrapError(err)
	}
	out := make(BaselineStats, len(rows))
	for _, r := range rows {
		out[r.FeatureName] = FeatureBaseline{Mean: r.Mean, Std: r.Std}
	}
	return out, nil
}

// SetBaseline persists the reference statistics, replacing any previous
// values per feature.
func (s *Service) SetBaseline(ctx context.Context, stats BaselineStats) error {
	now := time.Now().UTC()
	for name, b := range stats {
		row := models.BaselineStat{FeatureName: name, Mean: b.Mean, Std: b.Std, UpdatedAt: now}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "feature_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"mean", "std", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return dbutil.WrapError(err)
		}
	}
	s.logger.Info("baseline statistics stored", zap.Int("features", len(stats)))
	return nil
}

// ComputeDrift compares the observed feature distributions in the recent
// window against a parametric resample of the baseline. Features with no
// baseline entry or no observations are skipped, not defaulted to "no
// drift". Read failures yield an empty result.
func (s *Service) ComputeDrift(ctx context.Context, baseline BaselineStats, windowDays int) map[string]DriftSignal {
	results := make(map[string]DriftSignal)
	if len(baseline) == 0 {
		return results
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)
	var rows []models.PredictionLog
	err := s.db.WithContext(ctx).
		Select("features").
		Where("prediction_time >= ? AND features <> ''", cutoff).
		Limit(predictionSampleLimit).
		Find(&rows).Error
	if err != nil {
		s.logger.Warn("drift check skipped: failed to read prediction logs", zap.Error(err))
		return results
	}
	if len(rows) == 0 {
		s.logger.Warn("drift check skipped: no recent predictions with features")
		return results
	}

	observed := make(map[string][]float64, len(baseline))
	for i := range rows {
		values := rows[i].FeatureValues()
		for name := range baseline {
			if v, ok := values[name]; ok && !math.IsNaN(v) {
				observed[name] = append(observed[name], v)
			}
		}
	}

	for name, b := range baseline {
		values := observed[name]
		if len(values) == 0 {
			continue
		}

		currentMean, currentStd := stat.MeanStdDev(values, nil)
		if math.IsNaN(currentStd) {
			currentStd = 0
		}

		reference := s.referenceSample(name, b)
		ksStat, pValue := ksTwoSample(values, reference)
		meanChange := math.Abs(currentMean-b.Mean) / (math.Abs(b.Mean) + meanChangeEpsilon) * 100

		signal := DriftSignal{
			FeatureName:   name,
			BaselineMean:  b.Mean,
			BaselineStd:   b.Std,
			CurrentMean:   currentMean,
			CurrentStd:    currentStd,
			MeanChangePct: meanChange,
			KSStatistic:   ksStat,
			PValue:        pValue,
			DriftDetected: pValue < driftPValueThreshold || meanChange > driftMeanChangePct,
			DriftScore:    ksStat * 100,
		}
		results[name] = signal
		metrics.DriftScore.WithLabelValues(name).Set(signal.DriftScore)

		if signal.DriftDetected {
			s.logger.Warn("feature drift detected",
				zap.String("feature", name),
				zap.Float64("p_value", pValue),
				zap.Float64("mean_change_pct", meanChange))
		}
	}

	return results
}

// referenceSample synthesizes the baseline distribution from its stored
// (mean, std). Seeded per feature so repeated checks are reproducible. A
// persisted empirical sample would be more faithful; the parametric draw
// mirrors what the serving collaborator's alerting has always used.
func (s *Service) referenceSample(feature string, b FeatureBaseline) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	src := rand.NewPCG(h.Sum64(), math.Float64bits(b.Mean))

	sigma := b.Std
	if sigma < minReferenceSigma {
		sigma = minReferenceSigma
	}
	dist := distuv.Normal{Mu: b.Mean, Sigma: sigma, Src: src}

	out := make([]float64, referenceSampleSize)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

// LogDrift upserts drift results into the audit table, one row per
// (check day, feature).
func (s *Service) LogDrift(ctx context.Context, results map[string]DriftSignal) error {
	checkDate := time.Now().UTC().Truncate(24 * time.Hour)
	for name, r := range results {
		row := models.DriftRecord{
			CheckDate:     checkDate,
			FeatureName:   name,
			MeanValue:     r.CurrentMean,
			StdValue:      r.CurrentStd,
			DriftDetected: r.DriftDetected,
			DriftScore:    r.DriftScore,
			Notes:         formatDriftNote(r),
			CreatedAt:     time.Now().UTC(),
		}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "check_date"}, {Name: "feature_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"mean_value", "std_value", "drift_detected", "drift_score", "notes"}),
		}).Create(&row).Error
		if err != nil {
			return dbutil.WrapError(err)
		}
	}
	return nil
}

// ComputeDegradation compares mean probability and latency over the current
// window against the period ending two windows ago. Either window being
// empty, or any read failure, yields an insufficient-data signal.
func (s *Service) ComputeDegradation(ctx context.Context, windowDays int) *DegradationSignal {
	type aggRow struct {
		Prob *float64
		Lat  *float64
		N    int64
	}

	now := time.Now().UTC()
	baselineCutoff := now.AddDate(0, 0, -2*windowDays)
	recentCutoff := now.AddDate(0, 0, -windowDays)

	var baseline aggRow
	err := s.db.WithContext(ctx).Model(&models.ModelMetric{}).
		Select("AVG(avg_probability) AS prob, AVG(avg_latency_ms) AS lat, COUNT(*) AS n").
		Where("metric_date < ?", baselineCutoff).
		Scan(&baseline).Error
	if err != nil {
		s.logger.Warn("degradation check skipped: baseline window read failed", zap.Error(err))
		return &DegradationSignal{Status: StatusInsufficientData}
	}

	var recent aggRow
	err = s.db.WithContext(ctx).Model(&models.ModelMetric{}).
		Select("AVG(avg_probability) AS prob, AVG(avg_latency_ms) AS lat, COUNT(*) AS n").
		Where("metric_date >= ?", recentCutoff).
		Scan(&recent).Error
	if err != nil {
		s.logger.Warn("degradation check skipped: recent window read failed", zap.Error(err))
		return &DegradationSignal{Status: StatusInsufficientData}
	}

	if baseline.N == 0 || baseline.Prob == nil || recent.N == 0 || recent.Prob == nil {
		return &DegradationSignal{Status: StatusInsufficientData}
	}

	baseProb, recentProb := *baseline.Prob, *recent.Prob
	var baseLat, recentLat float64
	if baseline.Lat != nil {
		baseLat = *baseline.Lat
	}
	if recent.Lat != nil {
		recentLat = *recent.Lat
	}

	// A falling average predicted risk reads as improvement, so the
	// probability leg only fires on a drop; latency covers the adverse
	// direction.
	var probChange, latChange float64
	if baseProb != 0 {
		probChange = (baseProb - recentProb) / baseProb * 100
	}
	if baseLat != 0 {
		latChange = (recentLat - baseLat) / baseLat * 100
	}

	degraded := probChange > degradedProbabilityPct || latChange > degradedLatencyPct
	status := StatusOK
	if degraded {
		status = StatusDegraded
	}

	return &DegradationSignal{
		Status:               status,
		BaselineProbability:  baseProb,
		RecentProbability:    recentProb,
		ProbabilityChangePct: probChange,
		BaselineLatencyMS:    baseLat,
		RecentLatencyMS:      recentLat,
		LatencyChangePct:     latChange,
		DaysMeasured:         int(recent.N),
		Degraded:             degraded,
	}
}

// PredictionVolume counts predictions served over the trailing window.
func (s *Service) PredictionVolume(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var count int64
	err := s.db.WithContext(ctx).Model(&models.PredictionLog{}).
		Where("prediction_time >= ?", cutoff).
		Count(&count).Error
	if err != nil {
		return 0, dbutil.WrapError(err)
	}
	return count, nil
}

// MetricsTimeline aggregates the serving metrics per day over the trailing
// window, newest day first.
func (s *Service) MetricsTimeline(ctx context.Context, days int) ([]DailyMetric, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var rows []DailyMetric
	err := s.db.WithContext(ctx).Model(&models.ModelMetric{}).
		Select("metric_date, " +
			"SUM(total_predictions) AS total_predictions, " +
			"AVG(avg_probability) AS avg_probability, " +
			"AVG(avg_latency_ms) AS avg_latency").
		Where("metric_date >= ?", cutoff).
		Group("metric_date").
		Order("metric_date DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, dbutil.WrapError(err)
	}
	return rows, nil
}

// RecentAlerts lists the latest logged drift detections for the dashboard.
func (s *Service) RecentAlerts(ctx context.Context, limit int) ([]*models.DriftRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []*models.DriftRecord
	err := s.db.WithContext(ctx).
		Where("drift_detected = ?", true).
		Order("check_date DESC, created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, dbutil.WrapError(err)
	}
	return rows, nil
}

func formatDriftNote(r DriftSignal) string {
	return fmt.Sprintf("Mean change: %.1f%%", r.MeanChangePct)
}
