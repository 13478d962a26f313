// Package orchestrator composes the signal monitor and the model registry
// into retraining and promotion decisions. It keeps no state of its own:
// everything it reads and writes lives in the registry or the monitor.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/predixa/mlops/common/errors"
	"github.com/predixa/mlops/internal/monitor"
	"github.com/predixa/mlops/internal/registry"
	"github.com/predixa/mlops/pkg/metrics"
	"github.com/predixa/mlops/pkg/models"
)

// Status is the composite read-only view for observability.
type Status struct {
	ShouldRetrain   bool                   `json:"should_retrain"`
	Reasons         Reasons                `json:"reasons"`
	ProductionModel *models.ModelVersion   `json:"production_model"`
	StagingModels   []*models.ModelVersion `json:"staging_models"`
	Timestamp       time.Time              `json:"timestamp"`
}

// Orchestrator coordinates retraining and promotion decisions.
type Orchestrator interface {
	CheckRetrainingNeeded(ctx context.Context) (bool, Reasons)
	EvaluateCandidate(ctx context.Context, version string, reasons Reasons) (bool, error)
	PromoteToProduction(ctx context.Context, version string) error
	Status(ctx context.Context) (*Status, error)
}

// Service implements Orchestrator.
type Service struct {
	logger   *zap.Logger
	registry registry.Registry
	monitor  monitor.Monitor
	policy   Policy
}

// NewService creates a new Orchestrator.
func NewService(logger *zap.Logger, reg registry.Registry, mon monitor.Monitor, policy Policy) (Orchestrator, error) {
	return &Service{logger: logger, registry: reg, monitor: mon, policy: policy}, nil
}

// CheckRetrainingNeeded collects the independent drift, degradation and
// volume signals and scores them against the policy. Signal collection is
// advisory: a failing read skips that signal for this run rather than
// failing the check.
func (s *Service) CheckRetrainingNeeded(ctx context.Context) (bool, Reasons) {
	var reasons Reasons

	baseline, err := s.monitor.LoadBaseline(ctx)
	if err != nil {
		s.logger.Warn("drift signal skipped: baseline unavailable", zap.Error(err))
	} else if len(baseline) > 0 {
		drift := s.monitor.ComputeDrift(ctx, baseline, s.policy.WindowDays)
		var drifted []string
		for name, signal := range drift {
			if signal.DriftDetected {
				drifted = append(drifted, name)
			}
		}
		if len(drifted) > 0 {
			sort.Strings(drifted)
			reasons.Drift = &DriftReason{Detected: true, Features: drifted, Count: len(drifted)}
		}
		if err := s.monitor.LogDrift(ctx, drift); err != nil {
			s.logger.Warn("failed to log drift results", zap.Error(err))
		}
	}

	if deg := s.monitor.ComputeDegradation(ctx, s.policy.WindowDays); deg.Degraded {
		reasons.Degradation = &DegradationReason{
			Detected:             true,
			ProbabilityChangePct: deg.ProbabilityChangePct,
			LatencyChangePct:     deg.LatencyChangePct,
		}
	}

	volume, err := s.monitor.PredictionVolume(ctx, s.policy.WindowDays)
	if err != nil {
		s.logger.Warn("volume signal skipped", zap.Error(err))
	} else if volume > s.policy.VolumeThreshold {
		reasons.Volume = &VolumeReason{Predictions: volume}
	}

	should := reasons.Score(s.policy) >= s.policy.Threshold
	metrics.RetrainingChecksTotal.WithLabelValues(strconv.FormatBool(should)).Inc()

	s.logger.Info("retraining check",
		zap.Bool("should_retrain", should),
		zap.Strings("signals", reasons.List()))

	return should, reasons
}

// EvaluateCandidate gates a registered candidate into staging or failed. A
// first model (no production version) always passes. Otherwise the
// candidate must improve AUC, or hold it within the tolerated regression
// when drift justifies a refresh. Returns whether the candidate reached
// staging.
func (s *Service) EvaluateCandidate(ctx context.Context, version string, reasons Reasons) (bool, error) {
	mv, err := s.registry.Get(ctx, version)
	if err != nil {
		return false, err
	}

	prod, err := s.registry.ProductionVersion(ctx)
	if err != nil {
		return false, err
	}

	if prod == nil {
		_, err := s.registry.Promote(ctx, registry.PromoteInput{
			Version:  version,
			ToStatus: models.StatusStaging,
			Reason:   "First model in production",
		})
		if err != nil {
			return false, err
		}
		s.logger.Info("first candidate promoted to staging", zap.String("version", version))
		return true, nil
	}

	newMetrics := mv.Metrics()
	oldMetrics := prod.Metrics()

	aucDelta := newMetrics["auc"] - oldMetrics["auc"]
	improved := aucDelta > s.policy.MinAUCImprovement
	heldUnderDrift := aucDelta >= -s.policy.MaxAUCRegression && reasons.Drift != nil

	if !improved && !heldUnderDrift {
		_, err := s.registry.Promote(ctx, registry.PromoteInput{
			Version:  version,
			ToStatus: models.StatusFailed,
			Reason:   "Failed validation tests",
		})
		if err != nil {
			return false, err
		}
		s.logger.Warn("candidate failed validation",
			zap.String("version", version),
			zap.Float64("auc_delta", aucDelta))
		return false, nil
	}

	improvement := map[string]float64{
		"auc":       aucDelta,
		"precision": newMetrics["precision"] - oldMetrics["precision"],
		"recall":    newMetrics["recall"] - oldMetrics["recall"],
	}
	_, err = s.registry.Promote(ctx, registry.PromoteInput{
		Version:            version,
		ToStatus:           models.StatusStaging,
		Reason:             fmt.Sprintf("Passed validation. Triggered by: %v", reasons.List()),
		MetricsImprovement: improvement,
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("candidate promoted to staging",
		zap.String("version", version),
		zap.Float64("auc_delta", aucDelta),
		zap.Strings("triggered_by", reasons.List()))
	return true, nil
}

// PromoteToProduction moves a staging version to production after a
// successful experiment. Any other source status is an InvalidState error.
func (s *Service) PromoteToProduction(ctx context.Context, version string) error {
	mv, err := s.registry.Get(ctx, version)
	if err != nil {
		return err
	}
	if mv.Status != models.StatusStaging {
		return errors.InvalidState.Explain("version %s is %s, not staging", version, mv.Status)
	}

	_, err = s.registry.Promote(ctx, registry.PromoteInput{
		Version:  version,
		ToStatus: models.StatusProduction,
		Reason:   "Promoted from A/B test success",
	})
	return err
}

// Status assembles the composite observability view.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	should, reasons := s.CheckRetrainingNeeded(ctx)

	prod, err := s.registry.ProductionVersion(ctx)
	if err != nil {
		return nil, err
	}
	staging, err := s.registry.StagingVersions(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{
		ShouldRetrain:   should,
		Reasons:         reasons,
		ProductionModel: prod,
		StagingModels:   staging,
		Timestamp:       time.Now().UTC(),
	}, nil
}
