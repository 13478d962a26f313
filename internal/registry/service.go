// Package registry stores model versions and enforces the promotion
// workflow, including the single-production invariant.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/predixa/mlops/common/dbutil"
	"github.com/predixa/mlops/common/errors"
	"github.com/predixa/mlops/pkg/metrics"
	"github.com/predixa/mlops/pkg/models"
)

// validTransitions is the fixed promotion table. failed and deprecated are
// terminal: they have no outgoing edges.
var validTransitions = map[string][]string{
	models.StatusCandidate:  {models.StatusStaging, models.StatusFailed},
	models.StatusStaging:    {models.StatusProduction, models.StatusFailed},
	models.StatusProduction: {models.StatusDeprecated},
}

func transitionAllowed(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RegisterInput describes a new candidate model version.
type RegisterInput struct {
	ModelName       string
	Version         string
	ModelPath       string
	ScalerPath      string
	TrainingSamples int
	Features        []string
	Hyperparameters map[string]interface{}
	Metrics         map[string]float64
	Notes           string
}

// PromoteInput describes a requested status transition.
type PromoteInput struct {
	Version            string
	ToStatus           string
	Reason             string
	PromotedBy         string
	MetricsImprovement map[string]float64
}

// Registry defines model lifecycle operations.
type Registry interface {
	Register(ctx context.Context, in RegisterInput) (*models.ModelVersion, error)
	Get(ctx context.Context, version string) (*models.ModelVersion, error)
	Promote(ctx context.Context, in PromoteInput) (*models.ModelVersion, error)
	ProductionVersion(ctx context.Context) (*models.ModelVersion, error)
	History(ctx context.Context, modelName string, limit int) ([]*models.ModelVersion, error)
	StagingVersions(ctx context.Context) ([]*models.ModelVersion, error)
	Promotions(ctx context.Context, version string, limit int) ([]*models.PromotionRecord, error)
}

// Service implements Registry on a relational store.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
	cache  *ProductionCache
}

// NewService creates a new Registry. cache may be nil when no redis is
// configured.
func NewService(logger *zap.Logger, db *gorm.DB, cache *ProductionCache) (Registry, error) {
	return &Service{logger: logger, db: db, cache: cache}, nil
}

// Register creates a new model version with status candidate. Returns
// DuplicateVersion if the version is already registered.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.ModelVersion, error) {
	if in.ModelName == "" || in.Version == "" {
		return nil, errors.InvalidState.Explain("model name and version are required")
	}

	featuresJSON, err := json.Marshal(in.Features)
	if err != nil {
		return nil, fmt.Errorf("failed to encode features: %w", err)
	}
	hyperJSON, err := json.Marshal(in.Hyperparameters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hyperparameters: %w", err)
	}
	metricsJSON, err := json.Marshal(in.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metrics: %w", err)
	}

	mv := &models.ModelVersion{
		ModelName:       in.ModelName,
		Version:         in.Version,
		Status:          models.StatusCandidate,
		ModelPath:       in.ModelPath,
		ScalerPath:      in.ScalerPath,
		TrainingSamples: in.TrainingSamples,
		FeaturesJSON:    string(featuresJSON),
		Hyperparameters: string(hyperJSON),
		MetricsJSON:     string(metricsJSON),
		CreatedAt:       time.Now().UTC(),
		Notes:           in.Notes,
	}

	if err := s.db.WithContext(ctx).Create(mv).Error; err != nil {
		if dbutil.IsDuplicate(err) {
			return nil, errors.DuplicateVersion.Explain("version %s already registered", in.Version).Wrap(err)
		}
		return nil, dbutil.WrapError(err)
	}

	s.logger.Info("registered model version",
		zap.String("model_name", in.ModelName),
		zap.String("version", in.Version),
		zap.Int("training_samples", in.TrainingSamples))

	return mv, nil
}

// Get fetches a model version by version string.
func (s *Service) Get(ctx context.Context, version string) (*models.ModelVersion, error) {
	var mv models.ModelVersion
	if err := s.db.WithContext(ctx).Where("version = ?", version).First(&mv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound.Explain("model version %s not found", version)
		}
		return nil, dbutil.WrapError(err)
	}
	return &mv, nil
}

// Promote validates and applies a status transition. Promotion to production
// atomically deprecates the current production version in the same database
// transaction; both commit together or neither does. Every transition appends
// a PromotionRecord.
func (s *Service) Promote(ctx context.Context, in PromoteInput) (*models.ModelVersion, error) {
	if !isKnownStatus(in.ToStatus) {
		return nil, errors.InvalidTransition.Explain("unknown target status %q", in.ToStatus)
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, errors.Storage.Explain("failed to begin transaction").Wrap(tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var mv models.ModelVersion
	if err := tx.Where("version = ?", in.Version).First(&mv).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound.Explain("model version %s not found", in.Version)
		}
		return nil, dbutil.WrapError(err)
	}

	if !transitionAllowed(mv.Status, in.ToStatus) {
		tx.Rollback()
		return nil, errors.InvalidTransition.Explain("%s -> %s not allowed for version %s", mv.Status, in.ToStatus, in.Version)
	}

	now := time.Now().UTC()

	if in.ToStatus == models.StatusProduction {
		// Deprecate the current production version inside the same
		// transaction so both sides of the swap commit together. The
		// partial unique index on status backstops the check-then-act:
		// a racing promotion that slips past this read fails on its own
		// production update and rolls back.
		var current []models.ModelVersion
		if err := tx.Where("status = ? AND version <> ?", models.StatusProduction, in.Version).
			Find(&current).Error; err != nil {
			tx.Rollback()
			return nil, dbutil.WrapError(err)
		}
		for i := range current {
			prev := &current[i]
			demote := tx.Model(&models.ModelVersion{}).
				Where("version = ? AND status = ?", prev.Version, models.StatusProduction).
				Updates(map[string]interface{}{"status": models.StatusDeprecated, "retired_at": now})
			if demote.Error != nil {
				tx.Rollback()
				return nil, dbutil.WrapError(demote.Error)
			}
			if demote.RowsAffected == 0 {
				// A concurrent transaction already demoted this row;
				// nothing happened here, so nothing is audited.
				continue
			}
			record := &models.PromotionRecord{
				ID:          uuid.New(),
				FromVersion: prev.Version,
				ToVersion:   prev.Version,
				FromStatus:  models.StatusProduction,
				ToStatus:    models.StatusDeprecated,
				Reason:      fmt.Sprintf("superseded by %s", in.Version),
				PromotedBy:  in.PromotedBy,
				PromotedAt:  now,
			}
			if err := tx.Create(record).Error; err != nil {
				tx.Rollback()
				return nil, dbutil.WrapError(err)
			}
		}
	}

	updates := map[string]interface{}{
		"status":      in.ToStatus,
		"promoted_at": now,
	}
	if in.ToStatus == models.StatusDeprecated {
		updates["retired_at"] = now
	}

	// Guard the status in the WHERE clause so a racing promotion that
	// already moved this version off its old status makes this a no-op
	// instead of a double transition.
	res := tx.Model(&models.ModelVersion{}).
		Where("version = ? AND status = ?", in.Version, mv.Status).
		Updates(updates)
	if res.Error != nil {
		tx.Rollback()
		if in.ToStatus == models.StatusProduction && dbutil.IsDuplicate(res.Error) {
			return nil, errors.Conflict.Explain("another version was promoted to production concurrently").Wrap(res.Error)
		}
		return nil, dbutil.WrapError(res.Error)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return nil, errors.InvalidState.Explain("version %s changed status concurrently", in.Version)
	}

	var improvementJSON string
	if in.MetricsImprovement != nil {
		raw, err := json.Marshal(in.MetricsImprovement)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to encode metrics improvement: %w", err)
		}
		improvementJSON = string(raw)
	}

	record := &models.PromotionRecord{
		ID:                 uuid.New(),
		FromVersion:        in.Version,
		ToVersion:          in.Version,
		FromStatus:         mv.Status,
		ToStatus:           in.ToStatus,
		Reason:             in.Reason,
		PromotedBy:         in.PromotedBy,
		PromotedAt:         now,
		MetricsImprovement: improvementJSON,
	}
	if err := tx.Create(record).Error; err != nil {
		tx.Rollback()
		return nil, dbutil.WrapError(err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, errors.Storage.Explain("failed to commit promotion").Wrap(err)
	}

	metrics.PromotionsTotal.WithLabelValues(in.ToStatus).Inc()

	// Any transition touching production changes what the serving layer
	// should load, so drop the cached reference.
	if in.ToStatus == models.StatusProduction || mv.Status == models.StatusProduction {
		s.cache.Invalidate(ctx)
	}

	s.logger.Info("promoted model version",
		zap.String("version", in.Version),
		zap.String("from_status", mv.Status),
		zap.String("to_status", in.ToStatus),
		zap.String("reason", in.Reason))

	mv.Status = in.ToStatus
	mv.PromotedAt = &now
	if in.ToStatus == models.StatusDeprecated {
		mv.RetiredAt = &now
	}

	return &mv, nil
}

// ProductionVersion returns the current production model, or nil when no
// version is in production.
func (s *Service) ProductionVersion(ctx context.Context) (*models.ModelVersion, error) {
	if mv := s.cache.Get(ctx); mv != nil {
		return mv, nil
	}

	var mv models.ModelVersion
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusProduction).
		Order("promoted_at DESC").
		First(&mv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbutil.WrapError(err)
	}

	s.cache.Set(ctx, &mv)
	return &mv, nil
}

// History returns a model's versions ordered newest created_at first.
func (s *Service) History(ctx context.Context, modelName string, limit int) ([]*models.ModelVersion, error) {
	if limit <= 0 {
		limit = 10
	}
	var versions []*models.ModelVersion
	err := s.db.WithContext(ctx).
		Where("model_name = ?", modelName).
		Order("created_at DESC").
		Limit(limit).
		Find(&versions).Error
	if err != nil {
		return nil, dbutil.WrapError(err)
	}
	return versions, nil
}

// StagingVersions returns every version currently in staging.
func (s *Service) StagingVersions(ctx context.Context) ([]*models.ModelVersion, error) {
	var versions []*models.ModelVersion
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusStaging).
		Order("created_at DESC").
		Find(&versions).Error
	if err != nil {
		return nil, dbutil.WrapError(err)
	}
	return versions, nil
}

// Promotions returns the audit trail for a version, newest first.
func (s *Service) Promotions(ctx context.Context, version string, limit int) ([]*models.PromotionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []*models.PromotionRecord
	err := s.db.WithContext(ctx).
		Where("to_version = ?", version).
		Order("promoted_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, dbutil.WrapError(err)
	}
	return records, nil
}

func isKnownStatus(status string) bool {
	switch status {
	case models.StatusCandidate, models.StatusStaging, models.StatusProduction,
		models.StatusDeprecated, models.StatusFailed:
		return true
	}
	return false
}
