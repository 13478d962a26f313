package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Model lifecycle statuses.
const (
	StatusCandidate  = "candidate"
	StatusStaging    = "staging"
	StatusProduction = "production"
	StatusDeprecated = "deprecated"
	StatusFailed     = "failed"
)

// Experiment variants and statuses.
const (
	VariantControl = "control"
	VariantVariant = "variant"

	TestStatusActive    = "active"
	TestStatusCompleted = "completed"
)

// ModelVersion is a registered model artifact and its lifecycle state.
// Versions are never deleted; terminal states are retained for audit. The
// partial unique index on status permits at most one production row, so a
// promotion racing another transaction fails at commit instead of leaving
// two production versions.
type ModelVersion struct {
	ID              uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	ModelName       string     `json:"model_name" gorm:"index;size:100;not null"`
	Version         string     `json:"version" gorm:"uniqueIndex;size:50;not null"`
	Status          string     `json:"status" gorm:"index;size:20;not null;default:candidate;uniqueIndex:udx_model_versions_one_production,where:status = 'production'"`
	ModelPath       string     `json:"model_path" gorm:"size:500"`
	ScalerPath      string     `json:"scaler_path" gorm:"size:500"`
	TrainingSamples int        `json:"training_samples"`
	FeaturesJSON    string     `json:"-" gorm:"column:features_json;type:text"`
	Hyperparameters string     `json:"-" gorm:"column:hyperparameters;type:text"`
	MetricsJSON     string     `json:"-" gorm:"column:metrics_json;type:text"`
	CreatedAt       time.Time  `json:"created_at"`
	PromotedAt      *time.Time `json:"promoted_at"`
	RetiredAt       *time.Time `json:"retired_at"`
	Notes           string     `json:"notes" gorm:"type:text"`
}

// TableName keeps the table aligned with the serving collaborator's schema.
func (ModelVersion) TableName() string { return "model_versions" }

// Features decodes the ordered feature list. A malformed column yields an
// empty list; the column is written only by Register.
func (m *ModelVersion) Features() []string {
	var out []string
	if m.FeaturesJSON != "" {
		_ = json.Unmarshal([]byte(m.FeaturesJSON), &out)
	}
	return out
}

// Metrics decodes the named evaluation metrics (auc, precision, recall, f1).
func (m *ModelVersion) Metrics() map[string]float64 {
	out := map[string]float64{}
	if m.MetricsJSON != "" {
		_ = json.Unmarshal([]byte(m.MetricsJSON), &out)
	}
	return out
}

// HyperparametersMap decodes the training hyperparameters.
func (m *ModelVersion) HyperparametersMap() map[string]interface{} {
	out := map[string]interface{}{}
	if m.Hyperparameters != "" {
		_ = json.Unmarshal([]byte(m.Hyperparameters), &out)
	}
	return out
}

// PromotionRecord is an append-only audit entry created on every status
// transition. Records are never mutated.
type PromotionRecord struct {
	ID                 uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	FromVersion        string    `json:"from_version" gorm:"size:50"`
	ToVersion          string    `json:"to_version" gorm:"size:50;not null;index"`
	FromStatus         string    `json:"from_status" gorm:"size:20"`
	ToStatus           string    `json:"to_status" gorm:"size:20;not null"`
	Reason             string    `json:"reason" gorm:"type:text"`
	PromotedBy         string    `json:"promoted_by" gorm:"size:100"`
	PromotedAt         time.Time `json:"promoted_at"`
	MetricsImprovement string    `json:"-" gorm:"column:metrics_improvement;type:text"`
}

func (PromotionRecord) TableName() string { return "model_promotions" }

// Improvement decodes the metric deltas captured at promotion time.
func (p *PromotionRecord) Improvement() map[string]float64 {
	out := map[string]float64{}
	if p.MetricsImprovement != "" {
		_ = json.Unmarshal([]byte(p.MetricsImprovement), &out)
	}
	return out
}

// ABTest is an experiment definition comparing two registered versions.
type ABTest struct {
	ID             uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	TestName       string     `json:"test_name" gorm:"uniqueIndex;size:100;not null"`
	ControlVersion string     `json:"control_version" gorm:"size:50;not null"`
	VariantVersion string     `json:"variant_version" gorm:"size:50;not null"`
	TrafficSplit   float64    `json:"traffic_split"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date"`
	DurationDays   int        `json:"duration_days"`
	Status         string     `json:"status" gorm:"size:20;index;default:active"`
	Winner         *string    `json:"winner" gorm:"size:20"`
}

func (ABTest) TableName() string { return "ab_tests" }

// ABAssignment is a sticky per-user variant decision. The composite unique
// index makes insert-if-absent the only way a row can be created.
type ABAssignment struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID         int64     `json:"user_id" gorm:"uniqueIndex:idx_user_test;not null"`
	TestName       string    `json:"test_name" gorm:"uniqueIndex:idx_user_test;size:100;not null"`
	Variant        string    `json:"variant" gorm:"size:20;not null"`
	ControlVersion string    `json:"control_version" gorm:"size:50"`
	VariantVersion string    `json:"variant_version" gorm:"size:50"`
	AssignedAt     time.Time `json:"assigned_at"`
}

func (ABAssignment) TableName() string { return "ab_assignments" }

// ABTestResult is one observation served under an experiment. Append-only;
// consumed only in aggregate.
type ABTestResult struct {
	ID               uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	UserID           int64     `json:"user_id" gorm:"index"`
	TestName         string    `json:"test_name" gorm:"index;size:100;not null"`
	Variant          string    `json:"variant" gorm:"size:20;not null"`
	ChurnProbability float64   `json:"churn_probability"`
	LatencyMS        float64   `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

func (ABTestResult) TableName() string { return "ab_test_results" }

// PredictionLog is a serving-time prediction row. The serving collaborator
// owns this table; the core only reads it for drift and volume signals.
type PredictionLog struct {
	ID               uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID           int64     `json:"user_id" gorm:"index"`
	ChurnProbability float64   `json:"churn_probability"`
	PredictedLabel   int       `json:"predicted_label"`
	PredictionTime   time.Time `json:"prediction_time" gorm:"index"`
	Features         string    `json:"-" gorm:"type:text"`
	ModelVersion     string    `json:"model_version" gorm:"size:50"`
	LatencyMS        float64   `json:"latency_ms"`
}

func (PredictionLog) TableName() string { return "predictions" }

// FeatureValues decodes the feature snapshot captured at serving time.
func (p *PredictionLog) FeatureValues() map[string]float64 {
	out := map[string]float64{}
	if p.Features != "" {
		_ = json.Unmarshal([]byte(p.Features), &out)
	}
	return out
}

// ModelMetric is a periodic aggregate maintained by the external monitoring
// collaborator; read-only for the core.
type ModelMetric struct {
	ID               uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MetricDate       time.Time `json:"metric_date" gorm:"index;not null"`
	TotalPredictions int       `json:"total_predictions"`
	AvgProbability   float64   `json:"avg_probability"`
	AvgLatencyMS     float64   `json:"avg_latency_ms" gorm:"column:avg_latency_ms"`
	ModelVersion     string    `json:"model_version" gorm:"size:50"`
}

func (ModelMetric) TableName() string { return "model_metrics" }

// DriftRecord is a logged drift check, upserted once per (day, feature).
type DriftRecord struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CheckDate     time.Time `json:"check_date" gorm:"uniqueIndex:idx_drift_date_feature;not null"`
	FeatureName   string    `json:"feature_name" gorm:"uniqueIndex:idx_drift_date_feature;size:100;not null"`
	MeanValue     float64   `json:"mean_value"`
	StdValue      float64   `json:"std_value"`
	DriftDetected bool      `json:"drift_detected"`
	DriftScore    float64   `json:"drift_score"`
	Notes         string    `json:"notes" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
}

func (DriftRecord) TableName() string { return "data_drift" }

// BaselineStat is the persisted training-time reference distribution for one
// feature. Loaded once at process start and passed explicitly into drift
// checks.
type BaselineStat struct {
	FeatureName string    `json:"feature_name" gorm:"primaryKey;size:100"`
	Mean        float64   `json:"mean"`
	Std         float64   `json:"std"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (BaselineStat) TableName() string { return "baseline_stats" }

// All lists every model owned or read by the core, in automigration order.
func All() []interface{} {
	return []interface{}{
		&ModelVersion{},
		&PromotionRecord{},
		&ABTest{},
		&ABAssignment{},
		&ABTestResult{},
		&PredictionLog{},
		&ModelMetric{},
		&DriftRecord{},
		&BaselineStat{},
	}
}
