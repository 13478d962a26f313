package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromotionsTotal counts model status transitions by target status.
var PromotionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mlops_model_promotions_total",
		Help: "Total number of model status transitions by target status",
	},
	[]string{"to_status"},
)

// DriftScore exposes the latest drift score per monitored feature.
var DriftScore = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "mlops_feature_drift_score",
		Help: "Latest Kolmogorov-Smirnov drift score per feature (ks_statistic x 100)",
	},
	[]string{"feature"},
)

// AssignmentsTotal counts sticky experiment assignments by variant.
var AssignmentsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mlops_ab_assignments_total",
		Help: "Total number of new experiment variant assignments",
	},
	[]string{"variant"},
)

// ObservationsTotal counts experiment observations recorded.
var ObservationsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "mlops_ab_observations_total",
		Help: "Total number of experiment observations logged",
	},
)

// RetrainingChecksTotal counts retraining-needed evaluations by outcome.
var RetrainingChecksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mlops_retraining_checks_total",
		Help: "Total number of retraining checks by outcome",
	},
	[]string{"should_retrain"},
)

func init() {
	prometheus.MustRegister(PromotionsTotal, DriftScore)
	prometheus.MustRegister(AssignmentsTotal, ObservationsTotal, RetrainingChecksTotal)
}
