package orchestrator

// Policy tunes the retraining trigger and candidate gating. The default
// weights and threshold reproduce the permissive "any one signal fires"
// rule, which deliberately favors false positives over missed retraining
// windows; deployments wanting a stricter bar raise Threshold or lower
// individual weights.
type Policy struct {
	// WindowDays is the trailing window for drift, degradation and volume
	// signals.
	WindowDays int

	// VolumeThreshold is the prediction count over the window above which
	// the volume signal fires.
	VolumeThreshold int64

	// Signal weights and the score threshold for should_retrain.
	DriftWeight       float64
	DegradationWeight float64
	VolumeWeight      float64
	Threshold         float64

	// MinAUCImprovement is the AUC gain a candidate must show over
	// production to pass validation outright.
	MinAUCImprovement float64

	// MaxAUCRegression is the largest AUC drop tolerated when drift
	// justifies refreshing the model anyway.
	MaxAUCRegression float64
}

// DefaultPolicy returns the standard permissive trigger.
func DefaultPolicy() Policy {
	return Policy{
		WindowDays:        7,
		VolumeThreshold:   10000,
		DriftWeight:       1,
		DegradationWeight: 1,
		VolumeWeight:      1,
		Threshold:         1,
		MinAUCImprovement: 0.01,
		MaxAUCRegression:  0.005,
	}
}

// DriftReason captures which features drifted.
type DriftReason struct {
	Detected bool     `json:"detected"`
	Features []string `json:"features"`
	Count    int      `json:"count"`
}

// DegradationReason captures the degradation magnitudes.
type DegradationReason struct {
	Detected             bool    `json:"detected"`
	ProbabilityChangePct float64 `json:"probability_change"`
	LatencyChangePct     float64 `json:"latency_change"`
}

// VolumeReason captures the trailing prediction volume.
type VolumeReason struct {
	Predictions int64 `json:"predictions_7d"`
}

// Reasons is the set of independent signals collected by a retraining check.
type Reasons struct {
	Drift       *DriftReason       `json:"drift,omitempty"`
	Degradation *DegradationReason `json:"degradation,omitempty"`
	Volume      *VolumeReason      `json:"volume,omitempty"`
}

// List names the fired signals, for audit notes.
func (r Reasons) List() []string {
	var out []string
	if r.Drift != nil {
		out = append(out, "drift")
	}
	if r.Degradation != nil {
		out = append(out, "degradation")
	}
	if r.Volume != nil {
		out = append(out, "volume")
	}
	return out
}

// Score applies the policy weights to the fired signals.
func (r Reasons) Score(p Policy) float64 {
	var score float64
	if r.Drift != nil {
		score += p.DriftWeight
	}
	if r.Degradation != nil {
		score += p.DegradationWeight
	}
	if r.Volume != nil {
		score += p.VolumeWeight
	}
	return score
}
