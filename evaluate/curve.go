package evaluate

import "math"

// Ranked is one detection in a confidence-ordered match stream.
type Ranked struct {
	Confidence   float64
	TruePositive bool
}

// PRCurve is a precision/recall curve ordered by descending confidence. Entry i describes the
// operating point that keeps the i+1 most confident detections.
type PRCurve struct {
	Confidence     []float64 `json:"confidence"`
	TruePositives  []int     `json:"true_positives"`
	FalsePositives []int     `json:"false_positives"`
	FalseNegatives []int     `json:"false_negatives"`
	Precision      []float64 `json:"precision"`
	Recall         []float64 `json:"recall"`
	// Instances is the number of ground truth boxes the curve was measured against.
	Instances int `json:"instances"`
	// AP is the all-points interpolated Average Precision of the full curve.
	AP float64 `json:"ap"`
}

// Len returns the number of points on the curve.
func (c PRCurve) Len() int { return len(c.Confidence) }

// BuildCurve accumulates a ranked match stream into a precision/recall curve.
//
// Precision is TP/(TP+FP), defined as 1 when no detection has been kept. Recall is
// TP/instances, defined as 0 when there is no ground truth. False negatives are
// instances - TP.
//
// Arguments:
//   - ranked: Matched detections in descending confidence order.
//   - instances: The number of ground truth boxes.
//
// Returns:
//   - PRCurve: The cumulative curve and its Average Precision.
func BuildCurve(ranked []Ranked, instances int) PRCurve {
	n := len(ranked)
	curve := PRCurve{
		Confidence:     make([]float64, n),
		TruePositives:  make([]int, n),
		FalsePositives: make([]int, n),
		FalseNegatives: make([]int, n),
		Precision:      make([]float64, n),
		Recall:         make([]float64, n),
		Instances:      instances,
	}

	tp, fp := 0, 0
	for i, r := range ranked {
		if r.TruePositive {
			tp++
		} else {
			fp++
		}
		curve.Confidence[i] = r.Confidence
		curve.TruePositives[i] = tp
		curve.FalsePositives[i] = fp
		curve.FalseNegatives[i] = instances - tp
		curve.Precision[i] = precision(tp, fp)
		curve.Recall[i] = recall(tp, instances)
	}

	curve.AP = AveragePrecision(curve.Recall, curve.Precision)
	return curve
}

func precision(tp, fp int) float64 {
	if tp+fp == 0 {
		return 1
	}
	return float64(tp) / float64(tp+fp)
}

func recall(tp, instances int) float64 {
	if instances <= 0 {
		return 0
	}
	return float64(tp) / float64(instances)
}

// AveragePrecision computes the all-points interpolated area under a precision/recall curve:
//
//	AP = Σ (r_i - r_{i-1}) · max_{j >= i} p_j,  r_{-1} = 0
//
// Precision is replaced by its monotonically non-increasing envelope before integrating, so
// the oscillation introduced by false positives does not reduce the area. The same rule is
// applied to every class and to the pooled total.
//
// Returns:
//   - float64: AP in [0, 1]; 0 for an empty curve or a curve that never gains recall.
func AveragePrecision(recall, precision []float64) float64 {
	n := len(recall)
	if n == 0 || n != len(precision) {
		return 0
	}

	envelope := make([]float64, n)
	running := 0.0
	for i := n - 1; i >= 0; i-- {
		running = math.Max(running, precision[i])
		envelope[i] = running
	}

	ap, prev := 0.0, 0.0
	for i := 0; i < n; i++ {
		if recall[i] > prev {
			ap += (recall[i] - prev) * envelope[i]
			prev = recall[i]
		}
	}

	if math.IsNaN(ap) || math.IsInf(ap, 0) {
		return 0
	}
	return ap
}
