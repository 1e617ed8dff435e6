package evaluate

// Thresholds are confidence operating points derived from a PR curve.
type Thresholds struct {
	// Lower favours recall: false positives exceed false negatives by the margin.
	Lower float64 `json:"lower"`
	// Middle balances false positives and false negatives.
	Middle float64 `json:"middle"`
	// Upper favours precision: false negatives exceed false positives by the margin.
	Upper float64 `json:"upper"`
}

// ClassCounts are the number of detections above each operating point, next to the number of
// ground truth instances, for monitoring a deployed threshold.
type ClassCounts struct {
	Lower  int `json:"lower"`
	Middle int `json:"middle"`
	Upper  int `json:"upper"`
	Truth  int `json:"truth"`
}

// ComputeThresholds derives the lower, middle and upper operating points from a curve,
// normally the one at IoU 0.5.
//
// For an offset t (-margin, 0, +margin percent) the crossing count is
// p = trunc(t/100 * instances) and the operating point is the confidence at the first rank
// where FP - FN + p >= 0. FP - FN grows by exactly one per rank, so this is where the signal
// crosses zero. When it never does, the highest-confidence value is used.
//
// Arguments:
//   - curve: The full (not condensed) curve.
//   - marginPercent: The offset of the lower and upper points.
//
// Returns:
//   - Thresholds: The operating points; all zero for an empty curve.
func ComputeThresholds(curve PRCurve, marginPercent float64) Thresholds {
	return Thresholds{
		Lower:  findThreshold(curve, -marginPercent),
		Middle: findThreshold(curve, 0),
		Upper:  findThreshold(curve, marginPercent),
	}
}

func findThreshold(curve PRCurve, percent float64) float64 {
	if curve.Len() == 0 {
		return 0
	}

	p := int(percent / 100 * float64(curve.Instances))
	for i := range curve.Confidence {
		if curve.FalsePositives[i]-curve.FalseNegatives[i]+p >= 0 {
			return curve.Confidence[i]
		}
	}
	return curve.Confidence[0]
}

// CountThresholds counts the curve's detections with confidence strictly above each
// operating point.
func CountThresholds(curve PRCurve, t Thresholds) ClassCounts {
	counts := ClassCounts{Truth: curve.Instances}
	for _, c := range curve.Confidence {
		if c > t.Lower {
			counts.Lower++
		}
		if c > t.Middle {
			counts.Middle++
		}
		if c > t.Upper {
			counts.Upper++
		}
	}
	return counts
}
