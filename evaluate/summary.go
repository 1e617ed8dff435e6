package evaluate

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// APSummary condenses the curves of one class (or the pooled total) for reporting.
type APSummary struct {
	// MAP is the Average Precision per IoU threshold, keyed by percent (50 = IoU 0.5).
	MAP map[int]float64 `json:"mAP"`
	// AP is the mean of MAP over thresholds >= 0.5.
	AP float64 `json:"AP"`
	// Thresholds are the operating points of the IoU 0.5 curve.
	Thresholds Thresholds `json:"thresholds"`
	// PR50 and PR75 are the condensed curves at IoU 0.5 and 0.75. PR75 is empty when 0.75 is
	// not configured.
	PR50 PRCurve `json:"pr50"`
	PR75 PRCurve `json:"pr75"`
	// Counts are detections above the previous epoch's operating points, when given.
	Counts *ClassCounts `json:"class_counts,omitempty"`
}

// Summary is the result of one evaluation epoch.
type Summary struct {
	// Total summarises the pooled detection stream of all classes.
	Total APSummary `json:"total"`
	// Classes summarises each registered class by id.
	Classes map[int]APSummary `json:"classes"`
	// ClassMAP is the mean class AP per IoU threshold percent.
	ClassMAP map[int]float64 `json:"class_mAP"`
	// Warnings lists contained failures.
	Warnings []string `json:"warnings,omitempty"`
}

// Thresholds returns the operating points of every class, to be fed into the next epoch.
func (s *Summary) Thresholds() map[int]Thresholds {
	out := make(map[int]Thresholds, len(s.Classes))
	for id, c := range s.Classes {
		out[id] = c.Thresholds
	}
	return out
}

// Run evaluates and summarises in one step.
func (e *Evaluator) Run(detections []Detection, truths []GroundTruth, previous map[int]Thresholds) (*Summary, error) {
	ev, err := e.Evaluate(detections, truths)
	if err != nil {
		return nil, err
	}
	return e.Summarize(ev, previous), nil
}

// Summarize computes mAP per threshold, overall AP, operating points and condensed curves for
// the pooled total and every class.
//
// Arguments:
//   - ev: The evaluation to summarise.
//   - previous: Operating points of the previous epoch by class id, used for class counts.
//     May be nil.
//
// Returns:
//   - *Summary: The summary. Non-finite values are replaced by 0 and recorded as warnings.
func (e *Evaluator) Summarize(ev *Evaluation, previous map[int]Thresholds) *Summary {
	s := &Summary{
		Classes:  make(map[int]APSummary, len(ev.Classes)),
		ClassMAP: make(map[int]float64, len(ev.IoUThresholds)),
		Warnings: append([]string(nil), ev.Warnings...),
	}

	s.Total = e.summarizeAP(s, "total", ev.IoUThresholds, ev.Total, nil)

	for c, id := range ev.Classes {
		var prev *Thresholds
		if t, ok := previous[id]; ok {
			prev = &t
		}
		s.Classes[id] = e.summarizeAP(s, e.classes.NameOr(id, fmt.Sprint(id)), ev.IoUThresholds, ev.ClassCurves[c], prev)
	}

	for _, threshold := range ev.IoUThresholds {
		p := Percent(threshold)
		aps := make([]float64, 0, len(ev.Classes))
		for _, id := range ev.Classes {
			aps = append(aps, s.Classes[id].MAP[p])
		}
		if len(aps) > 0 {
			s.ClassMAP[p] = floats.Sum(aps) / float64(len(aps))
		}
	}

	return s
}

func (e *Evaluator) summarizeAP(s *Summary, name string, thresholds []float64, curves []PRCurve, previous *Thresholds) APSummary {
	ap := APSummary{MAP: make(map[int]float64, len(thresholds))}

	var above50 []float64
	for t, threshold := range thresholds {
		p := Percent(threshold)
		v := curves[t].AP
		if !isFinite(v) {
			msg := fmt.Sprintf("%s AP at IoU %.2f is %v, reporting 0", name, threshold, v)
			s.Warnings = append(s.Warnings, msg)
			e.log.WithFields(logrus.Fields{"class": name, "iou": threshold}).Warn(msg)
			v = 0
		}
		ap.MAP[p] = v
		if p >= 50 {
			above50 = append(above50, v)
		}
	}
	if len(above50) > 0 {
		ap.AP = stat.Mean(above50, nil)
	}

	if t, ok := thresholdIndex(thresholds, 50); ok {
		ap.Thresholds = ComputeThresholds(curves[t], e.cfg.MarginPercent)
		ap.PR50 = Condense(curves[t], e.cfg.CondenseSamples)
		if previous != nil {
			counts := CountThresholds(curves[t], *previous)
			ap.Counts = &counts
		}
	}
	if t, ok := thresholdIndex(thresholds, 75); ok {
		ap.PR75 = Condense(curves[t], e.cfg.CondenseSamples)
	}

	return ap
}

func thresholdIndex(thresholds []float64, percent int) (int, bool) {
	for i, t := range thresholds {
		if Percent(t) == percent {
			return i, true
		}
	}
	return 0, false
}

// Percents returns the sorted IoU percent keys of a mAP map.
func Percents(m map[int]float64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
