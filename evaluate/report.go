package evaluate

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-eval/models"
)

// Sink receives evaluation metrics. Implementations live in the report package.
type Sink interface {
	// Scalar records one named value at a training step.
	Scalar(name string, value float64, step int) error
	// PRCurve records one named condensed curve at a training step.
	PRCurve(name string, curve PRCurve, step int) error
}

// Report writes a summary to a sink.
//
// Scalars are scaled to percent. Names follow "<name>/AP", "<name>/mAP50",
// "<name>/thresholds/<class>/middle", "<name>/pr50/<class>" and so on; with more than one class
// the per-class mAP50, mAP75 and AP comparisons are written under "<name>/mAP50/<class>"
// including "total". A failing sink call is logged and the report continues.
//
// Arguments:
//   - sink: The destination.
//   - name: The evaluation name, e.g. "validate".
//   - s: The summary.
//   - classes: The registry used for display names.
//   - step: The epoch or training step.
//   - log: Logger for sink failures. nil uses the logrus standard logger.
//
// Returns:
//   - int: The number of failed sink calls.
func Report(sink Sink, name string, s *Summary, classes *models.ClassSet, step int, log logrus.FieldLogger) int {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := reporter{sink: sink, step: step, log: log}

	r.scalar(name+"/AP", s.Total.AP*100)
	for _, p := range []int{30, 50, 75} {
		if v, ok := s.Total.MAP[p]; ok {
			r.scalar(fmt.Sprintf("%s/mAP%d", name, p), v*100)
		}
	}

	ids := make([]int, 0, len(s.Classes))
	for id := range s.Classes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	type named struct {
		name string
		ap   APSummary
	}
	all := make([]named, 0, len(ids)+1)
	for _, id := range ids {
		ap := s.Classes[id]
		className := classes.NameOr(id, fmt.Sprint(id))
		all = append(all, named{className, ap})

		if ap.Counts != nil {
			prefix := fmt.Sprintf("%s/counts/%s", name, className)
			r.scalar(prefix+"/lower", float64(ap.Counts.Lower))
			r.scalar(prefix+"/middle", float64(ap.Counts.Middle))
			r.scalar(prefix+"/upper", float64(ap.Counts.Upper))
			r.scalar(prefix+"/truth", float64(ap.Counts.Truth))
		}

		prefix := fmt.Sprintf("%s/thresholds/%s", name, className)
		r.scalar(prefix+"/lower", ap.Thresholds.Lower)
		r.scalar(prefix+"/middle", ap.Thresholds.Middle)
		r.scalar(prefix+"/upper", ap.Thresholds.Upper)
	}
	all = append(all, named{"total", s.Total})

	for _, n := range all {
		r.curve(fmt.Sprintf("%s/pr50/%s", name, n.name), n.ap.PR50)
		r.curve(fmt.Sprintf("%s/pr75/%s", name, n.name), n.ap.PR75)
	}

	if len(ids) > 1 {
		for _, n := range all {
			if v, ok := n.ap.MAP[50]; ok {
				r.scalar(fmt.Sprintf("%s/mAP50/%s", name, n.name), v*100)
			}
			if v, ok := n.ap.MAP[75]; ok {
				r.scalar(fmt.Sprintf("%s/mAP75/%s", name, n.name), v*100)
			}
			r.scalar(fmt.Sprintf("%s/AP/%s", name, n.name), n.ap.AP*100)
		}
	}

	return r.failures
}

type reporter struct {
	sink     Sink
	step     int
	log      logrus.FieldLogger
	failures int
}

func (r *reporter) scalar(name string, value float64) {
	if err := r.sink.Scalar(name, value, r.step); err != nil {
		r.failures++
		r.log.WithError(err).WithField("metric", name).Warn("failed to report scalar")
	}
}

func (r *reporter) curve(name string, curve PRCurve) {
	if err := r.sink.PRCurve(name, curve, r.step); err != nil {
		r.failures++
		r.log.WithError(err).WithField("metric", name).Warn("failed to report curve")
	}
}

// LogSummary writes the one-line epoch summary.
func LogSummary(log logrus.FieldLogger, name string, epoch int, s *Summary) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"name":  name,
		"epoch": epoch,
		"AP":    fmt.Sprintf("%.2f", s.Total.AP*100),
		"mAP30": fmt.Sprintf("%.2f", s.Total.MAP[30]*100),
		"mAP50": fmt.Sprintf("%.2f", s.Total.MAP[50]*100),
		"mAP75": fmt.Sprintf("%.2f", s.Total.MAP[75]*100),
	}).Infof("%s epoch: %d AP: %.2f", name, epoch, s.Total.AP*100)
}
