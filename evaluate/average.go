package evaluate

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-eval/images"
	"github.com/nvr-ai/go-eval/models"
)

// Evaluation holds the full curves of one evaluation epoch.
type Evaluation struct {
	// IoUThresholds in the order curves are indexed.
	IoUThresholds []float64
	// Classes are the registry ids in the order curves are indexed.
	Classes []int
	// ClassCurves[c][t] is the curve of Classes[c] at IoUThresholds[t].
	ClassCurves [][]PRCurve
	// Total[t] is the pooled curve over all classes at IoUThresholds[t].
	Total []PRCurve
	// Instances is the ground truth count per class id.
	Instances map[int]int
	// Warnings lists contained failures and dropped records.
	Warnings []string
}

// Evaluator computes mean Average Precision for a fixed class registry and configuration.
type Evaluator struct {
	cfg     Config
	classes *models.ClassSet
	log     logrus.FieldLogger
}

// NewEvaluator creates an evaluator.
//
// Arguments:
//   - cfg: The evaluation configuration. It is copied.
//   - classes: The class registry; one curve is computed per registered class.
//   - log: Logger for warnings. nil uses the logrus standard logger.
//
// Returns:
//   - *Evaluator: The evaluator.
//   - error: If the configuration is invalid.
func NewEvaluator(cfg Config, classes *models.ClassSet, log logrus.FieldLogger) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid evaluation config")
	}
	if classes == nil || classes.Len() == 0 {
		return nil, errors.New("at least one class is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	cfg.IoUThresholds = append([]float64(nil), cfg.IoUThresholds...)
	return &Evaluator{cfg: cfg, classes: classes, log: log}, nil
}

// Config returns a copy of the evaluator configuration.
func (e *Evaluator) Config() Config {
	cfg := e.cfg
	cfg.IoUThresholds = append([]float64(nil), e.cfg.IoUThresholds...)
	return cfg
}

// classData is the read-only slice of the dataset one class job works on.
type classData struct {
	// ranked holds detection indices of this class in global rank order.
	ranked []int
	// byImage maps an image to positions in ranked, in rank order.
	byImage map[int][]int
	// truths maps an image to its ground truth boxes of this class.
	truths    map[int][]images.Box
	instances int
}

// matchBoxes is replaced in tests to inject job failures.
var matchBoxes = Match

type job struct {
	class, threshold int
}

type jobResult struct {
	flags []bool
	curve PRCurve
	err   error
}

// Evaluate matches detections against ground truth at every configured IoU threshold and
// builds per-class and pooled PR curves.
//
// Records are validated first and any malformed record fails the call. Records whose label is
// not registered are dropped with a warning. Each (class, threshold) pair runs as an
// independent job on a bounded worker pool; a failing job yields an empty curve (AP 0) and a
// warning instead of aborting the evaluation.
//
// Arguments:
//   - detections: All detections of the evaluation set.
//   - truths: All ground truth of the evaluation set.
//
// Returns:
//   - *Evaluation: Curves indexed by class and threshold.
//   - error: A validation error.
func (e *Evaluator) Evaluate(detections []Detection, truths []GroundTruth) (*Evaluation, error) {
	if err := Validate(detections, truths); err != nil {
		return nil, err
	}

	ev := &Evaluation{
		IoUThresholds: append([]float64(nil), e.cfg.IoUThresholds...),
		Classes:       e.classes.IDs(),
		Instances:     make(map[int]int, e.classes.Len()),
	}

	order := rankDetections(detections)
	data, classPos := e.partition(ev, detections, order, truths)

	results := e.runJobs(ev, detections, data)

	ev.ClassCurves = make([][]PRCurve, len(ev.Classes))
	for c := range ev.Classes {
		ev.ClassCurves[c] = make([]PRCurve, len(ev.IoUThresholds))
		for t := range ev.IoUThresholds {
			ev.ClassCurves[c][t] = results[c][t].curve
		}
	}

	totalInstances := 0
	for _, d := range data {
		totalInstances += d.instances
	}

	// Pool every class stream back into global rank order.
	rankInClass := make([]int, len(detections))
	for _, d := range data {
		for pos, idx := range d.ranked {
			rankInClass[idx] = pos
		}
	}

	ev.Total = make([]PRCurve, len(ev.IoUThresholds))
	for t := range ev.IoUThresholds {
		ranked := make([]Ranked, 0, len(order))
		for _, idx := range order {
			c, ok := classPos[detections[idx].Label]
			if !ok {
				continue
			}
			flags := results[c][t].flags
			tp := flags != nil && flags[rankInClass[idx]]
			ranked = append(ranked, Ranked{Confidence: float64(detections[idx].Confidence), TruePositive: tp})
		}
		ev.Total[t] = BuildCurve(ranked, totalInstances)
	}

	return ev, nil
}

// partition splits records by class and image. Detection lists follow global rank order.
func (e *Evaluator) partition(ev *Evaluation, detections []Detection, order []int, truths []GroundTruth) ([]classData, map[int]int) {
	classPos := make(map[int]int, len(ev.Classes))
	data := make([]classData, len(ev.Classes))
	for i, id := range ev.Classes {
		classPos[id] = i
		data[i] = classData{byImage: map[int][]int{}, truths: map[int][]images.Box{}}
	}

	dropped := map[int]int{}
	for _, idx := range order {
		d := detections[idx]
		c, ok := classPos[d.Label]
		if !ok {
			dropped[d.Label]++
			continue
		}
		cd := &data[c]
		cd.byImage[d.Image] = append(cd.byImage[d.Image], len(cd.ranked))
		cd.ranked = append(cd.ranked, idx)
	}

	droppedTruth := map[int]int{}
	for _, g := range truths {
		c, ok := classPos[g.Label]
		if !ok {
			droppedTruth[g.Label]++
			continue
		}
		data[c].truths[g.Image] = append(data[c].truths[g.Image], g.Box)
		data[c].instances++
	}

	for i, id := range ev.Classes {
		ev.Instances[id] = data[i].instances
	}

	for _, label := range sortedKeys(dropped) {
		e.warn(ev, logrus.Fields{"label": label, "count": dropped[label]},
			fmt.Sprintf("dropped %d detections with unregistered label %d", dropped[label], label))
	}
	for _, label := range sortedKeys(droppedTruth) {
		e.warn(ev, logrus.Fields{"label": label, "count": droppedTruth[label]},
			fmt.Sprintf("dropped %d ground truth boxes with unregistered label %d", droppedTruth[label], label))
	}

	return data, classPos
}

// runJobs evaluates every (class, threshold) pair on the worker pool. Each job writes only its
// own result slot; the slots are read after the pool drains.
func (e *Evaluator) runJobs(ev *Evaluation, detections []Detection, data []classData) [][]jobResult {
	results := make([][]jobResult, len(data))
	for c := range results {
		results[c] = make([]jobResult, len(ev.IoUThresholds))
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	for w := 0; w < e.cfg.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.class][j.threshold] = runJob(detections, data[j.class], ev.IoUThresholds[j.threshold])
			}
		}()
	}

	for c := range data {
		for t := range ev.IoUThresholds {
			jobs <- job{class: c, threshold: t}
		}
	}
	close(jobs)
	wg.Wait()

	for c := range data {
		for t, threshold := range ev.IoUThresholds {
			r := &results[c][t]
			if r.err == nil && !isFinite(r.curve.AP) {
				r.err = errors.Errorf("non-finite AP %v", r.curve.AP)
			}
			if r.err != nil {
				e.warn(ev, logrus.Fields{"class": ev.Classes[c], "iou": threshold, "error": r.err},
					fmt.Sprintf("class %d at IoU %.2f failed, reporting AP 0: %v", ev.Classes[c], threshold, r.err))
				*r = jobResult{curve: PRCurve{Instances: data[c].instances}}
			}
		}
	}

	return results
}

// runJob matches one class at one threshold, image by image, then builds the class curve.
func runJob(detections []Detection, cd classData, threshold float64) (res jobResult) {
	defer func() {
		if r := recover(); r != nil {
			res = jobResult{err: errors.Errorf("panic: %v", r)}
		}
	}()

	flags := make([]bool, len(cd.ranked))
	for img, positions := range cd.byImage {
		boxes := make([]images.Box, len(positions))
		for k, pos := range positions {
			boxes[k] = detections[cd.ranked[pos]].Box
		}
		m := matchBoxes(boxes, cd.truths[img], threshold)
		for k, pos := range positions {
			flags[pos] = m.TruePositive[k]
		}
	}

	ranked := make([]Ranked, len(cd.ranked))
	for pos, idx := range cd.ranked {
		ranked[pos] = Ranked{Confidence: float64(detections[idx].Confidence), TruePositive: flags[pos]}
	}

	return jobResult{flags: flags, curve: BuildCurve(ranked, cd.instances)}
}

func (e *Evaluator) warn(ev *Evaluation, fields logrus.Fields, msg string) {
	ev.Warnings = append(ev.Warnings, msg)
	e.log.WithFields(fields).Warn(msg)
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
