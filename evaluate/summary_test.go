package evaluate

import (
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Summary(t *testing.T) {
	e, _ := newTestEvaluator(t, testClasses(t, "a", "b"))
	detections, truths := dataset()

	s, err := e.Run(detections, truths, nil)
	require.NoError(t, err)

	require.Len(t, s.Classes, 2)
	assert.Equal(t, []int{30, 35, 40, 45, 50, 55, 60, 65, 70, 75, 80, 85, 90, 95}, Percents(s.Total.MAP))

	for _, p := range Percents(s.ClassMAP) {
		mean := (s.Classes[0].MAP[p] + s.Classes[1].MAP[p]) / 2
		assert.InDelta(t, mean, s.ClassMAP[p], 1e-12, "IoU %d", p)
	}

	var sum float64
	var n int
	for p, v := range s.Total.MAP {
		if p >= 50 {
			sum += v
			n++
		}
	}
	assert.InDelta(t, sum/float64(n), s.Total.AP, 1e-12)

	for id, c := range s.Classes {
		assert.Nil(t, c.Counts, "no previous thresholds, class %d", id)
		assert.NotZero(t, c.PR50.Len())
		assert.LessOrEqual(t, c.PR50.Len(), DefaultCondenseSamples+1)
		assert.Equal(t, c.MAP[50], c.PR50.AP)
		assert.Equal(t, c.MAP[75], c.PR75.AP)
	}
	assert.Equal(t, map[int]Thresholds{0: s.Classes[0].Thresholds, 1: s.Classes[1].Thresholds}, s.Thresholds())
}

func TestRun_PreviousThresholds(t *testing.T) {
	e, _ := newTestEvaluator(t, testClasses(t, "a", "b"))
	detections, truths := dataset()

	first, err := e.Run(detections, truths, nil)
	require.NoError(t, err)

	second, err := e.Run(detections, truths, map[int]Thresholds{0: {Lower: 0.1, Middle: 0.5, Upper: 0.9}})
	require.NoError(t, err)

	require.NotNil(t, second.Classes[0].Counts)
	// Class 0 confidences: 0.95, 0.9, 0.7, 0.5, 0.3.
	assert.Equal(t, ClassCounts{Lower: 5, Middle: 3, Upper: 1, Truth: 3}, *second.Classes[0].Counts)
	assert.Nil(t, second.Classes[1].Counts)
	assert.Equal(t, first.Classes[0].MAP, second.Classes[0].MAP)
}

func TestRun_InvalidInput(t *testing.T) {
	e, _ := newTestEvaluator(t, testClasses(t, "a"))
	_, err := e.Run([]Detection{{Box: box(0, 0, 1, 1), Confidence: -0.1}}, nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfidence))
}

func TestSummarize_NonFiniteAP(t *testing.T) {
	log, hook := test.NewNullLogger()
	cfg := DefaultConfig()
	cfg.IoUThresholds = []float64{0.5}
	e, err := NewEvaluator(cfg, testClasses(t, "a"), log)
	require.NoError(t, err)

	ev := &Evaluation{
		IoUThresholds: []float64{0.5},
		Classes:       []int{0},
		ClassCurves:   [][]PRCurve{{{AP: math.NaN()}}},
		Total:         []PRCurve{{AP: 0.4}},
		Instances:     map[int]int{0: 0},
	}

	s := e.Summarize(ev, nil)
	assert.Equal(t, 0.0, s.Classes[0].MAP[50])
	assert.Equal(t, 0.0, s.Classes[0].AP)
	assert.Equal(t, 0.0, s.ClassMAP[50])
	assert.Equal(t, 0.4, s.Total.AP)

	require.Len(t, s.Warnings, 1)
	assert.True(t, strings.HasPrefix(s.Warnings[0], "a AP at IoU 0.50"))
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "a", hook.LastEntry().Data["class"])
}

func TestSummarize_ZeroTruthClassCounts(t *testing.T) {
	e, _ := newTestEvaluator(t, testClasses(t, "a", "b"))

	// Class b has no ground truth and no detections; it still lowers the class mean.
	s, err := e.Run(
		[]Detection{{Box: box(0, 0, 10, 10), Confidence: 0.9, Label: 0}},
		[]GroundTruth{{Box: box(0, 0, 10, 10), Label: 0}},
		nil,
	)
	require.NoError(t, err)

	assert.Equal(t, 1.0, s.Classes[0].MAP[50])
	assert.Equal(t, 0.0, s.Classes[1].MAP[50])
	assert.Equal(t, 0.5, s.ClassMAP[50])
	assert.Equal(t, 1.0, s.Total.MAP[50])
	assert.Equal(t, Thresholds{}, s.Classes[1].Thresholds)
}
