package evaluate

// DefaultCondenseSamples is the number of recall steps kept by Condense.
const DefaultCondenseSamples = 400

// Condense downsamples a curve for reporting.
//
// Recall is walked in n uniform steps; for step t the first point whose recall exceeds t/n is
// kept. The first point is always kept and repeated picks of the same point are collapsed, so
// the result has at most n+1 points. A curve with no more than n points is returned whole.
//
// Arguments:
//   - curve: The full curve.
//   - n: The number of recall steps.
//
// Returns:
//   - PRCurve: The condensed curve. AP and Instances are carried over from curve.
func Condense(curve PRCurve, n int) PRCurve {
	size := curve.Len()
	if size == 0 || n >= size {
		return curve.pick(allPositions(size))
	}

	positions := []int{0}
	i := 0
	for t := 0; t < n; t++ {
		step := float64(t) / float64(n)
		for i < size && curve.Recall[i] <= step {
			i++
		}
		if i >= size {
			break
		}
		if positions[len(positions)-1] != i {
			positions = append(positions, i)
		}
	}

	return curve.pick(positions)
}

func allPositions(size int) []int {
	positions := make([]int, size)
	for i := range positions {
		positions[i] = i
	}
	return positions
}

// pick copies the points at the given positions into a new curve.
func (c PRCurve) pick(positions []int) PRCurve {
	out := PRCurve{
		Confidence:     make([]float64, len(positions)),
		TruePositives:  make([]int, len(positions)),
		FalsePositives: make([]int, len(positions)),
		FalseNegatives: make([]int, len(positions)),
		Precision:      make([]float64, len(positions)),
		Recall:         make([]float64, len(positions)),
		Instances:      c.Instances,
		AP:             c.AP,
	}
	for k, i := range positions {
		out.Confidence[k] = c.Confidence[i]
		out.TruePositives[k] = c.TruePositives[i]
		out.FalsePositives[k] = c.FalsePositives[i]
		out.FalseNegatives[k] = c.FalseNegatives[i]
		out.Precision[k] = c.Precision[i]
		out.Recall[k] = c.Recall[i]
	}
	return out
}
