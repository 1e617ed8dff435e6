package evaluate

import "github.com/nvr-ai/go-eval/images"

// MatchResult is the outcome of matching one image's detections of one class at one IoU
// threshold. It is computed fresh for every (class, threshold) pair.
type MatchResult struct {
	// TruePositive[i] reports whether detection i matched a ground truth box.
	TruePositive []bool
	// Truth[i] is the index of the ground truth matched by detection i, or -1.
	Truth []int
	// Misses is the number of ground truth boxes left unmatched (false negatives).
	Misses int
}

// TruePositives returns the number of matched detections.
func (m MatchResult) TruePositives() int {
	n := 0
	for _, tp := range m.TruePositive {
		if tp {
			n++
		}
	}
	return n
}

// FalsePositives returns the number of unmatched detections.
func (m MatchResult) FalsePositives() int {
	return len(m.TruePositive) - m.TruePositives()
}

// Match greedily assigns detections to ground truth.
//
// Detections are processed in the order given, which callers keep as descending confidence
// with ties in input order. Each detection takes the unmatched ground truth box with the
// highest IoU (lowest index on ties); it is a true positive when that IoU reaches threshold,
// and the box is then consumed. A ground truth box is never matched twice.
//
// Arguments:
//   - detections: Detection boxes of one image and class, in rank order.
//   - truths: Ground truth boxes of the same image and class.
//   - threshold: The minimum IoU for a match.
//
// Returns:
//   - MatchResult: Per-detection flags and matched indices, plus the unmatched count.
func Match(detections, truths []images.Box, threshold float64) MatchResult {
	result := MatchResult{
		TruePositive: make([]bool, len(detections)),
		Truth:        make([]int, len(detections)),
	}
	consumed := make([]bool, len(truths))
	remaining := len(truths)

	for i, det := range detections {
		result.Truth[i] = -1
		if remaining == 0 {
			continue
		}

		best, bestIoU := -1, 0.0
		for j, truth := range truths {
			if consumed[j] {
				continue
			}
			if iou := images.CalculateIoU(det, truth); iou > bestIoU {
				best, bestIoU = j, iou
			}
		}

		if best >= 0 && bestIoU >= threshold {
			consumed[best] = true
			remaining--
			result.TruePositive[i] = true
			result.Truth[i] = best
		}
	}

	result.Misses = remaining
	return result
}
