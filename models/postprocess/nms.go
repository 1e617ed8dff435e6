// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-eval/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float64 `json:"iou_threshold" yaml:"iou_threshold"` // Overlap threshold for suppression.
	ClassAware   bool    `json:"class_aware"   yaml:"class_aware"`   // If true, suppress only within same class.
	MaxResults   int     `json:"max_results"   yaml:"max_results"`   // Keep at most this many results (0 = unlimited).
}

// DefaultNMSConfig returns class-aware suppression at IoU 0.5.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{
		IoUThreshold: 0.5,
		ClassAware:   true,
	}
}

// SortByScore orders detections by descending score. Equal scores keep their input order.
func SortByScore(detections []Result) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// The input is not modified; a sorted copy is suppressed.
//
// Arguments:
//   - detections: Detections in any order.
//   - config: NMS configuration.
//
// Returns:
//   - Filtered slice of detections, highest score first. If no detections are provided, returns nil.
func ApplyGreedyNMS(detections []Result, config NMSConfig) []Result {
	n := len(detections)
	if n == 0 {
		return nil
	}

	sorted := append([]Result(nil), detections...)
	SortByScore(sorted)

	filtered := make([]Result, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}
		if config.MaxResults > 0 && len(filtered) >= config.MaxResults {
			break
		}

		anchor := sorted[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if config.ClassAware && anchor.Class != sorted[j].Class {
				continue
			}

			// Suppress if IoU exceeds threshold
			if images.CalculateIoU(anchor.Box, sorted[j].Box) > config.IoUThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}
