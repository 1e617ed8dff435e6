// Package postprocess - Decoding and suppression of raw detector output.
package postprocess

import "github.com/nvr-ai/go-eval/images"

// Result represents a single decoded detection in image coordinates.
type Result struct {
	// The bounding box of the result.
	Box images.Box
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result.
	Class int
}

// Translate returns a copy of the result with its box moved by (dx, dy).
func (r Result) Translate(dx, dy float32) Result {
	r.Box = r.Box.Translate(dx, dy)
	return r
}
