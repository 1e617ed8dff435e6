// Package inference - Detection engines producing results for evaluation.
package inference

import (
	"context"
	"image"

	"github.com/nvr-ai/go-eval/models/postprocess"
)

// Engine runs a detector on one image.
//
// Result boxes are in pixels relative to img.Bounds().Min, so that a sub-image returns
// coordinates local to its own region.
type Engine interface {
	Predict(ctx context.Context, img image.Image) ([]postprocess.Result, error)
	Close() error
}

// EngineFunc adapts a function to the Engine interface. Close is a no-op.
type EngineFunc func(ctx context.Context, img image.Image) ([]postprocess.Result, error)

// Predict calls f.
func (f EngineFunc) Predict(ctx context.Context, img image.Image) ([]postprocess.Result, error) {
	return f(ctx, img)
}

// Close implements Engine.
func (f EngineFunc) Close() error { return nil }
