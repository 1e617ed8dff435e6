package inference

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-eval/images"
	"github.com/nvr-ai/go-eval/models/postprocess"
)

// TiledEngine splits large images into overlapping tiles, runs the wrapped engine on every tile
// concurrently and merges the results back into source image coordinates.
type TiledEngine struct {
	engine        Engine
	cfg           images.TileConfig
	maxDetections int
	merge         *postprocess.NMSConfig
	log           logrus.FieldLogger
}

// TiledOptions configures a TiledEngine.
type TiledOptions struct {
	// Tiling is the split configuration. A disabled config passes images through whole.
	Tiling images.TileConfig
	// MaxDetections caps the results per image. It is divided evenly between the tiles of each
	// call; 0 means unlimited.
	MaxDetections int
	// Merge, when set, suppresses duplicates found in overlapping tiles.
	Merge *postprocess.NMSConfig
}

// NewTiledEngine wraps engine.
//
// Arguments:
//   - engine: The engine run on each tile. It must be safe for concurrent use.
//   - opts: Tiling, detection budget and merge options.
//   - log: Logger. nil uses the logrus standard logger.
//
// Returns:
//   - *TiledEngine: The tiled engine. Close closes the wrapped engine.
//   - error: If the tiling config is invalid.
func NewTiledEngine(engine Engine, opts TiledOptions, log logrus.FieldLogger) (*TiledEngine, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if err := opts.Tiling.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid tiling")
	}
	if opts.MaxDetections < 0 {
		return nil, errors.Errorf("max detections must not be negative, got %d", opts.MaxDetections)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TiledEngine{
		engine:        engine,
		cfg:           opts.Tiling,
		maxDetections: opts.MaxDetections,
		merge:         opts.Merge,
		log:           log,
	}, nil
}

// Predict implements Engine.
func (t *TiledEngine) Predict(ctx context.Context, img image.Image) ([]postprocess.Result, error) {
	tiles, err := images.SplitImage(img, t.cfg)
	if err != nil {
		return nil, err
	}

	inputs := make([]image.Image, len(tiles))
	offsets := make([]image.Point, len(tiles))
	for i, tile := range tiles {
		inputs[i] = tile.Image
		offsets[i] = tile.Offset
	}
	return t.run(ctx, inputs, offsets)
}

// PredictMat runs the engine on the tiles of a gocv frame.
func (t *TiledEngine) PredictMat(ctx context.Context, mat gocv.Mat) ([]postprocess.Result, error) {
	if mat.Empty() {
		return nil, errors.New("empty frame")
	}

	tiles := images.SplitMat(mat, t.cfg)
	defer func() {
		for _, tile := range tiles {
			tile.Mat.Close()
		}
	}()

	inputs := make([]image.Image, len(tiles))
	offsets := make([]image.Point, len(tiles))
	for i, tile := range tiles {
		// Regions are views into the frame; ToImage needs continuous memory.
		clone := tile.Mat.Clone()
		img, err := clone.ToImage()
		clone.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "tile %d", i)
		}
		inputs[i] = img
		offsets[i] = tile.Offset
	}
	return t.run(ctx, inputs, offsets)
}

// run predicts every tile on its own goroutine and joins them at a single barrier. Results are
// concatenated in tile order, so the output does not depend on scheduling.
func (t *TiledEngine) run(ctx context.Context, inputs []image.Image, offsets []image.Point) ([]postprocess.Result, error) {
	budget := tileBudget(t.maxDetections, len(inputs))

	results := make([][]postprocess.Result, len(inputs))
	errs := make([]error, len(inputs))

	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := t.engine.Predict(ctx, inputs[i])
			if err != nil {
				errs[i] = errors.Wrapf(err, "tile %d", i)
				return
			}
			if budget > 0 && len(res) > budget {
				res = append([]postprocess.Result(nil), res...)
				postprocess.SortByScore(res)
				res = res[:budget]
			}
			dx, dy := float32(offsets[i].X), float32(offsets[i].Y)
			translated := make([]postprocess.Result, len(res))
			for k, r := range res {
				translated[k] = r.Translate(dx, dy)
			}
			results[i] = translated
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var merged []postprocess.Result
	for _, res := range results {
		merged = append(merged, res...)
	}
	if t.merge != nil && len(inputs) > 1 {
		merged = postprocess.ApplyGreedyNMS(merged, *t.merge)
	}

	t.log.WithFields(logrus.Fields{
		"tiles":      len(inputs),
		"budget":     budget,
		"detections": len(merged),
	}).Debug("tiled prediction")
	return merged, nil
}

// tileBudget divides the per-image detection cap between tiles. Every tile keeps at least one.
func tileBudget(maxDetections, tiles int) int {
	if maxDetections <= 0 || tiles <= 0 {
		return 0
	}
	if b := maxDetections / tiles; b > 0 {
		return b
	}
	return 1
}

// Close implements Engine.
func (t *TiledEngine) Close() error {
	return t.engine.Close()
}
