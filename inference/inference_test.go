package inference

import (
	"context"
	"image"
	"image/color"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-eval/images"
	"github.com/nvr-ai/go-eval/models/postprocess"
)

// sceneEngine "detects" every object fully inside the image it is given, in coordinates local
// to that image.
type sceneEngine struct {
	objects []postprocess.Result
	calls   atomic.Int32
	fail    func(image.Rectangle) bool
}

func (s *sceneEngine) Predict(ctx context.Context, img image.Image) ([]postprocess.Result, error) {
	s.calls.Add(1)
	b := img.Bounds()
	if s.fail != nil && s.fail(b) {
		return nil, errors.New("device lost")
	}

	var out []postprocess.Result
	for _, o := range s.objects {
		if o.Box.ToRect().In(b) {
			out = append(out, o.Translate(-float32(b.Min.X), -float32(b.Min.Y)))
		}
	}
	return out, nil
}

func (s *sceneEngine) Close() error { return nil }

func result(x1, y1, x2, y2, score float32, class int) postprocess.Result {
	return postprocess.Result{Box: images.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Score: score, Class: class}
}

func halves() images.TileConfig {
	// A 1000x600 image splits into [0, 600) and [400, 1000).
	return images.TileConfig{Enabled: true, Width: 600, Height: 600, Overlap: 200}
}

func sortResults(r []postprocess.Result) {
	sort.Slice(r, func(i, j int) bool { return r[i].Box.X1 < r[j].Box.X1 })
}

func TestTiledEngine_MatchesWholeImage(t *testing.T) {
	scene := &sceneEngine{objects: []postprocess.Result{
		result(50, 50, 150, 150, 0.9, 0),
		result(700, 100, 800, 200, 0.8, 2),
	}}
	img := image.NewRGBA(image.Rect(0, 0, 1000, 600))

	whole, err := scene.Predict(context.Background(), img)
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	tiled, err := NewTiledEngine(scene, TiledOptions{Tiling: halves()}, log)
	require.NoError(t, err)

	got, err := tiled.Predict(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, int32(3), scene.calls.Load(), "one whole-image call and two tiles")

	sortResults(whole)
	sortResults(got)
	assert.Equal(t, whole, got)
}

func TestTiledEngine_TileOrderAndOffsets(t *testing.T) {
	scene := &sceneEngine{objects: []postprocess.Result{
		result(700, 10, 720, 30, 0.9, 1),
		result(10, 10, 30, 30, 0.5, 0),
	}}
	tiled, err := NewTiledEngine(scene, TiledOptions{Tiling: halves()}, nil)
	require.NoError(t, err)

	got, err := tiled.Predict(context.Background(), image.NewRGBA(image.Rect(0, 0, 1000, 600)))
	require.NoError(t, err)

	// Left tile first, regardless of score.
	assert.Equal(t, []postprocess.Result{
		result(10, 10, 30, 30, 0.5, 0),
		result(700, 10, 720, 30, 0.9, 1),
	}, got)
}

func TestTiledEngine_NonZeroOrigin(t *testing.T) {
	scene := &sceneEngine{objects: []postprocess.Result{result(150, 150, 170, 170, 0.9, 0)}}
	tiled, err := NewTiledEngine(scene, TiledOptions{Tiling: halves()}, nil)
	require.NoError(t, err)

	// The scene is in absolute coordinates; the image starts at (100, 100).
	img := image.NewRGBA(image.Rect(100, 100, 1100, 700))
	got, err := tiled.Predict(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, []postprocess.Result{result(50, 50, 70, 70, 0.9, 0)}, got)
}

func TestTiledEngine_MergeOverlap(t *testing.T) {
	scene := &sceneEngine{objects: []postprocess.Result{result(450, 100, 550, 200, 0.9, 0)}}
	img := image.NewRGBA(image.Rect(0, 0, 1000, 600))

	plain, err := NewTiledEngine(scene, TiledOptions{Tiling: halves()}, nil)
	require.NoError(t, err)
	got, err := plain.Predict(context.Background(), img)
	require.NoError(t, err)
	assert.Len(t, got, 2, "seen by both tiles")

	merge := postprocess.DefaultNMSConfig()
	merged, err := NewTiledEngine(scene, TiledOptions{Tiling: halves(), Merge: &merge}, nil)
	require.NoError(t, err)
	got, err = merged.Predict(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, []postprocess.Result{result(450, 100, 550, 200, 0.9, 0)}, got)
}

func TestTiledEngine_Budget(t *testing.T) {
	var objects []postprocess.Result
	for i := 0; i < 5; i++ {
		x := float32(10 + 50*i)
		objects = append(objects, result(x, 10, x+20, 30, float32(i+1)/10, 0))
		objects = append(objects, result(x+700, 10, x+720, 30, float32(i+1)/10, 1))
	}
	scene := &sceneEngine{objects: objects}

	tiled, err := NewTiledEngine(scene, TiledOptions{Tiling: halves(), MaxDetections: 4}, nil)
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 1000, 600))
	for call := 0; call < 2; call++ {
		got, err := tiled.Predict(context.Background(), img)
		require.NoError(t, err)
		require.Len(t, got, 4, "budget is computed per call")
		for _, r := range got {
			assert.GreaterOrEqual(t, r.Score, float32(0.4))
		}
	}

	assert.Equal(t, 0, tileBudget(0, 4))
	assert.Equal(t, 250, tileBudget(500, 2))
	assert.Equal(t, 1, tileBudget(3, 4))
}

func TestTiledEngine_TileError(t *testing.T) {
	scene := &sceneEngine{fail: func(r image.Rectangle) bool { return r.Min.X > 0 }}
	tiled, err := NewTiledEngine(scene, TiledOptions{Tiling: halves()}, nil)
	require.NoError(t, err)

	_, err = tiled.Predict(context.Background(), image.NewRGBA(image.Rect(0, 0, 1000, 600)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tile 1")
}

func TestTiledEngine_Disabled(t *testing.T) {
	scene := &sceneEngine{objects: []postprocess.Result{result(450, 100, 550, 200, 0.9, 0)}}
	tiled, err := NewTiledEngine(scene, TiledOptions{Tiling: images.DefaultTileConfig()}, nil)
	require.NoError(t, err)

	got, err := tiled.Predict(context.Background(), image.NewRGBA(image.Rect(0, 0, 1000, 600)))
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(1), scene.calls.Load())
}

func TestNewTiledEngine_Invalid(t *testing.T) {
	_, err := NewTiledEngine(nil, TiledOptions{}, nil)
	assert.Error(t, err)

	_, err = NewTiledEngine(&sceneEngine{}, TiledOptions{Tiling: images.TileConfig{Enabled: true, Width: 100, Height: 100, Overlap: 100}}, nil)
	assert.Error(t, err)

	_, err = NewTiledEngine(&sceneEngine{}, TiledOptions{MaxDetections: -1}, nil)
	assert.Error(t, err)
}

func TestTiledEngine_PredictMat(t *testing.T) {
	// Mat tiles are converted to zero-origin images, so every tile reports the same local box.
	local := EngineFunc(func(ctx context.Context, img image.Image) ([]postprocess.Result, error) {
		if img.Bounds().Size() != (image.Point{X: 600, Y: 600}) {
			return nil, errors.Errorf("unexpected tile size %v", img.Bounds().Size())
		}
		return []postprocess.Result{result(10, 10, 20, 20, 0.9, 0)}, nil
	})
	tiled, err := NewTiledEngine(local, TiledOptions{Tiling: halves()}, nil)
	require.NoError(t, err)

	mat := gocv.NewMatWithSize(600, 1000, gocv.MatTypeCV8UC3)
	defer mat.Close()

	got, err := tiled.PredictMat(context.Background(), mat)
	require.NoError(t, err)
	assert.Equal(t, []postprocess.Result{
		result(10, 10, 20, 20, 0.9, 0),
		result(410, 10, 420, 20, 0.9, 0),
	}, got)

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = tiled.PredictMat(context.Background(), empty)
	assert.Error(t, err)
}

func TestEngineFunc(t *testing.T) {
	var e Engine = EngineFunc(func(ctx context.Context, img image.Image) ([]postprocess.Result, error) {
		return []postprocess.Result{result(0, 0, 1, 1, 1, 0)}, nil
	})
	got, err := e.Predict(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)))
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.NoError(t, e.Close())
}

func TestFillInput(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(2, 2, color.RGBA{R: 255, A: 255})
	img.Set(3, 2, color.RGBA{G: 255, A: 255})
	img.Set(2, 3, color.RGBA{B: 255, A: 255})

	// The bottom-right quadrant as a sub-image keeps its parent coordinates.
	sub := img.SubImage(image.Rect(2, 2, 4, 4))

	data := make([]float32, 3*2*2)
	require.NoError(t, fillInput(sub, data, 2, 2))

	assert.Equal(t, []float32{1, 0, 0, 0}, data[0:4], "red plane")
	assert.Equal(t, []float32{0, 1, 0, 0}, data[4:8], "green plane")
	assert.Equal(t, []float32{0, 0, 1, 0}, data[8:12], "blue plane")

	assert.Error(t, fillInput(sub, make([]float32, 5), 2, 2))
}

func TestFillInput_Resizes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	data := make([]float32, 3*4*4)
	require.NoError(t, fillInput(img, data, 4, 4))
	for _, v := range data {
		assert.InDelta(t, 1.0, v, 0.01)
	}
}

func TestONNXConfig_Validate(t *testing.T) {
	cfg := DefaultONNXConfig("yolov8n.onnx")
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.ModelPath = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Provider = "tpu"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Anchors = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Layout.NumClasses = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Output = "heatmap"
	assert.Error(t, bad.Validate())

	table := cfg
	table.Output = OutputTable
	table.Anchors = 300
	assert.NoError(t, table.Validate())

	assert.NotEmpty(t, DefaultSharedLibraryPath())
}

func TestONNXEngine_Decode(t *testing.T) {
	log, hook := test.NewNullLogger()
	cfg := DefaultONNXConfig("model.onnx")
	cfg.Layout.NumClasses = 2
	e := &ONNXEngine{cfg: cfg, log: log}

	output := []float32{
		320, 320, // centre x
		320, 320, // centre y
		64, 64, // width
		32, 32, // height
		0.9, 0.2, // class 0
		0.1, 0.8, // class 1
	}

	got, err := e.decode(output, 1280, 640)
	require.NoError(t, err)
	require.Len(t, got, 2, "class-aware suppression keeps both classes")
	assert.Equal(t, images.Box{X1: 576, Y1: 304, X2: 704, Y2: 336}, got[0].Box)
	assert.Equal(t, 0, got[0].Class)
	assert.Equal(t, 1, got[1].Class)
	assert.Len(t, hook.Entries, 0, "debug output is below the default level")

	e.cfg.NMS.ClassAware = false
	got, err = e.decode(output, 1280, 640)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = e.decode(output[:5], 1280, 640)
	assert.Error(t, err)
}

func TestONNXEngine_Closed(t *testing.T) {
	e := &ONNXEngine{cfg: DefaultONNXConfig("model.onnx")}
	require.NoError(t, e.Close())

	_, err := e.Predict(context.Background(), image.NewRGBA(image.Rect(0, 0, 1, 1)))
	assert.EqualError(t, err, "engine is closed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Predict(ctx, image.NewRGBA(image.Rect(0, 0, 1, 1)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestONNXEngine_DecodeTable(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := DefaultONNXConfig("dfine.onnx")
	cfg.Output = OutputTable
	cfg.Anchors = 4
	e := &ONNXEngine{cfg: cfg, log: log}

	output := []float32{
		10, 20, 30, 40, 0.9, 1,
		12, 22, 32, 42, 0.85, 1, // overlaps the first row
		100, 100, 200, 200, 0.1, 0, // below the confidence threshold
		300, 300, 400, 400, 0.6, 0,
	}

	got, err := e.decode(output, 1280, 640)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, images.Box{X1: 20, Y1: 20, X2: 60, Y2: 40}, got[0].Box)
	assert.Equal(t, 1, got[0].Class)
	assert.InDelta(t, 0.9, got[0].Score, 1e-6)
	assert.Equal(t, images.Box{X1: 600, Y1: 300, X2: 800, Y2: 400}, got[1].Box)
	assert.Equal(t, 0, got[1].Class)

	_, err = e.decode(output[:7], 1280, 640)
	assert.Error(t, err)
}
