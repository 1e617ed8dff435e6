package postprocess

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-eval/images"
)

// YOLOLayout describes a YOLOv8-style output tensor of shape [1, 4+classes, anchors], where
// the first four rows hold centre x, centre y, width and height in model input pixels.
type YOLOLayout struct {
	NumClasses          int     `json:"num_classes"          yaml:"num_classes"`
	InputWidth          int     `json:"input_width"          yaml:"input_width"`
	InputHeight         int     `json:"input_height"         yaml:"input_height"`
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
}

// DecodeYOLO converts raw YOLO output into results scaled to the original image size.
//
// Arguments:
//   - output: The flattened output tensor.
//   - layout: The output layout and confidence cut-off.
//   - width, height: The size of the image the model was run on.
//
// Returns:
//   - []Result: Results above the confidence threshold, in anchor order.
//   - error: If the output length does not match the layout.
func DecodeYOLO(output []float32, layout YOLOLayout, width, height int) ([]Result, error) {
	rows := 4 + layout.NumClasses
	if layout.NumClasses <= 0 || len(output)%rows != 0 {
		return nil, errors.Errorf("output of %d values does not fit %d rows", len(output), rows)
	}
	if layout.InputWidth <= 0 || layout.InputHeight <= 0 {
		return nil, errors.New("layout input size must be positive")
	}

	anchors := len(output) / rows
	sx := float32(width) / float32(layout.InputWidth)
	sy := float32(height) / float32(layout.InputHeight)

	var results []Result
	for idx := 0; idx < anchors; idx++ {
		// Find the class with the highest probability for this anchor.
		classID := 0
		probability := output[4*anchors+idx]
		for col := 1; col < layout.NumClasses; col++ {
			if p := output[(col+4)*anchors+idx]; p > probability {
				probability = p
				classID = col
			}
		}
		if probability < layout.ConfidenceThreshold {
			continue
		}

		xc, yc := output[idx], output[anchors+idx]
		w, h := output[2*anchors+idx], output[3*anchors+idx]
		box := images.BoxFromCenter(xc*sx, yc*sy, w*sx, h*sy)

		results = append(results, Result{Box: box, Score: probability, Class: classID})
	}

	return results, nil
}

// FromTensor decodes a detection table tensor of shape [N, 6] (or [1, N, 6]) whose columns are
// x1, y1, x2, y2, score and class. Float32 and Float64 tensors are accepted.
func FromTensor(t *tensor.Dense) ([]Result, error) {
	if t == nil {
		return nil, errors.New("nil tensor")
	}
	if t.IsView() {
		materialized, ok := t.Materialize().(*tensor.Dense)
		if !ok {
			return nil, errors.New("cannot materialize tensor view")
		}
		t = materialized
	}

	shape := t.Shape()
	switch {
	case len(shape) == 2 && shape[1] == 6:
	case len(shape) == 3 && shape[0] == 1 && shape[2] == 6:
	default:
		return nil, errors.Errorf("expected detection table of shape [N, 6], got %v", shape)
	}

	var values []float64
	switch data := t.Data().(type) {
	case []float32:
		values = make([]float64, len(data))
		for i, v := range data {
			values[i] = float64(v)
		}
	case []float64:
		values = data
	default:
		return nil, errors.Errorf("unsupported tensor dtype %v", t.Dtype())
	}

	results := make([]Result, 0, len(values)/6)
	for row := 0; row+6 <= len(values); row += 6 {
		r := values[row : row+6]
		results = append(results, Result{
			Box:   images.Box{X1: float32(r[0]), Y1: float32(r[1]), X2: float32(r[2]), Y2: float32(r[3])},
			Score: float32(r[4]),
			Class: int(r[5]),
		})
	}
	return results, nil
}
