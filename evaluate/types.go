// Package evaluate - Detection matching, precision/recall curves and mean Average Precision.
//
// Detections and ground truth for a whole evaluation set are matched greedily per image,
// class and IoU threshold. The per-class match streams are turned into precision/recall
// curves whose area gives the Average Precision; the summariser condenses the curves and
// derives confidence operating points for deployment.
package evaluate

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-eval/images"
	"github.com/nvr-ai/go-eval/models/postprocess"
)

var (
	// ErrInvalidBox is returned for boxes with max < min or non-finite coordinates.
	ErrInvalidBox = images.ErrInvalidBox
	// ErrInvalidConfidence is returned for confidences outside [0, 1].
	ErrInvalidConfidence = errors.New("confidence outside [0, 1]")
	// ErrInvalidImage is returned for negative image indices.
	ErrInvalidImage = errors.New("negative image index")
)

// Detection is a single model prediction.
type Detection struct {
	Box        images.Box `json:"box"        yaml:"box"`
	Confidence float32    `json:"confidence" yaml:"confidence"`
	Label      int        `json:"label"      yaml:"label"`
	Image      int        `json:"image"      yaml:"image"`
}

// GroundTruth is a single annotated object.
type GroundTruth struct {
	Box   images.Box `json:"box"   yaml:"box"`
	Label int        `json:"label" yaml:"label"`
	Image int        `json:"image" yaml:"image"`
}

// Validate checks the detection's box, confidence and image index.
func (d Detection) Validate() error {
	if err := d.Box.Validate(); err != nil {
		return err
	}
	if !(d.Confidence >= 0 && d.Confidence <= 1) {
		return errors.Wrapf(ErrInvalidConfidence, "got %v", d.Confidence)
	}
	if d.Image < 0 {
		return errors.Wrapf(ErrInvalidImage, "got %d", d.Image)
	}
	return nil
}

// Validate checks the ground truth box and image index.
func (g GroundTruth) Validate() error {
	if err := g.Box.Validate(); err != nil {
		return err
	}
	if g.Image < 0 {
		return errors.Wrapf(ErrInvalidImage, "got %d", g.Image)
	}
	return nil
}

// Validate checks every detection and ground truth record, failing on the first invalid one.
func Validate(detections []Detection, truths []GroundTruth) error {
	for i, d := range detections {
		if err := d.Validate(); err != nil {
			return errors.Wrapf(err, "detection %d", i)
		}
	}
	for i, g := range truths {
		if err := g.Validate(); err != nil {
			return errors.Wrapf(err, "ground truth %d", i)
		}
	}
	return nil
}

// DetectionsFromResults tags decoded results with the image they were produced for.
func DetectionsFromResults(image int, results []postprocess.Result) []Detection {
	out := make([]Detection, len(results))
	for i, r := range results {
		out[i] = Detection{Box: r.Box, Confidence: r.Score, Label: r.Class, Image: image}
	}
	return out
}

// rankDetections returns detection indices ordered by descending confidence. Equal
// confidences keep their input order.
func rankDetections(detections []Detection) []int {
	order := make([]int, len(detections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Confidence > detections[order[b]].Confidence
	})
	return order
}
