// Package images - Box geometry and image tiling utilities.
package images

import (
	"fmt"
	"image"
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// ErrInvalidBox is returned when a box has max < min on an axis or non-finite coordinates.
var ErrInvalidBox = errors.New("invalid box")

// Box is an axis-aligned rectangle in corner form.
type Box struct {
	X1 float32 `json:"x1" yaml:"x1"`
	Y1 float32 `json:"y1" yaml:"y1"`
	X2 float32 `json:"x2" yaml:"x2"`
	Y2 float32 `json:"y2" yaml:"y2"`
}

// BoxFromCenter converts a centre/size rectangle into corner form.
//
// Arguments:
//   - cx, cy: The centre of the box.
//   - w, h: The width and height of the box.
//
// Returns:
//   - Box: The corner-form box.
//
// Example:
//
// ```go
//
//	box := BoxFromCenter(50, 50, 20, 10) // Box{X1: 40, Y1: 45, X2: 60, Y2: 55}
//
// ```
func BoxFromCenter(cx, cy, w, h float32) Box {
	return Box{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// Center returns the box in centre/size form.
func (b Box) Center() (cx, cy, w, h float32) {
	w = b.X2 - b.X1
	h = b.Y2 - b.Y1
	return b.X1 + w/2, b.Y1 + h/2, w, h
}

// Width of the box.
func (b Box) Width() float32 { return b.X2 - b.X1 }

// Height of the box.
func (b Box) Height() float32 { return b.Y2 - b.Y1 }

// Area returns the area of the box, 0 for degenerate boxes.
func (b Box) Area() float32 {
	return math32.Max(b.Width(), 0) * math32.Max(b.Height(), 0)
}

// Translate returns a copy of the box moved by (dx, dy).
func (b Box) Translate(dx, dy float32) Box {
	return Box{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Validate checks that the box coordinates are finite and ordered.
//
// Returns:
//   - error: ErrInvalidBox (wrapped with the offending coordinates) if max < min on either axis.
func (b Box) Validate() error {
	for _, v := range [...]float32{b.X1, b.Y1, b.X2, b.Y2} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return errors.Wrapf(ErrInvalidBox, "non-finite coordinate in %s", b)
		}
	}
	if b.X2 < b.X1 || b.Y2 < b.Y1 {
		return errors.Wrapf(ErrInvalidBox, "max < min in %s", b)
	}
	return nil
}

// ToRect converts the box to an image.Rectangle, truncating fractional pixels.
func (b Box) ToRect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)).Canon()
}

func (b Box) String() string {
	return fmt.Sprintf("(%.2f, %.2f), (%.2f, %.2f)", b.X1, b.Y1, b.X2, b.Y2)
}

// Rect is an integer pixel region, used for tiles.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// ToImageRect converts the region to an image.Rectangle.
func (r Rect) ToImageRect() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// CalculateIoU computes the Intersection over Union of two boxes.
//
//	IoU = Area of Intersection / Area of Union
//
// The intersection starts at the maximum of the two top-left corners and ends at the
// minimum of the two bottom-right corners. If its width or height is zero or negative
// the boxes do not overlap and 0 is returned. The union follows inclusion-exclusion:
//
//	Area(Union) = Area(A) + Area(B) - Area(Intersection)
//
// Degenerate (zero-area) boxes have IoU 0 with every box, including an identical
// degenerate box, so the result never divides by zero.
//
// Arguments:
//   - a: The first box.
//   - b: The second box.
//
// Returns:
//   - float64: A value in [0, 1]. IoU(a, b) == IoU(b, a).
//
// Example Usage:
// ```go
//
//	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Box{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := CalculateIoU(a, b) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(a, b Box) float64 {
	interW := math32.Min(a.X2, b.X2) - math32.Max(a.X1, b.X1)
	interH := math32.Min(a.Y2, b.Y2) - math32.Max(a.Y1, b.Y1)
	if interW <= 0 || interH <= 0 {
		return 0
	}

	// Accumulate in float64 so that large coordinates keep their precision.
	inter := float64(interW) * float64(interH)
	union := area64(a) + area64(b) - inter
	if union <= 0 {
		return 0
	}

	return math.Min(inter/union, 1)
}

func area64(b Box) float64 {
	return math.Max(float64(b.X2)-float64(b.X1), 0) * math.Max(float64(b.Y2)-float64(b.Y1), 0)
}

// IoUMatrix computes the pairwise IoU between two sets of boxes.
//
// Arguments:
//   - a: N boxes.
//   - b: M boxes.
//
// Returns:
//   - [][]float64: An N×M matrix where m[i][j] = CalculateIoU(a[i], b[j]).
func IoUMatrix(a, b []Box) [][]float64 {
	m := make([][]float64, len(a))
	for i := range a {
		row := make([]float64, len(b))
		for j := range b {
			row[j] = CalculateIoU(a[i], b[j])
		}
		m[i] = row
	}
	return m
}
