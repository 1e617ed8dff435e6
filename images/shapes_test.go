package images

import (
	"image"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIoU_Correctness validates the IoU implementation against known test cases
func TestIoU_Correctness(t *testing.T) {
	tests := []struct {
		name     string
		r1       Box
		r2       Box
		expected float64
	}{
		{"Identical boxes", Box{0, 0, 100, 100}, Box{0, 0, 100, 100}, 1.0},
		{"No overlap", Box{0, 0, 100, 100}, Box{200, 200, 300, 300}, 0.0},
		{"Touching edges", Box{0, 0, 100, 100}, Box{100, 0, 200, 100}, 0.0},
		// intersection=2500, union=10000+10000-2500=17500
		{"Half overlap", Box{0, 0, 100, 100}, Box{50, 50, 150, 150}, 1.0 / 7.0},
		// intersection=100, union=19900
		{"Small overlap", Box{0, 0, 100, 100}, Box{90, 90, 190, 190}, 100.0 / 19900.0},
		{"One inside other", Box{0, 0, 100, 100}, Box{25, 25, 75, 75}, 0.25},
		{"Fractional", Box{0.5, 0.5, 1.5, 1.5}, Box{1, 0.5, 2, 1.5}, 1.0 / 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateIoU(tt.r1, tt.r2)
			assert.InDelta(t, tt.expected, result, 1e-6)

			// IoU(A, B) must equal IoU(B, A).
			assert.Equal(t, result, CalculateIoU(tt.r2, tt.r1), "IoU not symmetric")
		})
	}
}

// TestIoU_vs_ImageRectangle compares integral boxes against image.Rectangle arithmetic.
func TestIoU_vs_ImageRectangle(t *testing.T) {
	testCases := []struct {
		name string
		r1   image.Rectangle
		r2   image.Rectangle
	}{
		{"No overlap", image.Rect(0, 0, 100, 100), image.Rect(200, 200, 300, 300)},
		{"Partial overlap", image.Rect(0, 0, 100, 100), image.Rect(50, 50, 150, 150)},
		{"Full overlap", image.Rect(50, 50, 150, 150), image.Rect(50, 50, 150, 150)},
		{"Large boxes", image.Rect(0, 0, 1920, 1080), image.Rect(960, 540, 1920, 1080)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b1 := Box{float32(tc.r1.Min.X), float32(tc.r1.Min.Y), float32(tc.r1.Max.X), float32(tc.r1.Max.Y)}
			b2 := Box{float32(tc.r2.Min.X), float32(tc.r2.Min.Y), float32(tc.r2.Max.X), float32(tc.r2.Max.Y)}

			assert.InDelta(t, imageRectangleIoU(tc.r1, tc.r2), CalculateIoU(b1, b2), 1e-9)
		})
	}
}

func imageRectangleIoU(r1, r2 image.Rectangle) float64 {
	intersect := r1.Intersect(r2)
	if intersect.Empty() {
		return 0.0
	}

	intersectArea := intersect.Dx() * intersect.Dy()
	union := r1.Dx()*r1.Dy() + r2.Dx()*r2.Dy() - intersectArea

	return float64(intersectArea) / float64(union)
}

// TestIoU_EdgeCases tests degenerate boxes and boundary conditions.
func TestIoU_EdgeCases(t *testing.T) {
	tests := []struct {
		name     string
		r1       Box
		r2       Box
		expected float64
	}{
		{"Zero area box 1", Box{0, 0, 0, 0}, Box{0, 0, 100, 100}, 0},
		{"Zero area box 2", Box{0, 0, 100, 100}, Box{50, 50, 50, 50}, 0},
		{"Identical degenerate", Box{10, 10, 10, 10}, Box{10, 10, 10, 10}, 0},
		{"Degenerate line", Box{0, 0, 100, 0}, Box{0, 0, 100, 0}, 0},
		{"Negative coordinates", Box{-100, -100, 0, 0}, Box{-50, -50, 50, 50}, 2500.0 / 17500.0},
		{"Very large coordinates", Box{0, 0, 999999, 999999}, Box{0, 0, 999999, 999999}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateIoU(tt.r1, tt.r2)
			assert.False(t, math.IsNaN(result))
			assert.GreaterOrEqual(t, result, 0.0)
			assert.LessOrEqual(t, result, 1.0)
			assert.InDelta(t, tt.expected, result, 1e-6)
		})
	}
}

func TestIoUMatrix(t *testing.T) {
	a := []Box{{0, 0, 10, 10}, {20, 20, 30, 30}}
	b := []Box{{0, 0, 10, 10}, {5, 5, 15, 15}, {100, 100, 110, 110}}
	aCopy := append([]Box(nil), a...)

	m := IoUMatrix(a, b)
	require.Len(t, m, 2)
	for _, row := range m {
		require.Len(t, row, 3)
	}

	assert.InDelta(t, 1.0, m[0][0], 1e-9)
	assert.InDelta(t, 25.0/175.0, m[0][1], 1e-9)
	assert.Zero(t, m[0][2])
	assert.Zero(t, m[1][0])
	assert.Equal(t, aCopy, a, "inputs must not be mutated")

	assert.Empty(t, IoUMatrix(nil, b))
}

func TestBoxCenterRoundTrip(t *testing.T) {
	box := BoxFromCenter(50, 40, 20, 10)
	assert.Equal(t, Box{40, 35, 60, 45}, box)

	cx, cy, w, h := box.Center()
	assert.Equal(t, []float32{50, 40, 20, 10}, []float32{cx, cy, w, h})
	assert.Equal(t, float32(200), box.Area())
}

func TestBoxValidate(t *testing.T) {
	assert.NoError(t, Box{0, 0, 10, 10}.Validate())
	assert.NoError(t, Box{5, 5, 5, 5}.Validate())

	err := Box{10, 0, 0, 10}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidBox))

	err = Box{0, 0, float32(math.NaN()), 10}.Validate()
	assert.True(t, errors.Is(err, ErrInvalidBox))
}

func TestBoxTranslate(t *testing.T) {
	box := Box{1, 2, 3, 4}
	moved := box.Translate(10, 20)

	assert.Equal(t, Box{11, 22, 13, 24}, moved)
	assert.Equal(t, Box{1, 2, 3, 4}, box)
	assert.InDelta(t, 1.0, CalculateIoU(box, moved.Translate(-10, -20)), 1e-9)
}
