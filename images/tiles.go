package images

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// TileConfig describes how large images are split before inference.
type TileConfig struct {
	// Enabled turns tiling on. When false the whole image is evaluated at once.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Width and Height of each tile in pixels.
	Width  int `json:"width"  yaml:"width"`
	Height int `json:"height" yaml:"height"`
	// Overlap is the minimum overlap between neighbouring tiles in pixels.
	Overlap int `json:"overlap" yaml:"overlap"`
}

// DefaultTileConfig returns 600x600 tiles with a 256 pixel minimum overlap.
func DefaultTileConfig() TileConfig {
	return TileConfig{
		Enabled: false,
		Width:   600,
		Height:  600,
		Overlap: 256,
	}
}

// Validate checks that the tile configuration can produce splits.
func (c TileConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("tile size must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Overlap < 0 || c.Overlap >= c.Width || c.Overlap >= c.Height {
		return errors.Errorf("tile overlap %d must be in [0, %d)", c.Overlap, min(c.Width, c.Height))
	}
	return nil
}

// Span is a half-open [Start, End) range along one axis.
type Span struct {
	Start, End int
}

// Tile is one region of a split image and its pixel offset in the source image.
type Tile struct {
	Offset image.Point
	Region Rect
}

// AxisSplits divides an axis of length size into overlapping spans of evalSize.
//
// When evalSize covers the axis a single span is returned. Otherwise the number of spans is
// the smallest n with n*evalSize - (n-1)*minOverlap >= size, and the actual overlap is spread
// evenly so that the last span ends exactly at size.
//
// Arguments:
//   - size: The axis length in pixels.
//   - evalSize: The span length in pixels.
//   - minOverlap: The minimum overlap between neighbouring spans.
//
// Returns:
//   - []Span: Spans ordered by start offset.
//
// Example:
//
// ```go
//
//	AxisSplits(1000, 600, 200) // [{0 600} {400 1000}]
//
// ```
func AxisSplits(size, evalSize, minOverlap int) []Span {
	if evalSize >= size {
		return []Span{{Start: 0, End: size}}
	}

	n := int(math.Ceil(float64(size-minOverlap) / float64(evalSize-minOverlap)))
	overlap := float64(n*evalSize-size) / float64(n-1)
	step := float64(evalSize) - overlap

	spans := make([]Span, n)
	for i := range spans {
		offset := int(float64(i) * step)
		spans[i] = Span{Start: offset, End: offset + evalSize}
	}
	return spans
}

// ImageSplits returns the tiles covering an image of the given size, x-major.
func ImageSplits(size image.Point, cfg TileConfig) []Tile {
	if !cfg.Enabled {
		return []Tile{{Region: Rect{X2: size.X, Y2: size.Y}}}
	}

	xs := AxisSplits(size.X, cfg.Width, cfg.Overlap)
	ys := AxisSplits(size.Y, cfg.Height, cfg.Overlap)

	tiles := make([]Tile, 0, len(xs)*len(ys))
	for _, x := range xs {
		for _, y := range ys {
			tiles = append(tiles, Tile{
				Offset: image.Point{X: x.Start, Y: y.Start},
				Region: Rect{X1: x.Start, Y1: y.Start, X2: x.End, Y2: y.End},
			})
		}
	}
	return tiles
}

// subImager is implemented by every concrete image type in the standard library.
type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// ImageTile is a sub-image and its offset in the source image.
type ImageTile struct {
	Tile
	Image image.Image
}

// SplitImage cuts img into tiles without copying pixels.
//
// Returns:
//   - []ImageTile: One entry per tile, in ImageSplits order.
//   - error: If the image type does not support SubImage.
func SplitImage(img image.Image, cfg TileConfig) ([]ImageTile, error) {
	bounds := img.Bounds()
	tiles := ImageSplits(bounds.Size(), cfg)
	if len(tiles) == 1 && !cfg.Enabled {
		return []ImageTile{{Tile: tiles[0], Image: img}}, nil
	}

	sub, ok := img.(subImager)
	if !ok {
		return nil, errors.Errorf("image type %T cannot be split", img)
	}

	out := make([]ImageTile, len(tiles))
	for i, t := range tiles {
		r := t.Region.ToImageRect().Add(bounds.Min)
		out[i] = ImageTile{Tile: t, Image: sub.SubImage(r)}
	}
	return out, nil
}

// MatTile is a region of a gocv.Mat and its offset in the source frame.
type MatTile struct {
	Tile
	Mat gocv.Mat
}

// SplitMat cuts a frame into tiles using gocv regions. Each returned Mat shares memory with
// mat and must be closed by the caller.
func SplitMat(mat gocv.Mat, cfg TileConfig) []MatTile {
	tiles := ImageSplits(image.Point{X: mat.Cols(), Y: mat.Rows()}, cfg)

	out := make([]MatTile, len(tiles))
	for i, t := range tiles {
		out[i] = MatTile{Tile: t, Mat: mat.Region(t.Region.ToImageRect())}
	}
	return out
}
