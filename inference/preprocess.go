package inference

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// PrepareInput resizes img to width x height and writes it into dst as planar RGB in [0, 1].
//
// Arguments:
//   - img: The image to prepare. Only its Bounds() region is read.
//   - dst: The destination tensor, shaped [1, 3, height, width].
//   - width, height: The model input size.
//
// Returns:
//   - error: If the tensor is too small.
func PrepareInput(img image.Image, dst *ort.Tensor[float32], width, height int) error {
	return fillInput(img, dst.GetData(), width, height)
}

func fillInput(img image.Image, data []float32, width, height int) error {
	channelSize := width * height
	if len(data) < channelSize*3 {
		return errors.Errorf("destination tensor only holds %d floats, needs %d", len(data), channelSize*3)
	}
	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		img = resize.Resize(uint(width), uint(height), img, resize.Lanczos3)
	}

	min := img.Bounds().Min
	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(min.X+x, min.Y+y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(b>>8) / 255.0
			i++
		}
	}
	return nil
}
