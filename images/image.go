package images

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatBMP is the BMP image format.
	FormatBMP ImageFormat = "bmp"
	// FormatTIFF is the TIFF image format.
	FormatTIFF ImageFormat = "tiff"
)

// FormatFromPath infers the image format from a file extension.
func FormatFromPath(path string) (ImageFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".png":
		return FormatPNG, nil
	case ".webp":
		return FormatWebP, nil
	case ".bmp":
		return FormatBMP, nil
	case ".tif", ".tiff":
		return FormatTIFF, nil
	}
	return "", errors.Errorf("unsupported image extension %q", filepath.Ext(path))
}

// Image is an encoded image read from disk.
type Image struct {
	// Path is the file the image was read from.
	Path string `json:"path" yaml:"path"`
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"-" yaml:"-"`
	// The width of the image, set by Decode.
	Width int `json:"width" yaml:"width"`
	// The height of the image, set by Decode.
	Height int `json:"height" yaml:"height"`
}

// Decode decodes the image data and records its size.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: If the data is empty or cannot be decoded as Format.
func (i *Image) Decode() (image.Image, error) {
	if len(i.Data) == 0 {
		return nil, errors.Errorf("%s: empty image data", i.Path)
	}

	var (
		img image.Image
		err error
	)
	r := bytes.NewReader(i.Data)
	switch i.Format {
	case FormatJPEG:
		img, err = jpeg.Decode(r)
	case FormatPNG:
		img, err = png.Decode(r)
	case FormatWebP:
		img, err = webp.Decode(r)
	case FormatBMP:
		img, err = bmp.Decode(r)
	case FormatTIFF:
		img, err = tiff.Decode(r)
	default:
		return nil, errors.Errorf("%s: unsupported image format %q", i.Path, i.Format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", i.Path)
	}

	size := img.Bounds().Size()
	i.Width, i.Height = size.X, size.Y
	return img, nil
}

// DecodeMat decodes the image into a BGR gocv.Mat. The caller closes the Mat.
func (i *Image) DecodeMat() (gocv.Mat, error) {
	mat, err := gocv.IMDecode(i.Data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), errors.Wrapf(err, "failed to decode %s", i.Path)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), errors.Errorf("failed to decode %s", i.Path)
	}
	i.Width, i.Height = mat.Cols(), mat.Rows()
	return mat, nil
}
