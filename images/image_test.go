package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path     string
		expected ImageFormat
		wantErr  bool
	}{
		{"a/frame-1.jpg", FormatJPEG, false},
		{"a/frame-1.JPEG", FormatJPEG, false},
		{"b.png", FormatPNG, false},
		{"c.webp", FormatWebP, false},
		{"d.bmp", FormatBMP, false},
		{"e.TIF", FormatTIFF, false},
		{"f.gif", "", true},
		{"noext", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFromPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestImageDecode(t *testing.T) {
	src := testImage(32, 24)

	var jpg, pngBuf, webpBuf, bmpBuf, tiffBuf bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, src, nil))
	require.NoError(t, png.Encode(&pngBuf, src))
	require.NoError(t, webp.Encode(&webpBuf, src, &webp.Options{Lossless: true}))
	require.NoError(t, bmp.Encode(&bmpBuf, src))
	require.NoError(t, tiff.Encode(&tiffBuf, src, nil))

	for _, tt := range []struct {
		format ImageFormat
		data   []byte
	}{
		{FormatJPEG, jpg.Bytes()},
		{FormatPNG, pngBuf.Bytes()},
		{FormatWebP, webpBuf.Bytes()},
		{FormatBMP, bmpBuf.Bytes()},
		{FormatTIFF, tiffBuf.Bytes()},
	} {
		t.Run(string(tt.format), func(t *testing.T) {
			img := &Image{Path: "test", Format: tt.format, Data: tt.data}
			decoded, err := img.Decode()
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 32, 24), decoded.Bounds())
			assert.Equal(t, 32, img.Width)
			assert.Equal(t, 24, img.Height)
		})
	}

	_, err := (&Image{Format: FormatPNG}).Decode()
	assert.Error(t, err)
	_, err = (&Image{Format: FormatPNG, Data: []byte("not a png")}).Decode()
	assert.Error(t, err)
	_, err = (&Image{Format: "gif", Data: []byte{1}}).Decode()
	assert.Error(t, err)
}

func TestImageDecodeMat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(16, 8)))

	img := &Image{Path: "mat.png", Format: FormatPNG, Data: buf.Bytes()}
	mat, err := img.DecodeMat()
	require.NoError(t, err)
	defer mat.Close()
	assert.Equal(t, 16, mat.Cols())
	assert.Equal(t, 8, mat.Rows())
	assert.Equal(t, 16, img.Width)
}
