// Package util - Loading evaluation datasets from disk.
package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-eval/images"
)

// ImageFile represents an image file.
type ImageFile struct {
	images.Image
	// Frame is the frame number parsed from a "frame-N" file name, or the position of the file
	// in name order.
	Frame int
}

// LoadImageFile reads one image file. Its format comes from the extension; Frame is -1.
func LoadImageFile(path string) (ImageFile, error) {
	format, err := images.FormatFromPath(path)
	if err != nil {
		return ImageFile{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageFile{}, errors.Wrapf(err, "failed to read %s", path)
	}
	return ImageFile{
		Image: images.Image{Path: path, Format: format, Data: data},
		Frame: -1,
	}, nil
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile, ordered by frame number and then by name.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", dir)
	}

	var out []ImageFile
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if _, err := images.FormatFromPath(file.Name()); err != nil {
			continue
		}

		img, err := LoadImageFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	for i := range out {
		out[i].Frame = i
		name := filepath.Base(out[i].Path)
		trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "frame-"), filepath.Ext(name))
		if frame, err := strconv.Atoi(trimmed); err == nil && trimmed != name {
			out[i].Frame = frame
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Frame < out[j].Frame })

	return out, nil
}
