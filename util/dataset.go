package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-eval/evaluate"
	"github.com/nvr-ai/go-eval/images"
	"github.com/nvr-ai/go-eval/models"
)

// Annotation is one labelled box in an annotation file.
type Annotation struct {
	Box   images.Box `json:"box"   yaml:"box"`
	Label int        `json:"label" yaml:"label"`
}

// AnnotatedImage lists the ground truth of one image.
type AnnotatedImage struct {
	ID          int          `json:"id"          yaml:"id"`
	File        string       `json:"file"        yaml:"file"`
	Width       int          `json:"width"       yaml:"width"`
	Height      int          `json:"height"      yaml:"height"`
	Annotations []Annotation `json:"annotations" yaml:"annotations"`
}

// annotationFile is the on-disk layout of a dataset. Either Classes or ClassSet is given;
// ClassSet names a built-in registry such as "coco" or "voc".
type annotationFile struct {
	ClassSet string               `json:"class_set" yaml:"class_set"`
	Classes  []models.OutputClass `json:"classes"   yaml:"classes"`
	Images   []AnnotatedImage     `json:"images"    yaml:"images"`
}

// Dataset is a loaded evaluation set.
type Dataset struct {
	Classes *models.ClassSet
	Images  []AnnotatedImage
	Truths  []evaluate.GroundTruth
}

// Image returns the image with the given id.
func (d *Dataset) Image(id int) (AnnotatedImage, bool) {
	i := sort.Search(len(d.Images), func(i int) bool { return d.Images[i].ID >= id })
	if i < len(d.Images) && d.Images[i].ID == id {
		return d.Images[i], true
	}
	return AnnotatedImage{}, false
}

// unmarshal decodes JSON or YAML depending on the file extension.
func unmarshal(path string, data []byte, v interface{}) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, v)
	default:
		return json.Unmarshal(data, v)
	}
}

// LoadAnnotations reads a JSON or YAML annotation file.
//
// Arguments:
//   - path: The annotation file. ".yaml" and ".yml" are read as YAML, anything else as JSON.
//
// Returns:
//   - *Dataset: Images ordered by id and their ground truth.
//   - error: If the file cannot be read, image ids repeat or a box is invalid.
func LoadAnnotations(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read annotations")
	}

	var file annotationFile
	if err := unmarshal(path, data, &file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}

	ds := &Dataset{}
	switch {
	case len(file.Classes) > 0:
		if ds.Classes, err = models.NewClassSet(file.Classes...); err != nil {
			return nil, errors.Wrapf(err, "%s", path)
		}
	case file.ClassSet != "":
		set, ok := models.Lookup(file.ClassSet)
		if !ok {
			return nil, errors.Errorf("%s: unknown class set %q", path, file.ClassSet)
		}
		ds.Classes = set
	default:
		return nil, errors.Errorf("%s: no classes defined", path)
	}

	ds.Images = append(ds.Images, file.Images...)
	sort.SliceStable(ds.Images, func(i, j int) bool { return ds.Images[i].ID < ds.Images[j].ID })

	for i, img := range ds.Images {
		if i > 0 && ds.Images[i-1].ID == img.ID {
			return nil, errors.Errorf("%s: duplicate image id %d", path, img.ID)
		}
		for k, a := range img.Annotations {
			g := evaluate.GroundTruth{Box: a.Box, Label: a.Label, Image: img.ID}
			if err := g.Validate(); err != nil {
				return nil, errors.Wrapf(err, "%s: image %d annotation %d", path, img.ID, k)
			}
			ds.Truths = append(ds.Truths, g)
		}
	}

	return ds, nil
}

// LoadDetections reads a JSON or YAML list of detections.
func LoadDetections(path string) ([]evaluate.Detection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read detections")
	}

	var detections []evaluate.Detection
	if err := unmarshal(path, data, &detections); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	for i, d := range detections {
		if err := d.Validate(); err != nil {
			return nil, errors.Wrapf(err, "%s: detection %d", path, i)
		}
	}
	return detections, nil
}

// SaveDetections writes detections as JSON, e.g. to cache an inference run.
func SaveDetections(path string, detections []evaluate.Detection) error {
	data, err := json.Marshal(detections)
	if err != nil {
		return errors.Wrap(err, "failed to encode detections")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "failed to write %s", path)
}

// LoadThresholds reads operating points saved by SaveThresholds. Classes that are no longer
// registered are skipped.
func LoadThresholds(path string, classes *models.ClassSet) (map[int]evaluate.Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read thresholds")
	}

	var byName map[string]evaluate.Thresholds
	if err := json.Unmarshal(data, &byName); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}

	out := make(map[int]evaluate.Thresholds, len(byName))
	for name, t := range byName {
		id, err := classes.ID(name)
		if err != nil {
			continue
		}
		out[id] = t
	}
	return out, nil
}

// SaveThresholds writes per-class operating points keyed by class name, for the next epoch.
func SaveThresholds(path string, thresholds map[int]evaluate.Thresholds, classes *models.ClassSet) error {
	byName := make(map[string]evaluate.Thresholds, len(thresholds))
	for id, t := range thresholds {
		name, err := classes.Name(id)
		if err != nil {
			return err
		}
		byName[name] = t
	}

	data, err := json.MarshalIndent(byName, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode thresholds")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "failed to write %s", path)
}
