package evaluate

import (
	"math"
	"os"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-eval/images"
)

// Config holds the evaluation parameters. It is passed by value and never modified by the
// evaluator.
type Config struct {
	// IoUThresholds to match at. Must contain 0.5, which drives the operating points.
	IoUThresholds []float64 `json:"iou_thresholds" yaml:"iou_thresholds"`
	// MarginPercent is the lower/upper operating point offset, as a percentage of the
	// ground-truth instance count.
	MarginPercent float64 `json:"margin_percent" yaml:"margin_percent"`
	// CondenseSamples is the number of recall steps kept in reported PR curves.
	CondenseSamples int `json:"condense_samples" yaml:"condense_samples"`
	// Workers bounds the number of concurrent (class, threshold) jobs. 0 means NumCPU.
	Workers int `json:"workers" yaml:"workers"`
	// Tiling configures splitting of large images before inference.
	Tiling images.TileConfig `json:"tiling" yaml:"tiling"`
	// MaxDetections caps the detections kept per image, shared between its tiles.
	MaxDetections int `json:"max_detections" yaml:"max_detections"`
}

// DefaultIoUThresholds returns 0.30, 0.35, ..., 0.95.
func DefaultIoUThresholds() []float64 {
	thresholds := make([]float64, 0, 14)
	for p := 30; p < 100; p += 5 {
		thresholds = append(thresholds, float64(p)/100)
	}
	return thresholds
}

// DefaultConfig returns the standard evaluation configuration.
//
// Returns:
//   - Config: IoU 0.30..0.95, 10% margin, 400 curve samples, tiling disabled.
//
// @example
// cfg := DefaultConfig()
// cfg.Tiling.Enabled = true
func DefaultConfig() Config {
	return Config{
		IoUThresholds:   DefaultIoUThresholds(),
		MarginPercent:   10,
		CondenseSamples: 400,
		Workers:         0,
		Tiling:          images.DefaultTileConfig(),
		MaxDetections:   500,
	}
}

// LoadConfig reads a YAML configuration file. Fields missing from the file keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config")
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration over DefaultConfig and validates it.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.IoUThresholds) == 0 {
		return errors.New("at least one IoU threshold is required")
	}
	seen := make(map[int]bool, len(c.IoUThresholds))
	for _, t := range c.IoUThresholds {
		if !(t > 0 && t <= 1) {
			return errors.Errorf("IoU threshold %v outside (0, 1]", t)
		}
		if seen[Percent(t)] {
			return errors.Errorf("duplicate IoU threshold %v", t)
		}
		seen[Percent(t)] = true
	}
	if !seen[50] {
		return errors.New("IoU thresholds must include 0.5")
	}
	if c.MarginPercent < 0 || c.MarginPercent > 100 {
		return errors.Errorf("margin %v%% outside [0, 100]", c.MarginPercent)
	}
	if c.CondenseSamples < 1 {
		return errors.Errorf("condense samples must be positive, got %d", c.CondenseSamples)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.MaxDetections < 0 {
		return errors.Errorf("max detections must not be negative, got %d", c.MaxDetections)
	}
	return errors.Wrap(c.Tiling.Validate(), "tiling")
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Percent converts an IoU threshold to its integer percentage key (0.5 -> 50).
func Percent(threshold float64) int {
	return int(math.Round(threshold * 100))
}
