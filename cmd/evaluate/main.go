package main

import (
	"context"
	"flag"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-eval/evaluate"
	"github.com/nvr-ai/go-eval/inference"
	"github.com/nvr-ai/go-eval/models/postprocess"
	"github.com/nvr-ai/go-eval/report"
	"github.com/nvr-ai/go-eval/util"
)

type options struct {
	config        string
	annotations   string
	detections    string
	images        string
	model         string
	name          string
	epoch         int
	output        string
	redis         string
	thresholdsIn  string
	thresholdsOut string
	saveDetections string
	opencv        bool
	timeout       time.Duration
}

// openEngine builds the inference engine for a dataset.
var openEngine = newEngine

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "", "Path to evaluation YAML configuration")
	flag.StringVar(&opts.annotations, "annotations", "", "Path to ground truth annotations (JSON or YAML)")
	flag.StringVar(&opts.detections, "detections", "", "Path to precomputed detections; skips inference")
	flag.StringVar(&opts.images, "images", "", "Directory holding the annotated images")
	flag.StringVar(&opts.model, "model", "", "Path to ONNX model file")
	flag.StringVar(&opts.name, "name", "validate", "Metric name prefix")
	flag.IntVar(&opts.epoch, "epoch", 0, "Epoch or step the metrics are recorded at")
	flag.StringVar(&opts.output, "output", "", "Append metrics to this JSON lines file")
	flag.StringVar(&opts.redis, "redis", "", "Redis address to publish metrics to")
	flag.StringVar(&opts.thresholdsIn, "thresholds-in", "", "Operating points of the previous epoch")
	flag.StringVar(&opts.thresholdsOut, "thresholds-out", "", "Write this epoch's operating points here")
	flag.StringVar(&opts.saveDetections, "save-detections", "", "Write the detections of an inference run here")
	flag.BoolVar(&opts.opencv, "opencv", false, "Decode and tile images with OpenCV")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Minute, "Inference timeout")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if err := run(ctx, opts, log); err != nil {
		log.WithError(err).Fatal("evaluation failed")
	}
}

func run(ctx context.Context, opts options, log logrus.FieldLogger) error {
	if opts.annotations == "" {
		return errors.New("annotations path is required (-annotations)")
	}
	if opts.detections == "" && opts.model == "" {
		return errors.New("either detections (-detections) or a model (-model) is required")
	}

	cfg := evaluate.DefaultConfig()
	if opts.config != "" {
		var err error
		if cfg, err = evaluate.LoadConfig(opts.config); err != nil {
			return err
		}
	}

	ds, err := util.LoadAnnotations(opts.annotations)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"images":  len(ds.Images),
		"truths":  len(ds.Truths),
		"classes": ds.Classes.Len(),
	}).Info("loaded annotations")

	var detections []evaluate.Detection
	if opts.detections != "" {
		if detections, err = util.LoadDetections(opts.detections); err != nil {
			return err
		}
	} else {
		engine, err := openEngine(opts, cfg, ds, log)
		if err != nil {
			return err
		}
		detections, err = predict(ctx, engine, opts, ds, log)
		engine.Close()
		if err != nil {
			return err
		}
		if opts.saveDetections != "" {
			if err := util.SaveDetections(opts.saveDetections, detections); err != nil {
				return err
			}
		}
	}
	if unknown := unknownImages(ds, detections); len(unknown) > 0 {
		log.WithField("images", unknown).Warn("detections reference images without annotations")
	}

	var previous map[int]evaluate.Thresholds
	if opts.thresholdsIn != "" {
		if previous, err = util.LoadThresholds(opts.thresholdsIn, ds.Classes); err != nil {
			return err
		}
	}

	evaluator, err := evaluate.NewEvaluator(cfg, ds.Classes, log)
	if err != nil {
		return err
	}

	start := time.Now()
	summary, err := evaluator.Run(detections, ds.Truths, previous)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"detections": len(detections),
		"elapsed":    time.Since(start).String(),
		"warnings":   len(summary.Warnings),
	}).Debug("evaluation complete")

	sinks := []evaluate.Sink{report.NewLogger(log, logrus.DebugLevel)}
	if opts.output != "" {
		jsonl, err := report.OpenJSONLines(opts.output)
		if err != nil {
			return err
		}
		sinks = append(sinks, jsonl.WithRun(report.NewRunID()))
	}
	var history *report.Redis
	if opts.redis != "" {
		history = report.NewRedis(report.NewRedisPool(opts.redis, 4), opts.name)
		sinks = append(sinks, history)
	}
	sink := report.NewMulti(sinks...)
	defer sink.Close()

	evaluate.Report(sink, opts.name, summary, ds.Classes, opts.epoch, log)
	evaluate.LogSummary(log, opts.name, opts.epoch, summary)
	if history != nil {
		logBest(history, opts.name+"/AP", opts.epoch, log)
	}

	if opts.thresholdsOut != "" {
		if err := util.SaveThresholds(opts.thresholdsOut, summary.Thresholds(), ds.Classes); err != nil {
			return err
		}
	}
	return nil
}

// newEngine opens the ONNX model and wraps it for tiling.
func newEngine(opts options, cfg evaluate.Config, ds *util.Dataset, log logrus.FieldLogger) (*inference.TiledEngine, error) {
	onnxCfg := inference.DefaultONNXConfig(opts.model)
	onnxCfg.Layout.NumClasses = ds.Classes.Len()

	model, err := inference.NewONNXEngine(onnxCfg, log)
	if err != nil {
		return nil, err
	}

	merge := postprocess.DefaultNMSConfig()
	engine, err := inference.NewTiledEngine(model, inference.TiledOptions{
		Tiling:        cfg.Tiling,
		MaxDetections: cfg.MaxDetections,
		Merge:         &merge,
	}, log)
	if err != nil {
		model.Close()
		return nil, err
	}
	return engine, nil
}

// predict runs the engine over every annotated image.
func predict(ctx context.Context, engine *inference.TiledEngine, opts options, ds *util.Dataset, log logrus.FieldLogger) ([]evaluate.Detection, error) {
	var detections []evaluate.Detection
	for _, entry := range ds.Images {
		file, err := util.LoadImageFile(filepath.Join(opts.images, entry.File))
		if err != nil {
			return nil, err
		}

		var results []postprocess.Result
		if opts.opencv {
			mat, err := file.DecodeMat()
			if err != nil {
				return nil, err
			}
			results, err = engine.PredictMat(ctx, mat)
			mat.Close()
			if err != nil {
				return nil, errors.Wrapf(err, "image %d", entry.ID)
			}
		} else {
			img, err := file.Decode()
			if err != nil {
				return nil, err
			}
			if results, err = engine.Predict(ctx, img); err != nil {
				return nil, errors.Wrapf(err, "image %d", entry.ID)
			}
		}

		detections = append(detections, evaluate.DetectionsFromResults(entry.ID, results)...)
		log.WithFields(logrus.Fields{"image": entry.ID, "detections": len(results)}).Debug("predicted")
	}
	return detections, nil
}

// unknownImages lists, in ascending order, the image ids of detections missing from ds.
func unknownImages(ds *util.Dataset, detections []evaluate.Detection) []int {
	seen := map[int]bool{}
	var out []int
	for _, d := range detections {
		if seen[d.Image] {
			continue
		}
		seen[d.Image] = true
		if _, ok := ds.Image(d.Image); !ok {
			out = append(out, d.Image)
		}
	}
	sort.Ints(out)
	return out
}

type scalarHistory interface {
	ScalarHistory(name string) (map[int]float64, error)
}

// logBest logs the best earlier value of a scalar next to the current epoch.
func logBest(h scalarHistory, name string, epoch int, log logrus.FieldLogger) {
	values, err := h.ScalarHistory(name)
	if err != nil {
		log.WithError(err).Warn("failed to read metric history")
		return
	}

	bestStep, found := 0, false
	for step, v := range values {
		if step == epoch {
			continue
		}
		if !found || v > values[bestStep] || (v == values[bestStep] && step < bestStep) {
			bestStep, found = step, true
		}
	}
	if !found {
		return
	}
	log.WithFields(logrus.Fields{
		"metric":  name,
		"current": values[epoch],
		"best":    values[bestStep],
		"step":    bestStep,
	}).Info("best earlier epoch")
}
