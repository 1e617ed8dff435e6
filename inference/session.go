package inference

import (
	"context"
	"image"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-eval/images"
	"github.com/nvr-ai/go-eval/models/postprocess"
)

// Provider selects the ONNX Runtime execution provider.
type Provider string

// Provider constants are the supported execution providers.
const (
	ProviderCPU      Provider = "cpu"
	ProviderCoreML   Provider = "coreml"
	ProviderOpenVINO Provider = "openvino"
)

// OutputFormat selects how the model output is decoded.
type OutputFormat string

const (
	// OutputYOLO is a raw [1, 4+classes, anchors] YOLOv8 head.
	OutputYOLO OutputFormat = "yolo"
	// OutputTable is an end-to-end [1, N, 6] detection table of x1, y1, x2, y2, score and class,
	// as exported by D-FINE and RF-DETR.
	OutputTable OutputFormat = "table"
)

// ONNXConfig describes a YOLO-style ONNX model.
type ONNXConfig struct {
	// ModelPath is the .onnx file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// SharedLibraryPath is the onnxruntime library. Empty uses DefaultSharedLibraryPath.
	SharedLibraryPath string   `json:"shared_library_path" yaml:"shared_library_path"`
	Provider          Provider `json:"provider"            yaml:"provider"`
	InputName         string   `json:"input_name"          yaml:"input_name"`
	OutputName        string   `json:"output_name"         yaml:"output_name"`
	// Output is the output format. Empty means OutputYOLO.
	Output OutputFormat `json:"output" yaml:"output"`
	// Anchors is the number of output columns, 8400 for a 640x640 YOLOv8. For OutputTable it is
	// the number of table rows.
	Anchors        int                    `json:"anchors"          yaml:"anchors"`
	Layout         postprocess.YOLOLayout `json:"layout"           yaml:"layout"`
	NMS            postprocess.NMSConfig  `json:"nms"              yaml:"nms"`
	IntraOpThreads int                    `json:"intra_op_threads" yaml:"intra_op_threads"`
	InterOpThreads int                    `json:"inter_op_threads" yaml:"inter_op_threads"`
}

// DefaultONNXConfig returns the configuration of a 640x640 COCO YOLOv8 export.
func DefaultONNXConfig(modelPath string) ONNXConfig {
	return ONNXConfig{
		ModelPath:  modelPath,
		Provider:   ProviderCPU,
		Output:     OutputYOLO,
		InputName:  "images",
		OutputName: "output0",
		Anchors:    8400,
		Layout: postprocess.YOLOLayout{
			NumClasses:          80,
			InputWidth:          640,
			InputHeight:         640,
			ConfidenceThreshold: 0.25,
		},
		NMS:            postprocess.DefaultNMSConfig(),
		IntraOpThreads: 4,
		InterOpThreads: 2,
	}
}

// Validate checks the configuration without touching the model file.
func (c ONNXConfig) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.InputName == "" || c.OutputName == "" {
		return errors.New("input and output names are required")
	}
	if c.Anchors <= 0 {
		return errors.Errorf("anchors must be positive, got %d", c.Anchors)
	}
	if c.Layout.NumClasses <= 0 || c.Layout.InputWidth <= 0 || c.Layout.InputHeight <= 0 {
		return errors.Errorf("invalid output layout %+v", c.Layout)
	}
	switch c.Provider {
	case "", ProviderCPU, ProviderCoreML, ProviderOpenVINO:
	default:
		return errors.Errorf("unknown provider %q", c.Provider)
	}
	switch c.Output {
	case "", OutputYOLO, OutputTable:
	default:
		return errors.Errorf("unknown output format %q", c.Output)
	}
	return nil
}

// DefaultSharedLibraryPath returns the conventional onnxruntime location for this platform.
func DefaultSharedLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "third_party/onnxruntime.dll"
	case "darwin":
		return "third_party/libonnxruntime.dylib"
	}
	if runtime.GOARCH == "arm64" {
		return "third_party/onnxruntime_arm64.so"
	}
	return "third_party/onnxruntime.so"
}

// Session holds an ONNX Runtime session and the tensors bound to it.
type Session struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

// Close releases the resources associated with the Session.
func (s *Session) Close() {
	if s.Input != nil {
		s.Input.Destroy()
		s.Input = nil
	}
	if s.Output != nil {
		s.Output.Destroy()
		s.Output = nil
	}
	if s.Session != nil {
		s.Session.Destroy()
		s.Session = nil
	}
}

var environment sync.Mutex

func initEnvironment(libPath string) error {
	environment.Lock()
	defer environment.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	return errors.Wrap(ort.InitializeEnvironment(), "error initializing ORT environment")
}

// NewSession opens the model and allocates its input and output tensors.
func NewSession(cfg ONNXConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	libPath := cfg.SharedLibraryPath
	if libPath == "" {
		libPath = DefaultSharedLibraryPath()
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}

	inputShape := ort.NewShape(1, 3, int64(cfg.Layout.InputHeight), int64(cfg.Layout.InputWidth))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	outputShape := ort.NewShape(1, int64(4+cfg.Layout.NumClasses), int64(cfg.Anchors))
	if cfg.Output == OutputTable {
		outputShape = ort.NewShape(1, int64(cfg.Anchors), 6)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := sessionOptions(cfg)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	return &Session{Session: session, Input: inputTensor, Output: outputTensor}, nil
}

func sessionOptions(cfg ONNXConfig) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "error setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "error setting optimization level")
	}

	switch cfg.Provider {
	case ProviderCoreML:
		err = options.AppendExecutionProviderCoreML(0)
	case ProviderOpenVINO:
		err = options.AppendExecutionProviderOpenVINO(map[string]string{
			"device_type": "CPU",
			"precision":   "FP32",
		})
	}
	if err != nil {
		options.Destroy()
		return nil, errors.Wrapf(err, "error enabling %s", cfg.Provider)
	}
	return options, nil
}

// ONNXEngine runs a YOLO-style ONNX model. Calls to Predict are serialised because the
// session tensors are shared.
type ONNXEngine struct {
	mu      sync.Mutex
	cfg     ONNXConfig
	session *Session
	log     logrus.FieldLogger
}

// NewONNXEngine opens the model described by cfg.
//
// Arguments:
//   - cfg: The model configuration.
//   - log: Logger for per-image debug output. nil uses the logrus standard logger.
//
// Returns:
//   - *ONNXEngine: The engine. Close releases the session.
//   - error: If the runtime or model cannot be loaded.
func NewONNXEngine(cfg ONNXConfig, log logrus.FieldLogger) (*ONNXEngine, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	session, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"model":    cfg.ModelPath,
		"provider": cfg.Provider,
		"input":    []int{cfg.Layout.InputWidth, cfg.Layout.InputHeight},
	}).Info("loaded onnx model")
	return &ONNXEngine{cfg: cfg, session: session, log: log}, nil
}

// Predict implements Engine.
func (e *ONNXEngine) Predict(ctx context.Context, img image.Image) ([]postprocess.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, errors.New("engine is closed")
	}
	if err := PrepareInput(img, e.session.Input, e.cfg.Layout.InputWidth, e.cfg.Layout.InputHeight); err != nil {
		return nil, err
	}
	if err := e.session.Session.Run(); err != nil {
		return nil, errors.Wrap(err, "error running ORT session")
	}

	size := img.Bounds().Size()
	return e.decode(e.session.Output.GetData(), size.X, size.Y)
}

func (e *ONNXEngine) decode(output []float32, width, height int) ([]postprocess.Result, error) {
	var (
		results []postprocess.Result
		err     error
	)
	if e.cfg.Output == OutputTable {
		results, err = decodeTable(output, e.cfg.Layout, width, height)
	} else {
		results, err = postprocess.DecodeYOLO(output, e.cfg.Layout, width, height)
	}
	if err != nil {
		return nil, err
	}
	kept := postprocess.ApplyGreedyNMS(results, e.cfg.NMS)
	e.log.WithFields(logrus.Fields{"candidates": len(results), "kept": len(kept)}).Debug("decoded detections")
	return kept, nil
}

// decodeTable reads an end-to-end detection table in model input pixels, drops rows below the
// confidence threshold and scales the rest to width x height.
func decodeTable(output []float32, layout postprocess.YOLOLayout, width, height int) ([]postprocess.Result, error) {
	if len(output)%6 != 0 {
		return nil, errors.Errorf("output of %d values is not a table of 6 columns", len(output))
	}
	table := tensor.New(tensor.WithShape(1, len(output)/6, 6), tensor.WithBacking(output))
	rows, err := postprocess.FromTensor(table)
	if err != nil {
		return nil, err
	}

	sx := float32(width) / float32(layout.InputWidth)
	sy := float32(height) / float32(layout.InputHeight)
	results := rows[:0]
	for _, r := range rows {
		if r.Score < layout.ConfidenceThreshold {
			continue
		}
		r.Box = images.Box{X1: r.Box.X1 * sx, Y1: r.Box.Y1 * sy, X2: r.Box.X2 * sx, Y2: r.Box.Y2 * sy}
		results = append(results, r)
	}
	return results, nil
}

// Close implements Engine.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Close()
		e.session = nil
	}
	return nil
}
