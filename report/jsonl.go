package report

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/nvr-ai/go-eval/evaluate"
)

// Record is one line of a JSONLines file. Exactly one of Value and Curve is set.
type Record struct {
	Time  time.Time         `json:"time"`
	Run   string            `json:"run,omitempty"`
	Name  string            `json:"name"`
	Step  int               `json:"step"`
	Value *float64          `json:"value,omitempty"`
	Curve *evaluate.PRCurve `json:"curve,omitempty"`
}

// JSONLines appends one JSON object per metric to a writer.
type JSONLines struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	now    func() time.Time
	run    string
}

// NewRunID returns a random identifier that tells apart runs appending to the same file.
func NewRunID() string {
	return uuid.NewV4().String()
}

// NewJSONLines writes records to w. Close closes w when it is an io.Closer.
func NewJSONLines(w io.Writer) *JSONLines {
	j := &JSONLines{enc: json.NewEncoder(w), now: time.Now}
	if c, ok := w.(io.Closer); ok {
		j.closer = c
	}
	return j
}

// OpenJSONLines appends records to the file at path, creating it if needed.
func OpenJSONLines(path string) (*JSONLines, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	return NewJSONLines(f), nil
}

// WithRun tags every following record with run.
func (j *JSONLines) WithRun(run string) *JSONLines {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.run = run
	return j
}

// Scalar implements evaluate.Sink.
func (j *JSONLines) Scalar(name string, value float64, step int) error {
	return j.write(Record{Name: name, Step: step, Value: &value})
}

// PRCurve implements evaluate.Sink.
func (j *JSONLines) PRCurve(name string, curve evaluate.PRCurve, step int) error {
	return j.write(Record{Name: name, Step: step, Curve: &curve})
}

func (j *JSONLines) write(r Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	r.Time = j.now().UTC()
	r.Run = j.run
	if err := j.enc.Encode(r); err != nil {
		return errors.Wrapf(err, "failed to write %s", r.Name)
	}
	return nil
}

// Close closes the underlying file.
func (j *JSONLines) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closer == nil {
		return nil
	}
	err := j.closer.Close()
	j.closer = nil
	return err
}
