// Package report - Destinations for evaluation metrics.
//
// Every sink implements evaluate.Sink. Sinks are safe for concurrent use.
package report

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-eval/evaluate"
)

// Logger writes metrics as structured log entries.
type Logger struct {
	log   logrus.FieldLogger
	level logrus.Level
}

// NewLogger creates a log sink writing at the given level. nil uses the logrus standard logger.
func NewLogger(log logrus.FieldLogger, level logrus.Level) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logger{log: log, level: level}
}

// Scalar implements evaluate.Sink.
func (l *Logger) Scalar(name string, value float64, step int) error {
	l.entry(logrus.Fields{"metric": name, "step": step, "value": value}, "scalar")
	return nil
}

// PRCurve implements evaluate.Sink.
func (l *Logger) PRCurve(name string, curve evaluate.PRCurve, step int) error {
	l.entry(logrus.Fields{
		"metric":    name,
		"step":      step,
		"points":    curve.Len(),
		"ap":        fmt.Sprintf("%.4f", curve.AP),
		"instances": curve.Instances,
	}, "pr curve")
	return nil
}

func (l *Logger) entry(fields logrus.Fields, msg string) {
	e := l.log.WithFields(fields)
	switch l.level {
	case logrus.TraceLevel, logrus.DebugLevel:
		e.Debug(msg)
	case logrus.WarnLevel:
		e.Warn(msg)
	default:
		e.Info(msg)
	}
}

// Multi fans every metric out to several sinks.
type Multi struct {
	sinks []evaluate.Sink
}

// NewMulti creates a fan-out sink. nil sinks are skipped.
func NewMulti(sinks ...evaluate.Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Scalar implements evaluate.Sink. Every sink is called; failures are joined.
func (m *Multi) Scalar(name string, value float64, step int) error {
	return m.each(func(s evaluate.Sink) error { return s.Scalar(name, value, step) })
}

// PRCurve implements evaluate.Sink. Every sink is called; failures are joined.
func (m *Multi) PRCurve(name string, curve evaluate.PRCurve, step int) error {
	return m.each(func(s evaluate.Sink) error { return s.PRCurve(name, curve, step) })
}

// Close closes every sink that implements io.Closer.
func (m *Multi) Close() error {
	return m.each(func(s evaluate.Sink) error {
		if c, ok := s.(io.Closer); ok {
			return c.Close()
		}
		return nil
	})
}

func (m *Multi) each(fn func(evaluate.Sink) error) error {
	var first error
	failed := 0
	for _, s := range m.sinks {
		if err := fn(s); err != nil {
			if first == nil {
				first = err
			}
			failed++
		}
	}
	if first == nil {
		return nil
	}
	if failed == 1 {
		return first
	}
	return errors.Wrapf(first, "%d of %d sinks failed, first", failed, len(m.sinks))
}
