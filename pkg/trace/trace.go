// Package trace records intermediate values of a training run. Tracing is best
// effort: a Tracer never changes the outcome of the computation it observes.
package trace

import (
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Tracer receives labelled values at a given level.
type Tracer interface {
	Trace(label string, value interface{})
	Debug(label string, value interface{})
	Info(label string, value interface{})
	Warn(label string, value interface{})
	Error(label string, value interface{})
}

// Noop discards everything.
type Noop struct{}

func (Noop) Trace(string, interface{}) {}
func (Noop) Debug(string, interface{}) {}
func (Noop) Info(string, interface{})  {}
func (Noop) Warn(string, interface{})  {}
func (Noop) Error(string, interface{}) {}

// Log writes every value as a field of a zerolog event.
type Log struct {
	Logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{Logger: logger}
}

func (l *Log) Trace(label string, value interface{}) { l.write(l.Logger.Trace(), label, value) }
func (l *Log) Debug(label string, value interface{}) { l.write(l.Logger.Debug(), label, value) }
func (l *Log) Info(label string, value interface{})  { l.write(l.Logger.Info(), label, value) }
func (l *Log) Warn(label string, value interface{})  { l.write(l.Logger.Warn(), label, value) }
func (l *Log) Error(label string, value interface{}) { l.write(l.Logger.Error(), label, value) }

func (l *Log) write(e *zerolog.Event, label string, value interface{}) {
	if e == nil {
		return
	}
	switch v := value.(type) {
	case float64:
		e.Float64(label, v)
	case []float64:
		e.Floats64(label, v)
	case int:
		e.Int(label, v)
	case string:
		e.Str(label, v)
	case error:
		e.AnErr(label, v)
	case mat.Matrix:
		e.Interface(label, Rows(v))
	default:
		e.Interface(label, v)
	}
	e.Msg("")
}

// Rows copies a matrix into a slice of rows, a form every encoder understands.
func Rows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = make([]float64, c)
		mat.Row(rows[i], i, m)
	}
	return rows
}

// Multi fans every call out to all its tracers.
type Multi []Tracer

func (m Multi) Trace(label string, value interface{}) {
	for _, t := range m {
		t.Trace(label, value)
	}
}

func (m Multi) Debug(label string, value interface{}) {
	for _, t := range m {
		t.Debug(label, value)
	}
}

func (m Multi) Info(label string, value interface{}) {
	for _, t := range m {
		t.Info(label, value)
	}
}

func (m Multi) Warn(label string, value interface{}) {
	for _, t := range m {
		t.Warn(label, value)
	}
}

func (m Multi) Error(label string, value interface{}) {
	for _, t := range m {
		t.Error(label, value)
	}
}
