package pkg

import (
	"github.com/rs/zerolog/log"

	"bagcluster/pkg/io"
)

type NoopWriter struct{}

func (x NoopWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func printDataErrors(errors []io.DataError) {
	for _, err := range errors {
		log.Error().Msgf("Error parsing data at line %d: %s", err.Line, err.Error)
	}
}

// midpoint reduces a label row to a scalar, the center of an interval label.
func midpoint(label []float64) float64 {
	if len(label) == 2 {
		return (label[0] + label[1]) / 2
	}
	return label[0]
}

func classOf(label float64) int {
	if label >= 0.5 {
		return 1
	}
	return 0
}
