package main

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestGenerateTrainTest(t *testing.T) {
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "bags.csv")
	modelFile := filepath.Join(dir, "bags.model")
	metricsFile := filepath.Join(dir, "metrics.prom")
	predictionsFile := filepath.Join(dir, "predictions.csv")

	b := bytes.NewBufferString("")
	log.Logger = zerolog.New(b)
	defer func() { log.Logger = zerolog.New(zerolog.NewConsoleWriter()) }()

	generateCmd := GenerateCommand()
	generateCmd.SetArgs(strings.Split("-o "+dataFile+" -n 8 -s 6 -f 2 -b 4 -x 3", " "))
	require.NoError(t, generateCmd.Execute())
	require.Contains(t, b.String(), `"Bags":8`)

	trainCmd := TrainCommand()
	trainCmd.SetArgs(strings.Split("-i "+dataFile+" -o "+modelFile+" --metrics-file "+metricsFile+
		" -f 2 -k 4 -b 2 -e 40 -p 6 -r 2", " "))
	b.Reset()
	require.NoError(t, trainCmd.Execute())
	out := b.String()
	require.Contains(t, out, "Training finished")
	require.Contains(t, out, `"Clusters":4`)
	require.Contains(t, out, "BagRisk")
	require.NotContains(t, out, `"level":"error"`)
	require.FileExists(t, metricsFile)

	testCmd := TestCommand()
	testCmd.SetArgs(strings.Split("-m "+modelFile+" -i "+dataFile+" -o "+predictionsFile, " "))
	b.Reset()
	require.NoError(t, testCmd.Execute())
	out = b.String()
	require.Contains(t, out, "BagRisk")
	require.Contains(t, out, "R-squared")
	require.Contains(t, out, "F1")
	require.NotContains(t, out, `"level":"error"`)
	require.FileExists(t, predictionsFile)
}

func TestTrainCommand_ContinuousIntervals(t *testing.T) {
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "bags.csv")
	modelFile := filepath.Join(dir, "bags.model")

	generateCmd := GenerateCommand()
	generateCmd.SetArgs(strings.Split("-o "+dataFile+" -n 6 -s 5 -f 1 -b 5 --interval-width 0.2", " "))
	require.NoError(t, generateCmd.Execute())

	trainCmd := TrainCommand()
	trainCmd.SetArgs(strings.Split("-i "+dataFile+" -o "+modelFile+" -l continuous -g -k 3 -e 20 -p 4 -c gonzales", " "))
	require.NoError(t, trainCmd.Execute())
	require.FileExists(t, modelFile)

	trainCmd = TrainCommand()
	trainCmd.SetArgs(strings.Split("-i "+dataFile+" -o "+modelFile+" -c sideways", " "))
	require.Error(t, trainCmd.Execute())
}

func TestTrainCommand_TraceFile(t *testing.T) {
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "bags.csv")
	modelFile := filepath.Join(dir, "bags.model")
	traceFile := filepath.Join(dir, "train.trace")

	generateCmd := GenerateCommand()
	generateCmd.SetArgs(strings.Split("-o "+dataFile+" -n 6 -s 5 -f 2 -b 4", " "))
	require.NoError(t, generateCmd.Execute())

	trainCmd := TrainCommand()
	trainCmd.SetArgs(strings.Split("-i "+dataFile+" -o "+modelFile+" --trace-file "+traceFile+
		" --trace-level debug -f 2 -k 2 -e 12 -p 4 -r 2", " "))
	require.NoError(t, trainCmd.Execute())
	require.FileExists(t, traceFile)

	content, err := ioutil.ReadFile(traceFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	var repetitions, risks int
	for _, line := range lines {
		require.Contains(t, line, `"run":`)
		if strings.Contains(line, `"repetition_risk":`) {
			repetitions++
		}
		if strings.Contains(line, `"risk":`) {
			risks++
		}
		require.NotContains(t, line, `"level":"trace"`)
	}
	// one debug line per repetition and the info line of the best one
	require.Equal(t, 3, repetitions)
	require.Greater(t, risks, 0)
	require.Contains(t, string(content), `"weights":`)

	trainCmd = TrainCommand()
	trainCmd.SetArgs(strings.Split("-i "+dataFile+" -o "+modelFile+" --trace-file "+traceFile+" --trace-level loud", " "))
	require.Error(t, trainCmd.Execute())
}
