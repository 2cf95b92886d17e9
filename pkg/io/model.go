package io

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"

	"bagcluster/pkg/model"
)

// ModelHeader is the first line of a model file.
const ModelHeader = "# number of weights   number of clusters   dimension of label space   dimension of feature space"

var (
	// ErrFormat is returned for model files with a malformed header.
	ErrFormat = errors.New("malformed model file")
	// ErrTruncated is returned when a model file ends before all values are read.
	ErrTruncated = errors.New("truncated model file")
)

const (
	maxInt = int(^uint(0) >> 1)
	// chunkSize bounds the values read, and allocated, ahead of the data actually present.
	chunkSize = 4096
)

// SaveModel writes the model as a two line text header followed by little endian
// float64 values: the weights, the cluster labels and the centroids, both row-major.
func SaveModel(m *model.ClusterModel, writer io.Writer) error {
	w := bufio.NewWriter(writer)
	_, err := fmt.Fprintf(w, "%s\n%d %d %d %d\n", ModelHeader,
		len(m.Weights), m.NumClusters(), m.LabelDimension(), m.FeatureDimension())
	if err != nil {
		return fmt.Errorf("error encoding model header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, m.Weights); err != nil {
		return fmt.Errorf("error encoding weights: %w", err)
	}
	if err := writeRows(w, m.Labels); err != nil {
		return fmt.Errorf("error encoding labels: %w", err)
	}
	if err := writeRows(w, m.Centroids); err != nil {
		return fmt.Errorf("error encoding centroids: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("error encoding model: %w", err)
	}
	return nil
}

func writeRows(w io.Writer, m *mat.Dense) error {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		if err := binary.Write(w, binary.LittleEndian, m.RawRowView(i)); err != nil {
			return err
		}
	}
	return nil
}

// LoadModel reads a model written by SaveModel.
func LoadModel(input io.Reader) (*model.ClusterModel, error) {
	r := bufio.NewReader(input)
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrTruncated, err)
	}
	if !strings.HasPrefix(strings.TrimLeft(header, " \t"), "#") {
		return nil, fmt.Errorf("%w: header does not start with #", ErrFormat)
	}
	sizes, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: reading sizes: %v", ErrTruncated, err)
	}
	var nWeights, nClusters, nLabels, nFeatures int
	if _, err := fmt.Sscan(sizes, &nWeights, &nClusters, &nLabels, &nFeatures); err != nil {
		return nil, fmt.Errorf("%w: parsing sizes %q: %v", ErrFormat, strings.TrimSpace(sizes), err)
	}
	if nWeights < 1 || nClusters < 1 || nLabels < 1 || nFeatures < 1 {
		return nil, fmt.Errorf("%w: sizes %d %d %d %d", ErrFormat, nWeights, nClusters, nLabels, nFeatures)
	}
	if nWeights > nFeatures {
		return nil, fmt.Errorf("%w: %d weights for %d features", ErrFormat, nWeights, nFeatures)
	}

	nLabelValues, ok := valueCount(nClusters, nLabels)
	if !ok {
		return nil, fmt.Errorf("%w: %d clusters of %d labels overflow", ErrFormat, nClusters, nLabels)
	}
	nCentroidValues, ok := valueCount(nClusters, nFeatures)
	if !ok {
		return nil, fmt.Errorf("%w: %d clusters of %d features overflow", ErrFormat, nClusters, nFeatures)
	}

	weights, err := readFloats(r, nWeights)
	if err != nil {
		return nil, fmt.Errorf("%w: weights: %v", ErrTruncated, err)
	}
	labels, err := readFloats(r, nLabelValues)
	if err != nil {
		return nil, fmt.Errorf("%w: labels: %v", ErrTruncated, err)
	}
	centroids, err := readFloats(r, nCentroidValues)
	if err != nil {
		return nil, fmt.Errorf("%w: centroids: %v", ErrTruncated, err)
	}

	m, err := model.New(mat.NewDense(nClusters, nFeatures, centroids), mat.NewDense(nClusters, nLabels, labels), weights)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return m, nil
}

// valueCount is rows*cols, false when the product or its size in bytes overflows an int.
func valueCount(rows, cols int) (int, bool) {
	if rows > maxInt/8/cols {
		return 0, false
	}
	return rows * cols, true
}

// readFloats reads n little endian float64 values, growing the result only as
// values arrive so a size from a corrupt header cannot force a large allocation.
func readFloats(r io.Reader, n int) ([]float64, error) {
	size := n
	if size > chunkSize {
		size = chunkSize
	}
	values := make([]float64, 0, size)
	chunk := make([]float64, size)
	for remaining := n; remaining > 0; {
		if remaining < len(chunk) {
			chunk = chunk[:remaining]
		}
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			return nil, fmt.Errorf("%d of %d values read: %w", n-remaining, n, err)
		}
		values = append(values, chunk...)
		remaining -= len(chunk)
	}
	return values, nil
}

// SaveModelFile writes the model to the named file.
func SaveModelFile(m *model.ClusterModel, fileName string) error {
	outputFile, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("error creating model file %s: %w", fileName, err)
	}
	if err := SaveModel(m, outputFile); err != nil {
		outputFile.Close()
		return fmt.Errorf("error saving model to %s: %w", fileName, err)
	}
	return outputFile.Close()
}

// LoadModelFile reads a model from the named file.
func LoadModelFile(fileName string) (*model.ClusterModel, error) {
	modelFile, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("error opening model file %s: %w", fileName, err)
	}
	defer modelFile.Close()
	m, err := LoadModel(modelFile)
	if err != nil {
		return nil, fmt.Errorf("error loading model from file %s: %w", fileName, err)
	}
	return m, nil
}
