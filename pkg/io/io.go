package io

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"bagcluster/pkg/bags"
)

const (
	DefaultBagColumn      = "bag"
	DefaultBagLabelColumn = "bag_label"
	DefaultLabelColumn    = "label"
	lowSuffix, highSuffix = "_low", "_high"
	featurePrefix         = "f"
	columnNotFound        = "column %s not found in data header"
)

// ErrNoData is returned when a data file holds no usable rows.
var ErrNoData = errors.New("no data")

type DataParameters struct {
	DataFile string
	// BagColumn holds the bag name of every row.
	BagColumn string
	// BagLabelColumn holds the bag label proportion. When the header has
	// BagLabelColumn+"_low" and BagLabelColumn+"_high" instead, bag labels are intervals.
	BagLabelColumn string
	// LabelColumn holds the optional instance label, with the same _low/_high convention.
	LabelColumn string
}

func (p DataParameters) withDefaults() DataParameters {
	if p.BagColumn == "" {
		p.BagColumn = DefaultBagColumn
	}
	if p.BagLabelColumn == "" {
		p.BagLabelColumn = DefaultBagLabelColumn
	}
	if p.LabelColumn == "" {
		p.LabelColumn = DefaultLabelColumn
	}
	return p
}

type DataError struct {
	Line  int
	Error string
}

// columns maps the roles of the header columns.
type columns struct {
	bag       int
	bagLabels []int
	labels    []int
	features  []int
}

// LoadData reads a bagged dataset from a CSV file, or from stdin when no file is given.
func LoadData(p DataParameters) (*bags.Dataset, []DataError, error) {
	if p.DataFile == "" {
		return ReadData(os.Stdin, p)
	}
	inputFile, err := os.Open(p.DataFile)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening file: %w", err)
	}
	defer inputFile.Close()
	return ReadData(inputFile, p)
}

// ReadData reads a bagged dataset in CSV format. The first line is a header; every
// column that is neither the bag, a bag label nor an instance label is a feature.
// Rows that fail to parse are skipped and reported as data errors.
func ReadData(input io.Reader, p DataParameters) (*bags.Dataset, []DataError, error) {
	p = p.withDefaults()
	reader := csv.NewReader(input)
	reader.Comma = ','

	//First line is expected to be a header
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("error reading data header: %w", err)
	}
	cols, err := mapColumns(header, p)
	if err != nil {
		return nil, nil, err
	}

	var dataErrors []DataError
	var features, labels []float64
	var membership []int
	names := bags.NewNameMap()
	var bagLabels [][]float64
	labelDim := len(cols.bagLabels)

	currentLine := 1
	for record, err := reader.Read(); err != io.EOF; record, err = reader.Read() {
		currentLine++
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, dataErrors, fmt.Errorf("error reading data: %w", err)
			}
			dataErrors = append(dataErrors, DataError{Line: currentLine, Error: err.Error()})
			continue
		}
		bagLabel, err := parseFloats(record, cols.bagLabels, header)
		if err != nil {
			dataErrors = append(dataErrors, DataError{Line: currentLine, Error: err.Error()})
			continue
		}
		rowFeatures, err := parseFloats(record, cols.features, header)
		if err != nil {
			dataErrors = append(dataErrors, DataError{Line: currentLine, Error: err.Error()})
			continue
		}
		var rowLabels []float64
		if cols.labels != nil {
			if rowLabels, err = parseFloats(record, cols.labels, header); err != nil {
				dataErrors = append(dataErrors, DataError{Line: currentLine, Error: err.Error()})
				continue
			}
		}

		name := record[cols.bag]
		bag, known := names.ContainsName(name)
		if known && !equalFloats(bagLabels[bag], bagLabel) {
			dataErrors = append(dataErrors, DataError{
				Line:  currentLine,
				Error: fmt.Sprintf("bag %s has label %v, previously %v", name, bagLabel, bagLabels[bag]),
			})
			continue
		}
		if !known {
			bag = names.IndexFor(name)
			bagLabels = append(bagLabels, bagLabel)
		}

		membership = append(membership, bag)
		features = append(features, rowFeatures...)
		labels = append(labels, rowLabels...)
	}

	if len(membership) == 0 {
		return nil, dataErrors, ErrNoData
	}

	ds := &bags.Dataset{
		Features:  mat.NewDense(len(membership), len(cols.features), features),
		Bags:      membership,
		BagLabels: mat.NewDense(len(bagLabels), labelDim, nil),
		BagNames:  names,
	}
	for i, l := range bagLabels {
		ds.BagLabels.SetRow(i, l)
	}
	if cols.labels != nil {
		ds.Labels = mat.NewDense(len(membership), len(cols.labels), labels)
	}
	if err := ds.Validate(); err != nil {
		return nil, dataErrors, err
	}
	return ds, dataErrors, nil
}

func mapColumns(header []string, p DataParameters) (*columns, error) {
	index := map[string]int{}
	for i, col := range header {
		index[col] = i
	}
	cols := &columns{}
	var ok bool
	if cols.bag, ok = index[p.BagColumn]; !ok {
		return nil, fmt.Errorf(columnNotFound, p.BagColumn)
	}
	if cols.bagLabels = labelColumns(index, p.BagLabelColumn); cols.bagLabels == nil {
		return nil, fmt.Errorf(columnNotFound, p.BagLabelColumn)
	}
	cols.labels = labelColumns(index, p.LabelColumn)
	if cols.labels != nil && len(cols.labels) != len(cols.bagLabels) {
		return nil, fmt.Errorf("instance labels have %d columns, bag labels %d", len(cols.labels), len(cols.bagLabels))
	}

	reserved := map[int]bool{cols.bag: true}
	for _, c := range append(append([]int(nil), cols.bagLabels...), cols.labels...) {
		reserved[c] = true
	}
	for i := range header {
		if !reserved[i] {
			cols.features = append(cols.features, i)
		}
	}
	if len(cols.features) == 0 {
		return nil, fmt.Errorf("no feature columns in data header")
	}
	return cols, nil
}

// labelColumns finds name, or name_low and name_high.
func labelColumns(index map[string]int, name string) []int {
	if i, ok := index[name]; ok {
		return []int{i}
	}
	low, okLow := index[name+lowSuffix]
	high, okHigh := index[name+highSuffix]
	if okLow && okHigh {
		return []int{low, high}
	}
	return nil
}

func parseFloats(record []string, indices []int, header []string) ([]float64, error) {
	values := make([]float64, len(indices))
	for i, c := range indices {
		if c >= len(record) {
			return nil, fmt.Errorf("missing column %s", header[c])
		}
		v, err := strconv.ParseFloat(record[c], 64)
		if err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", header[c], err)
		}
		values[i] = v
	}
	return values, nil
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WriteData writes a dataset in the format read by ReadData. Features are named f0, f1, ...
func WriteData(ds *bags.Dataset, w io.Writer) error {
	writer := csv.NewWriter(w)
	header := []string{DefaultBagColumn}
	header = append(header, labelHeader(DefaultBagLabelColumn, ds.LabelDimension())...)
	if ds.Labels != nil {
		header = append(header, labelHeader(DefaultLabelColumn, ds.LabelDimension())...)
	}
	for j := 0; j < ds.Dimension(); j++ {
		header = append(header, featurePrefix+strconv.Itoa(j))
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("error writing data header: %w", err)
	}

	for i := 0; i < ds.NumInstances(); i++ {
		bag := ds.Bags[i]
		record := []string{bagName(ds, bag)}
		record = appendFloats(record, ds.BagLabels.RawRowView(bag))
		if ds.Labels != nil {
			record = appendFloats(record, ds.Labels.RawRowView(i))
		}
		record = appendFloats(record, ds.Instance(i))
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("error writing instance %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WritePredictions writes one CSV row per instance with its bag, the predicted label
// and, when the dataset has them, the instance labels.
func WritePredictions(ds *bags.Dataset, predicted *mat.Dense, w io.Writer) error {
	_, labelDim := predicted.Dims()
	writer := csv.NewWriter(w)
	header := []string{DefaultBagColumn, "instance"}
	header = append(header, labelHeader("predicted", labelDim)...)
	if ds.Labels != nil {
		header = append(header, labelHeader(DefaultLabelColumn, labelDim)...)
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("error writing predictions header: %w", err)
	}
	for i := 0; i < ds.NumInstances(); i++ {
		record := []string{bagName(ds, ds.Bags[i]), strconv.Itoa(i)}
		record = appendFloats(record, predicted.RawRowView(i))
		if ds.Labels != nil {
			record = appendFloats(record, ds.Labels.RawRowView(i))
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("error writing prediction %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func labelHeader(name string, dims int) []string {
	if dims == 2 {
		return []string{name + lowSuffix, name + highSuffix}
	}
	return []string{name}
}

func bagName(ds *bags.Dataset, bag int) string {
	if name, ok := ds.BagNames.Name(bag); ok {
		return name
	}
	return strconv.Itoa(bag)
}

func appendFloats(record []string, values []float64) []string {
	for _, v := range values {
		record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return record
}
