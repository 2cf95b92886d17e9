package cluster

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CoOccurrence counts how often the pair (a[i], b[i]) occurs over the first
// min(len(a), len(b)) positions. The result has max(a)+1 rows and max(b)+1 columns.
func CoOccurrence(a, b []int) *mat.Dense {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return &mat.Dense{}
	}
	rows, cols := 0, 0
	for i := 0; i < n; i++ {
		if a[i]+1 > rows {
			rows = a[i] + 1
		}
		if b[i]+1 > cols {
			cols = b[i] + 1
		}
	}
	return CoOccurrenceSized(a, b, rows, cols)
}

// CoOccurrenceSized is CoOccurrence with a fixed rows x cols shape, so that values
// absent from a or b still get a row or column.
func CoOccurrenceSized(a, b []int, rows, cols int) *mat.Dense {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	m := mat.NewDense(rows, cols, nil)
	raw := m.RawMatrix()
	for i := 0; i < n; i++ {
		raw.Data[a[i]*raw.Stride+b[i]]++
	}
	return m
}

// NormalizeRows scales every row of m to sum to one. Rows summing to zero are left unchanged.
func NormalizeRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		if sum := floats.Sum(row); sum != 0 {
			floats.Scale(1/sum, row)
		}
	}
}
