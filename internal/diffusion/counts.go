// Package diffusion builds co-occurrence counts per dataset and spreads
// query vectors into the features that co-occur with their own.
package diffusion

import (
	"sort"

	"crossmap/internal/port"
	"crossmap/internal/sparse"
)

// CountsBuilder accumulates a CountsTable: row i is the sum of the vectors
// of every item containing feature i, each item counted once.
type CountsBuilder struct {
	dim  int
	rows map[int]*sparse.Accumulator
}

func NewCountsBuilder(dim int) *CountsBuilder {
	return &CountsBuilder{
		dim:  dim,
		rows: make(map[int]*sparse.Accumulator),
	}
}

// Add records one item vector.
func (b *CountsBuilder) Add(v sparse.Vector) {
	for _, i := range v.Indices {
		acc, ok := b.rows[i]
		if !ok {
			acc = sparse.NewAccumulator()
			b.rows[i] = acc
		}
		acc.AddVector(v, 1)
	}
}

// Rows returns the non-empty rows.
func (b *CountsBuilder) Rows() map[int]sparse.Vector {
	out := make(map[int]sparse.Vector, len(b.rows))
	for i, acc := range b.rows {
		row := acc.ToSparse(b.dim, 0)
		if row.Nnz() == 0 {
			continue
		}
		out[i] = row
	}
	return out
}

// BuildCounts computes the CountsTable of a set of item vectors.
func BuildCounts(dim int, vectors []sparse.Vector) map[int]sparse.Vector {
	b := NewCountsBuilder(dim)
	for _, v := range vectors {
		b.Add(v)
	}
	return b.Rows()
}

// UpdateCounts folds new item vectors into the existing rows of a dataset
// and returns the rows that changed. The caller persists them.
func UpdateCounts(provider port.CountsProvider, dataset int, vectors []sparse.Vector) (map[int]sparse.Vector, error) {
	touched := make(map[int]struct{})
	for _, v := range vectors {
		for _, i := range v.Indices {
			touched[i] = struct{}{}
		}
	}
	if len(touched) == 0 {
		return map[int]sparse.Vector{}, nil
	}
	features := make([]int, 0, len(touched))
	for i := range touched {
		features = append(features, i)
	}
	sort.Ints(features)

	existing, err := provider.GetCounts(dataset, features)
	if err != nil {
		return nil, err
	}

	dim := 0
	for _, v := range vectors {
		if v.Dim > dim {
			dim = v.Dim
		}
	}
	accs := make(map[int]*sparse.Accumulator, len(features))
	for _, i := range features {
		acc := sparse.NewAccumulator()
		if row, ok := existing[i]; ok {
			acc.AddVector(row, 1)
		}
		accs[i] = acc
	}
	for _, v := range vectors {
		for _, i := range v.Indices {
			accs[i].AddVector(v, 1)
		}
	}

	out := make(map[int]sparse.Vector, len(accs))
	for i, acc := range accs {
		out[i] = acc.ToSparse(dim, 0)
	}
	return out, nil
}
