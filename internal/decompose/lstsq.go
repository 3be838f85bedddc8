// Package decompose explains a query vector as a short weighted
// combination of target vectors.
package decompose

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"crossmap/internal/sparse"
)

const machineEpsilon = 2.220446049250313e-16

// LeastSquares returns the minimum-norm x minimizing ||v - Σ x_c basis_c||.
// Rank-deficient and empty bases are not errors: unsupported directions
// get a zero coefficient.
func LeastSquares(v sparse.Vector, basis []sparse.Vector) []float64 {
	k := len(basis)
	x := make([]float64, k)
	if k == 0 {
		return x
	}

	// rows outside the union of supports are zero on both sides
	seen := make(map[int]struct{})
	for _, i := range v.Indices {
		seen[i] = struct{}{}
	}
	for _, b := range basis {
		for _, i := range b.Indices {
			seen[i] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return x
	}
	rows := make([]int, 0, len(seen))
	for i := range seen {
		rows = append(rows, i)
	}
	sort.Ints(rows)
	pos := make(map[int]int, len(rows))
	for r, i := range rows {
		pos[i] = r
	}

	a := mat.NewDense(len(rows), k, nil)
	for c, b := range basis {
		for t, i := range b.Indices {
			a.Set(pos[i], c, b.Values[t])
		}
	}
	rhs := mat.NewVecDense(len(rows), nil)
	for t, i := range v.Indices {
		rhs.SetVec(pos[i], v.Values[t])
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return x
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return x
	}
	var u, vt mat.Dense
	svd.UTo(&u)
	svd.VTo(&vt)

	tol := machineEpsilon * float64(max(len(rows), k)) * values[0]
	for r, s := range values {
		if s <= tol {
			continue
		}
		proj := mat.Dot(u.ColView(r), rhs) / s
		for c := 0; c < k; c++ {
			x[c] += proj * vt.At(c, r)
		}
	}
	for c := range x {
		if math.IsNaN(x[c]) || math.IsInf(x[c], 0) {
			x[c] = 0
		}
	}
	return x
}
