// Package sparse implements the sparse vector algebra used for encoding,
// diffusion, ranking and decomposition.
//
// A Vector is a value: operations return new vectors and never modify their
// inputs. Absent indices are zeros.
package sparse

import (
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"gonum.org/v1/gonum/floats"
)

// Vector is a sparse vector over a fixed dimension. Indices are strictly
// increasing and no stored value is exactly zero.
type Vector struct {
	Dim     int       `json:"n"`
	Indices []int     `json:"i"`
	Values  []float64 `json:"v"`
}

// Zero returns an empty vector of dimension dim.
func Zero(dim int) Vector {
	return Vector{Dim: dim}
}

// New builds a vector from parallel slices. Duplicate indices are summed and
// zeros are dropped. It fails when an index is out of range.
func New(dim int, indices []int, values []float64) (Vector, error) {
	if len(indices) != len(values) {
		return Vector{}, fmt.Errorf("indices and values differ in length: %d != %d", len(indices), len(values))
	}
	m := make(map[int]float64, len(indices))
	for k, i := range indices {
		if i < 0 || i >= dim {
			return Vector{}, fmt.Errorf("index %d out of range [0,%d)", i, dim)
		}
		m[i] += values[k]
	}
	return FromMap(dim, m), nil
}

// FromMap builds a vector from an index->value map. Indices outside
// [0,dim) are ignored.
func FromMap(dim int, m map[int]float64) Vector {
	indices := make([]int, 0, len(m))
	for i, val := range m {
		if val == 0 || i < 0 || i >= dim {
			continue
		}
		indices = append(indices, i)
	}
	sort.Ints(indices)
	values := make([]float64, len(indices))
	for k, i := range indices {
		values[k] = m[i]
	}
	return Vector{Dim: dim, Indices: indices, Values: values}
}

// FromDense builds a vector from a dense slice.
func FromDense(values []float64) Vector {
	v := Vector{Dim: len(values)}
	for i, x := range values {
		if x == 0 {
			continue
		}
		v.Indices = append(v.Indices, i)
		v.Values = append(v.Values, x)
	}
	return v
}

// Clone returns an independent copy.
func (v Vector) Clone() Vector {
	out := Vector{Dim: v.Dim}
	if len(v.Indices) > 0 {
		out.Indices = append([]int(nil), v.Indices...)
		out.Values = append([]float64(nil), v.Values...)
	}
	return out
}

// Nnz returns the number of stored entries.
func (v Vector) Nnz() int {
	return len(v.Indices)
}

// IsZero reports whether every entry is zero.
func (v Vector) IsZero() bool {
	for _, x := range v.Values {
		if x != 0 {
			return false
		}
	}
	return true
}

// Get returns the value at index i.
func (v Vector) Get(i int) float64 {
	k := sort.SearchInts(v.Indices, i)
	if k < len(v.Indices) && v.Indices[k] == i {
		return v.Values[k]
	}
	return 0
}

// Sum returns the sum of all values.
func (v Vector) Sum() float64 {
	if len(v.Values) == 0 {
		return 0
	}
	return floats.Sum(v.Values)
}

// Norm returns the L2 norm.
func (v Vector) Norm() float64 {
	if len(v.Values) == 0 {
		return 0
	}
	return floats.Norm(v.Values, 2)
}

// MaxAbs returns the largest absolute value, or 0 for an empty vector.
func (v Vector) MaxAbs() float64 {
	m := 0.0
	for _, x := range v.Values {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

// With returns a copy of v with entry i set to val.
func (v Vector) With(i int, val float64) Vector {
	k := sort.SearchInts(v.Indices, i)
	out := Vector{
		Dim:     v.Dim,
		Indices: make([]int, 0, len(v.Indices)+1),
		Values:  make([]float64, 0, len(v.Indices)+1),
	}
	out.Indices = append(out.Indices, v.Indices[:k]...)
	out.Values = append(out.Values, v.Values[:k]...)
	if val != 0 {
		out.Indices = append(out.Indices, i)
		out.Values = append(out.Values, val)
	}
	if k < len(v.Indices) && v.Indices[k] == i {
		k++
	}
	out.Indices = append(out.Indices, v.Indices[k:]...)
	out.Values = append(out.Values, v.Values[k:]...)
	return out
}

// Dense expands the vector into a slice of length Dim.
func (v Vector) Dense() []float64 {
	out := make([]float64, v.Dim)
	for k, i := range v.Indices {
		out[i] = v.Values[k]
	}
	return out
}

// Bitmap returns the set of active indices.
func (v Vector) Bitmap() *roaring.Bitmap {
	bm := roaring.New()
	for _, i := range v.Indices {
		bm.Add(uint32(i))
	}
	return bm
}

// Scale returns v multiplied by s.
func (v Vector) Scale(s float64) Vector {
	if s == 0 {
		return Zero(v.Dim)
	}
	out := v.Clone()
	if len(out.Values) > 0 {
		floats.Scale(s, out.Values)
	}
	return out
}

// Dot returns the inner product of a and b.
func Dot(a, b Vector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			sum += a.Values[i] * b.Values[j]
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Add returns a + s*b.
func Add(a, b Vector, s float64) Vector {
	dim := a.Dim
	if b.Dim > dim {
		dim = b.Dim
	}
	out := Vector{
		Dim:     dim,
		Indices: make([]int, 0, len(a.Indices)+len(b.Indices)),
		Values:  make([]float64, 0, len(a.Indices)+len(b.Indices)),
	}
	push := func(idx int, val float64) {
		if val != 0 {
			out.Indices = append(out.Indices, idx)
			out.Values = append(out.Values, val)
		}
	}
	i, j := 0, 0
	for i < len(a.Indices) || j < len(b.Indices) {
		switch {
		case j >= len(b.Indices) || (i < len(a.Indices) && a.Indices[i] < b.Indices[j]):
			push(a.Indices[i], a.Values[i])
			i++
		case i >= len(a.Indices) || b.Indices[j] < a.Indices[i]:
			push(b.Indices[j], s*b.Values[j])
			j++
		default:
			push(a.Indices[i], a.Values[i]+s*b.Values[j])
			i++
			j++
		}
	}
	return out
}

// Euclidean returns the L2 distance between a and b.
func Euclidean(a, b Vector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(a.Indices) || j < len(b.Indices) {
		var d float64
		switch {
		case j >= len(b.Indices) || (i < len(a.Indices) && a.Indices[i] < b.Indices[j]):
			d = a.Values[i]
			i++
		case i >= len(a.Indices) || b.Indices[j] < a.Indices[i]:
			d = b.Values[j]
			j++
		default:
			d = a.Values[i] - b.Values[j]
			i++
			j++
		}
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Normalize scales v to unit L2 norm. A zero vector is returned unchanged.
func Normalize(v Vector) Vector {
	n := v.Norm()
	if n == 0 {
		return v.Clone()
	}
	return v.Scale(1 / n)
}

// Threshold drops entries with |v_i| <= t*max|v|.
func Threshold(v Vector, t float64) Vector {
	return ThresholdAbs(v, t*v.MaxAbs())
}

// ThresholdAbs drops entries with |v_i| <= t.
func ThresholdAbs(v Vector, t float64) Vector {
	out := Vector{Dim: v.Dim}
	for k, i := range v.Indices {
		if math.Abs(v.Values[k]) <= t {
			continue
		}
		out.Indices = append(out.Indices, i)
		out.Values = append(out.Values, v.Values[k])
	}
	return out
}

// Residual subtracts from v its weighted projections onto basis:
//
//	v - Σ w_i * dot(b_i, v) * b_i
//
// A nil weights slice means all weights are 1.
func Residual(v Vector, basis []Vector, weights []float64) Vector {
	if len(basis) == 0 {
		return v.Clone()
	}
	acc := NewAccumulator()
	acc.AddVector(v, 1)
	for k, b := range basis {
		w := 1.0
		if weights != nil {
			w = weights[k]
		}
		c := Dot(b, v)
		if c == 0 || w == 0 {
			continue
		}
		acc.AddVector(b, -w*c)
	}
	return acc.ToSparse(v.Dim, 0)
}

// DimCollapse keeps only the entries whose index is in allowed, and
// renormalizes unless normalize is false.
func DimCollapse(v Vector, allowed *roaring.Bitmap, normalize bool) Vector {
	out := Vector{Dim: v.Dim}
	if allowed != nil {
		for k, i := range v.Indices {
			if !allowed.Contains(uint32(i)) {
				continue
			}
			out.Indices = append(out.Indices, i)
			out.Values = append(out.Values, v.Values[k])
		}
	}
	if normalize {
		return Normalize(out)
	}
	return out
}
