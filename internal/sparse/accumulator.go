package sparse

import "math"

// Accumulator merges many small sparse contributions into one vector
// without allocating a full-dimension buffer.
type Accumulator struct {
	data map[int]float64
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{data: make(map[int]float64)}
}

// Add adds multiplier*values at the given indices.
func (a *Accumulator) Add(indices []int, values []float64, multiplier float64) {
	for k, i := range indices {
		a.data[i] += values[k] * multiplier
	}
}

// AddVector adds multiplier*v.
func (a *Accumulator) AddVector(v Vector, multiplier float64) {
	a.Add(v.Indices, v.Values, multiplier)
}

// AddDense adds multiplier*values, skipping zeros.
func (a *Accumulator) AddDense(values []float64, multiplier float64) {
	for i, d := range values {
		if d == 0 {
			continue
		}
		a.data[i] += d * multiplier
	}
}

// Len returns the number of indices touched so far.
func (a *Accumulator) Len() int {
	return len(a.data)
}

// ToSparse exports the accumulated values as a vector of dimension n.
// A non-zero threshold drops entries with |value| < threshold*max|value|.
func (a *Accumulator) ToSparse(n int, threshold float64) Vector {
	if threshold == 0 || len(a.data) == 0 {
		return FromMap(n, a.data)
	}
	m := 0.0
	for _, val := range a.data {
		if abs := math.Abs(val); abs > m {
			m = abs
		}
	}
	limit := threshold * m
	kept := make(map[int]float64, len(a.data))
	for i, val := range a.data {
		if math.Abs(val) < limit {
			continue
		}
		kept[i] = val
	}
	return FromMap(n, kept)
}
