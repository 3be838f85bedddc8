package diffusion

import (
	"log/slog"
	"math"
	"sort"

	"crossmap/internal/port"
	"crossmap/internal/sparse"
)

// Diffuser spreads a vector's weight into co-occurring features using the
// CountsTables served by a provider.
type Diffuser struct {
	counts    port.CountsProvider
	threshold float64
	logger    *slog.Logger
}

// Option configures a Diffuser.
type Option func(*Diffuser) error

// WithThreshold drops entries below t times the largest entry of a
// multi-pass result.
func WithThreshold(t float64) Option {
	return func(d *Diffuser) error {
		if t < 0 {
			t = 0
		}
		d.threshold = t
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Diffuser) error {
		if logger == nil {
			logger = slog.Default()
		}
		d.logger = logger
		return nil
	}
}

func NewDiffuser(counts port.CountsProvider, opts ...Option) (*Diffuser, error) {
	d := &Diffuser{
		counts: counts,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// DiffuseOnce adds, for every dataset d with strength s and every active
// feature i of v, the counts row counts_d[i] scaled by v[i]*s/|sum(row)|.
// The self entry of each row is set to 1 before scaling.
func (d *Diffuser) DiffuseOnce(v sparse.Vector, strengths map[int]float64, normalize bool) (sparse.Vector, error) {
	if v.Nnz() == 0 || len(strengths) == 0 {
		if normalize {
			return sparse.Normalize(v), nil
		}
		return v.Clone(), nil
	}

	datasets := make([]int, 0, len(strengths))
	for ds, s := range strengths {
		if s == 0 {
			continue
		}
		datasets = append(datasets, ds)
	}
	sort.Ints(datasets)

	acc := sparse.NewAccumulator()
	acc.AddVector(v, 1)
	for _, ds := range datasets {
		s := strengths[ds]
		rows, err := d.counts.GetCounts(ds, v.Indices)
		if err != nil {
			return sparse.Vector{}, err
		}
		for k, di := range v.Indices {
			row, ok := rows[di]
			if !ok || row.IsZero() {
				continue
			}
			row = row.With(di, 1)
			mass := math.Abs(row.Sum())
			if mass == 0 {
				continue
			}
			acc.AddVector(row, v.Values[k]*s/mass)
		}
	}

	result := acc.ToSparse(v.Dim, 0)
	if normalize {
		result = sparse.Normalize(result)
	}
	return result, nil
}

// Diffuse runs passes-1 single passes and combines the original vector
// with the intermediate ones using PassWeights(passes).
func (d *Diffuser) Diffuse(v sparse.Vector, strengths map[int]float64, passes int) (sparse.Vector, error) {
	if passes < 1 {
		passes = 1
	}
	weights := PassWeights(passes)

	acc := sparse.NewAccumulator()
	current := v
	acc.AddVector(current, weights[0])
	for k := 1; k < passes; k++ {
		next, err := d.DiffuseOnce(current, strengths, true)
		if err != nil {
			return sparse.Vector{}, err
		}
		current = next
		acc.AddVector(current, weights[k])
	}

	result := sparse.Normalize(acc.ToSparse(v.Dim, 0))
	if d.threshold > 0 {
		result = sparse.Normalize(sparse.Threshold(result, d.threshold))
	}
	d.logger.Debug("diffused vector",
		slog.Int("passes", passes),
		slog.Int("nnz_in", v.Nnz()),
		slog.Int("nnz_out", result.Nnz()))
	return result, nil
}

// PassWeights returns harmonic weights (1/k)/H_n for k = 1..n.
func PassWeights(n int) []float64 {
	if n < 1 {
		return nil
	}
	h := 0.0
	for j := 1; j <= n; j++ {
		h += 1 / float64(j)
	}
	out := make([]float64, n)
	for k := 1; k <= n; k++ {
		out[k-1] = (1 / float64(k)) / h
	}
	return out
}
