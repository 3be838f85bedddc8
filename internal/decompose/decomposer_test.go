package decompose

import (
	"math"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossmap/internal/adapter/index"
	"crossmap/internal/domain"
	"crossmap/internal/sparse"
)

func vec(dense ...float64) sparse.Vector {
	return sparse.FromDense(dense)
}

func targetsOf(t *testing.T, ids []string, rows ...sparse.Vector) *index.Flat {
	t.Helper()
	f := index.NewFlat()
	for k, id := range ids {
		require.NoError(t, f.Add(id, rows[k]))
	}
	return f
}

func TestLeastSquares_Orthogonal(t *testing.T) {
	x := LeastSquares(vec(4, 4, 0), []sparse.Vector{vec(1, 0, 0), vec(0, 1, 0)})
	assert.InDeltaSlice(t, []float64{4, 4}, x, 1e-9)
}

func TestLeastSquares_Symmetric(t *testing.T) {
	x := LeastSquares(vec(4, 4, 0), []sparse.Vector{vec(5, 1, 0), vec(1, 5, 0)})
	assert.InDeltaSlice(t, []float64{2.0 / 3, 2.0 / 3}, x, 1e-6)
}

func TestLeastSquares_RankDeficient(t *testing.T) {
	x := LeastSquares(vec(2, 0), []sparse.Vector{vec(1, 0), vec(1, 0)})
	assert.InDeltaSlice(t, []float64{1, 1}, x, 1e-9)

	x = LeastSquares(vec(2, 0), []sparse.Vector{vec(1, 0), vec(0, 0)})
	assert.InDeltaSlice(t, []float64{2, 0}, x, 1e-9)
}

func TestLeastSquares_Degenerate(t *testing.T) {
	assert.Empty(t, LeastSquares(vec(1, 2), nil))
	assert.Equal(t, []float64{0, 0}, LeastSquares(vec(0, 0), []sparse.Vector{vec(0, 0), vec(0, 0)}))
	assert.InDeltaSlice(t, []float64{0}, LeastSquares(vec(0, 0), []sparse.Vector{vec(1, 0)}), 1e-12)
}

func TestDecompose_IdenticalTarget(t *testing.T) {
	a := vec(0.6, 0.8, 0)
	targets := targetsOf(t, []string{"A", "B"}, a, vec(0, 0, 1))
	d, err := NewDecomposer(targets, nil)
	require.NoError(t, err)

	res, err := d.Decompose(a, Request{NTargets: 3, NDocs: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.IDs)
	require.Len(t, res.Coefficients, 1)
	assert.InDelta(t, 1.0, res.Coefficients[0], 1e-9)
}

func TestDecompose_TwoOrthogonalTargets(t *testing.T) {
	s := 1 / math.Sqrt2
	targets := targetsOf(t, []string{"A", "B", "C"}, vec(1, 0, 0), vec(0, 1, 0), vec(0, 0, 1))
	d, err := NewDecomposer(targets, nil)
	require.NoError(t, err)

	res, err := d.Decompose(vec(s, s, 0), Request{NTargets: 2, NDocs: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, res.IDs)
	assert.InDeltaSlice(t, []float64{s, s}, res.Coefficients, 1e-9)
}

func TestDecompose_RepeatedCandidateDoubles(t *testing.T) {
	s := 1 / math.Sqrt2
	targets := targetsOf(t, []string{"A", "B", "C"}, vec(1, 0, 0), vec(0, 1, 0), vec(0, 0, 1))
	d, err := NewDecomposer(targets, nil)
	require.NoError(t, err)

	res, err := d.Decompose(vec(s, s, 0), Request{NTargets: 3, NDocs: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, res.IDs)
	require.Len(t, res.Coefficients, 2)
	assert.InDelta(t, 3*s, res.Coefficients[0]+res.Coefficients[1], 1e-9)
	assert.InDelta(t, 2*s, math.Max(res.Coefficients[0], res.Coefficients[1]), 1e-9)
}

func TestDecompose_IterationCap(t *testing.T) {
	targets := targetsOf(t, []string{"A"}, vec(1, 0))
	d, err := NewDecomposer(targets, nil)
	require.NoError(t, err)

	req := Request{NTargets: 2, NDocs: 1}
	require.Equal(t, 4, MaxIterations(req))

	res, err := d.Decompose(vec(0.1, 0.995), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.IDs)
	assert.InDeltaSlice(t, []float64{0.8}, res.Coefficients, 1e-9)
}

func TestDecompose_Factors(t *testing.T) {
	r := 1 / math.Sqrt(3)
	targets := targetsOf(t, []string{"A", "B", "C"}, vec(1, 0, 0), vec(0, 1, 0), vec(0, 0, 1))
	d, err := NewDecomposer(targets, nil)
	require.NoError(t, err)

	res, err := d.Decompose(vec(r, r, r), Request{NTargets: 1, NDocs: 1, Factors: []string{"C"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, res.IDs)
	assert.InDeltaSlice(t, []float64{r}, res.Coefficients, 1e-9)

	_, err = d.Decompose(vec(r, r, r), Request{NTargets: 2, Factors: []string{"Z"}})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDecompose_Support(t *testing.T) {
	targets := targetsOf(t, []string{"A"}, vec(0.6, 0, 0.8))
	d, err := NewDecomposer(targets, nil)
	require.NoError(t, err)

	res, err := d.Decompose(vec(1, 0, 0), Request{NTargets: 1, Support: roaring.BitmapOf(0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.IDs)
	// collapsed basis is [0.6, 0, 0]
	assert.InDeltaSlice(t, []float64{1 / 0.6}, res.Coefficients, 1e-9)
}

func TestDecompose_EmptyInputs(t *testing.T) {
	d, err := NewDecomposer(index.NewFlat(), nil)
	require.NoError(t, err)

	res, err := d.Decompose(vec(1, 0), Request{NTargets: 2})
	require.NoError(t, err)
	assert.Empty(t, res.IDs)
	assert.Empty(t, res.Coefficients)

	targets := targetsOf(t, []string{"A"}, vec(1, 0))
	d, err = NewDecomposer(targets, nil)
	require.NoError(t, err)
	res, err = d.Decompose(sparse.Zero(2), Request{NTargets: 2})
	require.NoError(t, err)
	assert.Empty(t, res.IDs)
}

func TestDecompose_WithDocuments(t *testing.T) {
	targets := targetsOf(t, []string{"A", "B"}, vec(1, 0, 0, 0), vec(0, 1, 0, 0))
	documents := targetsOf(t, []string{"U"}, vec(0.5, 0.5, 0, 0))
	d, err := NewDecomposer(targets, documents)
	require.NoError(t, err)

	res, err := d.Decompose(vec(1, 0, 0, 0), Request{NTargets: 2, NDocs: 1})
	require.NoError(t, err)
	require.NotEmpty(t, res.IDs)
	assert.Equal(t, "A", res.IDs[0])
	assert.InDelta(t, 1.0, res.Coefficients[0], 1e-9)
}
