package diffusion

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossmap/internal/sparse"
)

type countsTable map[int]map[int]sparse.Vector

func (c countsTable) GetCounts(dataset int, features []int) (map[int]sparse.Vector, error) {
	out := make(map[int]sparse.Vector)
	rows, ok := c[dataset]
	if !ok {
		return out, nil
	}
	for _, f := range features {
		if row, ok := rows[f]; ok {
			out[f] = row.Clone()
		}
	}
	return out, nil
}

type failingCounts struct{}

func (failingCounts) GetCounts(int, []int) (map[int]sparse.Vector, error) {
	return nil, errors.New("store unavailable")
}

func vec(dense ...float64) sparse.Vector {
	return sparse.FromDense(dense)
}

func TestPassWeights(t *testing.T) {
	assert.Equal(t, []float64{1.0}, PassWeights(1))

	w := PassWeights(2)
	assert.InDeltaSlice(t, []float64{2.0 / 3, 1.0 / 3}, w, 1e-12)

	w = PassWeights(3)
	assert.InDeltaSlice(t, []float64{6.0 / 11, 3.0 / 11, 2.0 / 11}, w, 1e-12)

	for n := 1; n <= 20; n++ {
		sum := 0.0
		for _, x := range PassWeights(n) {
			sum += x
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
	assert.Nil(t, PassWeights(0))
}

func TestBuildCounts(t *testing.T) {
	rows := BuildCounts(3, []sparse.Vector{vec(1, 1, 0), vec(0, 1, 1)})

	require.Len(t, rows, 3)
	assert.Equal(t, []float64{1, 1, 0}, rows[0].Dense())
	assert.Equal(t, []float64{1, 2, 1}, rows[1].Dense())
	assert.Equal(t, []float64{0, 1, 1}, rows[2].Dense())

	// an item counts once per feature regardless of its weight there
	rows = BuildCounts(2, []sparse.Vector{vec(0.1, 5)})
	assert.Equal(t, []float64{0.1, 5}, rows[0].Dense())
	assert.Equal(t, []float64{0.1, 5}, rows[1].Dense())

	assert.Empty(t, BuildCounts(3, nil))
}

func TestUpdateCounts(t *testing.T) {
	provider := countsTable{0: {1: vec(1, 2, 1)}}

	rows, err := UpdateCounts(provider, 0, []sparse.Vector{vec(0, 1, 0)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []float64{1, 3, 1}, rows[1].Dense())

	rows, err = UpdateCounts(provider, 0, []sparse.Vector{vec(0, 0, 2)})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 2}, rows[2].Dense())

	_, err = UpdateCounts(failingCounts{}, 0, []sparse.Vector{vec(1)})
	assert.Error(t, err)
}

func TestDiffuseOnce(t *testing.T) {
	d, err := NewDiffuser(countsTable{0: {0: vec(2, 1, 0)}})
	require.NoError(t, err)

	out, err := d.DiffuseOnce(vec(1, 0, 0), map[int]float64{0: 1}, false)
	require.NoError(t, err)
	// self entry forced to 1, mass 2
	assert.InDeltaSlice(t, []float64{1.5, 0.5, 0}, out.Dense(), 1e-12)

	out, err = d.DiffuseOnce(vec(1, 0, 0), map[int]float64{0: 1}, true)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.Norm(), 1e-12)
	assert.InDelta(t, 1.5/math.Sqrt(2.5), out.Get(0), 1e-12)

	out, err = d.DiffuseOnce(vec(1, 0, 0), map[int]float64{0: 2}, false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 1, 0}, out.Dense(), 1e-12)
}

func TestDiffuseOnce_MissingRowsAndDatasets(t *testing.T) {
	d, err := NewDiffuser(countsTable{0: {0: vec(0, 0, 0)}})
	require.NoError(t, err)

	v := vec(0, 3, 4)
	out, err := d.DiffuseOnce(v, map[int]float64{0: 1, 5: 1}, true)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.6, 0.8}, out.Dense(), 1e-12)

	out, err = d.DiffuseOnce(vec(0, 0, 0), map[int]float64{0: 1}, true)
	require.NoError(t, err)
	assert.True(t, out.IsZero())
	assert.Equal(t, 3, out.Dim)
}

func TestDiffuse_MultiPass(t *testing.T) {
	d, err := NewDiffuser(countsTable{0: {0: vec(2, 1, 0), 1: vec(1, 1, 1)}})
	require.NoError(t, err)
	strengths := map[int]float64{0: 1}
	v := vec(1, 0, 0)

	one, err := d.Diffuse(v, strengths, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, one.Dense())

	two, err := d.Diffuse(v, strengths, 2)
	require.NoError(t, err)
	pass1, err := d.DiffuseOnce(v, strengths, true)
	require.NoError(t, err)
	expected := sparse.Normalize(sparse.Add(v.Scale(2.0/3), pass1, 1.0/3))
	assert.InDeltaSlice(t, expected.Dense(), two.Dense(), 1e-12)

	three, err := d.Diffuse(v, strengths, 3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, three.Norm(), 1e-12)
	assert.Greater(t, three.Get(2), 0.0)
	assert.Equal(t, 0.0, two.Get(2))
}

func TestDiffuse_Threshold(t *testing.T) {
	d, err := NewDiffuser(countsTable{0: {0: vec(1, 0.01, 0)}}, WithThreshold(0.1))
	require.NoError(t, err)

	out, err := d.Diffuse(vec(1, 0, 0), map[int]float64{0: 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, out.Indices)
	assert.InDelta(t, 1.0, out.Norm(), 1e-12)
}

func TestDiffuse_Errors(t *testing.T) {
	d, err := NewDiffuser(failingCounts{})
	require.NoError(t, err)

	_, err = d.Diffuse(vec(1, 0), map[int]float64{0: 1}, 2)
	assert.Error(t, err)

	// a single pass never consults the store
	out, err := d.Diffuse(vec(1, 0), map[int]float64{0: 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, out.Dense())
}
