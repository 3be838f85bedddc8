package store

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossmap/config"
	"crossmap/internal/domain"
	"crossmap/internal/sparse"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"), config.DefaultConfig().Cache)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func row(id, title string, dense ...float64) domain.DataRow {
	return domain.DataRow{ID: id, Title: title, Vector: sparse.FromDense(dense)}
}

func TestBoltStore_Datasets(t *testing.T) {
	s := newTestStore(t)

	targets, err := s.RegisterDataset("targets", true)
	require.NoError(t, err)
	docs, err := s.RegisterDataset("documents", true)
	require.NoError(t, err)
	again, err := s.RegisterDataset("targets", false)
	require.NoError(t, err)

	assert.Equal(t, 0, targets.Index)
	assert.Equal(t, 1, docs.Index)
	assert.Equal(t, targets, again)

	all, err := s.Datasets()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "targets", all[0].Label)

	_, err = s.Dataset("missing")
	assert.ErrorIs(t, err, domain.ErrUnknownDataset)

	_, err = s.RegisterDataset("bad label", false)
	assert.ErrorIs(t, err, domain.ErrInvalidDataset)
}

func TestBoltStore_Data(t *testing.T) {
	s := newTestStore(t)
	ds, err := s.RegisterDataset("targets", true)
	require.NoError(t, err)

	idxs, err := s.AddData(ds.Index, []domain.DataRow{
		row("A", "Alpha", 1, 0, 0),
		row("B", "Beta", 0, 1, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, idxs)

	idxs, err = s.AddData(ds.Index, []domain.DataRow{row("C", "", 0, 0, 1)})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, idxs)

	size, err := s.DatasetSize(ds.Index)
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	rows, err := s.GetData(ds.Index, []string{"C", "missing", "A"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "C", rows[0].ID)
	assert.Equal(t, 2, rows[0].Idx)
	assert.Equal(t, []float64{1, 0, 0}, rows[1].Vector.Dense())

	// cached copies are independent
	rows[1].Vector.Values[0] = 42
	rows, err = s.GetData(ds.Index, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, rows[0].Vector.Values[0])

	titles, err := s.GetTitles(ds.Index, []string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "Alpha", "B": "Beta", "C": ""}, titles)

	has, err := s.HasID(ds.Index, "B")
	require.NoError(t, err)
	assert.True(t, has)

	var seen []string
	require.NoError(t, s.ForEachRow(ds.Index, func(r domain.DataRow) error {
		seen = append(seen, r.ID)
		return nil
	}))
	assert.Equal(t, []string{"A", "B", "C"}, seen)
}

func TestBoltStore_DuplicateIDs(t *testing.T) {
	s := newTestStore(t)
	ds, err := s.RegisterDataset("manual", false)
	require.NoError(t, err)

	_, err = s.AddData(ds.Index, []domain.DataRow{row("X", "", 1)})
	require.NoError(t, err)

	_, err = s.AddData(ds.Index, []domain.DataRow{row("Y", "", 1), row("X", "", 1)})
	assert.ErrorIs(t, err, domain.ErrDuplicateID)

	// the failed batch left nothing behind
	has, err := s.HasID(ds.Index, "Y")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestBoltStore_Counts(t *testing.T) {
	s := newTestStore(t)
	ds, err := s.RegisterDataset("targets", true)
	require.NoError(t, err)

	long := make([]float64, 400)
	for i := range long {
		long[i] = float64(i % 7)
	}
	require.NoError(t, s.SetCounts(ds.Index, map[int]sparse.Vector{
		0: sparse.FromDense([]float64{1, 1, 0}),
		2: sparse.FromDense(long),
	}))

	counts, err := s.GetCounts(ds.Index, []int{0, 1, 2})
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, []float64{1, 1, 0}, counts[0].Dense())
	assert.Equal(t, long, counts[2].Dense())

	require.NoError(t, s.UpdateCounts(ds.Index, map[int]sparse.Vector{
		1: sparse.FromDense([]float64{0, 2, 0}),
	}))
	counts, err = s.GetCounts(ds.Index, []int{0, 1})
	require.NoError(t, err)
	assert.Len(t, counts, 2)

	require.NoError(t, s.SetCounts(ds.Index, map[int]sparse.Vector{}))
	counts, err = s.GetCounts(ds.Index, []int{0, 1})
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestBoltStore_FeatureMapAndRemove(t *testing.T) {
	s := newTestStore(t)
	fm := domain.FeatureMap{"abc": {Index: 0, Weight: 1}, "bcd": {Index: 1, Weight: 0.5}}
	require.NoError(t, s.SetFeatureMap(fm))

	got, err := s.FeatureMap()
	require.NoError(t, err)
	assert.Equal(t, fm, got)

	ds, err := s.RegisterDataset("manual", false)
	require.NoError(t, err)
	_, err = s.AddData(ds.Index, []domain.DataRow{row("X", "", 1, 0)})
	require.NoError(t, err)

	require.NoError(t, s.RemoveDataset("manual"))
	_, err = s.Dataset("manual")
	assert.ErrorIs(t, err, domain.ErrUnknownDataset)
	_, err = s.GetData(ds.Index, []string{"X"})
	assert.ErrorIs(t, err, domain.ErrUnknownDataset)

	// a new dataset never reuses a removed index
	next, err := s.RegisterDataset("manual", false)
	require.NoError(t, err)
	assert.Equal(t, ds.Index+1, next.Index)
}

func TestBoltStore_Migration(t *testing.T) {
	s := newTestStore(t)
	cfg := config.DefaultConfig()

	result, err := s.CheckMigration(cfg)
	require.NoError(t, err)
	assert.True(t, result.NeedsMigration)
	assert.False(t, result.NeedsRebuild)

	require.NoError(t, s.Migrate(cfg))
	rebuild, _, err := s.NeedsRebuild(cfg)
	require.NoError(t, err)
	assert.False(t, rebuild)

	changed := config.DefaultConfig()
	changed.Tokens.K = 3
	rebuild, reason, err := s.NeedsRebuild(changed)
	require.NoError(t, err)
	assert.True(t, rebuild)
	assert.True(t, strings.Contains(reason, "configuration"))

	_, err = s.RegisterDataset("targets", true)
	require.NoError(t, err)
	require.NoError(t, s.Clear())
	all, err := s.Datasets()
	require.NoError(t, err)
	assert.Empty(t, all)

	info, err := s.GetSchemaInfo()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, info.Version)
}

func TestCodec(t *testing.T) {
	small := sparse.FromDense([]float64{1, 2})
	data, err := encodeValue(small)
	require.NoError(t, err)
	var got sparse.Vector
	require.NoError(t, decodeValue(data, &got))
	assert.Equal(t, small, got)

	assert.Error(t, decodeValue([]byte{1, 2}, &got))
}
