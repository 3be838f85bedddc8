package usecase

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossmap/config"
	"crossmap/internal/adapter/analyzer"
	"crossmap/internal/adapter/encoder"
	"crossmap/internal/adapter/fs"
	"crossmap/internal/adapter/memstore"
	"crossmap/internal/domain"
)

const configYAML = `name: demo
data:
  collections:
    targets: [targets.yaml]
    documents: ["docs/*.yaml"]
  default: targets
  documents: documents
build:
  batch_size: 2
`

const targetsYAML = `A:
  title: kidney
  data: chronic kidney failure
B:
  title: heart
  data: cardiac arrhythmia palpitations
C:
  title: liver
  data: hepatic cirrhosis jaundice
`

const documentsYAML = `U:
  data: chronic kidney failure with cardiac arrhythmia
V:
  data: hepatic cirrhosis
`

type fixture struct {
	dir   string
	cfg   *config.Config
	store *memstore.MemoryStore
	query *QueryUseCase
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.DefaultFile), configYAML)
	writeFile(t, filepath.Join(dir, "targets.yaml"), targetsYAML)
	writeFile(t, filepath.Join(dir, "docs", "documents.yaml"), documentsYAML)

	cfg, err := config.LoadFromDir(dir)
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateBuild())

	tokenizer, err := analyzer.NewKmerizer(cfg.Tokens.K, cfg.Tokens.Alphabet, cfg.Tokens.CaseSensitive)
	require.NoError(t, err)

	st := memstore.NewMemoryStore()
	build, err := NewBuildUseCase(cfg, st, fs.NewWalker(nil), fs.NewItemReader(), tokenizer, WithPoolSize(2))
	require.NoError(t, err)
	defer build.Close()

	_, err = build.Build(context.Background())
	require.NoError(t, err)

	query, err := NewQueryUseCase(cfg, st, fs.NewItemReader(), tokenizer, WithPoolSize(2))
	require.NoError(t, err)
	return &fixture{dir: dir, cfg: cfg, store: st, query: query}
}

func TestBuild(t *testing.T) {
	f := newFixture(t)

	fm, err := f.store.FeatureMap()
	require.NoError(t, err)
	assert.Greater(t, fm.Dim(), 0)

	written, err := encoder.ReadFeatureMap(f.cfg.FeatureMapPath())
	require.NoError(t, err)
	assert.Equal(t, fm.Dim(), written.Dim())

	targets, err := f.store.Dataset("targets")
	require.NoError(t, err)
	assert.True(t, targets.File)
	size, err := f.store.DatasetSize(targets.Index)
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	docs, err := f.store.Dataset("documents")
	require.NoError(t, err)
	size, err = f.store.DatasetSize(docs.Index)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	// every feature of an item has a counts row
	rows, err := f.store.GetData(targets.Index, []string{"A"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	counts, err := f.store.GetCounts(targets.Index, rows[0].Vector.Indices)
	require.NoError(t, err)
	assert.Len(t, counts, rows[0].Vector.Nnz())
}

func TestBuild_SkipsPopulatedDatasets(t *testing.T) {
	f := newFixture(t)
	tokenizer, err := analyzer.NewKmerizer(5, "", false)
	require.NoError(t, err)

	var calls []string
	build, err := NewBuildUseCase(f.cfg, f.store, fs.NewWalker(nil), fs.NewItemReader(), tokenizer,
		WithProgress(func(done, total int, dataset string) { calls = append(calls, dataset) }))
	require.NoError(t, err)
	defer build.Close()

	result, err := build.Build(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"documents", "targets"}, result.Skipped)
	assert.Empty(t, calls)
	require.Len(t, result.Datasets, 2)
	assert.Equal(t, "documents", result.Datasets[0].Label)
	assert.Equal(t, 2, result.Datasets[0].Size)
}

func TestBuild_DuplicatesAndEmptyItems(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.DefaultFile), "name: dup\ndata:\n  collections:\n    targets: [a.yaml, b.yaml]\n")
	writeFile(t, filepath.Join(dir, "a.yaml"), "X:\n  data: alpha bravo\nE:\n  title: nothing\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "X:\n  data: charlie delta\nY:\n  data: alpha charlie\n")

	cfg, err := config.LoadFromDir(dir)
	require.NoError(t, err)
	tokenizer, err := analyzer.NewKmerizer(5, "", false)
	require.NoError(t, err)
	st := memstore.NewMemoryStore()
	build, err := NewBuildUseCase(cfg, st, fs.NewWalker(nil), fs.NewItemReader(), tokenizer)
	require.NoError(t, err)
	defer build.Close()

	result, err := build.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 1, result.Empty)
	require.Len(t, result.Datasets, 1)
	assert.Equal(t, 2, result.Datasets[0].Size)
}

func TestBuild_RequiresCollections(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadFromDir(dir)
	require.NoError(t, err)
	tokenizer, err := analyzer.NewKmerizer(5, "", false)
	require.NoError(t, err)

	build, err := NewBuildUseCase(cfg, memstore.NewMemoryStore(), fs.NewWalker(nil), fs.NewItemReader(), tokenizer)
	require.NoError(t, err)
	defer build.Close()
	_, err = build.Build(context.Background())
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)

	res, err := f.query.Search(Query{Name: "q", Item: domain.Item{Data: "chronic kidney failure"}, N: 2})
	require.NoError(t, err)
	assert.Equal(t, "q", res.Query)
	require.Len(t, res.Targets, 2)
	assert.Equal(t, "A", res.Targets[0])
	assert.Equal(t, "kidney", res.Titles[0])
	assert.LessOrEqual(t, res.Distances[0], res.Distances[1])

	res, err = f.query.Search(Query{Item: domain.Item{Data: "hepatic jaundice"}, Dataset: "targets", N: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, res.Targets)
}

func TestSearch_WithDiffusion(t *testing.T) {
	f := newFixture(t)

	res, err := f.query.Search(Query{
		Item:      domain.Item{Data: "cardiac"},
		N:         1,
		Diffusion: map[string]float64{"documents": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, res.Targets)

	_, err = f.query.Search(Query{Item: domain.Item{Data: "cardiac"}, N: 1, Diffusion: map[string]float64{"nope": 1}})
	assert.ErrorIs(t, err, domain.ErrUnknownDataset)
}

func TestSearch_EdgeCases(t *testing.T) {
	f := newFixture(t)

	_, err := f.query.Search(Query{Item: domain.Item{Data: "kidney"}, Dataset: "missing", N: 2})
	assert.ErrorIs(t, err, domain.ErrUnknownDataset)

	res, err := f.query.Search(Query{Item: domain.Item{Data: "qqqqqqqq zzzzzzz"}, N: 2})
	require.NoError(t, err)
	assert.Empty(t, res.Targets)
	assert.Empty(t, res.Distances)
}

func TestDecompose(t *testing.T) {
	f := newFixture(t)

	res, err := f.query.Decompose(Query{Name: "d", Item: domain.Item{Data: "chronic kidney failure"}, N: 2})
	require.NoError(t, err)
	require.NotEmpty(t, res.Targets)
	assert.Equal(t, "A", res.Targets[0])
	assert.Len(t, res.Coefficients, len(res.Targets))
	assert.Len(t, res.Titles, len(res.Targets))

	res, err = f.query.Decompose(Query{Item: domain.Item{Data: "chronic kidney failure"}, N: 1, Factors: []string{"C"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, res.Targets)

	_, err = f.query.Decompose(Query{Item: domain.Item{Data: "kidney"}, N: 1, Factors: []string{"nope"}})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDiffuse(t *testing.T) {
	f := newFixture(t)

	plain, err := f.query.Diffuse(Query{Name: "x", Item: domain.Item{Data: "cardiac"}})
	require.NoError(t, err)
	assert.Equal(t, "x", plain.Query)
	require.NotEmpty(t, plain.Features)

	diffused, err := f.query.Diffuse(Query{Item: domain.Item{Data: "cardiac"}, Diffusion: map[string]float64{"targets": 1}})
	require.NoError(t, err)
	assert.Greater(t, len(diffused.Features), len(plain.Features))
	for k := 1; k < len(diffused.Features); k++ {
		prev, cur := diffused.Features[k-1].Value, diffused.Features[k].Value
		assert.GreaterOrEqual(t, abs(prev), abs(cur))
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func TestSearchFile(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "queries.yaml")
	writeFile(t, path, "q1:\n  data: chronic kidney\nq2:\n  data: cardiac palpitations\nq3:\n  data: hepatic cirrhosis\n")

	results, err := f.query.SearchFile(context.Background(), path, Query{N: 1})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "q1", results[0].Query)
	assert.Equal(t, []string{"A"}, results[0].Targets)
	assert.Equal(t, "q2", results[1].Query)
	assert.Equal(t, []string{"B"}, results[1].Targets)
	assert.Equal(t, "q3", results[2].Query)
	assert.Equal(t, []string{"C"}, results[2].Targets)

	decomps, err := f.query.DecomposeFile(context.Background(), path, Query{N: 1})
	require.NoError(t, err)
	require.Len(t, decomps, 3)
	assert.Equal(t, []string{"B"}, decomps[1].Targets)

	_, err = f.query.SearchFile(context.Background(), filepath.Join(f.dir, "missing.yaml"), Query{N: 1})
	assert.Error(t, err)
}

func TestAdd(t *testing.T) {
	f := newFixture(t)
	add, err := NewAddUseCase(f.cfg, f.store, f.query)
	require.NoError(t, err)

	idx, err := add.Add("manual", "M1", domain.Item{Title: "mine", Data: "cardiac arrhythmia"})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	res, err := f.query.Search(Query{Item: domain.Item{Data: "cardiac arrhythmia"}, Dataset: "manual", N: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"M1"}, res.Targets)
	assert.Equal(t, []string{"mine"}, res.Titles)

	// the manual index is loaded now and picks up new rows directly
	idx, err = add.Add("manual", "M2", domain.Item{Data: "hepatic cirrhosis"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	res, err = f.query.Search(Query{Item: domain.Item{Data: "hepatic cirrhosis"}, Dataset: "manual", N: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"M2"}, res.Targets)

	ds, err := f.store.Dataset("manual")
	require.NoError(t, err)
	assert.False(t, ds.File)
	v := f.query.Encode(domain.Item{Data: "cardiac arrhythmia"})
	counts, err := f.store.GetCounts(ds.Index, v.Indices)
	require.NoError(t, err)
	assert.NotEmpty(t, counts)

	_, err = os.Stat(f.cfg.ManualDataPath("manual"))
	require.NoError(t, err)
	var ids []string
	require.NoError(t, fs.NewItemReader().ReadItems(f.cfg.ManualDataPath("manual"), func(it domain.NamedItem) error {
		ids = append(ids, it.ID)
		return nil
	}))
	assert.Equal(t, []string{"M1", "M2"}, ids)
}

func TestAdd_Rejections(t *testing.T) {
	f := newFixture(t)
	add, err := NewAddUseCase(f.cfg, f.store, f.query)
	require.NoError(t, err)

	_, err = add.Add("targets", "Z", domain.Item{Data: "kidney"})
	assert.ErrorIs(t, err, domain.ErrFileDataset)

	_, err = add.Add("bad-label", "Z", domain.Item{Data: "kidney"})
	assert.ErrorIs(t, err, domain.ErrInvalidDataset)

	_, err = add.Add("manual", "Z", domain.Item{Data: "kidney"})
	require.NoError(t, err)
	_, err = add.Add("manual", "Z", domain.Item{Data: "heart"})
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
}

func TestRemoveAndDelete(t *testing.T) {
	f := newFixture(t)
	add, err := NewAddUseCase(f.cfg, f.store, f.query)
	require.NoError(t, err)

	_, err = add.Add("manual", "M1", domain.Item{Data: "kidney"})
	require.NoError(t, err)
	require.NoError(t, add.Remove("manual"))

	_, err = f.store.Dataset("manual")
	assert.ErrorIs(t, err, domain.ErrUnknownDataset)
	_, err = os.Stat(f.cfg.ManualDataPath("manual"))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, add.Remove("manual"), domain.ErrUnknownDataset)

	require.NoError(t, DeleteData(f.cfg))
	_, err = os.Stat(f.cfg.DataDir())
	assert.True(t, os.IsNotExist(err))
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	info := NewInfoUseCase(f.cfg.Name, f.store, f.query)

	summary, err := info.Summary()
	require.NoError(t, err)
	assert.Equal(t, "demo", summary.Name)
	assert.Greater(t, summary.Features, 0)
	require.Len(t, summary.Datasets, 2)

	features := info.Features(domain.Item{Data: "kidney"})
	require.Len(t, features, 2)
	// equal weights fall back to feature order
	assert.Equal(t, "idney", features[0].Feature)
	assert.Equal(t, "kidne", features[1].Feature)
	assert.InDelta(t, features[0].Value, features[1].Value, 1e-12)

	counts, err := info.Counts("targets", []string{"kidne", "not-a-feature"})
	require.NoError(t, err)
	assert.NotEmpty(t, counts["kidne"])
	assert.Empty(t, counts["not-a-feature"])

	_, err = info.Counts("missing", []string{"kidne"})
	assert.ErrorIs(t, err, domain.ErrUnknownDataset)

	dist, err := info.Distances(Query{Item: domain.Item{Data: "chronic kidney failure"}}, []string{"A", "nope", "B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, dist.Targets)
	assert.InDelta(t, 0, dist.Distances[0], 1e-9)
	assert.Greater(t, dist.Distances[1], 0.5)
}
