package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"crossmap/config"
	"crossmap/internal/adapter/encoder"
	"crossmap/internal/adapter/index"
	"crossmap/internal/decompose"
	"crossmap/internal/diffusion"
	"crossmap/internal/domain"
	"crossmap/internal/port"
	"crossmap/internal/ranker"
	"crossmap/internal/sparse"
)

// Query describes one search, decomposition or diffusion request.
type Query struct {
	Name      string
	Item      domain.Item
	Dataset   string             // defaults to the configured default dataset
	N         int                // number of results
	Diffusion map[string]float64 // dataset label -> strength, overrides config
	Factors   []string           // decomposition only
}

// QueryUseCase answers queries against a built store. Indexes are loaded
// lazily per dataset and kept until Refresh.
type QueryUseCase struct {
	cfg      *config.Config
	store    port.DataStore
	reader   port.ItemReader
	encoder  *encoder.Encoder
	diffuser *diffusion.Diffuser
	opts     options

	mu      sync.RWMutex
	indexes map[int]*index.Flat
}

// NewQueryUseCase creates a new query use case. The store must hold a
// feature map.
func NewQueryUseCase(
	cfg *config.Config,
	store port.DataStore,
	reader port.ItemReader,
	tokenizer port.Tokenizer,
	opts ...Option,
) (*QueryUseCase, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	features, err := store.FeatureMap()
	if err != nil {
		return nil, fmt.Errorf("failed to read feature map: %w", err)
	}
	if features.Dim() == 0 {
		return nil, domain.ErrEmptyFeatureMap
	}
	diffuser, err := diffusion.NewDiffuser(store,
		diffusion.WithThreshold(cfg.Diffusion.Threshold),
		diffusion.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	return &QueryUseCase{
		cfg:      cfg,
		store:    store,
		reader:   reader,
		encoder:  encoder.New(features, tokenizer),
		diffuser: diffuser,
		opts:     o,
		indexes:  make(map[int]*index.Flat),
	}, nil
}

// Encode returns the raw vector of an item.
func (u *QueryUseCase) Encode(item domain.Item) sparse.Vector {
	return u.encoder.Encode(item)
}

// Encoder exposes the encoder bound to the stored feature map.
func (u *QueryUseCase) Encoder() *encoder.Encoder {
	return u.encoder
}

// Refresh drops the loaded index of a dataset.
func (u *QueryUseCase) Refresh(dataset int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.indexes, dataset)
}

// addToIndex appends a row to a loaded index. Unloaded indexes pick the
// row up when they are built.
func (u *QueryUseCase) addToIndex(dataset int, id string, v sparse.Vector) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	idx, ok := u.indexes[dataset]
	if !ok {
		return nil
	}
	return idx.Add(id, v)
}

// index returns the index of a dataset, building it on first use.
func (u *QueryUseCase) index(ds domain.Dataset) (*index.Flat, error) {
	u.mu.RLock()
	idx, ok := u.indexes[ds.Index]
	u.mu.RUnlock()
	if ok {
		return idx, nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if idx, ok := u.indexes[ds.Index]; ok {
		return idx, nil
	}
	idx = index.NewFlat()
	err := u.store.ForEachRow(ds.Index, func(r domain.DataRow) error {
		return idx.Add(r.ID, r.Vector)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load index for %s: %w", ds.Label, err)
	}
	u.indexes[ds.Index] = idx
	u.opts.logger.Debug("loaded index", slog.String("dataset", ds.Label), slog.Int("size", idx.Len()))
	return idx, nil
}

// resolve looks up the query dataset.
func (u *QueryUseCase) resolve(label string) (domain.Dataset, error) {
	if label == "" {
		label = u.cfg.DefaultDataset()
	}
	return u.store.Dataset(label)
}

// targets returns the target index and the document index used for
// ranking against ds. A missing or empty index is nil.
func (u *QueryUseCase) targets(ds domain.Dataset) (port.AnnIndex, port.AnnIndex, error) {
	var targets, documents port.AnnIndex
	t, err := u.index(ds)
	if err != nil {
		return nil, nil, err
	}
	if t.Len() > 0 {
		targets = t
	}

	label := u.cfg.Data.Documents
	if label == "" || label == ds.Label {
		return targets, nil, nil
	}
	docs, err := u.store.Dataset(label)
	if err != nil {
		u.opts.logger.Debug("document dataset unavailable", slog.String("dataset", label))
		return targets, nil, nil
	}
	d, err := u.index(docs)
	if err != nil {
		return nil, nil, err
	}
	if d.Len() > 0 {
		documents = d
	}
	return targets, documents, nil
}

// strengths merges configured and requested diffusion strengths and maps
// them to dataset indexes.
func (u *QueryUseCase) strengths(requested map[string]float64) (map[int]float64, error) {
	merged := make(map[string]float64, len(u.cfg.Diffusion.Strength)+len(requested))
	for label, s := range u.cfg.Diffusion.Strength {
		merged[label] = s
	}
	for label, s := range requested {
		merged[label] = s
	}
	out := make(map[int]float64, len(merged))
	for label, s := range merged {
		ds, err := u.store.Dataset(label)
		if err != nil {
			return nil, err
		}
		if s != 0 {
			out[ds.Index] = s
		}
	}
	return out, nil
}

// prepare encodes the query item and diffuses it.
func (u *QueryUseCase) prepare(q Query) (sparse.Vector, sparse.Vector, error) {
	raw := u.encoder.Encode(q.Item)
	if raw.IsZero() {
		return raw, raw, nil
	}
	strengths, err := u.strengths(q.Diffusion)
	if err != nil {
		return sparse.Vector{}, sparse.Vector{}, err
	}
	if len(strengths) == 0 {
		return raw, raw, nil
	}
	diffused, err := u.diffuser.Diffuse(raw, strengths, u.cfg.Diffusion.Passes)
	if err != nil {
		return sparse.Vector{}, sparse.Vector{}, fmt.Errorf("failed to diffuse query: %w", err)
	}
	return raw, diffused, nil
}

func (u *QueryUseCase) titles(ds domain.Dataset, ids []string) ([]string, error) {
	found, err := u.store.GetTitles(ds.Index, ids)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for k, id := range ids {
		out[k] = found[id]
	}
	return out, nil
}

// Search finds the targets in a dataset closest to a query item.
func (u *QueryUseCase) Search(q Query) (domain.SearchResult, error) {
	res := domain.SearchResult{Query: q.Name, Targets: []string{}, Distances: []float64{}}
	ds, err := u.resolve(q.Dataset)
	if err != nil {
		return res, err
	}
	raw, v, err := u.prepare(q)
	if err != nil || raw.IsZero() {
		return res, err
	}
	targets, documents, err := u.targets(ds)
	if err != nil {
		return res, err
	}
	candidates, err := ranker.Rank(v, targets, documents, q.N, q.N)
	if err != nil {
		return res, err
	}
	res.Targets, res.Distances = ranker.Split(candidates)
	if res.Titles, err = u.titles(ds, res.Targets); err != nil {
		return res, err
	}
	return res, nil
}

// Decompose explains a query item as a weighted list of targets.
func (u *QueryUseCase) Decompose(q Query) (domain.Decomposition, error) {
	res := domain.Decomposition{Query: q.Name, Targets: []string{}, Coefficients: []float64{}}
	ds, err := u.resolve(q.Dataset)
	if err != nil {
		return res, err
	}
	raw, v, err := u.prepare(q)
	if err != nil || raw.IsZero() {
		return res, err
	}
	targets, documents, err := u.targets(ds)
	if err != nil {
		return res, err
	}
	d, err := decompose.NewDecomposer(targets, documents, decompose.WithLogger(u.opts.logger))
	if err != nil {
		return res, err
	}
	out, err := d.Decompose(v, decompose.Request{
		NTargets: q.N,
		NDocs:    q.N,
		Factors:  q.Factors,
		Support:  raw.Bitmap(),
	})
	if err != nil {
		return res, err
	}
	res.Targets, res.Coefficients = out.IDs, out.Coefficients
	if res.Titles, err = u.titles(ds, res.Targets); err != nil {
		return res, err
	}
	return res, nil
}

// Diffuse explains the diffused vector of a query item, largest
// magnitude first.
func (u *QueryUseCase) Diffuse(q Query) (domain.Diffusion, error) {
	_, v, err := u.prepare(q)
	if err != nil {
		return domain.Diffusion{}, err
	}
	return domain.Diffusion{Query: q.Name, Features: u.explain(v)}, nil
}

// explain lists the features of v by decreasing |value|.
func (u *QueryUseCase) explain(v sparse.Vector) []domain.FeatureValue {
	out := make([]domain.FeatureValue, 0, v.Nnz())
	for k, i := range v.Indices {
		out = append(out, domain.FeatureValue{Feature: u.encoder.FeatureName(i), Value: v.Values[k]})
	}
	sort.SliceStable(out, func(a, b int) bool {
		va, vb := math.Abs(out[a].Value), math.Abs(out[b].Value)
		if va != vb {
			return va > vb
		}
		return out[a].Feature < out[b].Feature
	})
	return out
}

// SearchFile runs Search for every item of a data file. Results follow
// file order.
func (u *QueryUseCase) SearchFile(ctx context.Context, path string, template Query) ([]domain.SearchResult, error) {
	return runFile(ctx, u, path, template, u.Search)
}

// DecomposeFile runs Decompose for every item of a data file.
func (u *QueryUseCase) DecomposeFile(ctx context.Context, path string, template Query) ([]domain.Decomposition, error) {
	return runFile(ctx, u, path, template, u.Decompose)
}

func runFile[R any](ctx context.Context, u *QueryUseCase, path string, template Query, action func(Query) (R, error)) ([]R, error) {
	var queries []Query
	err := u.reader.ReadItems(path, func(it domain.NamedItem) error {
		q := template
		q.Name = it.ID
		q.Item = it.Item
		queries = append(queries, q)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	results := make([]R, len(queries))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.poolSize)
	for k, q := range queries {
		k, q := k, q
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := action(q)
			if err != nil {
				return fmt.Errorf("query %s: %w", q.Name, err)
			}
			results[k] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
