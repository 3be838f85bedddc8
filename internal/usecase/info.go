package usecase

import (
	"fmt"
	"sort"

	"crossmap/internal/domain"
	"crossmap/internal/port"
	"crossmap/internal/sparse"
)

// InfoUseCase reports on the contents of a store.
type InfoUseCase struct {
	store port.DataStore
	query *QueryUseCase
	name  string
}

func NewInfoUseCase(name string, store port.DataStore, query *QueryUseCase) *InfoUseCase {
	return &InfoUseCase{store: store, query: query, name: name}
}

// Summary lists datasets with their sizes.
func (u *InfoUseCase) Summary() (domain.Summary, error) {
	out := domain.Summary{Name: u.name, Datasets: []domain.DatasetSummary{}}
	features, err := u.store.FeatureMap()
	if err != nil {
		return out, err
	}
	out.Features = features.Dim()
	datasets, err := u.store.Datasets()
	if err != nil {
		return out, err
	}
	for _, ds := range datasets {
		size, err := u.store.DatasetSize(ds.Index)
		if err != nil {
			return out, err
		}
		out.Datasets = append(out.Datasets, domain.DatasetSummary{Label: ds.Label, Size: size, File: ds.File})
	}
	return out, nil
}

// Features lists the encoded features of an item, largest first.
func (u *InfoUseCase) Features(item domain.Item) []domain.FeatureValue {
	return u.query.explain(u.query.Encode(item))
}

// Counts returns the counts rows of named features in a dataset. Unknown
// features are reported with an empty row.
func (u *InfoUseCase) Counts(label string, features []string) (map[string][]domain.FeatureValue, error) {
	ds, err := u.store.Dataset(label)
	if err != nil {
		return nil, err
	}
	fm := u.query.Encoder().Features()
	indices := make([]int, 0, len(features))
	for _, f := range features {
		if e, ok := fm[f]; ok {
			indices = append(indices, e.Index)
		}
	}
	sort.Ints(indices)
	rows, err := u.store.GetCounts(ds.Index, indices)
	if err != nil {
		return nil, fmt.Errorf("failed to read counts: %w", err)
	}
	out := make(map[string][]domain.FeatureValue, len(features))
	for _, f := range features {
		e, ok := fm[f]
		if !ok {
			out[f] = []domain.FeatureValue{}
			continue
		}
		row, ok := rows[e.Index]
		if !ok {
			row = sparse.Zero(fm.Dim())
		}
		out[f] = u.query.explain(row)
	}
	return out, nil
}

// Distances computes the Euclidean distance between a query item and the
// named items of its dataset, in the given order. Unknown ids are skipped.
func (u *InfoUseCase) Distances(q Query, ids []string) (domain.SearchResult, error) {
	res := domain.SearchResult{Query: q.Name, Targets: []string{}, Distances: []float64{}}
	ds, err := u.query.resolve(q.Dataset)
	if err != nil {
		return res, err
	}
	_, v, err := u.query.prepare(q)
	if err != nil {
		return res, err
	}
	rows, err := u.store.GetData(ds.Index, ids)
	if err != nil {
		return res, err
	}
	byID := make(map[string]domain.DataRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			continue
		}
		res.Targets = append(res.Targets, id)
		res.Distances = append(res.Distances, sparse.Euclidean(v, r.Vector))
		res.Titles = append(res.Titles, r.Title)
	}
	return res, nil
}
