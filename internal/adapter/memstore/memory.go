package memstore

import (
	"fmt"
	"sort"
	"sync"

	"crossmap/config"
	"crossmap/internal/domain"
	"crossmap/internal/port"
	"crossmap/internal/sparse"
)

type dataset struct {
	info   domain.Dataset
	rows   []domain.DataRow
	ids    map[string]int
	counts map[int]sparse.Vector
}

// MemoryStore is an in-memory DataStore. Values are copied on the way in
// and out, so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	datasets map[string]*dataset
	byIndex  map[int]*dataset
	features domain.FeatureMap
	next     int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		datasets: make(map[string]*dataset),
		byIndex:  make(map[int]*dataset),
		features: make(domain.FeatureMap),
	}
}

func (s *MemoryStore) get(index int) (*dataset, error) {
	ds, ok := s.byIndex[index]
	if !ok {
		return nil, fmt.Errorf("%w: index %d", domain.ErrUnknownDataset, index)
	}
	return ds, nil
}

func (s *MemoryStore) Datasets() ([]domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Dataset, 0, len(s.datasets))
	for _, ds := range s.datasets {
		out = append(out, ds.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) Dataset(label string) (domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.datasets[label]
	if !ok {
		return domain.Dataset{}, fmt.Errorf("%w: %s", domain.ErrUnknownDataset, label)
	}
	return ds.info, nil
}

func (s *MemoryStore) RegisterDataset(label string, file bool) (domain.Dataset, error) {
	if !config.ValidLabel(label) {
		return domain.Dataset{}, fmt.Errorf("%w: %q", domain.ErrInvalidDataset, label)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok := s.datasets[label]; ok {
		return ds.info, nil
	}
	ds := &dataset{
		info:   domain.Dataset{Label: label, Index: s.next, File: file},
		ids:    make(map[string]int),
		counts: make(map[int]sparse.Vector),
	}
	s.next++
	s.datasets[label] = ds
	s.byIndex[ds.info.Index] = ds
	return ds.info, nil
}

func (s *MemoryStore) RemoveDataset(label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[label]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownDataset, label)
	}
	delete(s.datasets, label)
	delete(s.byIndex, ds.info.Index)
	return nil
}

func (s *MemoryStore) FeatureMap() (domain.FeatureMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(domain.FeatureMap, len(s.features))
	for k, v := range s.features {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SetFeatureMap(m domain.FeatureMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features = make(domain.FeatureMap, len(m))
	for k, v := range m {
		s.features[k] = v
	}
	return nil
}

func (s *MemoryStore) AddData(index int, rows []domain.DataRow) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, err := s.get(index)
	if err != nil {
		return nil, err
	}
	batch := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		_, dup := batch[row.ID]
		if _, exists := ds.ids[row.ID]; exists || dup {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateID, row.ID)
		}
		batch[row.ID] = struct{}{}
	}
	idxs := make([]int, len(rows))
	for i, row := range rows {
		row = copyRow(row)
		row.Idx = len(ds.rows)
		ds.ids[row.ID] = row.Idx
		ds.rows = append(ds.rows, row)
		idxs[i] = row.Idx
	}
	return idxs, nil
}

func (s *MemoryStore) DatasetSize(index int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, err := s.get(index)
	if err != nil {
		return 0, err
	}
	return len(ds.rows), nil
}

func (s *MemoryStore) HasID(index int, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, err := s.get(index)
	if err != nil {
		return false, err
	}
	_, ok := ds.ids[id]
	return ok, nil
}

func (s *MemoryStore) GetData(index int, ids []string) ([]domain.DataRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, err := s.get(index)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DataRow, 0, len(ids))
	for _, id := range ids {
		if idx, ok := ds.ids[id]; ok {
			out = append(out, copyRow(ds.rows[idx]))
		}
	}
	return out, nil
}

func (s *MemoryStore) ForEachRow(index int, fn func(domain.DataRow) error) error {
	s.mu.RLock()
	ds, err := s.get(index)
	if err != nil {
		s.mu.RUnlock()
		return err
	}
	rows := make([]domain.DataRow, len(ds.rows))
	for i, r := range ds.rows {
		rows[i] = copyRow(r)
	}
	s.mu.RUnlock()

	for _, r := range rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) GetTitles(index int, ids []string) (map[string]string, error) {
	rows, err := s.GetData(index, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ID] = r.Title
	}
	return out, nil
}

func (s *MemoryStore) GetCounts(index int, features []int) (map[int]sparse.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, err := s.get(index)
	if err != nil {
		return nil, err
	}
	out := make(map[int]sparse.Vector, len(features))
	for _, f := range features {
		if v, ok := ds.counts[f]; ok {
			out[f] = v.Clone()
		}
	}
	return out, nil
}

func (s *MemoryStore) SetCounts(index int, rows map[int]sparse.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, err := s.get(index)
	if err != nil {
		return err
	}
	ds.counts = make(map[int]sparse.Vector, len(rows))
	for k, v := range rows {
		ds.counts[k] = v.Clone()
	}
	return nil
}

func (s *MemoryStore) UpdateCounts(index int, rows map[int]sparse.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, err := s.get(index)
	if err != nil {
		return err
	}
	for k, v := range rows {
		ds.counts[k] = v.Clone()
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func copyRow(r domain.DataRow) domain.DataRow {
	r.Vector = r.Vector.Clone()
	return r
}

var _ port.DataStore = (*MemoryStore)(nil)
