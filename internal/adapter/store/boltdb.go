package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"crossmap/config"
	"crossmap/internal/adapter/cache"
	"crossmap/internal/domain"
	"crossmap/internal/port"
	"crossmap/internal/sparse"
)

var (
	bucketMeta     = []byte("meta")
	bucketDatasets = []byte("datasets")
	bucketFeatures = []byte("features")
	bucketData     = []byte("data")

	bucketRows   = []byte("rows")
	bucketIDs    = []byte("ids")
	bucketCounts = []byte("counts")

	keyNextDataset = []byte("next_dataset")
)

// BoltStore keeps datasets in a bbolt file. Each dataset owns a bucket under
// "data" holding its rows (by idx), an id index and its CountsTable. Reads
// go through bounded caches that are cleared on every write.
type BoltStore struct {
	db *bbolt.DB

	rows   *cache.SyncCache[int, string, domain.DataRow]
	titles *cache.SyncCache[int, string, string]
	counts *cache.SyncCache[int, int, sparse.Vector]
}

func cloneRow(r domain.DataRow) domain.DataRow {
	r.Vector = r.Vector.Clone()
	return r
}

func cloneVector(v sparse.Vector) sparse.Vector {
	return v.Clone()
}

func NewBoltStore(path string, sizes config.CacheConfig) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketMeta, bucketDatasets, bucketFeatures, bucketData}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{
		db:     db,
		rows:   cache.NewSyncCache[int, string, domain.DataRow](sizes.Data, cloneRow),
		titles: cache.NewSyncCache[int, string, string](sizes.Titles, nil),
		counts: cache.NewSyncCache[int, int, sparse.Vector](sizes.Counts, cloneVector),
	}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func (s *BoltStore) clearCaches() {
	s.rows.Clear()
	s.titles.Clear()
	s.counts.Clear()
}

func datasetBucket(tx *bbolt.Tx, dataset int) *bbolt.Bucket {
	return tx.Bucket(bucketData).Bucket(itob(dataset))
}

func (s *BoltStore) Datasets() ([]domain.Dataset, error) {
	var out []domain.Dataset
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDatasets).ForEach(func(k, v []byte) error {
			var ds domain.Dataset
			if err := json.Unmarshal(v, &ds); err != nil {
				return err
			}
			out = append(out, ds)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, err
}

func (s *BoltStore) Dataset(label string) (domain.Dataset, error) {
	var ds domain.Dataset
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDatasets).Get([]byte(label))
		if data == nil {
			return fmt.Errorf("%w: %s", domain.ErrUnknownDataset, label)
		}
		return json.Unmarshal(data, &ds)
	})
	return ds, err
}

// RegisterDataset returns the existing dataset for label, or creates it.
func (s *BoltStore) RegisterDataset(label string, file bool) (domain.Dataset, error) {
	if !config.ValidLabel(label) {
		return domain.Dataset{}, fmt.Errorf("%w: %q", domain.ErrInvalidDataset, label)
	}
	var ds domain.Dataset
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDatasets)
		if data := b.Get([]byte(label)); data != nil {
			return json.Unmarshal(data, &ds)
		}

		meta := tx.Bucket(bucketMeta)
		next := 0
		if v := meta.Get(keyNextDataset); v != nil {
			next = btoi(v)
		}
		ds = domain.Dataset{Label: label, Index: next, File: file}
		if err := meta.Put(keyNextDataset, itob(next+1)); err != nil {
			return err
		}

		dsb, err := tx.Bucket(bucketData).CreateBucketIfNotExists(itob(ds.Index))
		if err != nil {
			return err
		}
		for _, name := range [][]byte{bucketRows, bucketIDs, bucketCounts} {
			if _, err := dsb.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		data, err := json.Marshal(ds)
		if err != nil {
			return err
		}
		return b.Put([]byte(label), data)
	})
	return ds, err
}

func (s *BoltStore) RemoveDataset(label string) error {
	ds, err := s.Dataset(label)
	if err != nil {
		return err
	}
	defer s.clearCaches()
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketData).DeleteBucket(itob(ds.Index)); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		return tx.Bucket(bucketDatasets).Delete([]byte(label))
	})
}

func (s *BoltStore) FeatureMap() (domain.FeatureMap, error) {
	m := make(domain.FeatureMap)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFeatures).ForEach(func(k, v []byte) error {
			var e domain.FeatureEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			m[string(k)] = e
			return nil
		})
	})
	return m, err
}

// SetFeatureMap replaces the stored feature map.
func (s *BoltStore) SetFeatureMap(m domain.FeatureMap) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketFeatures); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketFeatures)
		if err != nil {
			return err
		}
		for token, e := range m {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(token), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) AddData(dataset int, rows []domain.DataRow) ([]int, error) {
	idxs := make([]int, len(rows))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dsb := datasetBucket(tx, dataset)
		if dsb == nil {
			return fmt.Errorf("%w: index %d", domain.ErrUnknownDataset, dataset)
		}
		rowsB := dsb.Bucket(bucketRows)
		ids := dsb.Bucket(bucketIDs)
		next := 0
		if k, _ := rowsB.Cursor().Last(); k != nil {
			next = btoi(k) + 1
		}
		batch := make(map[string]struct{}, len(rows))
		for i, row := range rows {
			if _, dup := batch[row.ID]; dup || ids.Get([]byte(row.ID)) != nil {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateID, row.ID)
			}
			batch[row.ID] = struct{}{}

			row.Idx = next + i
			data, err := encodeValue(row)
			if err != nil {
				return err
			}
			if err := rowsB.Put(itob(row.Idx), data); err != nil {
				return err
			}
			if err := ids.Put([]byte(row.ID), itob(row.Idx)); err != nil {
				return err
			}
			idxs[i] = row.Idx
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.clearCaches()
	return idxs, nil
}

func (s *BoltStore) DatasetSize(dataset int) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		dsb := datasetBucket(tx, dataset)
		if dsb == nil {
			return fmt.Errorf("%w: index %d", domain.ErrUnknownDataset, dataset)
		}
		n = dsb.Bucket(bucketIDs).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) HasID(dataset int, id string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		dsb := datasetBucket(tx, dataset)
		if dsb == nil {
			return fmt.Errorf("%w: index %d", domain.ErrUnknownDataset, dataset)
		}
		found = dsb.Bucket(bucketIDs).Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

// GetData returns rows for ids in input order. Unknown ids are skipped.
func (s *BoltStore) GetData(dataset int, ids []string) ([]domain.DataRow, error) {
	found, missing := s.rows.Get(dataset, ids)
	if len(missing) > 0 {
		err := s.db.View(func(tx *bbolt.Tx) error {
			dsb := datasetBucket(tx, dataset)
			if dsb == nil {
				return fmt.Errorf("%w: index %d", domain.ErrUnknownDataset, dataset)
			}
			rowsB, idsB := dsb.Bucket(bucketRows), dsb.Bucket(bucketIDs)
			for _, id := range missing {
				idx := idsB.Get([]byte(id))
				if idx == nil {
					continue
				}
				var row domain.DataRow
				if err := decodeValue(rowsB.Get(idx), &row); err != nil {
					return fmt.Errorf("row %s: %w", id, err)
				}
				found[id] = row
				s.rows.Set(dataset, id, row)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]domain.DataRow, 0, len(ids))
	for _, id := range ids {
		if row, ok := found[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// ForEachRow visits rows in idx order without caching them.
func (s *BoltStore) ForEachRow(dataset int, fn func(domain.DataRow) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		dsb := datasetBucket(tx, dataset)
		if dsb == nil {
			return fmt.Errorf("%w: index %d", domain.ErrUnknownDataset, dataset)
		}
		return dsb.Bucket(bucketRows).ForEach(func(_, v []byte) error {
			var row domain.DataRow
			if err := decodeValue(v, &row); err != nil {
				return err
			}
			return fn(row)
		})
	})
}

func (s *BoltStore) GetTitles(dataset int, ids []string) (map[string]string, error) {
	found, missing := s.titles.Get(dataset, ids)
	if len(missing) == 0 {
		return found, nil
	}
	rows, err := s.GetData(dataset, missing)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		found[row.ID] = row.Title
		s.titles.Set(dataset, row.ID, row.Title)
	}
	return found, nil
}

func (s *BoltStore) GetCounts(dataset int, features []int) (map[int]sparse.Vector, error) {
	found, missing := s.counts.Get(dataset, features)
	if len(missing) == 0 {
		return found, nil
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		dsb := datasetBucket(tx, dataset)
		if dsb == nil {
			return fmt.Errorf("%w: index %d", domain.ErrUnknownDataset, dataset)
		}
		b := dsb.Bucket(bucketCounts)
		for _, f := range missing {
			data := b.Get(itob(f))
			if data == nil {
				continue
			}
			var v sparse.Vector
			if err := decodeValue(data, &v); err != nil {
				return fmt.Errorf("counts row %d: %w", f, err)
			}
			found[f] = v
			s.counts.Set(dataset, f, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *BoltStore) SetCounts(dataset int, rows map[int]sparse.Vector) error {
	defer s.clearCaches()
	return s.db.Update(func(tx *bbolt.Tx) error {
		dsb := datasetBucket(tx, dataset)
		if dsb == nil {
			return fmt.Errorf("%w: index %d", domain.ErrUnknownDataset, dataset)
		}
		if err := dsb.DeleteBucket(bucketCounts); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		b, err := dsb.CreateBucket(bucketCounts)
		if err != nil {
			return err
		}
		return putCounts(b, rows)
	})
}

func (s *BoltStore) UpdateCounts(dataset int, rows map[int]sparse.Vector) error {
	defer s.clearCaches()
	return s.db.Update(func(tx *bbolt.Tx) error {
		dsb := datasetBucket(tx, dataset)
		if dsb == nil {
			return fmt.Errorf("%w: index %d", domain.ErrUnknownDataset, dataset)
		}
		return putCounts(dsb.Bucket(bucketCounts), rows)
	})
}

func putCounts(b *bbolt.Bucket, rows map[int]sparse.Vector) error {
	keys := make([]int, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		data, err := encodeValue(rows[k])
		if err != nil {
			return err
		}
		if err := b.Put(itob(k), data); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ port.DataStore = (*BoltStore)(nil)
