package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"crossmap/config"
	"crossmap/internal/adapter/fs"
	"crossmap/internal/diffusion"
	"crossmap/internal/domain"
	"crossmap/internal/port"
	"crossmap/internal/sparse"
)

// AddUseCase inserts items into manual datasets and removes datasets.
type AddUseCase struct {
	cfg   *config.Config
	store port.DataStore
	query *QueryUseCase
	opts  options
}

// NewAddUseCase creates a new add use case. Inserted items become visible
// to query immediately.
func NewAddUseCase(cfg *config.Config, store port.DataStore, query *QueryUseCase, opts ...Option) (*AddUseCase, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	return &AddUseCase{cfg: cfg, store: store, query: query, opts: o}, nil
}

// Add encodes item and stores it under id in a manual dataset, creating
// the dataset when needed. It returns the row index of the new item.
func (u *AddUseCase) Add(label, id string, item domain.Item) (int, error) {
	if !config.ValidLabel(label) {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidDataset, label)
	}
	if u.cfg.IsFileDataset(label) {
		return 0, fmt.Errorf("%w: %s", domain.ErrFileDataset, label)
	}
	if id == "" {
		return 0, fmt.Errorf("item id must not be empty")
	}

	ds, err := u.store.Dataset(label)
	if errors.Is(err, domain.ErrUnknownDataset) {
		ds, err = u.store.RegisterDataset(label, false)
		if err == nil {
			u.opts.logger.Info("registered dataset", slog.String("dataset", label), slog.Int("index", ds.Index))
		}
	}
	if err != nil {
		return 0, err
	}
	if ds.File {
		return 0, fmt.Errorf("%w: %s", domain.ErrFileDataset, label)
	}

	exists, err := u.store.HasID(ds.Index, id)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, fmt.Errorf("%w: %s", domain.ErrDuplicateID, id)
	}

	v := u.query.Encode(item)
	idx, err := u.store.AddData(ds.Index, []domain.DataRow{{ID: id, Title: item.Title, Vector: v}})
	if err != nil {
		return 0, fmt.Errorf("failed to store item: %w", err)
	}

	rows, err := diffusion.UpdateCounts(u.store, ds.Index, []sparse.Vector{v})
	if err != nil {
		return 0, fmt.Errorf("failed to update counts: %w", err)
	}
	if err := u.store.UpdateCounts(ds.Index, rows); err != nil {
		return 0, fmt.Errorf("failed to store counts: %w", err)
	}
	if err := u.query.addToIndex(ds.Index, id, v); err != nil {
		u.query.Refresh(ds.Index)
	}

	if err := u.cfg.EnsureDataDir(); err != nil {
		return 0, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := fs.AppendItem(u.cfg.ManualDataPath(label), id, item); err != nil {
		return 0, fmt.Errorf("failed to record item: %w", err)
	}
	return idx[0], nil
}

// Remove deletes a dataset and its record of manually added items.
func (u *AddUseCase) Remove(label string) error {
	ds, err := u.store.Dataset(label)
	if err != nil {
		return err
	}
	if err := u.store.RemoveDataset(label); err != nil {
		return fmt.Errorf("failed to remove dataset: %w", err)
	}
	u.query.Refresh(ds.Index)
	if !ds.File {
		if err := os.Remove(u.cfg.ManualDataPath(label)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove data file: %w", err)
		}
	}
	u.opts.logger.Info("removed dataset", slog.String("dataset", label))
	return nil
}

// DeleteData removes the data directory of an instance. The store must be
// closed.
func DeleteData(cfg *config.Config) error {
	return os.RemoveAll(cfg.DataDir())
}
