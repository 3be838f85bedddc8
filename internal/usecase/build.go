package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"crossmap/config"
	"crossmap/internal/adapter/encoder"
	"crossmap/internal/diffusion"
	"crossmap/internal/domain"
	"crossmap/internal/port"
	"crossmap/internal/sparse"
)

// BuildUseCase populates a store from the configured data collections.
type BuildUseCase struct {
	cfg       *config.Config
	store     port.DataStore
	expander  port.FileExpander
	reader    port.ItemReader
	tokenizer port.Tokenizer
	pool      *ants.Pool
	opts      options
}

// NewBuildUseCase creates a new build use case. Close releases its
// worker pool.
func NewBuildUseCase(
	cfg *config.Config,
	store port.DataStore,
	expander port.FileExpander,
	reader port.ItemReader,
	tokenizer port.Tokenizer,
	opts ...Option,
) (*BuildUseCase, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(o.poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return &BuildUseCase{
		cfg:       cfg,
		store:     store,
		expander:  expander,
		reader:    reader,
		tokenizer: tokenizer,
		pool:      pool,
		opts:      o,
	}, nil
}

func (u *BuildUseCase) Close() {
	u.pool.Release()
}

// BuildResult contains the results of a build.
type BuildResult struct {
	Features   int
	Datasets   []domain.DatasetSummary
	Skipped    []string // datasets that were already populated
	Duplicates int
	Empty      int // items encoding to the zero vector
}

// Build registers datasets, prepares the feature map, transfers items and
// computes the CountsTable of every dataset that was filled.
func (u *BuildUseCase) Build(ctx context.Context) (*BuildResult, error) {
	if err := u.cfg.ValidateBuild(); err != nil {
		return nil, err
	}

	files := make(map[string][]string)
	for _, label := range u.cfg.Labels() {
		found, err := u.expander.Expand(u.cfg.Dir(), u.cfg.Data.Collections[label])
		if err != nil {
			return nil, fmt.Errorf("failed to resolve collection %s: %w", label, err)
		}
		files[label] = found
		u.opts.logger.Info("resolved collection",
			slog.String("dataset", label),
			slog.Int("files", len(found)))
	}

	features, err := u.featureMap(files)
	if err != nil {
		return nil, err
	}
	enc := encoder.New(features, u.tokenizer)

	result := &BuildResult{Features: features.Dim()}
	var filled []domain.Dataset
	for _, label := range u.cfg.Labels() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds, err := u.store.Dataset(label)
		if errors.Is(err, domain.ErrUnknownDataset) {
			ds, err = u.store.RegisterDataset(label, true)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to register dataset %s: %w", label, err)
		}
		size, err := u.store.DatasetSize(ds.Index)
		if err != nil {
			return nil, err
		}
		if size > 0 {
			u.opts.logger.Info("dataset already populated", slog.String("dataset", label), slog.Int("size", size))
			result.Skipped = append(result.Skipped, label)
			continue
		}
		if err := u.transfer(ctx, enc, ds, files[label], result); err != nil {
			return nil, fmt.Errorf("failed to transfer dataset %s: %w", label, err)
		}
		filled = append(filled, ds)
	}

	if err := u.buildCounts(ctx, features.Dim(), filled); err != nil {
		return nil, err
	}

	for _, label := range u.cfg.Labels() {
		ds, err := u.store.Dataset(label)
		if err != nil {
			return nil, err
		}
		size, err := u.store.DatasetSize(ds.Index)
		if err != nil {
			return nil, err
		}
		result.Datasets = append(result.Datasets, domain.DatasetSummary{Label: label, Size: size, File: ds.File})
	}
	return result, nil
}

// featureMap returns the stored feature map, or builds one from the
// configured map file or from the data itself.
func (u *BuildUseCase) featureMap(files map[string][]string) (domain.FeatureMap, error) {
	existing, err := u.store.FeatureMap()
	if err != nil {
		return nil, fmt.Errorf("failed to read feature map: %w", err)
	}
	if existing.Dim() > 0 {
		return existing, nil
	}

	var features domain.FeatureMap
	if u.cfg.Features.MapFile != "" {
		features, err = encoder.ReadFeatureMap(u.cfg.Resolve(u.cfg.Features.MapFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read feature map file: %w", err)
		}
	} else {
		counter := encoder.NewFeatureCounter(u.tokenizer)
		for _, label := range u.cfg.Labels() {
			for _, path := range files[label] {
				err := u.reader.ReadItems(path, func(it domain.NamedItem) error {
					counter.AddItem(it.Item)
					return nil
				})
				if err != nil {
					return nil, fmt.Errorf("failed to read %s: %w", path, err)
				}
			}
		}
		features = counter.Build(encoder.FeatureOptions{
			MinCount:  u.cfg.Features.MinCount,
			MaxNumber: u.cfg.Features.MaxNumber,
			Weighting: [2]float64{u.cfg.Features.Weighting[0], u.cfg.Features.Weighting[1]},
		})
		u.opts.logger.Info("counted features",
			slog.Int("items", counter.Items()),
			slog.Int("features", features.Dim()))
	}
	if features.Dim() == 0 {
		return nil, domain.ErrEmptyFeatureMap
	}

	if err := u.store.SetFeatureMap(features); err != nil {
		return nil, fmt.Errorf("failed to store feature map: %w", err)
	}
	if err := u.cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := encoder.WriteFeatureMap(u.cfg.FeatureMapPath(), features); err != nil {
		return nil, fmt.Errorf("failed to write feature map: %w", err)
	}
	return features, nil
}

// transfer streams the items of files into the store in batches.
func (u *BuildUseCase) transfer(ctx context.Context, enc port.Encoder, ds domain.Dataset, files []string, result *BuildResult) error {
	batchSize := u.cfg.Build.BatchSize
	batch := make([]domain.NamedItem, 0, batchSize)
	seen := make(map[string]struct{})

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		vectors, err := u.encodeBatch(enc, batch)
		if err != nil {
			return err
		}
		rows := make([]domain.DataRow, 0, len(batch))
		for k, it := range batch {
			if vectors[k].IsZero() {
				result.Empty++
				u.opts.logger.Debug("skipping empty item", slog.String("dataset", ds.Label), slog.String("id", it.ID))
				continue
			}
			rows = append(rows, domain.DataRow{ID: it.ID, Title: it.Item.Title, Vector: vectors[k]})
		}
		batch = batch[:0]
		if len(rows) == 0 {
			return nil
		}
		_, err = u.store.AddData(ds.Index, rows)
		return err
	}

	for n, path := range files {
		err := u.reader.ReadItems(path, func(it domain.NamedItem) error {
			if _, dup := seen[it.ID]; dup {
				result.Duplicates++
				u.opts.logger.Warn("duplicate item id", slog.String("dataset", ds.Label), slog.String("id", it.ID))
				return nil
			}
			seen[it.ID] = struct{}{}
			batch = append(batch, it)
			if len(batch) >= batchSize {
				if err := ctx.Err(); err != nil {
					return err
				}
				return flush()
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		u.opts.progress(n+1, len(files), ds.Label)
	}
	return flush()
}

// encodeBatch encodes items on the worker pool, preserving order.
func (u *BuildUseCase) encodeBatch(enc port.Encoder, items []domain.NamedItem) ([]sparse.Vector, error) {
	out := make([]sparse.Vector, len(items))
	var wg sync.WaitGroup
	for k := range items {
		k := k
		wg.Add(1)
		err := u.pool.Submit(func() {
			defer wg.Done()
			out[k] = enc.Encode(items[k].Item)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("failed to submit encoding task: %w", err)
		}
	}
	wg.Wait()
	return out, nil
}

// buildCounts computes CountsTables of several datasets concurrently.
func (u *BuildUseCase) buildCounts(ctx context.Context, dim int, datasets []domain.Dataset) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.poolSize)
	for _, ds := range datasets {
		ds := ds
		g.Go(func() error {
			builder := diffusion.NewCountsBuilder(dim)
			err := u.store.ForEachRow(ds.Index, func(r domain.DataRow) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				builder.Add(r.Vector)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to read dataset %s: %w", ds.Label, err)
			}
			rows := builder.Rows()
			if err := u.store.SetCounts(ds.Index, rows); err != nil {
				return fmt.Errorf("failed to store counts for %s: %w", ds.Label, err)
			}
			u.opts.logger.Info("built counts", slog.String("dataset", ds.Label), slog.Int("rows", len(rows)))
			return nil
		})
	}
	return g.Wait()
}
