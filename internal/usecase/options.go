package usecase

import (
	"fmt"
	"log/slog"
	"runtime"
)

// ProgressFunc reports build progress over the files of one dataset.
type ProgressFunc func(done, total int, dataset string)

type options struct {
	logger   *slog.Logger
	poolSize int
	progress ProgressFunc
}

// Option configures a use case.
type Option func(*options) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// WithPoolSize sets the number of workers for encoding and batch queries.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(o *options) error {
		if size < 0 {
			return fmt.Errorf("pool size must not be negative, got %d", size)
		}
		if size > 0 {
			o.poolSize = size
		}
		return nil
	}
}

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) error {
		if fn != nil {
			o.progress = fn
		}
		return nil
	}
}

func newOptions(opts []Option) (options, error) {
	o := options{
		logger:   slog.Default(),
		poolSize: max(1, runtime.NumCPU()/2),
		progress: func(int, int, string) {},
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return options{}, err
		}
	}
	return o, nil
}
