package domain

import "errors"

var (
	ErrUnknownDataset    = errors.New("unknown dataset")
	ErrInvalidDataset    = errors.New("invalid dataset label")
	ErrDuplicateID       = errors.New("duplicate item id")
	ErrFileDataset       = errors.New("cannot add to file-based dataset")
	ErrNotFound          = errors.New("not found")
	ErrEmptyFeatureMap   = errors.New("feature map is empty")
	ErrDimensionMismatch = errors.New("vector dimension does not match feature space")
)
