package port

import (
	"crossmap/internal/domain"
	"crossmap/internal/sparse"
)

// CountsProvider serves rows of a dataset's CountsTable. Missing rows are
// absent from the result.
type CountsProvider interface {
	GetCounts(dataset int, features []int) (map[int]sparse.Vector, error)
}

// DataStore persists datasets, the feature map, encoded items and counts.
type DataStore interface {
	CountsProvider

	Datasets() ([]domain.Dataset, error)

	// Dataset returns domain.ErrUnknownDataset for an unregistered label.
	Dataset(label string) (domain.Dataset, error)

	RegisterDataset(label string, file bool) (domain.Dataset, error)

	RemoveDataset(label string) error

	FeatureMap() (domain.FeatureMap, error)

	SetFeatureMap(m domain.FeatureMap) error

	// AddData appends rows, assigning consecutive Idx values. A repeated
	// id fails with domain.ErrDuplicateID and nothing is written.
	AddData(dataset int, rows []domain.DataRow) ([]int, error)

	DatasetSize(dataset int) (int, error)

	HasID(dataset int, id string) (bool, error)

	GetData(dataset int, ids []string) ([]domain.DataRow, error)

	ForEachRow(dataset int, fn func(domain.DataRow) error) error

	GetTitles(dataset int, ids []string) (map[string]string, error)

	// SetCounts replaces the whole CountsTable of a dataset.
	SetCounts(dataset int, rows map[int]sparse.Vector) error

	// UpdateCounts overwrites the given rows and keeps the others.
	UpdateCounts(dataset int, rows map[int]sparse.Vector) error

	Close() error
}

// AnnIndex answers nearest-neighbor queries over one dataset.
type AnnIndex interface {
	Query(v sparse.Vector, k int) ([]string, []float64, error)

	Vector(id string) (sparse.Vector, bool)

	Len() int
}
