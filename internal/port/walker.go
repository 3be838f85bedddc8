package port

import "crossmap/internal/domain"

// FileExpander resolves glob patterns into data file paths.
type FileExpander interface {
	Expand(root string, patterns []string) ([]string, error)
}

// ItemReader streams the items of a data file in file order.
type ItemReader interface {
	ReadItems(path string, fn func(domain.NamedItem) error) error
}
