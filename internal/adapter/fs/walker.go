package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Walker resolves data file patterns. Patterns are doublestar globs,
// relative to the project root unless absolute.
type Walker struct {
	excludes []string
}

func NewWalker(excludes []string) *Walker {
	return &Walker{excludes: excludes}
}

// Expand returns the files matching patterns, in pattern order and sorted
// within a pattern. A file matched by several patterns appears once. A
// literal path that does not exist is an error.
func (w *Walker) Expand(root string, patterns []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})

	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		var matches []string

		if !hasMeta(pattern) {
			path := filepath.FromSlash(pattern)
			if !filepath.IsAbs(path) {
				path = filepath.Join(root, path)
			}
			if _, err := os.Stat(path); err != nil {
				return nil, fmt.Errorf("data file %s: %w", pattern, err)
			}
			matches = []string{path}
		} else {
			base, rest := doublestar.SplitPattern(pattern)
			if !filepath.IsAbs(filepath.FromSlash(base)) {
				base = filepath.Join(root, filepath.FromSlash(base))
			}
			found, err := doublestar.Glob(os.DirFS(base), rest)
			if err != nil {
				return nil, fmt.Errorf("pattern %s: %w", pattern, err)
			}
			sort.Strings(found)
			for _, f := range found {
				path := filepath.Join(base, filepath.FromSlash(f))
				if info, err := os.Stat(path); err != nil || info.IsDir() {
					continue
				}
				matches = append(matches, path)
			}
		}

		for _, path := range matches {
			if w.shouldExclude(root, path) {
				continue
			}
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			files = append(files, path)
		}
	}

	return files, nil
}

func (w *Walker) shouldExclude(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, rel)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func hasMeta(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', '{', '\\':
			return true
		}
	}
	return false
}
