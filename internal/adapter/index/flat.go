// Package index provides an exact nearest-neighbor index over sparse
// vectors.
package index

import (
	"container/heap"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"crossmap/internal/domain"
	"crossmap/internal/port"
	"crossmap/internal/sparse"
)

// Flat scans every vector for each query. Posting lists restrict the full
// distance computation to rows sharing at least one feature with the query;
// all other rows are at distance sqrt(|q|^2 + |x|^2).
type Flat struct {
	mu       sync.RWMutex
	dim      int
	ids      []string
	vectors  []sparse.Vector
	sqNorms  []float64
	byID     map[string]int
	postings map[int]*roaring.Bitmap
}

func NewFlat() *Flat {
	return &Flat{
		byID:     make(map[string]int),
		postings: make(map[int]*roaring.Bitmap),
	}
}

// Build creates an index over rows, in row order.
func Build(rows []domain.DataRow) (*Flat, error) {
	f := NewFlat()
	for _, r := range rows {
		if err := f.Add(r.ID, r.Vector); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Flat) Add(id string, v sparse.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, dup := f.byID[id]; dup {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, id)
	}
	if len(f.ids) == 0 && f.dim == 0 {
		f.dim = v.Dim
	} else if v.Dim != f.dim {
		return fmt.Errorf("%w: %d != %d", domain.ErrDimensionMismatch, v.Dim, f.dim)
	}

	pos := len(f.ids)
	f.ids = append(f.ids, id)
	f.vectors = append(f.vectors, v.Clone())
	f.sqNorms = append(f.sqNorms, sparse.Dot(v, v))
	f.byID[id] = pos
	for _, i := range v.Indices {
		bm, ok := f.postings[i]
		if !ok {
			bm = roaring.New()
			f.postings[i] = bm
		}
		bm.Add(uint32(pos))
	}
	return nil
}

func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

func (f *Flat) Dim() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dim
}

// Vector returns a copy of the stored vector for id.
func (f *Flat) Vector(id string) (sparse.Vector, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	pos, ok := f.byID[id]
	if !ok {
		return sparse.Vector{}, false
	}
	return f.vectors[pos].Clone(), true
}

// Query returns up to k ids ordered by Euclidean distance to q. Equal
// distances keep insertion order.
func (f *Flat) Query(q sparse.Vector, k int) ([]string, []float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 || len(f.ids) == 0 {
		return []string{}, []float64{}, nil
	}
	if q.Dim != f.dim {
		return nil, nil, fmt.Errorf("%w: %d != %d", domain.ErrDimensionMismatch, q.Dim, f.dim)
	}

	overlap := roaring.New()
	for _, i := range q.Indices {
		if bm, ok := f.postings[i]; ok {
			overlap.Or(bm)
		}
	}
	qq := sparse.Dot(q, q)

	top := &resultHeap{}
	heap.Init(top)
	for pos := range f.ids {
		var dist float64
		if overlap.Contains(uint32(pos)) {
			dist = sparse.Euclidean(q, f.vectors[pos])
		} else {
			dist = math.Sqrt(qq + f.sqNorms[pos])
		}
		item := result{pos: pos, dist: dist}
		if top.Len() < k {
			heap.Push(top, item)
		} else if item.less((*top)[0]) {
			heap.Pop(top)
			heap.Push(top, item)
		}
	}

	results := make([]result, top.Len())
	copy(results, *top)
	sort.Slice(results, func(i, j int) bool { return results[i].less(results[j]) })

	ids := make([]string, len(results))
	dists := make([]float64, len(results))
	for i, r := range results {
		ids[i] = f.ids[r.pos]
		dists[i] = r.dist
	}
	return ids, dists, nil
}

type result struct {
	pos  int
	dist float64
}

func (r result) less(o result) bool {
	if r.dist != o.dist {
		return r.dist < o.dist
	}
	return r.pos < o.pos
}

// resultHeap is a max-heap: the worst kept result sits at the root.
type resultHeap []result

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[j].less(h[i]) }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(result)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var _ port.AnnIndex = (*Flat)(nil)
