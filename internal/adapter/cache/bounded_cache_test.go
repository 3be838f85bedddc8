package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cloneInts(v []int) []int {
	return append([]int(nil), v...)
}

func TestBoundedCache_MinimumSize(t *testing.T) {
	c := NewBoundedCache[int, int, int](4, nil)
	assert.Equal(t, MinCacheSize, c.MaxSize())

	c = NewBoundedCache[int, int, int](100, nil)
	assert.Equal(t, 100, c.MaxSize())
}

func TestBoundedCache_SetGet(t *testing.T) {
	c := NewBoundedCache[int, int, []int](64, cloneInts)
	c.Set(0, 7, []int{1, 2, 3})
	c.Set(1, 7, []int{9})

	found, missing := c.Get(0, []int{7, 8, 5})
	require.Len(t, found, 1)
	assert.Equal(t, []int{1, 2, 3}, found[7])
	assert.Equal(t, []int{8, 5}, missing)

	found, missing = c.Get(1, []int{7})
	assert.Equal(t, []int{9}, found[7])
	assert.Empty(t, missing)
}

func TestBoundedCache_EmptyKeys(t *testing.T) {
	c := NewBoundedCache[int, int, int](32, nil)
	c.Set(0, 1, 1)

	found, missing := c.Get(0, nil)
	assert.NotNil(t, found)
	assert.Empty(t, found)
	assert.NotNil(t, missing)
	assert.Empty(t, missing)
}

func TestBoundedCache_ReturnsIndependentCopies(t *testing.T) {
	c := NewBoundedCache[string, string, []int](32, cloneInts)
	original := []int{1, 2, 3}
	c.Set("d", "x", original)

	original[0] = 100
	first, _ := c.Get("d", []string{"x"})
	assert.Equal(t, []int{1, 2, 3}, first["x"])

	first["x"][1] = 200
	second, _ := c.Get("d", []string{"x"})
	assert.Equal(t, []int{1, 2, 3}, second["x"])
	assert.Equal(t, 200, first["x"][1])
}

func TestBoundedCache_BatchEviction(t *testing.T) {
	c := NewBoundedCache[int, int, int](32, nil)
	for i := 0; i < 32; i++ {
		c.Set(0, i, i)
	}
	require.Equal(t, 32, c.Len())

	// touch the oldest key so it survives
	_, missing := c.Get(0, []int{0})
	require.Empty(t, missing)

	c.Set(0, 32, 32)
	assert.Equal(t, 29, c.Len())

	found, missing := c.Get(0, []int{0, 1, 2, 3, 4, 5, 32})
	assert.Equal(t, []int{1, 2, 3, 4}, missing)
	assert.Contains(t, found, 0)
	assert.Contains(t, found, 5)
	assert.Contains(t, found, 32)
}

func TestBoundedCache_SizeStaysBounded(t *testing.T) {
	c := NewBoundedCache[int, int, int](40, nil)
	for i := 0; i < 1000; i++ {
		c.Set(1, i, i)
		assert.LessOrEqual(t, c.Len(), 40)

		found, _ := c.Get(1, []int{i})
		assert.Contains(t, found, i)
	}
}

func TestBoundedCache_Clear(t *testing.T) {
	c := NewBoundedCache[int, int, int](32, nil)
	c.Set(0, 1, 1)
	c.Set(0, 2, 2)
	c.Clear()

	assert.Equal(t, 0, c.Len())
	_, missing := c.Get(0, []int{1, 2})
	assert.Equal(t, []int{1, 2}, missing)
}

func TestSyncCache_ConcurrentAccess(t *testing.T) {
	c := NewSyncCache[int, int, []int](64, cloneInts)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Set(w, i, []int{i})
				c.Get(w, []int{i, i - 1})
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 64)
}
