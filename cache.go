package dscale

import (
	"fmt"
	"sync"

	"github.com/ctessum/sparse"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Rqbln/dscale/raster"
)

// windowCache memoizes decoded raster windows by (path, window). A
// season-long batch over one region resolves to a handful of covariate
// windows read hundreds of times; decoding them once pays for the cache
// on the second date.
type windowCache struct {
	mu sync.Mutex
	c  *lru.Cache[string, *sparse.DenseArray]
}

func newWindowCache(size int) (*windowCache, error) {
	if size < 1 {
		size = 16
	}
	c, err := lru.New[string, *sparse.DenseArray](size)
	if err != nil {
		return nil, err
	}
	return &windowCache{c: c}, nil
}

// read returns the decoded window, from cache when possible. Cached
// arrays are shared and must be treated as read-only.
func (wc *windowCache) read(f *raster.File, w raster.Window) (*sparse.DenseArray, error) {
	key := fmt.Sprintf("%s|%d,%d,%d,%d", f.Path, w.Col, w.Row, w.Ncol, w.Nrow)
	wc.mu.Lock()
	if a, ok := wc.c.Get(key); ok {
		wc.mu.Unlock()
		return a, nil
	}
	wc.mu.Unlock()

	a, err := f.ReadWindow(w)
	if err != nil {
		return nil, err
	}
	wc.mu.Lock()
	wc.c.Add(key, a)
	wc.mu.Unlock()
	return a, nil
}
