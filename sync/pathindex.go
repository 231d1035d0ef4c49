package sync

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// PathIndex is a set of absolute paths known to a watcher, used to tell a
// removed directory from a removed file and an added file from a changed one.
type PathIndex struct {
	mu    sync.RWMutex
	paths map[string]struct{}
}

// NewPathIndex creates an empty index.
func NewPathIndex() *PathIndex {
	return &PathIndex{
		paths: make(map[string]struct{}),
	}
}

// Has reports whether p is indexed.
func (c *PathIndex) Has(p string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.paths[p]
	return ok
}

// Add indexes p.
func (c *PathIndex) Add(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths[p] = struct{}{}
}

// Remove drops p.
func (c *PathIndex) Remove(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.paths, p)
}

// RemoveUnder drops every path strictly below dir and returns them deepest
// first.
func (c *PathIndex) RemoveUnder(dir string) []string {
	prefix := strings.TrimSuffix(dir, string(filepath.Separator)) + string(filepath.Separator)
	c.mu.Lock()
	var removed []string
	for p := range c.paths {
		if strings.HasPrefix(p, prefix) {
			removed = append(removed, p)
			delete(c.paths, p)
		}
	}
	c.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool {
		di, dj := strings.Count(removed[i], string(filepath.Separator)), strings.Count(removed[j], string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return removed[i] < removed[j]
	})
	return removed
}

// Len returns the number of indexed paths.
func (c *PathIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.paths)
}
