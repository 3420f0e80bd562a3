// Package memory provides the in-process dedup index.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
)

// Index is a concurrency-safe set of claimed identifiers.
type Index struct {
	seen  sync.Map
	count atomic.Int64
}

// New returns an empty Index.
func New() *Index {
	return &Index{}
}

// TryClaim inserts id and reports whether this call inserted it.
func (i *Index) TryClaim(_ context.Context, id string) bool {
	if _, loaded := i.seen.LoadOrStore(id, struct{}{}); loaded {
		return false
	}
	i.count.Add(1)
	return true
}

// Len returns the number of claimed identifiers.
func (i *Index) Len() int {
	return int(i.count.Load())
}
