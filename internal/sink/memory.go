package sink

import (
	"context"
	"sync"

	"github.com/JakeFAU/media-harvester/internal/crawler"
)

// Memory keeps records in memory. Used by tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	records []crawler.Record
	closed  bool
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Write appends record.
func (m *Memory) Write(_ context.Context, record crawler.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records = append(m.records, record)
	return nil
}

// Close marks the sink closed.
func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns a copy of everything written so far.
func (m *Memory) Records() []crawler.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]crawler.Record, len(m.records))
	copy(out, m.records)
	return out
}
