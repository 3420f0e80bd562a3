package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/media-harvester/internal/crawler"
	"github.com/JakeFAU/media-harvester/internal/metrics"
)

// Target is a sink with the name used in logs and metrics.
type Target struct {
	Name string
	Sink crawler.Sink
}

// Multi writes each record to every target. Each target has its own
// lock and a writer takes the next target's lock before releasing the
// current one, so all targets observe the same record order while a slow
// target only holds back the targets after it.
type Multi struct {
	targets []Target
	locks   []sync.Mutex
	logger  *zap.Logger
}

// NewMulti fans out to targets in the given order.
func NewMulti(logger *zap.Logger, targets ...Target) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{targets: targets, locks: make([]sync.Mutex, len(targets)), logger: logger}
}

// Write delivers record to every target. A failing target does not stop
// delivery to the rest; the joined error is returned.
func (m *Multi) Write(ctx context.Context, record crawler.Record) error {
	var (
		errs []error
		held *sync.Mutex
	)
	for i, t := range m.targets {
		m.locks[i].Lock()
		if held != nil {
			held.Unlock()
		}
		held = &m.locks[i]
		if err := t.Sink.Write(ctx, record); err != nil {
			metrics.ObserveSinkError(t.Name)
			m.logger.Warn("sink write failed",
				zap.String("sink", t.Name),
				zap.String("global_id", record.GlobalID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	if held != nil {
		held.Unlock()
	}
	return errors.Join(errs...)
}

// Close closes every target once in-flight writes have drained.
func (m *Multi) Close(ctx context.Context) error {
	var errs []error
	for i, t := range m.targets {
		m.locks[i].Lock()
		err := t.Sink.Close(ctx)
		m.locks[i].Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Len reports the number of targets.
func (m *Multi) Len() int { return len(m.targets) }
