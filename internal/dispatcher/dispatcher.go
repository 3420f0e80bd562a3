// Package dispatcher runs a fixed pool of harvest workers.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/media-harvester/internal/crawler"
)

// Runner is one pool member. Run returns when the member is done; an
// error means it ended early.
type Runner interface {
	Run(ctx context.Context) error
}

// Pool fans work out to its runners.
type Pool struct {
	runners []Runner
	stats   *crawler.Stats
	logger  *zap.Logger
}

// New creates a Pool. Counters are recorded into stats.
func New(stats *crawler.Stats, logger *zap.Logger, runners ...Runner) *Pool {
	if stats == nil {
		stats = &crawler.Stats{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{runners: runners, stats: stats, logger: logger}
}

// Size returns the number of runners.
func (p *Pool) Size() int { return len(p.runners) }

// Run starts every runner and blocks until all have exited. A failing
// runner is counted and logged; it never stops the others.
func (p *Pool) Run(ctx context.Context) crawler.Summary {
	var wg sync.WaitGroup
	for i, r := range p.runners {
		wg.Add(1)
		go func(idx int, runner Runner) {
			defer wg.Done()
			if err := runner.Run(ctx); err != nil {
				p.stats.WorkersFailed.Add(1)
				p.logger.Error("worker failed", zap.Int("worker", idx), zap.Error(err))
				return
			}
			p.stats.WorkersCompleted.Add(1)
		}(i, r)
	}
	wg.Wait()
	return p.stats.Snapshot()
}
