// Package worker implements the per-session harvest loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/media-harvester/internal/crawler"
	"github.com/JakeFAU/media-harvester/internal/metrics"
)

// Units hands out work units; Take reports false once none remain.
type Units interface {
	Take() (crawler.WorkUnit, bool)
}

// Extractor turns one work unit into listing items using a session.
type Extractor interface {
	Extract(ctx context.Context, s crawler.Session, unit crawler.WorkUnit) ([]crawler.RawListingItem, error)
}

// Normalizer merges a listing item with its metadata.
type Normalizer interface {
	Normalize(raw crawler.RawListingItem, md crawler.Metadata) crawler.Record
}

// Budget caps the number of items claimed across all workers. A nil
// Budget or a non-positive limit is unlimited.
type Budget struct {
	limit int64
	used  atomic.Int64
}

// NewBudget returns a Budget allowing limit claims.
func NewBudget(limit int) *Budget {
	return &Budget{limit: int64(limit)}
}

// Take reserves one slot.
func (b *Budget) Take() bool {
	if b == nil || b.limit <= 0 {
		return true
	}
	if b.used.Add(1) > b.limit {
		b.used.Add(-1)
		return false
	}
	return true
}

// Exhausted reports whether no slots remain.
func (b *Budget) Exhausted() bool {
	return b != nil && b.limit > 0 && b.used.Load() >= b.limit
}

// Deps are the collaborators shared by every worker in a run.
type Deps struct {
	Units      Units
	Browser    crawler.Browser
	Extractor  Extractor
	Dedup      crawler.DedupIndex
	Enricher   crawler.Enricher
	Normalizer Normalizer
	Sink       crawler.Sink
	// Slots bounds concurrent enrichments across all workers.
	Slots  *semaphore.Weighted
	Stats  *crawler.Stats
	Budget *Budget
}

// Worker owns one browser session and drains units until none remain.
type Worker struct {
	deps   Deps
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, deps Deps, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Stats == nil {
		deps.Stats = &crawler.Stats{}
	}
	if deps.Slots == nil {
		deps.Slots = semaphore.NewWeighted(1)
	}
	return &Worker{
		deps:   deps,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run acquires a session and processes units until the queue is empty,
// the context ends, or the session dies. Only a dead session or a failed
// acquisition is returned; per-unit failures are logged and skipped.
func (w *Worker) Run(ctx context.Context) error {
	session, err := w.deps.Browser.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			w.logger.Warn("session close failed", zap.Error(cerr))
		}
	}()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker stopping", zap.Error(err))
			return nil
		}
		if w.deps.Budget.Exhausted() {
			w.logger.Info("item cap reached")
			return nil
		}
		unit, ok := w.deps.Units.Take()
		if !ok {
			w.logger.Debug("queue drained")
			return nil
		}
		if err := w.processUnit(ctx, session, unit); err != nil {
			if errors.Is(err, crawler.ErrSessionFatal) {
				w.deps.Stats.UnitsFailed.Add(1)
				metrics.ObserveUnit("failed")
				return fmt.Errorf("unit %s: %w", unit, err)
			}
			w.deps.Stats.UnitsFailed.Add(1)
			metrics.ObserveUnit("failed")
			w.logger.Warn("unit abandoned", zap.Stringer("unit", unit), zap.Error(err))
			continue
		}
		w.deps.Stats.UnitsDone.Add(1)
		metrics.ObserveUnit("done")
	}
}

func (w *Worker) processUnit(ctx context.Context, session crawler.Session, unit crawler.WorkUnit) error {
	log := w.logger.With(zap.Stringer("unit", unit))
	items, err := w.deps.Extractor.Extract(ctx, session, unit)
	if err != nil {
		return err
	}
	w.deps.Stats.ItemsSeen.Add(int64(len(items)))

	claimed := w.claim(ctx, items)
	log.Info("listing extracted",
		zap.Int("items", len(items)),
		zap.Int("claimed", len(claimed)),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, item := range claimed {
		g.Go(func() error {
			return w.enrichOne(gctx, item)
		})
	}
	return g.Wait()
}

// claim filters invalid items and keeps the ones this run has not seen.
// Invalid items never reach the dedup index.
func (w *Worker) claim(ctx context.Context, items []crawler.RawListingItem) []crawler.RawListingItem {
	var invalid, duplicate int
	claimed := make([]crawler.RawListingItem, 0, len(items))
	for _, item := range items {
		if !item.Valid() {
			invalid++
			continue
		}
		if !w.deps.Dedup.TryClaim(ctx, item.GlobalID) {
			duplicate++
			continue
		}
		if !w.deps.Budget.Take() {
			break
		}
		claimed = append(claimed, item)
	}
	w.deps.Stats.ItemsInvalid.Add(int64(invalid))
	w.deps.Stats.ItemsDuplicate.Add(int64(duplicate))
	metrics.ObserveItems("invalid", invalid)
	metrics.ObserveItems("duplicate", duplicate)
	metrics.ObserveItems("valid", len(claimed))
	return claimed
}

// enrichOne only returns an error when the context ends; enrichment and
// sink failures are counted against the item.
func (w *Worker) enrichOne(ctx context.Context, item crawler.RawListingItem) error {
	if err := w.deps.Slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire enrichment slot: %w", err)
	}
	defer w.deps.Slots.Release(1)

	md, ok := w.deps.Enricher.Enrich(ctx, item.GlobalID)
	if !ok {
		w.deps.Stats.EnrichAbsent.Add(1)
		metrics.ObserveEnrichment("absent")
		return nil
	}
	metrics.ObserveEnrichment("found")

	record := w.deps.Normalizer.Normalize(item, md)
	if err := w.deps.Sink.Write(ctx, record); err != nil {
		w.deps.Stats.SinkErrors.Add(1)
		w.logger.Error("record write failed",
			zap.String("global_id", record.GlobalID),
			zap.Error(err),
		)
		return nil
	}
	w.deps.Stats.RecordsEmitted.Add(1)
	metrics.ObserveRecord()
	return nil
}
