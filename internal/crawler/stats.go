package crawler

import "sync/atomic"

// Stats aggregates run-wide counters. The zero value is ready to use.
type Stats struct {
	UnitsDone        atomic.Int64
	UnitsFailed      atomic.Int64
	ItemsSeen        atomic.Int64
	ItemsInvalid     atomic.Int64
	ItemsDuplicate   atomic.Int64
	EnrichAbsent     atomic.Int64
	RecordsEmitted   atomic.Int64
	SinkErrors       atomic.Int64
	WorkersFailed    atomic.Int64
	WorkersCompleted atomic.Int64
}

// Summary is a point-in-time copy of Stats.
type Summary struct {
	RunID            string `json:"run_id"`
	UnitsTotal       int    `json:"units_total"`
	UnitsDone        int64  `json:"units_done"`
	UnitsFailed      int64  `json:"units_failed"`
	ItemsSeen        int64  `json:"items_seen"`
	ItemsInvalid     int64  `json:"items_invalid"`
	ItemsDuplicate   int64  `json:"items_duplicate"`
	EnrichAbsent     int64  `json:"enrich_absent"`
	RecordsEmitted   int64  `json:"records_emitted"`
	SinkErrors       int64  `json:"sink_errors"`
	WorkersFailed    int64  `json:"workers_failed"`
	WorkersCompleted int64  `json:"workers_completed"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() Summary {
	return Summary{
		UnitsDone:        s.UnitsDone.Load(),
		UnitsFailed:      s.UnitsFailed.Load(),
		ItemsSeen:        s.ItemsSeen.Load(),
		ItemsInvalid:     s.ItemsInvalid.Load(),
		ItemsDuplicate:   s.ItemsDuplicate.Load(),
		EnrichAbsent:     s.EnrichAbsent.Load(),
		RecordsEmitted:   s.RecordsEmitted.Load(),
		SinkErrors:       s.SinkErrors.Load(),
		WorkersFailed:    s.WorkersFailed.Load(),
		WorkersCompleted: s.WorkersCompleted.Load(),
	}
}
