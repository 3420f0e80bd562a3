// Package queue partitions a crawl range into monthly work units and hands
// each one out exactly once.
package queue

import (
	"sync/atomic"
	"time"

	"github.com/JakeFAU/media-harvester/internal/crawler"
)

// Queue is an immutable arena of units claimed through an atomic cursor.
type Queue struct {
	units  []crawler.WorkUnit
	cursor atomic.Int64
}

// Populate builds one unit per calendar month from start through end. A
// zero end means the month containing now. An end before start yields an
// empty queue.
func Populate(start, end crawler.WorkUnit, now time.Time) *Queue {
	if end.IsZero() {
		end = crawler.UnitOf(now)
	}
	var units []crawler.WorkUnit
	for u := start; !u.After(end); u = u.Next() {
		units = append(units, u)
	}
	return &Queue{units: units}
}

// Take returns the next unclaimed unit. It never blocks and returns false
// once every unit has been handed out.
func (q *Queue) Take() (crawler.WorkUnit, bool) {
	idx := q.cursor.Add(1) - 1
	if idx >= int64(len(q.units)) {
		return crawler.WorkUnit{}, false
	}
	return q.units[idx], true
}

// Len returns the total number of units.
func (q *Queue) Len() int {
	return len(q.units)
}

// Remaining returns how many units are still unclaimed.
func (q *Queue) Remaining() int {
	left := int64(len(q.units)) - q.cursor.Load()
	if left < 0 {
		return 0
	}
	return int(left)
}
