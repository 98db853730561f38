// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package scheduler

import (
	"sync/atomic"
	"time"
)

// JobPriority is a closed three-tier priority. The order Low < Normal < High
// drives the queue's physical structure; do not generalize to arbitrary
// numeric priorities.
type JobPriority int

const (
	PriorityLow JobPriority = iota
	PriorityNormal
	PriorityHigh
)

func (p JobPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// jobIDCounter issues process-wide monotonically increasing job IDs.
var jobIDCounter atomic.Uint64

// WorkItem is one scheduled unit of work. Priority and estimates are derived
// once at creation and never change; ownership moves from the queue to the
// dequeuing worker.
type WorkItem struct {
	ID                uint64
	Path              string
	EstimatedSize     int64
	Priority          JobPriority
	CreatedAt         time.Time
	EstimatedMemory   int64
	EstimatedDuration time.Duration
}

// newWorkItem derives priority and resource estimates from the file size
// using the config's thresholds.
func newWorkItem(path string, size int64, cfg Config) *WorkItem {
	return &WorkItem{
		ID:                jobIDCounter.Add(1),
		Path:              path,
		EstimatedSize:     size,
		Priority:          priorityFor(size, cfg),
		CreatedAt:         time.Now(),
		EstimatedMemory:   size * cfg.MemoryFootprintMultiplier,
		EstimatedDuration: durationFor(size),
	}
}

// priorityFor: large files go first so they do not trail the batch, small
// files wait, everything else is normal.
func priorityFor(size int64, cfg Config) JobPriority {
	switch {
	case size >= cfg.LargeFileThreshold:
		return PriorityHigh
	case size < 1024*1024:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// durationFor is a coarse step function over size buckets. The buckets are
// calibration points, not measurements.
func durationFor(size int64) time.Duration {
	switch {
	case size <= 1_000_000:
		return 100 * time.Millisecond
	case size <= 10_000_000:
		return 500 * time.Millisecond
	case size <= 50_000_000:
		return 2 * time.Second
	default:
		return 5 * time.Second
	}
}

// IsHighPriority reports whether this item is in the high tier.
func (w *WorkItem) IsHighPriority() bool {
	return w.Priority == PriorityHigh
}

// Age returns how long the item has existed.
func (w *WorkItem) Age() time.Duration {
	return time.Since(w.CreatedAt)
}
