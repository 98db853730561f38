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

import "fmt"

// workQueue holds three FIFO sub-queues, one per priority tier. Callers
// serialize access; the invariant total == sum of sub-queue lengths holds
// at every exit.
type workQueue struct {
	high   []*WorkItem
	normal []*WorkItem
	low    []*WorkItem
	total  int
}

func (q *workQueue) add(item *WorkItem) {
	switch item.Priority {
	case PriorityHigh:
		q.high = append(q.high, item)
	case PriorityNormal:
		q.normal = append(q.normal, item)
	default:
		q.low = append(q.low, item)
	}
	q.total++
}

// next pops in strict High -> Normal -> Low order. FIFO within a tier.
// Sustained high-priority arrival can starve the low tier; that is a
// deliberate tradeoff, not a defect.
func (q *workQueue) next() *WorkItem {
	var item *WorkItem
	switch {
	case len(q.high) > 0:
		item, q.high = q.high[0], q.high[1:]
	case len(q.normal) > 0:
		item, q.normal = q.normal[0], q.normal[1:]
	case len(q.low) > 0:
		item, q.low = q.low[0], q.low[1:]
	default:
		return nil
	}
	q.total--
	return item
}

func (q *workQueue) clear() int {
	n := q.total
	q.high = nil
	q.normal = nil
	q.low = nil
	q.total = 0
	return n
}

// QueueStatus is a point-in-time view of queue depths.
type QueueStatus struct {
	HighPriorityCount   int
	NormalPriorityCount int
	LowPriorityCount    int
	TotalCount          int
}

// IsEmpty reports whether no items are queued.
func (s QueueStatus) IsEmpty() bool {
	return s.TotalCount == 0
}

// String renders depths as "H:n N:n L:n".
func (s QueueStatus) String() string {
	return fmt.Sprintf("H:%d N:%d L:%d",
		s.HighPriorityCount, s.NormalPriorityCount, s.LowPriorityCount)
}
