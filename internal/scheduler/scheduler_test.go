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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/batchrunner/internal/memmon"
)

// ---- Test doubles ----

type fakeSizer struct {
	sizes map[string]int64
	err   error
}

func (f *fakeSizer) EstimateSize(path string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	size, ok := f.sizes[path]
	if !ok {
		return 0, errors.New("no such file")
	}
	return size, nil
}

type fakeGate struct {
	err   error
	calls int
}

func (g *fakeGate) Wait(_ context.Context, _ float64) error {
	g.calls++
	return g.err
}

func newTestScheduler(t *testing.T, sizes map[string]int64, cfg Config) *WorkScheduler {
	t.Helper()
	monitor := memmon.New(1024 * 1024 * 1024)
	return New(monitor, &fakeSizer{sizes: sizes}, cfg)
}

// ---- WorkItem derivation ----

func TestWorkItemPriorities(t *testing.T) {
	cfg := DefaultConfig()

	small := newWorkItem("small.jpg", 500_000, cfg)
	assert.Equal(t, PriorityLow, small.Priority)

	medium := newWorkItem("medium.jpg", 5_000_000, cfg)
	assert.Equal(t, PriorityNormal, medium.Priority)

	large := newWorkItem("large.jpg", 100_000_000, cfg)
	assert.Equal(t, PriorityHigh, large.Priority)
	assert.True(t, large.IsHighPriority())
}

func TestWorkItemEstimates(t *testing.T) {
	cfg := DefaultConfig()

	item := newWorkItem("f.jpg", 50_000_000, cfg)
	assert.Equal(t, int64(50_000_000*40), item.EstimatedMemory)
	assert.Equal(t, 2*time.Second, item.EstimatedDuration)

	assert.Equal(t, 100*time.Millisecond, durationFor(800_000))
	assert.Equal(t, 500*time.Millisecond, durationFor(5_000_000))
	assert.Equal(t, 5*time.Second, durationFor(80_000_000))
}

func TestWorkItemIDsMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	a := newWorkItem("a", 1, cfg)
	b := newWorkItem("b", 1, cfg)
	assert.Greater(t, b.ID, a.ID)
}

// ---- Queue ordering ----

func TestQueueStrictPriorityOrder(t *testing.T) {
	var q workQueue
	cfg := DefaultConfig()

	q.add(newWorkItem("low.jpg", 500_000, cfg))
	q.add(newWorkItem("high.jpg", 100_000_000, cfg))
	q.add(newWorkItem("normal.jpg", 5_000_000, cfg))

	assert.Equal(t, 3, q.total)

	assert.Equal(t, PriorityHigh, q.next().Priority)
	assert.Equal(t, PriorityNormal, q.next().Priority)
	assert.Equal(t, PriorityLow, q.next().Priority)
	assert.Nil(t, q.next())
	assert.Equal(t, 0, q.total)
}

func TestQueueFIFOWithinTier(t *testing.T) {
	var q workQueue
	cfg := DefaultConfig()

	first := newWorkItem("first.jpg", 5_000_000, cfg)
	second := newWorkItem("second.jpg", 6_000_000, cfg)
	q.add(first)
	q.add(second)

	assert.Equal(t, first.ID, q.next().ID)
	assert.Equal(t, second.ID, q.next().ID)
}

func TestQueueClear(t *testing.T) {
	var q workQueue
	cfg := DefaultConfig()
	q.add(newWorkItem("a.jpg", 500_000, cfg))
	q.add(newWorkItem("b.jpg", 5_000_000, cfg))

	assert.Equal(t, 2, q.clear())
	assert.Equal(t, 0, q.total)
	assert.Nil(t, q.next())
}

func TestQueueStatusString(t *testing.T) {
	s := QueueStatus{HighPriorityCount: 2, NormalPriorityCount: 5, LowPriorityCount: 3, TotalCount: 10}
	assert.False(t, s.IsEmpty())
	assert.Equal(t, "H:2 N:5 L:3", s.String())
}

// ---- Scheduling ----

func TestScheduleAndDrainInPriorityOrder(t *testing.T) {
	sizes := map[string]int64{
		"small.jpg":  500 * 1024,
		"medium.jpg": 5 * 1024 * 1024,
		"large.jpg":  100 * 1024 * 1024,
	}
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 4
	s := newTestScheduler(t, sizes, cfg)

	ctx := context.Background()
	for _, path := range []string{"small.jpg", "medium.jpg", "large.jpg"} {
		_, err := s.Schedule(ctx, path)
		require.NoError(t, err)
	}

	status := s.QueueStatus()
	assert.Equal(t, 1, status.HighPriorityCount)
	assert.Equal(t, 1, status.NormalPriorityCount)
	assert.Equal(t, 1, status.LowPriorityCount)

	var order []string
	for i := 0; i < 3; i++ {
		item, err := s.NextJob(ctx)
		require.NoError(t, err)
		require.NotNil(t, item)
		order = append(order, item.Path)
		s.Complete(item.ID, true, 10*time.Millisecond)
	}
	assert.Equal(t, []string{"large.jpg", "medium.jpg", "small.jpg"}, order)

	item, err := s.NextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestScheduleAdmissionError(t *testing.T) {
	s := newTestScheduler(t, map[string]int64{}, DefaultConfig())

	_, err := s.Schedule(context.Background(), "missing.jpg")
	require.Error(t, err)

	var ae *AdmissionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "missing.jpg", ae.Path)

	// Admission failure leaves the queue untouched.
	assert.True(t, s.QueueStatus().IsEmpty())
}

func TestSlotWaitTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxWaitTime = 50 * time.Millisecond
	s := newTestScheduler(t, map[string]int64{"a.jpg": 5_000_000, "b.jpg": 5_000_000}, cfg)

	ctx := context.Background()
	_, err := s.Schedule(ctx, "a.jpg")
	require.NoError(t, err)
	_, err = s.Schedule(ctx, "b.jpg")
	require.NoError(t, err)

	item, err := s.NextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)

	// Slot still held: second dequeue must time out without touching the
	// remaining queued item.
	_, err = s.NextJob(ctx)
	assert.ErrorIs(t, err, ErrSlotWaitTimeout)
	assert.Equal(t, 1, s.QueueStatus().TotalCount)

	s.Complete(item.ID, true, time.Millisecond)

	item, err = s.NextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	s.Complete(item.ID, true, time.Millisecond)
}

func TestMemoryWaitTimeoutReleasesSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	s := newTestScheduler(t, map[string]int64{"a.jpg": 5_000_000}, cfg)

	gate := &fakeGate{err: memmon.ErrMemoryWaitTimeout}
	s.gate = gate

	ctx := context.Background()
	_, err := s.Schedule(ctx, "a.jpg")
	require.NoError(t, err)

	_, err = s.NextJob(ctx)
	assert.ErrorIs(t, err, memmon.ErrMemoryWaitTimeout)
	assert.Equal(t, 1, gate.calls)

	// The item stays queued and the slot was released: once pressure
	// clears, the same item is dequeued.
	s.gate = &fakeGate{}
	item, err := s.NextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "a.jpg", item.Path)
	s.Complete(item.ID, true, time.Millisecond)
}

func TestCompleteUpdatesStats(t *testing.T) {
	s := newTestScheduler(t, map[string]int64{"a.jpg": 5_000_000}, DefaultConfig())

	ctx := context.Background()
	_, err := s.Schedule(ctx, "a.jpg")
	require.NoError(t, err)

	item, err := s.NextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)

	s.Complete(item.ID, true, 500*time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.JobsQueued)
	assert.Equal(t, int64(1), stats.JobsCompleted)
	assert.Equal(t, int64(0), stats.JobsFailed)
	assert.InDelta(t, 2.0, stats.ThroughputPerSecond, 0.01)
	assert.Equal(t, 0, s.InFlightCount())
}

func TestUpdateConfigKeepsInFlightPermits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	s := newTestScheduler(t, map[string]int64{
		"a.jpg": 5_000_000,
		"b.jpg": 5_000_000,
	}, cfg)

	ctx := context.Background()
	_, err := s.Schedule(ctx, "a.jpg")
	require.NoError(t, err)
	_, err = s.Schedule(ctx, "b.jpg")
	require.NoError(t, err)

	first, err := s.NextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Swap in a bigger limiter while the first permit is outstanding.
	cfg.MaxConcurrent = 2
	s.UpdateConfig(cfg)
	assert.Equal(t, 2, s.Config().MaxConcurrent)

	// The new semaphore grants fresh slots immediately.
	second, err := s.NextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)

	// Completing the pre-swap job releases against the old semaphore
	// without panicking or corrupting the new one.
	s.Complete(first.ID, true, time.Millisecond)
	s.Complete(second.ID, false, time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.JobsCompleted)
	assert.Equal(t, int64(1), stats.JobsFailed)
	assert.Equal(t, 0, s.InFlightCount())
}

func TestClearDiscardsQueuedOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 2
	s := newTestScheduler(t, map[string]int64{
		"a.jpg": 5_000_000,
		"b.jpg": 5_000_000,
	}, cfg)

	ctx := context.Background()
	_, err := s.Schedule(ctx, "a.jpg")
	require.NoError(t, err)
	_, err = s.Schedule(ctx, "b.jpg")
	require.NoError(t, err)

	item, err := s.NextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)

	assert.Equal(t, 1, s.Clear())
	assert.Equal(t, 1, s.InFlightCount())

	s.Complete(item.ID, true, time.Millisecond)
	assert.Equal(t, 0, s.InFlightCount())
}

// ---- Optimizer ----

func TestOptimizerShrinksUnderPressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 8
	s := newTestScheduler(t, nil, cfg)
	o := NewOptimizer(s)

	o.autoTune(SchedulerStats{}, 25)

	got := s.Config()
	assert.Equal(t, 6, got.MaxConcurrent)
	assert.Equal(t, reducedMemoryTarget, got.TargetMemoryUsage)
}

func TestOptimizerShrinkFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	s := newTestScheduler(t, nil, cfg)
	o := NewOptimizer(s)

	o.autoTune(SchedulerStats{}, 100)
	assert.Equal(t, 1, s.Config().MaxConcurrent)
}

func TestOptimizerGrowsWhenQuiet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 8
	s := newTestScheduler(t, nil, cfg)
	o := NewOptimizer(s)

	o.autoTune(SchedulerStats{ThroughputPerSecond: 3.0}, 0)
	assert.Equal(t, 10, s.Config().MaxConcurrent)

	// Growth is capped.
	cfg = s.Config()
	cfg.MaxConcurrent = 30
	s.UpdateConfig(cfg)
	o.autoTune(SchedulerStats{ThroughputPerSecond: 3.0}, 0)
	assert.Equal(t, 32, s.Config().MaxConcurrent)
}

func TestOptimizerNoChangeOnMixedSignals(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 8
	s := newTestScheduler(t, nil, cfg)
	o := NewOptimizer(s)

	// Good throughput but some pressure: leave the config alone.
	o.autoTune(SchedulerStats{ThroughputPerSecond: 3.0}, 5)
	assert.Equal(t, 8, s.Config().MaxConcurrent)
}

func TestOptimizerUsesPressureDelta(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 8
	s := newTestScheduler(t, nil, cfg)
	o := NewOptimizer(s)

	// First interval sees 25 cumulative events and shrinks.
	s.mu.Lock()
	s.stats.MemoryPressureEvents = 25
	s.mu.Unlock()
	o.optimize()
	assert.Equal(t, 6, s.Config().MaxConcurrent)

	// No new events since: the next interval must not shrink again.
	o.optimize()
	assert.Equal(t, 6, s.Config().MaxConcurrent)
}
