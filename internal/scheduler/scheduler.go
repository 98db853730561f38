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

// Package scheduler admits work items, prioritizes them, and gates dispatch
// on both a concurrency limit and estimated memory pressure.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cardinalhq/batchrunner/internal/memmon"
	"github.com/cardinalhq/batchrunner/internal/transform"
)

// ErrSlotWaitTimeout is returned by NextJob when no concurrency slot frees
// up within the configured maximum wait.
var ErrSlotWaitTimeout = errors.New("timeout waiting for job slot")

// AdmissionError reports that an input could not be sized and admitted.
// Fatal to that item only.
type AdmissionError struct {
	Path string
	Err  error
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admit %s: %v", e.Path, e.Err)
}

func (e *AdmissionError) Unwrap() error {
	return e.Err
}

// WorkScheduler owns the priority queue, the concurrency limiter, and the
// completion statistics. The limiting semaphore is the single source of
// truth for how many jobs may run; swapping the config swaps the semaphore
// while in-flight permits stay valid against the one they came from.
type WorkScheduler struct {
	monitor *memmon.Monitor
	sizer   transform.Sizer
	gate    memmon.Gate

	mu       sync.Mutex
	cfg      Config
	queue    workQueue
	stats    SchedulerStats
	sem      *semaphore.Weighted
	inFlight map[uint64]*semaphore.Weighted // job ID -> semaphore its permit came from
}

// New creates a scheduler over the given monitor and sizer.
func New(monitor *memmon.Monitor, sizer transform.Sizer, cfg Config) *WorkScheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg = DefaultConfig()
	}
	s := &WorkScheduler{
		monitor:  monitor,
		sizer:    sizer,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		inFlight: make(map[uint64]*semaphore.Weighted),
	}

	gate := memmon.NewPollingGate(monitor)
	gate.OnPressure = s.recordPressureEvent
	s.gate = gate

	registerQueueDepthGauge(s)
	slog.Info("Initializing work scheduler",
		slog.Int("max_concurrent", cfg.MaxConcurrent))
	return s
}

// Schedule sizes the input, derives its priority and estimates, and
// enqueues it. Returns the job ID.
func (s *WorkScheduler) Schedule(ctx context.Context, path string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	size, err := s.sizer.EstimateSize(path)
	if err != nil {
		return 0, &AdmissionError{Path: path, Err: err}
	}

	s.mu.Lock()
	item := newWorkItem(path, size, s.cfg)
	s.queue.add(item)
	s.stats.JobsQueued++
	s.stats.AverageQueueLength = float64(s.queue.total)
	s.mu.Unlock()

	recordJobQueued(item.Priority)
	slog.Debug("Scheduled job",
		slog.Uint64("job_id", item.ID),
		slog.String("path", path),
		slog.String("priority", item.Priority.String()))
	return item.ID, nil
}

// NextJob blocks until a concurrency slot is free and estimated memory
// usage is under target, then pops the highest-priority item. Returns
// (nil, nil) when the queue is empty. The caller holds the concurrency slot
// until it calls Complete for the returned job; a timeout aborts only this
// call and leaves queued items intact.
func (s *WorkScheduler) NextJob(ctx context.Context) (*WorkItem, error) {
	s.mu.Lock()
	sem := s.sem
	cfg := s.cfg
	s.mu.Unlock()

	waitStart := time.Now()

	slotCtx, cancel := context.WithTimeout(ctx, cfg.MaxWaitTime)
	err := sem.Acquire(slotCtx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrSlotWaitTimeout
	}

	if err := s.gate.Wait(ctx, cfg.TargetMemoryUsage); err != nil {
		sem.Release(1)
		return nil, err
	}

	s.mu.Lock()
	item := s.queue.next()
	if item == nil {
		s.mu.Unlock()
		sem.Release(1)
		return nil, nil
	}
	s.stats.TotalWaitTime += time.Since(waitStart)
	s.stats.AverageQueueLength = float64(s.queue.total)
	s.inFlight[item.ID] = sem
	s.mu.Unlock()

	recordWaitDuration(time.Since(waitStart))
	slog.Debug("Assigned job to worker", slog.Uint64("job_id", item.ID))
	return item, nil
}

// Complete releases the job's concurrency slot and records its outcome.
// Callers must call exactly once per dequeued item.
func (s *WorkScheduler) Complete(jobID uint64, success bool, d time.Duration) {
	s.mu.Lock()
	sem := s.inFlight[jobID]
	delete(s.inFlight, jobID)

	if success {
		s.stats.JobsCompleted++
	} else {
		s.stats.JobsFailed++
	}
	s.stats.TotalProcessingTime += d

	total := s.stats.JobsCompleted + s.stats.JobsFailed
	if total > 0 && s.stats.TotalProcessingTime > 0 {
		s.stats.ThroughputPerSecond = float64(total) / s.stats.TotalProcessingTime.Seconds()
	}
	s.mu.Unlock()

	if sem != nil {
		sem.Release(1)
	}

	recordJobCompleted(success)
	slog.Debug("Completed job",
		slog.Uint64("job_id", jobID),
		slog.Bool("success", success),
		slog.Float64("duration_sec", d.Seconds()))
}

func (s *WorkScheduler) recordPressureEvent() {
	s.mu.Lock()
	s.stats.MemoryPressureEvents++
	s.mu.Unlock()
}

// Stats returns a snapshot of cumulative statistics.
func (s *WorkScheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// QueueStatus returns current queue depths.
func (s *WorkScheduler) QueueStatus() QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return QueueStatus{
		HighPriorityCount:   len(s.queue.high),
		NormalPriorityCount: len(s.queue.normal),
		LowPriorityCount:    len(s.queue.low),
		TotalCount:          s.queue.total,
	}
}

// Clear discards all queued (not in-flight) items and returns the count.
func (s *WorkScheduler) Clear() int {
	s.mu.Lock()
	n := s.queue.clear()
	s.mu.Unlock()

	slog.Info("Cleared job queue", slog.Int("count", n))
	return n
}

// Config returns the current configuration snapshot.
func (s *WorkScheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfig atomically replaces the configuration. A changed concurrency
// limit installs a fresh semaphore; permits held against the old one remain
// valid and release against it.
func (s *WorkScheduler) UpdateConfig(cfg Config) {
	s.mu.Lock()
	if cfg.MaxConcurrent != s.cfg.MaxConcurrent {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
		slog.Info("Updated max concurrent jobs",
			slog.Int("max_concurrent", cfg.MaxConcurrent))
	}
	s.cfg = cfg
	s.mu.Unlock()
}

// InFlightCount returns the number of dequeued, uncompleted jobs.
func (s *WorkScheduler) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}
