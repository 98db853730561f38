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
	"log/slog"
	"time"
)

const (
	// DefaultOptimizeInterval is how often the optimizer inspects stats.
	DefaultOptimizeInterval = time.Minute

	// pressureShrinkThreshold is the per-interval pressure event count that
	// triggers a concurrency reduction.
	pressureShrinkThreshold = 20

	// pressureWarnThreshold logs a warning without acting.
	pressureWarnThreshold = 10

	// growThroughputPerSecond is the throughput above which, with a quiet
	// interval, concurrency grows.
	growThroughputPerSecond = 2.0

	// lowThroughputPerSecond flags a likely bottleneck in the logs.
	lowThroughputPerSecond = 0.5

	// maxConcurrentCeiling caps optimizer-driven growth.
	maxConcurrentCeiling = 32

	// reducedMemoryTarget is the target percentage applied while shrinking.
	reducedMemoryTarget = 65.0
)

// Optimizer is a timer-driven feedback loop over the scheduler's statistics.
// A single goroutine runs it; the interval provides the hysteresis.
type Optimizer struct {
	scheduler *WorkScheduler
	interval  time.Duration

	// lastPressureEvents converts the cumulative counter into a
	// per-interval signal.
	lastPressureEvents int64
}

// NewOptimizer creates an optimizer with the default interval.
func NewOptimizer(s *WorkScheduler) *Optimizer {
	return &Optimizer{scheduler: s, interval: DefaultOptimizeInterval}
}

// Run ticks until ctx is canceled.
func (o *Optimizer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.optimize()
		}
	}
}

func (o *Optimizer) optimize() {
	stats := o.scheduler.Stats()

	pressureDelta := stats.MemoryPressureEvents - o.lastPressureEvents
	o.lastPressureEvents = stats.MemoryPressureEvents

	if pressureDelta > pressureWarnThreshold {
		slog.Warn("High memory pressure detected",
			slog.Int64("events", pressureDelta))
	}
	if stats.ThroughputPerSecond > 0 && stats.ThroughputPerSecond < lowThroughputPerSecond {
		slog.Warn("Low throughput detected",
			slog.Float64("files_per_sec", stats.ThroughputPerSecond))
	}

	o.autoTune(stats, pressureDelta)
}

// autoTune applies the feedback policy: shrink concurrency by a quarter
// under sustained pressure, grow by a quarter on good quiet throughput.
func (o *Optimizer) autoTune(stats SchedulerStats, pressureDelta int64) {
	cfg := o.scheduler.Config()

	switch {
	case pressureDelta > pressureShrinkThreshold:
		cfg.MaxConcurrent = max(cfg.MaxConcurrent*3/4, 1)
		cfg.TargetMemoryUsage = reducedMemoryTarget
		slog.Info("Auto-tuning: reducing concurrency due to memory pressure",
			slog.Int("max_concurrent", cfg.MaxConcurrent))
		o.scheduler.UpdateConfig(cfg)

	case stats.ThroughputPerSecond > growThroughputPerSecond && pressureDelta == 0:
		cfg.MaxConcurrent = min(cfg.MaxConcurrent*5/4, maxConcurrentCeiling)
		slog.Info("Auto-tuning: increasing concurrency",
			slog.Int("max_concurrent", cfg.MaxConcurrent))
		o.scheduler.UpdateConfig(cfg)
	}
}
