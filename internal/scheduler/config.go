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
	"runtime"
	"time"
)

// Config is an immutable-per-epoch scheduler configuration. UpdateConfig
// swaps the whole snapshot; nothing mutates one in place.
type Config struct {
	// MaxConcurrent bounds simultaneously dispatched jobs.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// TargetMemoryUsage is the usage percentage (0-100) below which
	// dispatch proceeds.
	TargetMemoryUsage float64 `mapstructure:"target_memory_usage"`
	// BatchSize groups small files for downstream batching hints.
	BatchSize int `mapstructure:"batch_size"`
	// LargeFilePriorityBoost is a reserved priority weighting for large
	// files; the three-tier queue applies it implicitly.
	LargeFilePriorityBoost int `mapstructure:"large_file_priority_boost"`
	// LargeFileThreshold is the size at or above which a file is High
	// priority.
	LargeFileThreshold int64 `mapstructure:"large_file_threshold"`
	// MaxWaitTime bounds the wait for a concurrency slot.
	MaxWaitTime time.Duration `mapstructure:"max_wait_time"`
	// MemoryFootprintMultiplier estimates decoded memory as a multiple of
	// file size. 40x assumes ~10:1 compression into 4-byte RGBA pixels; a
	// calibration point, not a measurement.
	MemoryFootprintMultiplier int64 `mapstructure:"memory_footprint_multiplier"`
}

// DefaultConfig mirrors the defaults the rest of the system is tuned for.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:             min(runtime.NumCPU(), 16),
		TargetMemoryUsage:         75.0,
		BatchSize:                 10,
		LargeFilePriorityBoost:    10,
		LargeFileThreshold:        50 * 1024 * 1024,
		MaxWaitTime:               5 * time.Minute,
		MemoryFootprintMultiplier: 40,
	}
}

// SchedulerStats is the cumulative counter set read by the optimizer.
type SchedulerStats struct {
	JobsQueued           int64
	JobsCompleted        int64
	JobsFailed           int64
	TotalWaitTime        time.Duration
	TotalProcessingTime  time.Duration
	AverageQueueLength   float64
	MemoryPressureEvents int64
	ThroughputPerSecond  float64
}
