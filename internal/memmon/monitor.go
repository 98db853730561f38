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

// Package memmon provides an estimated-memory admission controller.
// The counter tracks estimates handed to it by callers, not real process
// memory, so it can drift from RSS; that is acceptable for gating decisions.
package memmon

import (
	"log/slog"
	"sync"

	"github.com/shirou/gopsutil/v4/mem"
)

const (
	// MinLimitBytes is the floor applied when auto-detecting the budget.
	MinLimitBytes = 512 * 1024 * 1024

	// autoDetectRatio is the share of available system memory used when no
	// explicit limit is configured.
	autoDetectRatio = 0.75

	// pressureThresholdPct is the usage percentage above which the monitor
	// reports memory pressure.
	pressureThresholdPct = 80.0
)

// Monitor tracks an estimated global memory budget.
type Monitor struct {
	limitBytes int64

	mu    sync.Mutex
	usage int64
}

// New creates a monitor with the given budget in bytes. A non-positive limit
// auto-detects: 75% of available system memory, floored at 512 MiB.
func New(limitBytes int64) *Monitor {
	if limitBytes <= 0 {
		limitBytes = detectLimit()
	}
	m := &Monitor{limitBytes: limitBytes}
	registerUsageGauges(m)
	slog.Info("Memory monitor initialized",
		slog.Int64("limit_bytes", limitBytes))
	return m
}

func detectLimit() int64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		slog.Warn("Failed to query system memory, using floor",
			slog.Any("error", err))
		return MinLimitBytes
	}
	limit := int64(float64(vm.Available) * autoDetectRatio)
	if limit < MinLimitBytes {
		limit = MinLimitBytes
	}
	return limit
}

// AvailableSystemMemory returns the system's currently available memory in
// bytes, or 0 if it cannot be determined.
func AvailableSystemMemory() int64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return int64(vm.Available)
}

// CanAllocate reports whether size more bytes fit within the budget.
func (m *Monitor) CanAllocate(size int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage+size <= m.limitBytes
}

// Allocate records size bytes as in use. It does not reject over-budget
// allocations; callers gate with CanAllocate or Track first.
func (m *Monitor) Allocate(size int64) {
	m.mu.Lock()
	m.usage += size
	over := m.usage > m.limitBytes
	usage := m.usage
	m.mu.Unlock()

	if over {
		slog.Warn("Estimated memory usage exceeds limit",
			slog.Int64("usage_bytes", usage),
			slog.Int64("limit_bytes", m.limitBytes))
	}
}

// Deallocate records size bytes as released. Saturates at zero so unmatched
// calls cannot drive the estimate negative.
func (m *Monitor) Deallocate(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage -= size
	if m.usage < 0 {
		m.usage = 0
	}
}

// CurrentUsage returns the current estimated usage in bytes.
func (m *Monitor) CurrentUsage() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// MaxUsage returns the configured budget in bytes.
func (m *Monitor) MaxUsage() int64 {
	return m.limitBytes
}

// UsagePercentage returns estimated usage as a percentage of the budget,
// capped at 100.
func (m *Monitor) UsagePercentage() float64 {
	pct := float64(m.CurrentUsage()) / float64(m.limitBytes) * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	return pct
}

// UnderPressure reports whether estimated usage is above the pressure
// threshold (80%).
func (m *Monitor) UnderPressure() bool {
	return m.UsagePercentage() > pressureThresholdPct
}

// Tracker couples an Allocate with a guaranteed Deallocate. Release is safe
// to call more than once and from deferred paths.
type Tracker struct {
	monitor *Monitor
	size    int64
	once    sync.Once
}

// Track records size bytes against the monitor if they fit within the budget.
// Returns (nil, false) when the allocation would exceed it.
func (m *Monitor) Track(size int64) (*Tracker, bool) {
	m.mu.Lock()
	if m.usage+size > m.limitBytes {
		m.mu.Unlock()
		return nil, false
	}
	m.usage += size
	m.mu.Unlock()
	return &Tracker{monitor: m, size: size}, true
}

// Release returns the tracked bytes to the budget. Idempotent.
func (t *Tracker) Release() {
	t.once.Do(func() {
		t.monitor.Deallocate(t.size)
	})
}

// Size returns the number of bytes this tracker accounts for.
func (t *Tracker) Size() int64 {
	return t.size
}
