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

package memmon

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrMemoryWaitTimeout is returned when memory headroom does not appear
// within the gate's maximum wait.
var ErrMemoryWaitTimeout = errors.New("timeout waiting for memory availability")

// Gate blocks callers until estimated memory usage drops below a target.
// The polling implementation below trades latency for simplicity; callers
// depend only on this interface so a notification-based gate can replace it.
type Gate interface {
	// Wait blocks until UsagePercentage() < targetPct, the context is
	// canceled, or the maximum wait elapses.
	Wait(ctx context.Context, targetPct float64) error
}

const (
	// DefaultCheckInterval is how often the polling gate re-checks usage.
	DefaultCheckInterval = 500 * time.Millisecond

	// DefaultMaxWait bounds how long a single Wait call may block.
	DefaultMaxWait = 30 * time.Second
)

// PollingGate is a fixed-interval polling Gate over a Monitor.
type PollingGate struct {
	monitor       *Monitor
	checkInterval time.Duration
	maxWait       time.Duration

	// OnPressure, if set, is invoked once per failed check. The scheduler
	// uses it to count pressure events.
	OnPressure func()
}

// NewPollingGate creates a gate over monitor with the default interval and
// maximum wait.
func NewPollingGate(monitor *Monitor) *PollingGate {
	return &PollingGate{
		monitor:       monitor,
		checkInterval: DefaultCheckInterval,
		maxWait:       DefaultMaxWait,
	}
}

// Wait implements Gate.
func (g *PollingGate) Wait(ctx context.Context, targetPct float64) error {
	if g.monitor.UsagePercentage() < targetPct {
		return nil
	}

	deadline := time.Now().Add(g.maxWait)
	ticker := time.NewTicker(g.checkInterval)
	defer ticker.Stop()

	for {
		usage := g.monitor.UsagePercentage()
		if usage < targetPct {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrMemoryWaitTimeout
		}

		if g.OnPressure != nil {
			g.OnPressure()
		}
		recordPressureWait()
		slog.Warn("Memory pressure detected, waiting",
			slog.Float64("usage_pct", usage),
			slog.Float64("target_pct", targetPct))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
