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
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var pressureWaits metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/batchrunner/internal/memmon")

	var err error
	pressureWaits, err = meter.Int64Counter(
		"batchrunner.memory.pressure_waits",
		metric.WithDescription("Number of times a caller waited on memory pressure"),
	)
	if err != nil {
		log.Fatalf("failed to create memory.pressure_waits counter: %v", err)
	}
}

func registerUsageGauges(m *Monitor) {
	meter := otel.Meter("github.com/cardinalhq/batchrunner/internal/memmon")

	_, err := meter.Int64ObservableGauge(
		"batchrunner.memory.estimated_usage",
		metric.WithUnit("By"),
		metric.WithDescription("Estimated memory usage tracked by the monitor"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.CurrentUsage())
			return nil
		}),
	)
	if err != nil {
		log.Fatalf("failed to create memory.estimated_usage gauge: %v", err)
	}

	_, err = meter.Float64ObservableGauge(
		"batchrunner.memory.usage_percentage",
		metric.WithDescription("Estimated memory usage as a percentage of the budget"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(m.UsagePercentage())
			return nil
		}),
	)
	if err != nil {
		log.Fatalf("failed to create memory.usage_percentage gauge: %v", err)
	}
}

func recordPressureWait() {
	pressureWaits.Add(context.Background(), 1)
}
