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

package bufpool

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	buffersAllocated metric.Int64Counter
	buffersReused    metric.Int64Counter
	bytesSaved       metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/batchrunner/internal/bufpool")

	var err error

	buffersAllocated, err = meter.Int64Counter(
		"batchrunner.bufpool.allocated",
		metric.WithDescription("Number of fresh buffer allocations"),
	)
	if err != nil {
		log.Fatalf("failed to create bufpool.allocated counter: %v", err)
	}

	buffersReused, err = meter.Int64Counter(
		"batchrunner.bufpool.reused",
		metric.WithDescription("Number of buffer acquisitions served from the pool"),
	)
	if err != nil {
		log.Fatalf("failed to create bufpool.reused counter: %v", err)
	}

	bytesSaved, err = meter.Int64Counter(
		"batchrunner.bufpool.bytes_saved",
		metric.WithUnit("By"),
		metric.WithDescription("Cumulative allocation bytes avoided through reuse"),
	)
	if err != nil {
		log.Fatalf("failed to create bufpool.bytes_saved counter: %v", err)
	}
}

func registerPoolGauges(p *Pool) {
	meter := otel.Meter("github.com/cardinalhq/batchrunner/internal/bufpool")
	_, err := meter.Int64ObservableGauge(
		"batchrunner.bufpool.retained_bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Total capacity of buffers currently retained by the pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(p.CurrentMemoryUsage())
			return nil
		}),
	)
	if err != nil {
		log.Fatalf("failed to create bufpool.retained_bytes gauge: %v", err)
	}
}

func classAttr(class Class) metric.AddOption {
	return metric.WithAttributes(attribute.String("class", class.String()))
}

func recordAlloc(class Class, _ int) {
	buffersAllocated.Add(context.Background(), 1, classAttr(class))
}

func recordReuse(class Class, size int) {
	buffersReused.Add(context.Background(), 1, classAttr(class))
	bytesSaved.Add(context.Background(), int64(size), classAttr(class))
}
