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

package processor

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	itemsProcessed metric.Int64Counter
	itemsFailed    metric.Int64Counter
	batchDuration  metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/batchrunner/internal/processor")

	var err error

	itemsProcessed, err = meter.Int64Counter(
		"batchrunner.processor.items_processed",
		metric.WithDescription("Number of items transformed successfully"),
	)
	if err != nil {
		log.Fatalf("failed to create processor.items_processed counter: %v", err)
	}

	itemsFailed, err = meter.Int64Counter(
		"batchrunner.processor.items_failed",
		metric.WithDescription("Number of items whose transform failed"),
	)
	if err != nil {
		log.Fatalf("failed to create processor.items_failed counter: %v", err)
	}

	batchDuration, err = meter.Float64Histogram(
		"batchrunner.processor.batch_duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time per batch run"),
	)
	if err != nil {
		log.Fatalf("failed to create processor.batch_duration histogram: %v", err)
	}
}

func recordItem(success bool) {
	if success {
		itemsProcessed.Add(context.Background(), 1)
	} else {
		itemsFailed.Add(context.Background(), 1)
	}
}

func recordBatch(s Strategy, r *BatchResult) {
	batchDuration.Record(context.Background(), r.Elapsed.Seconds(),
		metric.WithAttributes(attribute.String("strategy", s.String())))
}
