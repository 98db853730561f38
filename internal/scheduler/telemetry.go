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
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	jobsQueued    metric.Int64Counter
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
	waitDuration  metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/batchrunner/internal/scheduler")

	var err error

	jobsQueued, err = meter.Int64Counter(
		"batchrunner.scheduler.jobs_queued",
		metric.WithDescription("Number of jobs admitted to the queue"),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.jobs_queued counter: %v", err)
	}

	jobsCompleted, err = meter.Int64Counter(
		"batchrunner.scheduler.jobs_completed",
		metric.WithDescription("Number of jobs completed successfully"),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.jobs_completed counter: %v", err)
	}

	jobsFailed, err = meter.Int64Counter(
		"batchrunner.scheduler.jobs_failed",
		metric.WithDescription("Number of jobs that failed"),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.jobs_failed counter: %v", err)
	}

	waitDuration, err = meter.Float64Histogram(
		"batchrunner.scheduler.wait_duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time a dequeue call waited for a slot and memory headroom"),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.wait_duration histogram: %v", err)
	}
}

func registerQueueDepthGauge(s *WorkScheduler) {
	meter := otel.Meter("github.com/cardinalhq/batchrunner/internal/scheduler")
	_, err := meter.Int64ObservableGauge(
		"batchrunner.scheduler.queue_depth",
		metric.WithDescription("Number of queued jobs across all priority tiers"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(s.QueueStatus().TotalCount))
			return nil
		}),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.queue_depth gauge: %v", err)
	}
}

func recordJobQueued(p JobPriority) {
	jobsQueued.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("priority", p.String())))
}

func recordJobCompleted(success bool) {
	if success {
		jobsCompleted.Add(context.Background(), 1)
	} else {
		jobsFailed.Add(context.Background(), 1)
	}
}

func recordWaitDuration(d time.Duration) {
	waitDuration.Record(context.Background(), d.Seconds())
}
