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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/batchrunner/config"
	"github.com/cardinalhq/batchrunner/internal/bufpool"
	"github.com/cardinalhq/batchrunner/internal/memmon"
	"github.com/cardinalhq/batchrunner/internal/progress"
	"github.com/cardinalhq/batchrunner/internal/scheduler"
	"github.com/cardinalhq/batchrunner/internal/transform"
)

var (
	queueInputDir  string
	queueOutputDir string
	queueWorkers   int
	queueVerbose   bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Process images through the priority work queue",
		Long: `Admit every image in a directory to the size-prioritized work queue and
drain it with memory-gated workers. Large files go first so peak memory is
paid while the most headroom exists.`,
		RunE: func(c *cobra.Command, _ []string) error {
			return runQueue(c)
		},
	}
	cmd.Flags().StringVarP(&queueInputDir, "input", "i", "", "directory of images to process")
	cmd.Flags().StringVarP(&queueOutputDir, "output", "o", "", "directory for resized images (default: alongside inputs)")
	cmd.Flags().IntVar(&queueWorkers, "workers", 0, "max concurrent transforms (default: from config)")
	cmd.Flags().BoolVarP(&queueVerbose, "verbose", "v", false, "print per-file progress")
	_ = cmd.MarkFlagRequired("input")
	rootCmd.AddCommand(cmd)
}

func runQueue(_ *cobra.Command) error {
	ctx, shutdown, err := setupTelemetry("batchrunner-queue", nil)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if queueWorkers > 0 {
		cfg.Scheduler.MaxConcurrent = queueWorkers
	}
	if queueOutputDir != "" {
		cfg.Transform.OutputDir = queueOutputDir
	}
	if err := cfg.Transform.Validate(); err != nil {
		return fmt.Errorf("invalid transform config: %w", err)
	}

	paths, err := collectInputs(queueInputDir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		slog.Info("No images found", slog.String("dir", queueInputDir))
		return nil
	}

	monitor := memmon.New(cfg.Memory.LimitBytes)
	pool := bufpool.New()
	sizer := transform.NewFileSizer()
	defer sizer.Stop()

	transformer, err := transform.NewImageTransformer(cfg.Transform, pool, monitor)
	if err != nil {
		return err
	}

	sched := scheduler.New(monitor, sizer, cfg.Scheduler)

	optCtx, optCancel := context.WithCancel(ctx)
	defer optCancel()
	go scheduler.NewOptimizer(sched).Run(optCtx)

	tracker := progress.NewTracker()
	updates, unsubscribe := tracker.Subscribe()
	defer unsubscribe()
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		progress.NewConsoleReporter(os.Stdout, queueVerbose).Run(ctx, updates)
	}()

	tracker.Start(int64(len(paths)))

	admitted := 0
	for _, path := range paths {
		if err := transform.ValidateFile(path); err != nil {
			tracker.ReportError(path, err)
			continue
		}
		if _, err := sched.Schedule(ctx, path); err != nil {
			var ae *scheduler.AdmissionError
			if errors.As(err, &ae) {
				tracker.ReportError(path, err)
				continue
			}
			return err
		}
		admitted++
	}
	slog.Info("Admitted files to queue",
		slog.Int("admitted", admitted),
		slog.String("depths", sched.QueueStatus().String()))

	g, gctx := errgroup.WithContext(ctx)
	for range cfg.Scheduler.MaxConcurrent {
		g.Go(func() error {
			return drainQueue(gctx, sched, transformer, tracker)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("queue drain aborted: %w", err)
	}

	tracker.CompleteBatch()
	<-reporterDone

	stats := sched.Stats()
	slog.Info("Scheduler stats",
		slog.Int64("completed", stats.JobsCompleted),
		slog.Int64("failed", stats.JobsFailed),
		slog.Int64("pressure_events", stats.MemoryPressureEvents),
		slog.Float64("files_per_sec", stats.ThroughputPerSecond))
	logPoolStats(pool, monitor)
	gc()
	return nil
}

// drainQueue pulls jobs until the queue is empty. Wait timeouts abort only
// the attempt that timed out; the worker tries again.
func drainQueue(ctx context.Context, sched *scheduler.WorkScheduler, transformer transform.Transformer, tracker *progress.Tracker) error {
	for {
		item, err := sched.NextJob(ctx)
		if err != nil {
			if errors.Is(err, scheduler.ErrSlotWaitTimeout) || errors.Is(err, memmon.ErrMemoryWaitTimeout) {
				slog.Warn("Dequeue timed out, retrying", slog.Any("error", err))
				continue
			}
			return err
		}
		if item == nil {
			return nil
		}

		tracker.StartFile(item.Path)
		start := time.Now()
		res, terr := transformer.Transform(ctx, item.Path)
		elapsed := time.Since(start)

		sched.Complete(item.ID, terr == nil, elapsed)
		if terr != nil {
			tracker.ReportError(item.Path, terr)
			continue
		}
		tracker.CompleteFileDetails(item.Path, true, res.OutputBytes, res.Units, res.Duration)
	}
}
