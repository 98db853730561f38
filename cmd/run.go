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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/batchrunner/config"
	"github.com/cardinalhq/batchrunner/internal/bufpool"
	"github.com/cardinalhq/batchrunner/internal/memmon"
	"github.com/cardinalhq/batchrunner/internal/processor"
	"github.com/cardinalhq/batchrunner/internal/progress"
	"github.com/cardinalhq/batchrunner/internal/transform"
)

var (
	runInputDir  string
	runOutputDir string
	runStrategy  string
	runWorkers   int
	runScale     float64
	runQuality   int
	runFormat    string
	runVerbose   bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resize every image in a directory as one batch",
		RunE: func(c *cobra.Command, _ []string) error {
			return runBatch(c)
		},
	}
	cmd.Flags().StringVarP(&runInputDir, "input", "i", "", "directory of images to process")
	cmd.Flags().StringVarP(&runOutputDir, "output", "o", "", "directory for resized images (default: alongside inputs)")
	cmd.Flags().StringVar(&runStrategy, "strategy", "auto", "concurrency strategy: auto, async, cpu, or hybrid")
	cmd.Flags().IntVar(&runWorkers, "workers", 0, "max concurrent transforms (default: from config)")
	cmd.Flags().Float64Var(&runScale, "scale", 0, "scale factor (default: from config)")
	cmd.Flags().IntVar(&runQuality, "quality", 0, "output quality 1-100 (default: from config)")
	cmd.Flags().StringVar(&runFormat, "format", "", "force output format (jpg, png, gif)")
	cmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "print per-file progress")
	_ = cmd.MarkFlagRequired("input")
	rootCmd.AddCommand(cmd)
}

func runBatch(_ *cobra.Command) error {
	ctx, shutdown, err := setupTelemetry("batchrunner-run", nil)
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
	applyRunFlags(cfg)

	if err := cfg.Transform.Validate(); err != nil {
		return fmt.Errorf("invalid transform config: %w", err)
	}

	paths, err := collectInputs(runInputDir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		slog.Info("No images found", slog.String("dir", runInputDir))
		return nil
	}

	monitor := memmon.New(cfg.Memory.LimitBytes)
	pool := bufpool.New()
	tracker := progress.NewTracker()

	transformer, err := transform.NewImageTransformer(cfg.Transform, pool, monitor)
	if err != nil {
		return err
	}

	updates, unsubscribe := tracker.Subscribe()
	defer unsubscribe()
	reporter := progress.NewConsoleReporter(os.Stdout, runVerbose)
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		reporter.Run(ctx, updates)
	}()

	strategy, err := processor.ParseStrategy(runStrategy)
	if err != nil {
		return err
	}

	proc := processor.New(transformer, tracker, cfg.Scheduler.MaxConcurrent)
	result, err := proc.ProcessBatch(ctx, paths, strategy)
	if err != nil {
		return fmt.Errorf("batch aborted: %w", err)
	}
	<-reporterDone

	result.LogSummary()
	logPoolStats(pool, monitor)
	gc()

	// Item failures are reported but do not fail the run; the batch
	// completed and every remaining item was processed.
	if batchErr := result.Err(); batchErr != nil {
		slog.Warn("Some files failed",
			slog.Int("failed", result.Failed()),
			slog.Int("successful", result.Successful))
	}
	return nil
}

func applyRunFlags(cfg *config.Config) {
	if runWorkers > 0 {
		cfg.Scheduler.MaxConcurrent = runWorkers
	}
	if runScale > 0 {
		cfg.Transform.Mode = transform.ModeScale
		cfg.Transform.Factor = runScale
	}
	if runQuality > 0 {
		cfg.Transform.Quality = runQuality
	}
	if runFormat != "" {
		cfg.Transform.Format = runFormat
	}
	if runOutputDir != "" {
		cfg.Transform.OutputDir = runOutputDir
	}
}

// collectInputs returns the image files directly under dir, sorted for
// stable processing order.
func collectInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input dir %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if transform.SupportedExtension(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func logPoolStats(pool *bufpool.Pool, monitor *memmon.Monitor) {
	stats := pool.Stats()
	slog.Info("Buffer pool stats",
		slog.Int64("allocated", stats.SmallAllocated+stats.MediumAllocated+stats.LargeAllocated),
		slog.Int64("reused", stats.SmallReused+stats.MediumReused+stats.LargeReused),
		slog.Int64("bytes_saved", stats.TotalMemorySaved))
	slog.Info("Memory stats",
		slog.Int64("limit_bytes", monitor.MaxUsage()),
		slog.Float64("usage_pct", monitor.UsagePercentage()))
}
