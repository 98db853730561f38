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

// Package processor runs a batch of transforms under a selectable
// concurrency strategy and aggregates the per-item outcomes.
package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cardinalhq/batchrunner/internal/logctx"
	"github.com/cardinalhq/batchrunner/internal/memmon"
	"github.com/cardinalhq/batchrunner/internal/progress"
	"github.com/cardinalhq/batchrunner/internal/transform"
)

const (
	// maxChunkSize bounds hybrid chunks regardless of batch size.
	maxChunkSize = 10

	// interChunkPause lets allocator and page cache settle between chunks.
	interChunkPause = 100 * time.Millisecond
)

// ParallelProcessor executes batches against a Transformer. An item failure
// is recorded and never aborts the batch; only a canceled context or a
// broken semaphore surfaces as an error from ProcessBatch.
type ParallelProcessor struct {
	transformer   transform.Transformer
	tracker       *progress.Tracker
	maxConcurrent int
}

// New creates a processor. maxConcurrent below 1 is treated as 1.
func New(transformer transform.Transformer, tracker *progress.Tracker, maxConcurrent int) *ParallelProcessor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ParallelProcessor{
		transformer:   transformer,
		tracker:       tracker,
		maxConcurrent: maxConcurrent,
	}
}

type outcome struct {
	res *transform.Result
	err error
}

// ProcessBatch transforms every path under the given strategy. StrategyAuto
// is resolved against the batch size and currently available system memory.
func (p *ParallelProcessor) ProcessBatch(ctx context.Context, paths []string, strategy Strategy) (*BatchResult, error) {
	if strategy == StrategyAuto {
		strategy = ChooseAuto(len(paths), memmon.AvailableSystemMemory())
	}

	batchID := uuid.New()
	ctx = logctx.WithAttrs(ctx, slog.String("batch_id", batchID.String()))

	logctx.FromContext(ctx).Info("Starting batch",
		slog.Int("files", len(paths)),
		slog.String("strategy", strategy.String()),
		slog.Int("max_concurrent", p.maxConcurrent))

	p.tracker.Start(int64(len(paths)))
	start := time.Now()

	outcomes := make([]outcome, len(paths))
	var err error
	switch strategy {
	case StrategyAsync:
		err = p.runAsync(ctx, paths, outcomes)
	case StrategyCPUIntensive:
		err = p.runWorkerPool(ctx, paths, outcomes)
	default:
		err = p.runHybrid(ctx, paths, outcomes)
	}
	if err != nil {
		return nil, err
	}

	result := p.aggregate(batchID, strategy, paths, outcomes, time.Since(start))
	p.tracker.CompleteBatch()
	recordBatch(strategy, result)
	return result, nil
}

// runAsync launches one goroutine per item, admission gated by a counting
// semaphore. Suited to small batches where per-goroutine overhead is noise.
func (p *ParallelProcessor) runAsync(ctx context.Context, paths []string, outcomes []outcome) error {
	sem := semaphore.NewWeighted(int64(p.maxConcurrent))
	var wg sync.WaitGroup

	for i, path := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = p.processOne(ctx, path)
		}(i, path)
	}

	wg.Wait()
	return nil
}

// runWorkerPool runs a fixed pool of maxConcurrent workers pulling indexes
// from a shared channel, keeping every core busy for large batches.
func (p *ParallelProcessor) runWorkerPool(ctx context.Context, paths []string, outcomes []outcome) error {
	indexes := make(chan int, len(paths))
	for i := range paths {
		indexes <- i
	}
	close(indexes)

	var wg sync.WaitGroup
	for range p.maxConcurrent {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if ctx.Err() != nil {
					return
				}
				outcomes[i] = p.processOne(ctx, paths[i])
			}
		}()
	}

	wg.Wait()
	return ctx.Err()
}

// runHybrid splits the batch into bounded chunks, runs each chunk's items
// concurrently, and pauses between chunks.
func (p *ParallelProcessor) runHybrid(ctx context.Context, paths []string, outcomes []outcome) error {
	chunkSize := min(max(len(paths)/p.maxConcurrent, 1), maxChunkSize)

	for offset := 0; offset < len(paths); offset += chunkSize {
		end := min(offset+chunkSize, len(paths))

		var g errgroup.Group
		for i := offset; i < end; i++ {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				outcomes[i] = p.processOne(ctx, paths[i])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if end < len(paths) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interChunkPause):
			}
		}
	}
	return nil
}

func (p *ParallelProcessor) processOne(ctx context.Context, path string) outcome {
	p.tracker.StartFile(path)

	res, err := p.transformer.Transform(ctx, path)
	if err != nil {
		logctx.FromContext(ctx).Warn("Transform failed",
			slog.String("path", path),
			slog.Any("error", err))
		p.tracker.ReportError(path, err)
		recordItem(false)
		return outcome{err: err}
	}

	p.tracker.CompleteFileDetails(path, true, res.OutputBytes, res.Units, res.Duration)
	recordItem(true)
	return outcome{res: res}
}

func (p *ParallelProcessor) aggregate(id uuid.UUID, strategy Strategy, paths []string, outcomes []outcome, elapsed time.Duration) *BatchResult {
	result := &BatchResult{
		ID:       id,
		Strategy: strategy,
		Elapsed:  elapsed,
	}
	for i, o := range outcomes {
		if o.err != nil {
			result.Failures = append(result.Failures, &ItemError{Path: paths[i], Err: o.err})
			continue
		}
		result.Successful++
		result.Results = append(result.Results, o.res)
		result.TotalInputBytes += o.res.InputBytes
		result.TotalOutputBytes += o.res.OutputBytes
		result.TotalUnits += o.res.Units
	}
	return result
}
