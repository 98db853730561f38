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
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/batchrunner/internal/transform"
)

// ItemError attributes a per-item failure to its input path.
type ItemError struct {
	Path string
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// BatchResult aggregates the outcome of a batch run. Successful plus
// len(Failures) always equals the number of submitted items.
type BatchResult struct {
	ID         uuid.UUID
	Strategy   Strategy
	Successful int
	Results    []*transform.Result
	Failures   []*ItemError
	Elapsed    time.Duration

	TotalInputBytes  int64
	TotalOutputBytes int64
	TotalUnits       int64
}

// Failed returns the number of items that errored.
func (r *BatchResult) Failed() int {
	return len(r.Failures)
}

// FilesPerSecond is the batch-wide item throughput.
func (r *BatchResult) FilesPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Successful+len(r.Failures)) / r.Elapsed.Seconds()
}

// UnitsPerSecond is the batch-wide processed-unit throughput.
func (r *BatchResult) UnitsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.TotalUnits) / r.Elapsed.Seconds()
}

// CompressionRatio is input bytes over output bytes. Zero output yields 1.
func (r *BatchResult) CompressionRatio() float64 {
	if r.TotalOutputBytes <= 0 {
		return 1.0
	}
	return float64(r.TotalInputBytes) / float64(r.TotalOutputBytes)
}

// SizeReduction is the percentage of input bytes eliminated.
func (r *BatchResult) SizeReduction() float64 {
	if r.TotalInputBytes <= 0 {
		return 0
	}
	return (1 - float64(r.TotalOutputBytes)/float64(r.TotalInputBytes)) * 100
}

// AverageTimePerFile spreads elapsed wall time over the successful items.
func (r *BatchResult) AverageTimePerFile() time.Duration {
	if r.Successful == 0 {
		return 0
	}
	return r.Elapsed / time.Duration(r.Successful)
}

// Err collects every item failure into one error, or nil if none failed.
func (r *BatchResult) Err() error {
	var merr *multierror.Error
	for _, f := range r.Failures {
		merr = multierror.Append(merr, f)
	}
	return merr.ErrorOrNil()
}

// LogSummary emits the batch outcome at info level.
func (r *BatchResult) LogSummary() {
	slog.Info("Batch complete",
		slog.String("batch_id", r.ID.String()),
		slog.String("strategy", r.Strategy.String()),
		slog.Int("successful", r.Successful),
		slog.Int("failed", len(r.Failures)),
		slog.Float64("elapsed_sec", r.Elapsed.Seconds()),
		slog.Float64("files_per_sec", r.FilesPerSecond()),
		slog.Int64("input_bytes", r.TotalInputBytes),
		slog.Int64("output_bytes", r.TotalOutputBytes),
		slog.Float64("size_reduction_pct", r.SizeReduction()))
}
