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

package progress

import (
	"context"
	"fmt"
	"io"
)

// ConsoleReporter prints progress updates from a tracker subscription.
type ConsoleReporter struct {
	out         io.Writer
	showDetails bool
}

// NewConsoleReporter creates a reporter writing to out. With showDetails,
// every file start/finish is printed, otherwise only the final summary.
func NewConsoleReporter(out io.Writer, showDetails bool) *ConsoleReporter {
	return &ConsoleReporter{out: out, showDetails: showDetails}
}

// Run consumes updates until a BatchCompleted event, the channel closes, or
// the context is canceled.
func (r *ConsoleReporter) Run(ctx context.Context, updates <-chan Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if r.report(u) {
				return
			}
		}
	}
}

// report prints one update and returns true when the batch is done.
func (r *ConsoleReporter) report(u Update) bool {
	switch u.Kind {
	case UpdateStarted:
		fmt.Fprintf(r.out, "Starting batch processing of %d files...\n", u.TotalFiles)
	case UpdateFileStarted:
		if r.showDetails {
			fmt.Fprintf(r.out, "Processing: %s\n", u.Filename)
		}
	case UpdateFileCompleted:
		if r.showDetails {
			if u.Success {
				fmt.Fprintf(r.out, "ok   %s (%.2f MB, %.2fs)\n",
					u.Filename,
					float64(u.Bytes)/1024.0/1024.0,
					u.Duration.Seconds())
			} else {
				fmt.Fprintf(r.out, "FAIL %s\n", u.Filename)
			}
		}
	case UpdateError:
		fmt.Fprintf(r.out, "Error processing %s: %s\n", u.Filename, u.Err)
	case UpdateBatchCompleted:
		s := u.FinalState
		fmt.Fprintf(r.out, "\nBatch processing completed:\n")
		fmt.Fprintf(r.out, "  Successful: %d\n", s.CompletedFiles)
		if s.FailedFiles > 0 {
			fmt.Fprintf(r.out, "  Failed: %d\n", s.FailedFiles)
		}
		fmt.Fprintf(r.out, "  Duration: %.2fs\n", s.Elapsed.Seconds())
		fmt.Fprintf(r.out, "  Speed: %s\n", s.SpeedText())
		if s.BytesProcessed > 0 {
			fmt.Fprintf(r.out, "  Data processed: %.2f MB\n",
				float64(s.BytesProcessed)/1024.0/1024.0)
		}
		return true
	}
	return false
}
