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

// Package progress provides thread-safe batch progress accounting and a
// lossy event broadcast for observers.
package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// UpdateKind discriminates broadcast events.
type UpdateKind int

const (
	UpdateStarted UpdateKind = iota
	UpdateFileStarted
	UpdateFileCompleted
	UpdateBatchCompleted
	UpdateError
)

// Update is a progress broadcast event.
type Update struct {
	Kind       UpdateKind
	TotalFiles int64
	Filename   string
	Success    bool
	Bytes      int64
	Units      int64
	Duration   time.Duration
	Err        string
	FinalState *State
}

// State is a consistent progress snapshot.
type State struct {
	TotalFiles           int64
	CompletedFiles       int64
	FailedFiles          int64
	CurrentFile          string
	Elapsed              time.Duration
	EstimatedRemaining   time.Duration // zero means unknown
	BytesProcessed       int64
	UnitsProcessed       int64
	FilesPerSecond       float64
	CompletionPercentage float64
}

// Metrics is a set of throughput figures derived from a State.
type Metrics struct {
	FilesPerSecond  float64
	BytesPerSecond  float64
	UnitsPerSecond  float64
	AverageFileSize int64
	SuccessRate     float64
}

// subscriberBuffer bounds each subscription channel. Slow consumers lose
// events rather than blocking workers; final state is always available from
// State().
const subscriberBuffer = 256

// Tracker accumulates batch progress. Counter updates are atomic; snapshot
// fields (total, current file, start time) sit behind a mutex.
type Tracker struct {
	mu          sync.Mutex
	total       int64
	currentFile string
	startTime   time.Time
	started     bool

	completed atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
	units     atomic.Int64

	subMu   sync.Mutex
	subs    map[int]chan Update
	nextSub int
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{subs: make(map[int]chan Update)}
}

// Start resets all counters and timestamps for a batch of total items.
func (t *Tracker) Start(total int64) {
	t.mu.Lock()
	t.total = total
	t.currentFile = ""
	t.startTime = time.Now()
	t.started = true
	t.mu.Unlock()

	t.completed.Store(0)
	t.failed.Store(0)
	t.bytes.Store(0)
	t.units.Store(0)

	t.publish(Update{Kind: UpdateStarted, TotalFiles: total})
	slog.Info("Started progress tracking", slog.Int64("total_files", total))
}

// StartFile records the item currently being processed.
func (t *Tracker) StartFile(name string) {
	t.mu.Lock()
	t.currentFile = name
	t.mu.Unlock()

	t.publish(Update{Kind: UpdateFileStarted, Filename: name})
}

// CompleteFile records a completion with no size details.
func (t *Tracker) CompleteFile(name string, success bool) {
	t.CompleteFileDetails(name, success, 0, 0, 0)
}

// CompleteFileDetails records a completion with byte/unit counts. The name
// is passed explicitly so concurrent workers attribute completions to the
// right file.
func (t *Tracker) CompleteFileDetails(name string, success bool, bytes, units int64, d time.Duration) {
	t.mu.Lock()
	if t.currentFile == name {
		t.currentFile = ""
	}
	t.mu.Unlock()

	if success {
		t.completed.Add(1)
		t.bytes.Add(bytes)
		t.units.Add(units)
	} else {
		t.failed.Add(1)
	}

	t.publish(Update{
		Kind:     UpdateFileCompleted,
		Filename: name,
		Success:  success,
		Bytes:    bytes,
		Units:    units,
		Duration: d,
	})
}

// ReportError records a failure attributed to a named item. It counts the
// failure itself; callers use either this or CompleteFile(false), not both.
func (t *Tracker) ReportError(name string, err error) {
	t.mu.Lock()
	if t.currentFile == name {
		t.currentFile = ""
	}
	t.mu.Unlock()

	t.failed.Add(1)
	t.publish(Update{Kind: UpdateError, Filename: name, Err: err.Error()})
}

// State computes a consistent snapshot. ETA and throughput are zero until
// elapsed time is nonzero.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := State{
		TotalFiles:     t.total,
		CompletedFiles: t.completed.Load(),
		FailedFiles:    t.failed.Load(),
		CurrentFile:    t.currentFile,
		BytesProcessed: t.bytes.Load(),
		UnitsProcessed: t.units.Load(),
	}
	if t.started {
		s.Elapsed = time.Since(t.startTime)
	}

	processed := s.CompletedFiles + s.FailedFiles
	if s.TotalFiles > 0 {
		s.CompletionPercentage = float64(processed) / float64(s.TotalFiles) * 100.0
	}

	elapsedSec := s.Elapsed.Seconds()
	if elapsedSec > 0 {
		s.FilesPerSecond = float64(processed) / elapsedSec
		if processed > 0 && s.TotalFiles > processed {
			remaining := s.TotalFiles - processed
			perFile := elapsedSec / float64(processed)
			s.EstimatedRemaining = time.Duration(float64(remaining) * perFile * float64(time.Second))
		}
	}
	return s
}

// Metrics derives throughput figures from the current state.
func (t *Tracker) Metrics() Metrics {
	s := t.State()

	m := Metrics{FilesPerSecond: s.FilesPerSecond}
	if sec := s.Elapsed.Seconds(); sec > 0 {
		m.BytesPerSecond = float64(s.BytesProcessed) / sec
		m.UnitsPerSecond = float64(s.UnitsProcessed) / sec
	}
	if s.CompletedFiles > 0 {
		m.AverageFileSize = s.BytesProcessed / s.CompletedFiles
	}
	if s.TotalFiles > 0 {
		m.SuccessRate = float64(s.CompletedFiles) / float64(s.TotalFiles) * 100.0
	}
	return m
}

// CompleteBatch publishes the final state to subscribers.
func (t *Tracker) CompleteBatch() {
	final := t.State()
	t.publish(Update{Kind: UpdateBatchCompleted, FinalState: &final})

	slog.Info("Batch processing completed",
		slog.Int64("completed", final.CompletedFiles),
		slog.Int64("total", final.TotalFiles),
		slog.Float64("elapsed_sec", final.Elapsed.Seconds()))
}

// Subscribe returns an independent event stream and a cancel function. The
// stream is lossy under slow consumers.
func (t *Tracker) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)

	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.subMu.Unlock()

	cancel := func() {
		t.subMu.Lock()
		if existing, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(existing)
		}
		t.subMu.Unlock()
	}
	return ch, cancel
}

func (t *Tracker) publish(u Update) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- u:
		default:
			// Subscriber buffer full; drop rather than block a worker.
		}
	}
}

// StatusText renders a short human-readable progress line.
func (s State) StatusText() string {
	processed := s.CompletedFiles + s.FailedFiles
	if s.CurrentFile != "" {
		return fmt.Sprintf("Processing: %s (%d/%d)", s.CurrentFile, processed+1, s.TotalFiles)
	}
	if s.CompletionPercentage >= 100.0 {
		return "Completed"
	}
	return fmt.Sprintf("%d/%d files processed", processed, s.TotalFiles)
}

// ETAText renders the estimated remaining time, or "unknown".
func (s State) ETAText() string {
	if s.EstimatedRemaining <= 0 {
		return "unknown"
	}
	sec := int64(s.EstimatedRemaining.Seconds())
	switch {
	case sec < 60:
		return fmt.Sprintf("%ds", sec)
	case sec < 3600:
		return fmt.Sprintf("%dm %ds", sec/60, sec%60)
	default:
		return fmt.Sprintf("%dh %dm", sec/3600, (sec%3600)/60)
	}
}

// SpeedText renders throughput, or "unknown" before any elapsed time.
func (s State) SpeedText() string {
	switch {
	case s.FilesPerSecond >= 1.0:
		return fmt.Sprintf("%.1f files/sec", s.FilesPerSecond)
	case s.FilesPerSecond > 0:
		return fmt.Sprintf("%.1f sec/file", 1.0/s.FilesPerSecond)
	default:
		return "unknown"
	}
}
