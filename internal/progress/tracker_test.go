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
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerBasicCounting(t *testing.T) {
	tr := NewTracker()
	tr.Start(10)

	s := tr.State()
	assert.Equal(t, int64(10), s.TotalFiles)
	assert.Equal(t, int64(0), s.CompletedFiles)

	tr.StartFile("a.jpg")
	tr.CompleteFile("a.jpg", true)

	s = tr.State()
	assert.Equal(t, int64(1), s.CompletedFiles)
	assert.InDelta(t, 10.0, s.CompletionPercentage, 0.001)
	assert.Empty(t, s.CurrentFile)
}

func TestTrackerDetailsAccumulate(t *testing.T) {
	tr := NewTracker()
	tr.Start(3)

	tr.StartFile("a.jpg")
	tr.CompleteFileDetails("a.jpg", true, 1000, 800*600, 50*time.Millisecond)
	tr.StartFile("b.jpg")
	tr.CompleteFileDetails("b.jpg", false, 0, 0, 10*time.Millisecond)

	s := tr.State()
	assert.Equal(t, int64(1), s.CompletedFiles)
	assert.Equal(t, int64(1), s.FailedFiles)
	assert.Equal(t, int64(1000), s.BytesProcessed)
	assert.Equal(t, int64(800*600), s.UnitsProcessed)
}

func TestStateSnapshotIdempotent(t *testing.T) {
	tr := NewTracker()
	tr.Start(4)
	tr.StartFile("a.jpg")
	tr.CompleteFileDetails("a.jpg", true, 100, 10, time.Millisecond)

	s1 := tr.State()
	s2 := tr.State()

	// Equal except for monotonic elapsed growth.
	assert.GreaterOrEqual(t, s2.Elapsed, s1.Elapsed)
	s1.Elapsed, s2.Elapsed = 0, 0
	s1.FilesPerSecond, s2.FilesPerSecond = 0, 0
	s1.EstimatedRemaining, s2.EstimatedRemaining = 0, 0
	assert.Equal(t, s1, s2)
}

func TestStartResetsCounters(t *testing.T) {
	tr := NewTracker()
	tr.Start(2)
	tr.StartFile("a.jpg")
	tr.CompleteFileDetails("a.jpg", true, 500, 5, time.Millisecond)

	tr.Start(7)
	s := tr.State()
	assert.Equal(t, int64(7), s.TotalFiles)
	assert.Equal(t, int64(0), s.CompletedFiles)
	assert.Equal(t, int64(0), s.BytesProcessed)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	tr := NewTracker()
	ch, cancel := tr.Subscribe()
	defer cancel()

	tr.Start(5)
	u := <-ch
	assert.Equal(t, UpdateStarted, u.Kind)
	assert.Equal(t, int64(5), u.TotalFiles)

	tr.StartFile("x.png")
	u = <-ch
	assert.Equal(t, UpdateFileStarted, u.Kind)
	assert.Equal(t, "x.png", u.Filename)

	tr.CompleteFileDetails("x.png", true, 1024, 480000, 100*time.Millisecond)
	u = <-ch
	assert.Equal(t, UpdateFileCompleted, u.Kind)
	assert.True(t, u.Success)
	assert.Equal(t, "x.png", u.Filename)
}

func TestCompletionAttributedToNamedFile(t *testing.T) {
	tr := NewTracker()
	ch, cancel := tr.Subscribe()
	defer cancel()

	tr.Start(2)
	<-ch // Started

	// Two workers interleave: b starts after a, then a finishes first.
	tr.StartFile("a.jpg")
	<-ch
	tr.StartFile("b.jpg")
	<-ch

	tr.CompleteFileDetails("a.jpg", true, 100, 10, time.Millisecond)
	u := <-ch
	require.Equal(t, UpdateFileCompleted, u.Kind)
	assert.Equal(t, "a.jpg", u.Filename)

	// The in-progress marker still points at the file that has not
	// finished.
	assert.Equal(t, "b.jpg", tr.State().CurrentFile)

	tr.CompleteFileDetails("b.jpg", true, 100, 10, time.Millisecond)
	u = <-ch
	assert.Equal(t, "b.jpg", u.Filename)
	assert.Empty(t, tr.State().CurrentFile)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	tr := NewTracker()
	_, cancel := tr.Subscribe() // never consumed
	defer cancel()

	tr.Start(1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			tr.StartFile("f")
			tr.CompleteFile("f", true)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// Final state is still accurate despite dropped events.
	s := tr.State()
	assert.Equal(t, int64(subscriberBuffer*2), s.CompletedFiles)
}

func TestReportError(t *testing.T) {
	tr := NewTracker()
	ch, cancel := tr.Subscribe()
	defer cancel()

	tr.Start(1)
	<-ch // Started

	tr.ReportError("bad.jpg", errors.New("corrupted image"))
	u := <-ch
	require.Equal(t, UpdateError, u.Kind)
	assert.Equal(t, "bad.jpg", u.Filename)
	assert.Equal(t, "corrupted image", u.Err)

	assert.Equal(t, int64(1), tr.State().FailedFiles)
}

func TestETAUnknownBeforeElapsed(t *testing.T) {
	s := State{}
	assert.Equal(t, "unknown", s.ETAText())
	assert.Equal(t, "unknown", s.SpeedText())
}

func TestStatusText(t *testing.T) {
	s := State{TotalFiles: 10, CompletedFiles: 3, FailedFiles: 1}
	assert.Contains(t, s.StatusText(), "4/10")

	s.CurrentFile = "img.png"
	assert.Contains(t, s.StatusText(), "img.png")
}

func TestConsoleReporterSummary(t *testing.T) {
	tr := NewTracker()
	ch, cancel := tr.Subscribe()
	defer cancel()

	var buf bytes.Buffer
	r := NewConsoleReporter(&buf, true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(context.Background(), ch)
	}()

	tr.Start(2)
	tr.StartFile("a.jpg")
	tr.CompleteFileDetails("a.jpg", true, 2*1024*1024, 100, 200*time.Millisecond)
	tr.StartFile("b.jpg")
	tr.CompleteFile("b.jpg", false)
	tr.CompleteBatch()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not finish")
	}

	out := buf.String()
	assert.True(t, strings.Contains(out, "Starting batch processing of 2 files"))
	assert.True(t, strings.Contains(out, "Successful: 1"))
	assert.True(t, strings.Contains(out, "Failed: 1"))
}
