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

// Package bufpool recycles size-classed scratch buffers to cut allocator
// churn during batch processing.
package bufpool

import (
	"log/slog"
	"sync"
)

// Class is a buffer-pool size class.
type Class int

const (
	ClassSmall  Class = iota // < 1 MiB
	ClassMedium              // 1-10 MiB
	ClassLarge               // >= 10 MiB
)

func (c Class) String() string {
	switch c {
	case ClassSmall:
		return "small"
	case ClassMedium:
		return "medium"
	case ClassLarge:
		return "large"
	default:
		return "unknown"
	}
}

const (
	smallClassLimit  = 1 * 1024 * 1024
	mediumClassLimit = 10 * 1024 * 1024

	// maxPooledBytes is the pool-admission ceiling: buffers larger than this
	// are dropped on release rather than retained.
	maxPooledBytes = 100 * 1024 * 1024
)

// Free-list capacity per class. More slots for small buffers where churn is
// highest, fewer for large ones where retained footprint dominates.
var classCapacity = map[Class]int{
	ClassSmall:  100,
	ClassMedium: 50,
	ClassLarge:  20,
}

func classFor(size int) Class {
	switch {
	case size < smallClassLimit:
		return ClassSmall
	case size < mediumClassLimit:
		return ClassMedium
	default:
		return ClassLarge
	}
}

// Stats reports cumulative pool activity.
type Stats struct {
	SmallAllocated   int64
	SmallReused      int64
	MediumAllocated  int64
	MediumReused     int64
	LargeAllocated   int64
	LargeReused      int64
	TotalMemorySaved int64
}

// Pool is a three-class free list of reusable byte buffers.
type Pool struct {
	mu    sync.Mutex
	free  map[Class][][]byte
	stats Stats
}

// New creates an empty pool.
func New() *Pool {
	p := &Pool{
		free: map[Class][][]byte{
			ClassSmall:  make([][]byte, 0, classCapacity[ClassSmall]),
			ClassMedium: make([][]byte, 0, classCapacity[ClassMedium]),
			ClassLarge:  make([][]byte, 0, classCapacity[ClassLarge]),
		},
	}
	registerPoolGauges(p)
	return p
}

// Buffer is a scoped-acquisition handle over a pooled byte slice. The holder
// owns the bytes exclusively until Release.
type Buffer struct {
	data  []byte
	class Class
	pool  *Pool
	once  sync.Once
}

// Acquire returns a buffer of exactly minSize bytes, reusing a pooled buffer
// whose capacity already satisfies the request when one exists.
func (p *Pool) Acquire(minSize int) *Buffer {
	class := classFor(minSize)

	p.mu.Lock()
	list := p.free[class]
	for i, b := range list {
		if cap(b) >= minSize {
			// Remove from the free list; a buffer must never be visible to
			// two acquirers.
			list[i] = list[len(list)-1]
			p.free[class] = list[:len(list)-1]
			p.countReuse(class, minSize)
			p.mu.Unlock()

			b = b[:minSize]
			clear(b)
			recordReuse(class, minSize)
			slog.Debug("Reused pooled buffer",
				slog.Int("bytes", minSize),
				slog.String("class", class.String()))
			return &Buffer{data: b, class: class, pool: p}
		}
	}
	p.countAlloc(class)
	p.mu.Unlock()

	recordAlloc(class, minSize)
	slog.Debug("Allocated new buffer",
		slog.Int("bytes", minSize),
		slog.String("class", class.String()))
	return &Buffer{data: make([]byte, minSize), class: class, pool: p}
}

// countReuse and countAlloc are called with p.mu held.
func (p *Pool) countReuse(class Class, size int) {
	switch class {
	case ClassSmall:
		p.stats.SmallReused++
	case ClassMedium:
		p.stats.MediumReused++
	case ClassLarge:
		p.stats.LargeReused++
	}
	p.stats.TotalMemorySaved += int64(size)
}

func (p *Pool) countAlloc(class Class) {
	switch class {
	case ClassSmall:
		p.stats.SmallAllocated++
	case ClassMedium:
		p.stats.MediumAllocated++
	case ClassLarge:
		p.stats.LargeAllocated++
	}
}

func (p *Pool) release(b []byte, class Class) {
	if cap(b) > maxPooledBytes {
		slog.Debug("Buffer over admission ceiling, discarded",
			slog.Int("capacity", cap(b)))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free[class]) >= classCapacity[class] {
		slog.Debug("Free list full, buffer discarded",
			slog.String("class", class.String()))
		return
	}
	p.free[class] = append(p.free[class], b)
}

// Stats returns a snapshot of cumulative counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Clear drops all retained buffers.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for class := range p.free {
		p.free[class] = p.free[class][:0]
	}
	slog.Debug("Buffer pool cleared")
}

// CurrentMemoryUsage returns the total capacity of retained buffers in bytes.
func (p *Pool) CurrentMemoryUsage() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total int64
	for _, list := range p.free {
		for _, b := range list {
			total += int64(cap(b))
		}
	}
	return total
}

// Bytes returns the buffer contents. Invalid after Release.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the current buffer length.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Resize grows or shrinks the buffer to n bytes, reallocating if needed.
func (b *Buffer) Resize(n int) {
	if n <= cap(b.data) {
		b.data = b.data[:n]
		return
	}
	grown := make([]byte, n)
	copy(grown, b.data)
	b.data = grown
}

// Release returns the buffer to its class's free list, or discards it when
// over the admission ceiling or the list is full. Idempotent; the handle
// must not be used afterwards.
func (b *Buffer) Release() {
	b.once.Do(func() {
		data := b.data
		b.data = nil
		b.pool.release(data, b.class)
	})
}
