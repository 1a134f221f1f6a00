// Package storage keeps records in memory until they are durably on disk.
package storage

import (
	"github.com/jd3nn1s/dashlog/record"
)

// PacketBuffer is a fixed capacity ring of records waiting to be written.
// Records leave it oldest first, either by Consume once they are durable or
// by eviction when Append finds it full.
type PacketBuffer struct {
	recs    []record.Record
	head    int
	n       int
	evicted uint64
}

func NewPacketBuffer(capacity int) *PacketBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &PacketBuffer{recs: make([]record.Record, capacity)}
}

// Append adds r at the tail. It reports whether the oldest pending record
// had to be evicted to make room.
func (b *PacketBuffer) Append(r record.Record) bool {
	evicted := false
	if b.n == len(b.recs) {
		b.head = (b.head + 1) % len(b.recs)
		b.n--
		b.evicted++
		evicted = true
	}
	b.recs[(b.head+b.n)%len(b.recs)] = r
	b.n++
	return evicted
}

// Peek returns up to max of the oldest pending records, in order. A max
// below one means all of them.
func (b *PacketBuffer) Peek(max int) []record.Record {
	if max < 1 || max > b.n {
		max = b.n
	}
	out := make([]record.Record, max)
	first := copy(out, b.recs[b.head:min(b.head+max, len(b.recs))])
	copy(out[first:], b.recs[:max-first])
	return out
}

// Consume drops the n oldest records after they were written.
func (b *PacketBuffer) Consume(n int) {
	if n > b.n {
		n = b.n
	}
	b.head = (b.head + n) % len(b.recs)
	b.n -= n
}

func (b *PacketBuffer) Pending() int {
	return b.n
}

func (b *PacketBuffer) Cap() int {
	return len(b.recs)
}

// Evicted counts records lost to overflow since creation.
func (b *PacketBuffer) Evicted() uint64 {
	return b.evicted
}
