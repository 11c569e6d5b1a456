// Package eventlog implements the durable, watermarked log of keystroke
// events that feeds periodic summaries.
//
// Entries before the consumed watermark have already been folded into a
// summary; entries after it have not. When the log is full it prefers to drop
// consumed entries. Only when nothing has been consumed does it drop the
// oldest unconsumed entry, and Append reports that case so callers can
// surface it.
package eventlog

import (
	"iter"

	"crumbeez/internal/keystroke"
	"crumbeez/internal/ring"
)

// Capacity is the default maximum number of entries.
const Capacity = 10000

// Entry is one logged event with its wall-clock time in Unix milliseconds.
type Entry struct {
	Event       keystroke.Event `json:"event" cbor:"event"`
	TimestampMs uint64          `json:"ts" cbor:"ts"`
}

// AppendResult describes what Append had to evict to make room.
type AppendResult struct {
	// Evicted is the number of entries dropped.
	Evicted int
	// LostUnconsumed is true when the dropped entry had not been summarized.
	LostUnconsumed bool
}

// Log is a fixed-capacity sequence of entries with a consumed watermark.
// A Log is not safe for concurrent use.
type Log struct {
	entries  *ring.Buffer[Entry]
	consumed int
}

// New returns an empty log with the default capacity.
func New() *Log {
	return NewWithCapacity(Capacity)
}

// NewWithCapacity returns an empty log holding at most capacity entries.
func NewWithCapacity(capacity int) *Log {
	return &Log{entries: ring.New[Entry](capacity)}
}

// Append adds ev at the end of the log, evicting first if the log is full.
func (l *Log) Append(ev keystroke.Event, timestampMs uint64) AppendResult {
	var res AppendResult
	if l.entries.Full() {
		if l.consumed > 0 {
			res.Evicted = l.entries.DropFront(l.consumed)
			l.consumed = 0
		} else {
			res.Evicted = l.entries.DropFront(1)
			res.LostUnconsumed = res.Evicted > 0
		}
	}
	l.entries.Push(Entry{Event: ev.Clone(), TimestampMs: timestampMs})
	return res
}

// Unconsumed yields the entries after the watermark, oldest first. The
// sequence reads the log when iterated and may be iterated again.
func (l *Log) Unconsumed() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for e := range l.entries.From(l.consumed) {
			if !yield(e) {
				return
			}
		}
	}
}

// All yields every entry, consumed or not, oldest first.
func (l *Log) All() iter.Seq[Entry] {
	return l.entries.All()
}

// UnconsumedCount returns the number of entries after the watermark.
func (l *Log) UnconsumedCount() int { return l.entries.Len() - l.consumed }

// TotalCount returns the number of entries held.
func (l *Log) TotalCount() int { return l.entries.Len() }

// ConsumedCount returns the watermark.
func (l *Log) ConsumedCount() int { return l.consumed }

// Capacity returns the maximum number of entries.
func (l *Log) Capacity() int { return l.entries.Cap() }

// Consume advances the watermark by n, stopping at the end of the log, and
// returns how far it moved.
func (l *Log) Consume(n int) int {
	if n <= 0 {
		return 0
	}
	next := min(l.consumed+n, l.entries.Len())
	moved := next - l.consumed
	l.consumed = next
	return moved
}

// Compact drops every consumed entry and resets the watermark. It returns the
// number of entries dropped.
func (l *Log) Compact() int {
	n := l.entries.DropFront(l.consumed)
	l.consumed = 0
	return n
}
