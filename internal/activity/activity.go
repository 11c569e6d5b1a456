// Package activity keeps the short, human-viewable trace of recent keystroke
// activity shown in the status view. Nothing here is persisted.
package activity

import (
	"fmt"
	"slices"
	"unicode/utf8"

	"crumbeez/internal/editbuf"
	"crumbeez/internal/keystroke"
	"crumbeez/internal/ring"
)

// Capacity is the number of entries a Ring retains.
const Capacity = 200

// Ring is a fixed-capacity FIFO of completed events. Runs of repeated
// erase and cursor keys are coalesced into a single counted entry.
type Ring struct {
	line    *editbuf.Line
	entries *ring.Buffer[keystroke.Event]

	evicted uint64
}

// New returns an empty Ring holding at most Capacity entries.
func New() *Ring {
	return NewWithCapacity(Capacity)
}

// NewWithCapacity returns an empty Ring with a custom capacity.
func NewWithCapacity(capacity int) *Ring {
	return &Ring{
		line:    editbuf.NewLine(editbuf.DisplayPolicy),
		entries: ring.New[keystroke.Event](capacity),
	}
}

// Push applies ev to the live text and records whatever it produces.
// It returns the number of entries evicted to make room.
func (r *Ring) Push(ev keystroke.Event) int {
	out := r.line.Apply(ev)
	evicted := 0
	if out.Sealed != nil {
		evicted += r.add(*out.Sealed)
	}
	if out.Forward {
		evicted += r.add(ev.Clone())
	}
	return evicted
}

func (r *Ring) add(ev keystroke.Event) int {
	if last := r.entries.Back(); last != nil && coalesce(last, ev) {
		return 0
	}
	if r.entries.Push(ev) {
		r.evicted++
		return 1
	}
	return 0
}

// coalesce folds ev into last when both belong to the same run.
func coalesce(last *keystroke.Event, ev keystroke.Event) bool {
	switch ev.Kind {
	case keystroke.KindEditControl:
		if ev.Edit == nil || !ev.Edit.Op.Counted() || !last.IsEdit(ev.Edit.Op) {
			return false
		}
		last.Edit.Count = max(last.Edit.Count, 1) + max(ev.Edit.Count, 1)
		return true
	case keystroke.KindNavigation:
		if last.Kind != keystroke.KindNavigation || last.Navigation == nil || ev.Navigation == nil {
			return false
		}
		if !last.Navigation.SameRun(*ev.Navigation) {
			return false
		}
		last.Navigation.Count = max(last.Navigation.Count, 1) + max(ev.Navigation.Count, 1)
		return true
	}
	return false
}

// Clear drops every entry and any live text.
func (r *Ring) Clear() {
	r.entries.Clear()
	r.line.Reset()
}

// Len returns the number of retained entries.
func (r *Ring) Len() int { return r.entries.Len() }

// Evicted returns how many entries have been dropped for capacity since the
// ring was created.
func (r *Ring) Evicted() uint64 { return r.evicted }

// Events returns a copy of the retained entries, oldest first.
func (r *Ring) Events() []keystroke.Event {
	return r.entries.Slice()
}

// Live returns the text currently being typed, if any.
func (r *Ring) Live() (text string, cursor int, ok bool) {
	return r.line.Live()
}

// Render formats the newest entries for a view of the given size. At most
// rows lines are produced (at least one) and each is cut to cols.
func (r *Ring) Render(rows, cols int) []string {
	rows = max(rows, 1)
	var lines []string

	text, cursor, live := r.line.Live()
	if live {
		rows--
	}
	if r.entries.Len() == 0 && !live {
		return []string{Truncate("  (no keystrokes yet)", cols)}
	}
	if rows > 0 {
		skip := max(r.entries.Len()-rows, 0)
		for ev := range r.entries.From(skip) {
			lines = append(lines, Truncate("  "+ev.String(), cols))
		}
	}
	if live {
		lines = append(lines, Truncate(fmt.Sprintf("  typing %q", text[:cursor]+"▏"+text[cursor:]), cols))
	}
	return slices.Clip(lines)
}

// Truncate shortens line to at most cols runes, marking the cut with an
// ellipsis. Views narrower than five columns are left alone.
func Truncate(line string, cols int) string {
	if cols <= 4 || utf8.RuneCountInString(line) <= cols {
		return line
	}
	n := 0
	for i := range line {
		if n == cols-1 {
			return line[:i] + "…"
		}
		n++
	}
	return line
}
