package editbuf

import "crumbeez/internal/keystroke"

// IdleAction says what a Line does with a cursor or erase key that arrives
// while no text is live.
type IdleAction uint8

const (
	// Forward hands the event back to the caller to record.
	Forward IdleAction = iota
	// Drop discards the event.
	Drop
)

// Policy holds the points where consumers of the same event stream disagree.
// Everything else about applying an event is shared.
type Policy struct {
	// IdleCursor applies to Left, Right, Home and End with no live text.
	IdleCursor IdleAction
	// IdleErase applies to Backspace and Delete with no live text.
	IdleErase IdleAction
}

var (
	// DisplayPolicy records every key that did not touch live text, so the
	// activity view shows stray cursor movement and deletions.
	DisplayPolicy = Policy{IdleCursor: Forward, IdleErase: Forward}

	// DurablePolicy drops cursor movement outside of text: with nothing to
	// move through it carries no information worth summarizing.
	DurablePolicy = Policy{IdleCursor: Drop, IdleErase: Forward}
)

// Outcome is the result of applying one event.
type Outcome struct {
	// Sealed is the finished text when the event sealed a live buffer. It is
	// never an empty TextTyped.
	Sealed *keystroke.Event

	// Forward is true when the caller must record the event itself, after
	// Sealed if both are set.
	Forward bool
}

// Line tracks at most one live Buffer. The zero value uses DisplayPolicy.
type Line struct {
	policy Policy
	buf    *Buffer
}

// NewLine returns an idle Line using p.
func NewLine(p Policy) *Line {
	return &Line{policy: p}
}

// Policy returns the line's policy.
func (l *Line) Policy() Policy { return l.policy }

// Live returns the in-progress text and cursor, if any.
func (l *Line) Live() (text string, cursor int, ok bool) {
	if l.buf == nil {
		return "", 0, false
	}
	return l.buf.text, l.buf.cursor, true
}

// Reset discards any live text without emitting it.
func (l *Line) Reset() { l.buf = nil }

// Seal freezes the live text and returns it as a TextTyped event, or nil when
// nothing is live.
func (l *Line) Seal() *keystroke.Event {
	if l.buf == nil {
		return nil
	}
	text := l.buf.text
	l.buf = nil
	if text == "" {
		return nil
	}
	ev := keystroke.TextTyped(text)
	return &ev
}

// Apply processes one event against the live text.
func (l *Line) Apply(ev keystroke.Event) Outcome {
	switch ev.Kind {
	case keystroke.KindTextTyped:
		if ev.Text == "" {
			return Outcome{}
		}
		if l.buf == nil {
			l.buf = newBuffer(ev.Text)
		} else {
			l.buf.insert(ev.Text)
		}
		return Outcome{}

	case keystroke.KindEditControl:
		if ev.Edit == nil {
			return l.seal()
		}
		switch ev.Edit.Op {
		case keystroke.OpBackspace:
			return l.erase((*Buffer).backspace)
		case keystroke.OpDelete:
			return l.erase((*Buffer).deleteForward)
		}
		return l.seal()

	case keystroke.KindNavigation:
		nav := ev.Navigation
		if nav == nil || nav.Direction.LeavesLine() {
			return l.seal()
		}
		if l.buf == nil {
			return l.idle(l.policy.IdleCursor)
		}
		switch nav.Direction {
		case keystroke.Left:
			l.buf.left(nav.Count, nav.WithCtrl)
		case keystroke.Right:
			l.buf.right(nav.Count, nav.WithCtrl)
		case keystroke.Home:
			l.buf.home()
		case keystroke.End:
			l.buf.end()
		}
		return Outcome{}
	}

	return l.seal()
}

// erase removes one scalar whatever the press count. A press that finds
// nothing to remove is swallowed; if the text empties the buffer is discarded.
func (l *Line) erase(op func(*Buffer) bool) Outcome {
	if l.buf == nil {
		return l.idle(l.policy.IdleErase)
	}
	if op(l.buf) && l.buf.empty() {
		l.buf = nil
	}
	return Outcome{}
}

func (l *Line) idle(a IdleAction) Outcome {
	return Outcome{Forward: a == Forward}
}

func (l *Line) seal() Outcome {
	return Outcome{Sealed: l.Seal(), Forward: true}
}
