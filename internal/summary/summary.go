// Package summary folds the unconsumed part of an event log into per-kind
// counts and acknowledges what it folded.
package summary

import (
	"fmt"
	"iter"
	"strings"
	"time"

	"crumbeez/internal/eventlog"
	"crumbeez/internal/keystroke"
)

// Summary is the structural aggregate of a run of log entries.
type Summary struct {
	EventsConsumed  int            `json:"events_consumed"`
	EventTypeCounts map[string]int `json:"event_type_counts"`
	FirstMs         uint64         `json:"first_ms,omitempty"`
	LastMs          uint64         `json:"last_ms,omitempty"`
}

// FromEntries aggregates entries without touching any log.
func FromEntries(entries iter.Seq[eventlog.Entry]) Summary {
	s := Summary{EventTypeCounts: make(map[string]int)}
	for e := range entries {
		if s.EventsConsumed == 0 || e.TimestampMs < s.FirstMs {
			s.FirstMs = e.TimestampMs
		}
		s.LastMs = max(s.LastMs, e.TimestampMs)
		s.EventsConsumed++
		s.EventTypeCounts[e.Event.Kind.String()]++
	}
	return s
}

// Generate summarizes everything after the log's watermark and advances the
// watermark by exactly that many entries. It returns false, leaving the log
// untouched, when nothing is unconsumed.
//
// The caller should persist the log promptly afterwards. If the process dies
// first, the same entries are summarized again after the next load.
func Generate(log *eventlog.Log) (*Summary, bool) {
	if log.UnconsumedCount() == 0 {
		return nil, false
	}
	s := FromEntries(log.Unconsumed())
	log.Consume(s.EventsConsumed)
	return &s, true
}

// Count returns the number of events of kind k.
func (s Summary) Count(k keystroke.Kind) int {
	return s.EventTypeCounts[k.String()]
}

// Lines renders the summary for the status view: a headline followed by one
// line per kind present, in alphabet order.
func (s Summary) Lines() []string {
	lines := []string{fmt.Sprintf("📊 Summary: %d events processed", s.EventsConsumed)}
	for _, k := range keystroke.Kinds() {
		if n := s.Count(k); n > 0 {
			lines = append(lines, fmt.Sprintf("  %s: %d", k, n))
		}
	}
	return lines
}

func (s Summary) String() string {
	return strings.Join(s.Lines(), "\n")
}

// Span returns the wall-clock range the summarized events cover.
func (s Summary) Span() (first, last time.Time) {
	return time.UnixMilli(int64(s.FirstMs)), time.UnixMilli(int64(s.LastMs))
}

// Markdown renders the summary as a journal section headed by the time it
// was produced.
func (s Summary) Markdown(at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", at.Format("15:04:05"))
	if s.EventsConsumed > 0 {
		first, last := s.Span()
		fmt.Fprintf(&b, "%d events between %s and %s.\n\n",
			s.EventsConsumed, first.Format(time.TimeOnly), last.Format(time.TimeOnly))
	} else {
		b.WriteString("No events.\n\n")
	}
	for _, k := range keystroke.Kinds() {
		if n := s.Count(k); n > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", k, n)
		}
	}
	return b.String()
}

// Trigger names what caused a summary to be produced.
type Trigger string

const (
	TriggerInactivity Trigger = "inactivity"
	TriggerPaneSwitch Trigger = "pane_switch"
	TriggerManual     Trigger = "manual"
	TriggerShutdown   Trigger = "shutdown"
)
