package session

import (
	"fmt"

	"crumbeez/internal/activity"
)

const (
	ruleEventLog  = "─── Event Log ─────────────────────────────────────────"
	ruleSummaries = "─── Summaries ─────────────────────────────────────────"
	ruleActivity  = "─── Keystroke Activity ───────────────────────────────"

	// Lines reserved above the activity section.
	renderOverhead = 15
)

// Render formats the status view for a rows by cols pane: event log totals,
// the pending summaries and as much recent activity as fits.
func (s *Session) Render(rows, cols int) []string {
	lines := []string{"crumbeez breadcrumb logger", ""}
	if focus, ok := s.Focus(); ok {
		lines = append(lines, "Pane: "+focus.String(), "")
	}

	lines = append(lines,
		ruleEventLog,
		fmt.Sprintf("  Total: %d events, %d unconsumed", s.log.TotalCount(), s.log.UnconsumedCount()),
	)
	if s.dirty {
		lines = append(lines, "  (unsaved: last save failed)")
	}

	if len(s.pending) > 0 {
		lines = append(lines, "", ruleSummaries)
		for _, p := range s.pending {
			lines = append(lines, p.Summary.Lines()...)
		}
	}

	lines = append(lines, "", ruleActivity)
	for i, l := range lines {
		lines[i] = activity.Truncate(l, cols)
	}
	return append(lines, s.ring.Render(max(rows-renderOverhead, 1), cols)...)
}
