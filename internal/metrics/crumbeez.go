package metrics

import (
	"time"

	"crumbeez/internal/keystroke"
)

// Crumbeez holds the metric set updated by a session.
type Crumbeez struct {
	registry *Registry

	eventsByKind map[keystroke.Kind]*Counter

	TextsSealed       *Counter
	ActivityEvictions *Counter
	LogEvictions      *Counter
	UnconsumedLost    *Counter
	Summaries         *Counter
	SaveFailures      *Counter
	SinkFailures      *Counter
	FeedErrors        *Counter

	LogEntries       *Gauge
	LogUnconsumed    *Gauge
	PendingSummaries *Gauge

	SaveDuration *Histogram
}

// NewCrumbeez registers the crumbeez metrics in r.
func NewCrumbeez(r *Registry) *Crumbeez {
	m := &Crumbeez{
		registry:     r,
		eventsByKind: make(map[keystroke.Kind]*Counter),

		TextsSealed:       r.Counter("texts_sealed_total", "Completed lines of typed text", nil),
		ActivityEvictions: r.Counter("activity_evictions_total", "Entries dropped from the activity ring for capacity", nil),
		LogEvictions:      r.Counter("log_evictions_total", "Entries dropped from the event log for capacity", nil),
		UnconsumedLost:    r.Counter("log_unconsumed_lost_total", "Unsummarized entries dropped from a full event log", nil),
		Summaries:         r.Counter("summaries_total", "Summaries produced", nil),
		SaveFailures:      r.Counter("snapshot_save_failures_total", "Failed snapshot saves", nil),
		SinkFailures:      r.Counter("summary_sink_failures_total", "Summaries a sink failed to record", nil),
		FeedErrors:        r.Counter("feed_errors_total", "Feed lines that could not be decoded", nil),

		LogEntries:       r.Gauge("log_entries", "Entries held in the event log", nil),
		LogUnconsumed:    r.Gauge("log_unconsumed_entries", "Event log entries not yet summarized", nil),
		PendingSummaries: r.Gauge("pending_summaries", "Summaries kept for the status view", nil),

		SaveDuration: r.Histogram("snapshot_save_duration_seconds", "Time spent serializing and saving the event log", nil, nil),
	}
	for _, k := range keystroke.Kinds() {
		m.eventsByKind[k] = r.Counter("events_total", "Keystroke events ingested", Labels{"kind": k.String()})
	}
	return m
}

// Registry returns the registry the metrics live in.
func (m *Crumbeez) Registry() *Registry { return m.registry }

// Event counts one ingested event.
func (m *Crumbeez) Event(k keystroke.Kind) {
	if c, ok := m.eventsByKind[k]; ok {
		c.Inc()
	}
}

// LogState records the event log's occupancy.
func (m *Crumbeez) LogState(total, unconsumed int) {
	m.LogEntries.Set(int64(total))
	m.LogUnconsumed.Set(int64(unconsumed))
}

// ObserveSave records how long a save took.
func (m *Crumbeez) ObserveSave(start time.Time) {
	m.SaveDuration.ObserveDuration(time.Since(start))
}
