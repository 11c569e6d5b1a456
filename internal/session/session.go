// Package session owns the keystroke consumers of one crumbeez process.
//
// A Session feeds each classified event to the activity ring (what the user
// sees) and, through a durable edit line, to the event log (what gets
// summarized and persisted). Summaries are produced on inactivity, when the
// focused pane changes after activity, on request and at shutdown. Each one
// is handed to every registered sink and followed by a snapshot save.
//
// A Session is not safe for concurrent use. The caller serializes events and
// timer ticks through a single goroutine.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crumbeez/internal/activity"
	"crumbeez/internal/editbuf"
	"crumbeez/internal/eventlog"
	"crumbeez/internal/keystroke"
	"crumbeez/internal/logging"
	"crumbeez/internal/metrics"
	"crumbeez/internal/summary"
)

// Defaults applied by New to zero Options fields.
const (
	DefaultInactivity   = 10 * time.Second
	DefaultPendingLimit = 10
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session: closed")

// SnapshotStore persists the serialized event log. Load returns nil data
// when nothing has been saved yet.
type SnapshotStore interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// SummarySink receives every summary the session produces.
type SummarySink interface {
	Record(at time.Time, trigger summary.Trigger, s summary.Summary) error
}

// Options configures a Session.
type Options struct {
	// Store persists the event log. Nil keeps the log in memory only.
	Store SnapshotStore
	Sinks []SummarySink

	Metrics *metrics.Crumbeez
	Logger  *logging.Logger
	Now     func() time.Time

	// Inactivity is the quiet period after which pending activity is
	// summarized. A negative value disables the trigger; zero means
	// DefaultInactivity.
	Inactivity time.Duration
	// PendingLimit bounds the summaries kept for the status view.
	PendingLimit int
	// OnPaneSwitch summarizes when focus moves away from a pane that saw
	// activity.
	OnPaneSwitch bool
	// LogCapacity bounds the event log. Zero means eventlog.Capacity.
	LogCapacity int
}

// Pending is a summary kept for the status view.
type Pending struct {
	At      time.Time
	Trigger summary.Trigger
	Summary summary.Summary
}

// Stats is a point-in-time view of a session.
type Stats struct {
	LogTotal        int
	LogUnconsumed   int
	LogCapacity     int
	Pending         int
	ActivityLen     int
	ActivityEvicted uint64
	Dirty           bool
	LastActivity    time.Time
	LastSummary     time.Time
}

// Session is the long-lived owner of the activity ring, the event log and
// the summaries produced from it.
type Session struct {
	opts    Options
	log     *eventlog.Log
	line    *editbuf.Line
	ring    *activity.Ring
	pending []Pending

	focus                *keystroke.PaneFocus
	paneActive           bool
	activitySinceSummary bool
	lastActivity         time.Time
	lastSummary          time.Time

	dirty  bool
	closed bool

	metrics *metrics.Crumbeez
	logger  *logging.Logger
}

// New returns an empty session. Call Load to restore a saved log.
func New(opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Inactivity == 0 {
		opts.Inactivity = DefaultInactivity
	}
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = DefaultPendingLimit
	}
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = eventlog.Capacity
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCrumbeez(metrics.NewRegistry("crumbeez"))
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Session{
		opts:    opts,
		log:     eventlog.NewWithCapacity(opts.LogCapacity),
		line:    editbuf.NewLine(editbuf.DurablePolicy),
		ring:    activity.New(),
		metrics: opts.Metrics,
		logger:  opts.Logger.WithComponent("session"),
	}
}

// Load replaces the event log with the stored snapshot. On failure the
// session keeps an empty log and the error is returned for reporting only.
func (s *Session) Load() error {
	if s.opts.Store == nil {
		return nil
	}
	data, err := s.opts.Store.Load()
	if err != nil {
		s.logger.Warn("load snapshot failed, starting empty", "error", err)
		return fmt.Errorf("load snapshot: %w", err)
	}
	if data == nil {
		return nil
	}
	log, err := eventlog.DeserializeWithCapacity(data, s.opts.LogCapacity)
	if err != nil {
		s.logger.Warn("decode snapshot failed, starting empty", "error", err)
		return fmt.Errorf("load snapshot: %w", err)
	}
	s.log = log
	s.metrics.LogState(log.TotalCount(), log.UnconsumedCount())
	s.logger.Info("snapshot loaded",
		"entries", log.TotalCount(),
		"unconsumed", log.UnconsumedCount())
	return nil
}

// Handle applies one event received at the given time.
func (s *Session) Handle(ev keystroke.Event, at time.Time) error {
	if s.closed {
		return ErrClosed
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	s.checkInactivity(at)

	if ev.Kind == keystroke.KindPaneFocused {
		if s.focus != nil && s.focus.Equal(*ev.Pane) {
			return nil
		}
		if s.opts.OnPaneSwitch && s.paneActive {
			s.summarize(summary.TriggerPaneSwitch, at)
		}
		p := *ev.Pane
		s.focus = &p
		s.paneActive = false
	} else {
		s.paneActive = true
	}

	if n := s.ring.Push(ev); n > 0 {
		s.metrics.ActivityEvictions.Add(uint64(n))
	}

	ts := uint64(max(at.UnixMilli(), 0))
	out := s.line.Apply(ev)
	if out.Sealed != nil {
		s.metrics.TextsSealed.Inc()
		s.append(*out.Sealed, ts)
	}
	if out.Forward {
		s.append(ev, ts)
	}

	s.lastActivity = at
	s.activitySinceSummary = true
	s.metrics.Event(ev.Kind)
	s.metrics.LogState(s.log.TotalCount(), s.log.UnconsumedCount())
	return nil
}

func (s *Session) append(ev keystroke.Event, ts uint64) {
	res := s.log.Append(ev, ts)
	if res.Evicted == 0 {
		return
	}
	s.metrics.LogEvictions.Add(uint64(res.Evicted))
	if res.LostUnconsumed {
		s.metrics.UnconsumedLost.Inc()
		s.logger.Warn("event log full, dropped unsummarized entry",
			"capacity", s.log.Capacity())
	}
}

func (s *Session) checkInactivity(now time.Time) {
	if s.opts.Inactivity < 0 || !s.activitySinceSummary {
		return
	}
	if now.Sub(s.lastActivity) < s.opts.Inactivity {
		return
	}
	s.summarize(summary.TriggerInactivity, now)
}

// Tick advances the session's notion of time: a failed save is retried and
// the inactivity trigger is checked.
func (s *Session) Tick(now time.Time) {
	if s.closed {
		return
	}
	if s.dirty {
		s.save()
	}
	s.checkInactivity(now)
}

// Summarize seals any live text, summarizes the unconsumed entries and saves.
// It returns nil when there was nothing to summarize. A save error leaves the
// summary in place and is retried on the next Tick.
func (s *Session) Summarize(trigger summary.Trigger, at time.Time) (*summary.Summary, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return s.summarize(trigger, at)
}

func (s *Session) summarize(trigger summary.Trigger, at time.Time) (*summary.Summary, error) {
	if sealed := s.line.Seal(); sealed != nil {
		s.metrics.TextsSealed.Inc()
		s.append(*sealed, uint64(max(at.UnixMilli(), 0)))
	}

	sum, ok := summary.Generate(s.log)
	if !ok {
		return nil, nil
	}

	s.pending = append(s.pending, Pending{At: at, Trigger: trigger, Summary: *sum})
	if over := len(s.pending) - s.opts.PendingLimit; over > 0 {
		s.pending = append(s.pending[:0], s.pending[over:]...)
	}
	s.activitySinceSummary = false
	s.paneActive = false
	s.lastSummary = at

	s.metrics.Summaries.Inc()
	s.metrics.PendingSummaries.Set(int64(len(s.pending)))
	s.logger.Info("summary produced",
		"trigger", string(trigger),
		"events", sum.EventsConsumed)

	for _, sink := range s.opts.Sinks {
		if err := sink.Record(at, trigger, *sum); err != nil {
			s.metrics.SinkFailures.Inc()
			s.logger.Error("summary sink failed", "error", err)
		}
	}
	return sum, s.save()
}

func (s *Session) save() error {
	if s.opts.Store == nil {
		s.dirty = false
		return nil
	}
	start := time.Now()
	defer s.metrics.ObserveSave(start)

	data, err := s.log.Serialize()
	if err == nil {
		err = s.opts.Store.Save(data)
	}
	if err != nil {
		s.dirty = true
		s.metrics.SaveFailures.Inc()
		s.logger.Error("save snapshot failed", "error", err)
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.dirty = false
	s.metrics.LogState(s.log.TotalCount(), s.log.UnconsumedCount())
	return nil
}

// Save persists the event log as it stands.
func (s *Session) Save() error {
	if s.closed {
		return ErrClosed
	}
	return s.save()
}

// Flush seals live text, summarizes whatever is unconsumed and saves.
func (s *Session) Flush() error {
	if s.closed {
		return ErrClosed
	}
	return s.flush()
}

func (s *Session) flush() error {
	sum, err := s.summarize(summary.TriggerShutdown, s.opts.Now())
	if sum != nil {
		return err
	}
	return s.save()
}

// Compact drops the summarized prefix of the log and saves. It returns the
// number of entries dropped.
func (s *Session) Compact() (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	n := s.log.Compact()
	if n == 0 {
		return 0, nil
	}
	s.logger.Debug("event log compacted", "dropped", n)
	return n, s.save()
}

// Close flushes the session. Later calls return ErrClosed.
func (s *Session) Close() error {
	if s.closed {
		return ErrClosed
	}
	err := s.flush()
	s.closed = true
	return err
}

// SetInactivity changes the inactivity threshold. A negative value disables
// the trigger.
func (s *Session) SetInactivity(d time.Duration) {
	if d == 0 {
		d = DefaultInactivity
	}
	if d != s.opts.Inactivity {
		s.logger.Info("inactivity threshold changed", slog.Duration("inactivity", d))
	}
	s.opts.Inactivity = d
}

// SetPaneSwitch enables or disables the pane-switch trigger.
func (s *Session) SetPaneSwitch(on bool) { s.opts.OnPaneSwitch = on }

// Log returns the event log. Callers must not retain it across Handle calls.
func (s *Session) Log() *eventlog.Log { return s.log }

// Activity returns the activity ring.
func (s *Session) Activity() *activity.Ring { return s.ring }

// Pending returns the retained summaries, oldest first.
func (s *Session) Pending() []Pending {
	return append([]Pending(nil), s.pending...)
}

// Focus returns the focused pane, if one has been reported.
func (s *Session) Focus() (keystroke.PaneFocus, bool) {
	if s.focus == nil {
		return keystroke.PaneFocus{}, false
	}
	return *s.focus, true
}

func (s *Session) Stats() Stats {
	return Stats{
		LogTotal:        s.log.TotalCount(),
		LogUnconsumed:   s.log.UnconsumedCount(),
		LogCapacity:     s.log.Capacity(),
		Pending:         len(s.pending),
		ActivityLen:     s.ring.Len(),
		ActivityEvicted: s.ring.Evicted(),
		Dirty:           s.dirty,
		LastActivity:    s.lastActivity,
		LastSummary:     s.lastSummary,
	}
}
