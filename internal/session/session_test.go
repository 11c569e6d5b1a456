package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crumbeez/internal/eventlog"
	ks "crumbeez/internal/keystroke"
	"crumbeez/internal/metrics"
	"crumbeez/internal/summary"
)

var t0 = time.UnixMilli(1_700_000_000_000)

type memStore struct {
	data  []byte
	saves int
	err   error
}

func (m *memStore) Load() ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.data, nil
}

func (m *memStore) Save(data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

type recorded struct {
	trigger summary.Trigger
	summary summary.Summary
}

type memSink struct {
	got []recorded
	err error
}

func (m *memSink) Record(_ time.Time, trigger summary.Trigger, s summary.Summary) error {
	m.got = append(m.got, recorded{trigger, s})
	return m.err
}

type fixture struct {
	s       *Session
	store   *memStore
	sink    *memSink
	metrics *metrics.Crumbeez
}

func newFixture(t *testing.T, modify func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:   &memStore{},
		sink:    &memSink{},
		metrics: metrics.NewCrumbeez(metrics.NewRegistry("test")),
	}
	opts := Options{
		Store:        f.store,
		Sinks:        []SummarySink{f.sink},
		Metrics:      f.metrics,
		Now:          func() time.Time { return t0.Add(time.Hour) },
		OnPaneSwitch: true,
	}
	if modify != nil {
		modify(&opts)
	}
	f.s = New(opts)
	return f
}

func (f *fixture) handle(t *testing.T, at time.Time, events ...ks.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, f.s.Handle(ev, at))
	}
}

func pane(title string) ks.Event {
	return ks.PaneFocused(ks.PaneFocus{Title: title})
}

func kinds(log *eventlog.Log) []string {
	var out []string
	for e := range log.All() {
		out = append(out, e.Event.String())
	}
	return out
}

func TestHandleFeedsBothConsumers(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, t0, ks.TextTyped("h"), ks.TextTyped("i"), ks.Enter())

	assert.Equal(t, 2, f.s.Log().UnconsumedCount())
	entries := f.s.Log().All()
	var got []ks.Event
	for e := range entries {
		got = append(got, e.Event)
		assert.Equal(t, uint64(t0.UnixMilli()), e.TimestampMs)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].Text)
	assert.True(t, got[1].IsEdit(ks.OpEnter))

	assert.Equal(t, 2, f.s.Activity().Len())
	assert.Equal(t, uint64(1), f.metrics.TextsSealed.Value())
	assert.Zero(t, f.store.saves, "events alone do not save")
}

func TestIdleCursorOnlyReachesActivity(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, t0, ks.Nav(ks.Left, 1, false, false))

	assert.Zero(t, f.s.Log().TotalCount())
	assert.Equal(t, 1, f.s.Activity().Len())
}

func TestHandleRejectsInvalidEvent(t *testing.T) {
	f := newFixture(t, nil)
	require.Error(t, f.s.Handle(ks.Event{}, t0))
	assert.Zero(t, f.s.Activity().Len())
	assert.Zero(t, f.s.Log().TotalCount())
}

func TestInactivityTrigger(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, t0, ks.TextTyped("ls"), ks.Enter())

	f.s.Tick(t0.Add(9 * time.Second))
	assert.Empty(t, f.sink.got)

	f.s.Tick(t0.Add(10 * time.Second))
	require.Len(t, f.sink.got, 1)
	assert.Equal(t, summary.TriggerInactivity, f.sink.got[0].trigger)
	assert.Equal(t, 2, f.sink.got[0].summary.EventsConsumed)
	assert.Equal(t, 1, f.store.saves)
	assert.Zero(t, f.s.Log().UnconsumedCount())

	// No new activity, no new summary.
	f.s.Tick(t0.Add(time.Minute))
	assert.Len(t, f.sink.got, 1)
	assert.Equal(t, 1, f.store.saves)
}

func TestInactivitySealsLiveText(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, t0, ks.TextTyped("draft"))
	assert.Zero(t, f.s.Log().TotalCount())

	f.s.Tick(t0.Add(15 * time.Second))
	require.Len(t, f.sink.got, 1)
	assert.Equal(t, 1, f.sink.got[0].summary.Count(ks.KindTextTyped))
}

func TestInactivityCheckedBeforeNextEvent(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, t0, ks.Escape())
	f.handle(t, t0.Add(30*time.Second), ks.FunctionKey(5))

	require.Len(t, f.sink.got, 1)
	assert.Equal(t, 1, f.sink.got[0].summary.Count(ks.KindEscape))
	assert.Zero(t, f.sink.got[0].summary.Count(ks.KindFunctionKey))
	assert.Equal(t, 1, f.s.Log().UnconsumedCount())
}

func TestInactivityDisabled(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Inactivity = -1 })
	f.handle(t, t0, ks.Escape())
	f.s.Tick(t0.Add(24 * time.Hour))
	assert.Empty(t, f.sink.got)
}

func TestSetInactivity(t *testing.T) {
	f := newFixture(t, nil)
	f.s.SetInactivity(time.Minute)
	f.handle(t, t0, ks.Escape())

	f.s.Tick(t0.Add(30 * time.Second))
	assert.Empty(t, f.sink.got)
	f.s.Tick(t0.Add(time.Minute))
	assert.Len(t, f.sink.got, 1)
}

func TestPaneSwitchSummarizesPreviousPane(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, t0, pane("shell"), ks.TextTyped("make"), ks.Enter())
	f.handle(t, t0.Add(time.Second), pane("editor"))

	require.Len(t, f.sink.got, 1)
	got := f.sink.got[0]
	assert.Equal(t, summary.TriggerPaneSwitch, got.trigger)
	assert.Equal(t, 3, got.summary.EventsConsumed)
	assert.Equal(t, 1, got.summary.Count(ks.KindPaneFocused))

	// The new pane's focus event starts the next run.
	assert.Equal(t, 1, f.s.Log().UnconsumedCount())
	focus, ok := f.s.Focus()
	require.True(t, ok)
	assert.Equal(t, "editor", focus.Title)
}

func TestPaneSwitchWithoutActivity(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, t0, pane("a"), pane("b"), pane("c"))
	assert.Empty(t, f.sink.got)
	assert.Equal(t, 3, f.s.Log().UnconsumedCount())
}

func TestRepeatedFocusIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, t0, pane("shell"), ks.Escape(), pane("shell"))

	assert.Empty(t, f.sink.got)
	assert.Equal(t, 2, f.s.Log().TotalCount())
	assert.Equal(t, 2, f.s.Activity().Len())
}

func TestPaneSwitchTriggerCanBeDisabled(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.OnPaneSwitch = false })
	f.handle(t, t0, pane("a"), ks.Escape(), pane("b"))
	assert.Empty(t, f.sink.got)

	f.s.SetPaneSwitch(true)
	f.handle(t, t0, ks.Escape(), pane("c"))
	assert.Len(t, f.sink.got, 1)
}

func TestPendingSummariesAreBounded(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.PendingLimit = 2 })
	for i := range 3 {
		f.handle(t, t0, ks.FunctionKey(uint8(i+1)))
		_, err := f.s.Summarize(summary.TriggerManual, t0)
		require.NoError(t, err)
	}

	pending := f.s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, summary.TriggerManual, pending[0].Trigger)
	assert.Equal(t, int64(2), f.metrics.PendingSummaries.Value())
	assert.Equal(t, uint64(3), f.metrics.Summaries.Value())
}

func TestSummarizeNothing(t *testing.T) {
	f := newFixture(t, nil)
	sum, err := f.s.Summarize(summary.TriggerManual, t0)
	require.NoError(t, err)
	assert.Nil(t, sum)
	assert.Empty(t, f.s.Pending())
	assert.Zero(t, f.store.saves)
}

func TestSaveFailureIsRetriedOnTick(t *testing.T) {
	f := newFixture(t, nil)
	f.store.err = errors.New("disk full")
	f.handle(t, t0, ks.Escape())

	sum, err := f.s.Summarize(summary.TriggerManual, t0)
	require.Error(t, err)
	require.NotNil(t, sum, "summary survives a failed save")
	assert.Len(t, f.s.Pending(), 1)
	assert.True(t, f.s.Stats().Dirty)
	assert.Equal(t, uint64(1), f.metrics.SaveFailures.Value())

	f.store.err = nil
	f.s.Tick(t0.Add(time.Second))
	assert.False(t, f.s.Stats().Dirty)
	assert.Equal(t, 1, f.store.saves)

	restored, err := eventlog.Deserialize(f.store.data)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.ConsumedCount())
}

func TestSinkFailureDoesNotStopOtherSinks(t *testing.T) {
	bad := &memSink{err: errors.New("locked")}
	good := &memSink{}
	f := newFixture(t, func(o *Options) { o.Sinks = []SummarySink{bad, good} })
	f.handle(t, t0, ks.Escape())

	_, err := f.s.Summarize(summary.TriggerManual, t0)
	require.NoError(t, err)
	assert.Len(t, good.got, 1)
	assert.Equal(t, uint64(1), f.metrics.SinkFailures.Value())
	assert.Equal(t, 1, f.store.saves)
}

func TestLoadRestoresLog(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, t0, ks.TextTyped("one"), ks.Enter())
	_, err := f.s.Summarize(summary.TriggerManual, t0)
	require.NoError(t, err)
	f.handle(t, t0, ks.Escape())
	require.NoError(t, f.s.Save())

	next := New(Options{Store: f.store})
	require.NoError(t, next.Load())
	assert.Equal(t, 3, next.Log().TotalCount())
	assert.Equal(t, 1, next.Log().UnconsumedCount())
	assert.Equal(t, kinds(f.s.Log()), kinds(next.Log()))
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	store := &memStore{data: []byte("not a snapshot")}
	s := New(Options{Store: store})
	require.Error(t, s.Load())
	assert.Zero(t, s.Log().TotalCount())

	// The session stays usable.
	require.NoError(t, s.Handle(ks.Escape(), t0))
	assert.Equal(t, 1, s.Log().TotalCount())
}

func TestLoadWithoutSnapshot(t *testing.T) {
	s := New(Options{Store: &memStore{}})
	require.NoError(t, s.Load())
	assert.Zero(t, s.Log().TotalCount())
}

func TestFlushSealsAndSaves(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, t0, ks.TextTyped("unfinished"))

	require.NoError(t, f.s.Flush())
	require.Len(t, f.sink.got, 1)
	assert.Equal(t, summary.TriggerShutdown, f.sink.got[0].trigger)
	assert.Equal(t, 1, f.store.saves)

	// Nothing left to summarize still saves.
	require.NoError(t, f.s.Flush())
	assert.Len(t, f.sink.got, 1)
	assert.Equal(t, 2, f.store.saves)
}

func TestCompact(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, t0, ks.Escape(), ks.Escape())
	_, err := f.s.Summarize(summary.TriggerManual, t0)
	require.NoError(t, err)
	f.handle(t, t0, ks.FunctionKey(1))

	n, err := f.s.Compact()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.s.Log().TotalCount())
	assert.Equal(t, 1, f.s.Log().UnconsumedCount())
	assert.Equal(t, 2, f.store.saves)

	n, err = f.s.Compact()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLogEvictionMetrics(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.LogCapacity = 2 })
	f.handle(t, t0, ks.Escape(), ks.Escape(), ks.Escape())

	assert.Equal(t, 2, f.s.Log().TotalCount())
	assert.Equal(t, uint64(1), f.metrics.LogEvictions.Value())
	assert.Equal(t, uint64(1), f.metrics.UnconsumedLost.Value())
}

func TestClose(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, t0, ks.Escape())
	require.NoError(t, f.s.Close())
	assert.Len(t, f.sink.got, 1)

	assert.ErrorIs(t, f.s.Handle(ks.Escape(), t0), ErrClosed)
	assert.ErrorIs(t, f.s.Close(), ErrClosed)
	_, err := f.s.Summarize(summary.TriggerManual, t0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRender(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, t0, pane("shell"), ks.TextTyped("git status"), ks.Enter())
	_, err := f.s.Summarize(summary.TriggerManual, t0)
	require.NoError(t, err)
	f.handle(t, t0, ks.TextTyped("gi"))

	out := strings.Join(f.s.Render(40, 80), "\n")
	assert.Contains(t, out, "Total: 3 events, 0 unconsumed")
	assert.Contains(t, out, "📊 Summary: 3 events processed")
	assert.Contains(t, out, "─── Keystroke Activity")
	assert.Contains(t, out, `typing "gi▏"`)

	for _, line := range f.s.Render(40, 12) {
		assert.LessOrEqual(t, len([]rune(line)), 12, line)
	}
}

func TestRenderEmpty(t *testing.T) {
	s := New(Options{})
	out := s.Render(20, 80)
	assert.Contains(t, out, "  Total: 0 events, 0 unconsumed")
	assert.Equal(t, "  (no keystrokes yet)", out[len(out)-1])
}
