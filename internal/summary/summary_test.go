package summary

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crumbeez/internal/eventlog"
	ks "crumbeez/internal/keystroke"
)

func TestGenerateEmpty(t *testing.T) {
	l := eventlog.New()
	s, ok := Generate(l)
	assert.False(t, ok)
	assert.Nil(t, s)

	l.Append(ks.Enter(), 1)
	l.Consume(1)
	s, ok = Generate(l)
	assert.False(t, ok)
	assert.Nil(t, s)
	assert.Equal(t, 1, l.ConsumedCount())
}

func TestGenerateCountsAndConsumes(t *testing.T) {
	l := eventlog.New()
	l.Append(ks.TextTyped("old"), 5)
	l.Consume(1)

	l.Append(ks.TextTyped("ls"), 300)
	l.Append(ks.Enter(), 100)
	l.Append(ks.TextTyped("cd"), 200)
	l.Append(ks.Enter(), 400)
	l.Append(ks.Chord("c", true, false, false, false), 500)

	s, ok := Generate(l)
	require.True(t, ok)
	assert.Equal(t, 5, s.EventsConsumed)
	assert.Equal(t, map[string]int{"TextTyped": 2, "EditControl": 2, "Shortcut": 1}, s.EventTypeCounts)
	assert.Equal(t, uint64(100), s.FirstMs)
	assert.Equal(t, uint64(500), s.LastMs)
	assert.Equal(t, 2, s.Count(ks.KindTextTyped))
	assert.Equal(t, 0, s.Count(ks.KindEscape))

	assert.Equal(t, 0, l.UnconsumedCount())
	assert.Equal(t, 6, l.ConsumedCount())

	_, ok = Generate(l)
	assert.False(t, ok)
}

func TestFromEntriesDoesNotConsume(t *testing.T) {
	l := eventlog.New()
	l.Append(ks.Escape(), 1)
	s := FromEntries(l.Unconsumed())
	assert.Equal(t, 1, s.EventsConsumed)
	assert.Equal(t, 1, l.UnconsumedCount())

	empty := FromEntries(slices.Values([]eventlog.Entry(nil)))
	assert.Equal(t, 0, empty.EventsConsumed)
	assert.Empty(t, empty.EventTypeCounts)
}

func TestLines(t *testing.T) {
	s := Summary{
		EventsConsumed:  6,
		EventTypeCounts: map[string]int{"PaneFocused": 1, "TextTyped": 3, "Navigation": 2},
	}
	assert.Equal(t, []string{
		"📊 Summary: 6 events processed",
		"  TextTyped: 3",
		"  Navigation: 2",
		"  PaneFocused: 1",
	}, s.Lines())
	assert.Equal(t, strings.Join(s.Lines(), "\n"), s.String())
}

func TestMarkdown(t *testing.T) {
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	last := first.Add(90 * time.Second)
	s := Summary{
		EventsConsumed:  3,
		EventTypeCounts: map[string]int{"Escape": 1, "TextTyped": 2},
		FirstMs:         uint64(first.UnixMilli()),
		LastMs:          uint64(last.UnixMilli()),
	}
	at := last.Add(10 * time.Second)

	md := s.Markdown(at)
	assert.Equal(t,
		"## 09:01:40\n\n3 events between 09:00:00 and 09:01:30.\n\n- TextTyped: 2\n- Escape: 1\n",
		md)

	assert.Contains(t, Summary{}.Markdown(at), "No events.")
}
