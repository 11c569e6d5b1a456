package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ks "crumbeez/internal/keystroke"
)

const sample = `# session start
{"kind":"TextTyped","text":"ls -la","ts":1700000000000}
{"kind":"EditControl","edit":{"op":"Enter"}}

{"kind":"Navigation","navigation":{"direction":"Left","count":3,"with_ctrl":true}}
{"kind":"PaneFocused","pane":{"tab_name":"Tab #1","title":"editor","command":"nvim"}}
`

func decodeAll(t *testing.T, input string, validate bool) ([]Item, []error) {
	t.Helper()
	dec, err := NewDecoder(strings.NewReader(input), validate)
	require.NoError(t, err)
	var (
		items []Item
		errs  []error
	)
	for {
		item, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return items, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}
}

func TestDecoder(t *testing.T) {
	for _, validate := range []bool{false, true} {
		items, errs := decodeAll(t, sample, validate)
		require.Empty(t, errs)
		require.Len(t, items, 4)

		assert.Equal(t, ks.TextTyped("ls -la"), items[0].Event)
		assert.Equal(t, uint64(1_700_000_000_000), items[0].TimestampMs)
		assert.Equal(t, 2, items[0].Line)

		assert.Equal(t, ks.Enter(), items[1].Event)
		assert.Zero(t, items[1].TimestampMs)

		assert.Equal(t, ks.Nav(ks.Left, 3, false, true), items[2].Event)
		assert.Equal(t, 5, items[2].Line)

		require.NotNil(t, items[3].Event.Pane)
		assert.Equal(t, "Tab #1", *items[3].Event.Pane.TabName)
	}
}

func TestDecoderLastLineWithoutNewline(t *testing.T) {
	items, errs := decodeAll(t, `{"kind":"Escape"}`, true)
	require.Empty(t, errs)
	require.Len(t, items, 1)
	assert.Equal(t, ks.Escape(), items[0].Event)
}

func TestDecoderReportsBadLines(t *testing.T) {
	input := strings.Join([]string{
		`{"kind":"Escape"}`,
		`not json`,
		`{"kind":"TextTyped","text":""}`,
		`{"kind":"Navigation","navigation":{"direction":"Sideways","count":1}}`,
		`{"kind":"FunctionKey","function_key":30}`,
		`{"kind":"Tab"}`,
		`{"kind":"Escape"}`,
	}, "\n")

	for _, validate := range []bool{false, true} {
		items, errs := decodeAll(t, input, validate)
		assert.Len(t, items, 2)
		require.Len(t, errs, 5)

		var lineErr *LineError
		require.ErrorAs(t, errs[0], &lineErr)
		assert.Equal(t, 2, lineErr.Line)
		for _, err := range errs {
			assert.ErrorIs(t, err, ErrInvalidLine)
		}
	}
}

func TestSchemaRejectsUnknownFields(t *testing.T) {
	p, err := NewParser(true)
	require.NoError(t, err)
	_, ok, err := p.Parse([]byte(`{"kind":"Escape","colour":"red"}`))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidLine)

	lax, err := NewParser(false)
	require.NoError(t, err)
	item, ok, err := lax.Parse([]byte(`{"kind":"Escape","colour":"red"}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ks.Escape(), item.Event)
}

func TestEncodeRoundTrip(t *testing.T) {
	cmd := "/bin/zsh"
	events := []ks.Event{
		ks.TextTyped("héllo"),
		ks.Chord("PageUp", false, true, false, false),
		ks.Backspace(3),
		ks.Insert(),
		ks.FunctionKey(24),
		ks.System(ks.NumLock),
		ks.PaneFocused(ks.PaneFocus{Title: "shell", Command: &cmd, IsPlugin: false}),
	}
	var buf bytes.Buffer
	for i, ev := range events {
		require.NoError(t, Encode(&buf, ev, uint64(i)))
	}

	items, errs := decodeAll(t, buf.String(), true)
	require.Empty(t, errs)
	require.Len(t, items, len(events))
	for i, item := range items {
		assert.Equal(t, events[i], item.Event)
		assert.Equal(t, uint64(i), item.TimestampMs)
	}
}

func TestFollowerReadsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(`{"kind":"Escape"}`+"\n"), 0600))

	f, err := NewFollower(path, true, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	next := func() Item {
		select {
		case item := <-f.Items():
			return item
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for feed item")
		}
		return Item{}
	}

	assert.Equal(t, ks.Escape(), next().Event)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	// A line split across two writes is delivered once complete.
	_, err = file.WriteString(`{"kind":"TextTyped",`)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = file.WriteString(`"text":"cd /tmp"}` + "\n" + `{"kind":"EditControl","edit":{"op":"Enter"}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	assert.Equal(t, ks.TextTyped("cd /tmp"), next().Event)
	enter := next()
	assert.Equal(t, ks.Enter(), enter.Event)
	assert.Equal(t, 3, enter.Line)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, open := <-f.Items()
	assert.False(t, open)
}

func TestFollowerWaitsForFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.ndjson")
	f, err := NewFollower(path, false, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"kind":"Escape"}`+"\n"), 0600))

	select {
	case item := <-f.Items():
		assert.Equal(t, ks.Escape(), item.Event)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for feed item")
	}
}
