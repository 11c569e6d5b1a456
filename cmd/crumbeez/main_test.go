package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crumbeez/internal/store"
)

const sessionFeed = `# two panes, a pause, one bad line
{"kind":"PaneFocused","pane":{"title":"shell"},"ts":1700000000000}
{"kind":"TextTyped","text":"make test","ts":1700000001000}
{"kind":"EditControl","edit":{"op":"Enter"},"ts":1700000002000}
{"kind":"PaneFocused","pane":{"title":"editor"},"ts":1700000003000}
{"kind":"Escape","ts":1700000030000}
not json
`

// testEnv points the data and user config directories at fresh temp dirs.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".crumbeez")
	t.Setenv("CRUMBEEZ_DATA_DIR", dir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return dir
}

// runCLI runs one command and returns its exit code and output.
func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	c := &cli{stdin: strings.NewReader(stdin), stdout: &stdout, stderr: &stderr}
	code := c.run(args)
	return code, stdout.String(), stderr.String()
}

func mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	code, out, errOut := runCLI(t, stdin, args...)
	if code != 0 {
		t.Fatalf("crumbeez %s: exit %d\nstdout: %s\nstderr: %s", strings.Join(args, " "), code, out, errOut)
	}
	return out
}

func TestIngestSummarizesAndPersists(t *testing.T) {
	dir := testEnv(t)

	out := mustRun(t, sessionFeed, "ingest", "-")
	want := "ingested 5 events (1 rejected), 3 summaries; log 5/10000, 0 unconsumed"
	if !strings.Contains(out, want) {
		t.Errorf("ingest output = %q, want %q", out, want)
	}

	if _, err := os.Stat(filepath.Join(dir, "scratchpad", "eventlog.snap")); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}
	journals, _ := filepath.Glob(filepath.Join(dir, "summaries", "*.md"))
	if len(journals) == 0 {
		t.Error("no journal written")
	}

	out = mustRun(t, "", "history", "-n", "2")
	if !strings.Contains(out, "(shutdown)") || !strings.Contains(out, "(inactivity)") {
		t.Errorf("history missing recent triggers:\n%s", out)
	}
	if strings.Contains(out, "(pane_switch)") {
		t.Errorf("history -n 2 returned more than two summaries:\n%s", out)
	}

	out = mustRun(t, "", "status")
	for _, s := range []string{"total:      5 / 10000", "unconsumed: 0", "Summarized so far:", "TextTyped: 1"} {
		if !strings.Contains(out, s) {
			t.Errorf("status missing %q:\n%s", s, out)
		}
	}
}

func TestDumpAndReingest(t *testing.T) {
	testEnv(t)
	mustRun(t, sessionFeed, "ingest")

	out := mustRun(t, "", "dump", "-all")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 5 {
		t.Fatalf("dump -all printed %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "✓") || !strings.Contains(lines[1], `typed "make test"`) {
		t.Errorf("unexpected dump:\n%s", out)
	}

	if out := mustRun(t, "", "dump"); out != "" {
		t.Errorf("dump of a fully summarized log = %q", out)
	}

	ndjson := mustRun(t, "", "dump", "-all", "-json")
	out = mustRun(t, ndjson, "metrics")
	if !strings.Contains(out, `crumbeez_events_total{kind="TextTyped"} 1`) {
		t.Errorf("metrics after replaying dump:\n%s", out)
	}
}

func TestSummarizeAndCompact(t *testing.T) {
	testEnv(t)

	if out := mustRun(t, "", "summarize"); !strings.Contains(out, "Nothing to summarize.") {
		t.Errorf("summarize on empty log = %q", out)
	}

	feedLine := `{"kind":"FunctionKey","function_key":5}` + "\n"
	mustRun(t, feedLine+feedLine, "ingest", "-config", filepath.Join(t.TempDir(), "none.toml"))

	out := mustRun(t, "", "compact")
	if !strings.Contains(out, "Dropped 2 summarized events, 0 remain.") {
		t.Errorf("compact = %q", out)
	}
	if out := mustRun(t, "", "status"); !strings.Contains(out, "total:      0 / 10000") {
		t.Errorf("status after compact:\n%s", out)
	}
}

func TestIngestNoSave(t *testing.T) {
	dir := testEnv(t)
	mustRun(t, sessionFeed, "ingest", "-no-save")
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("data directory created with -no-save: %v", err)
	}
}

func TestIngestFromFileWithConfig(t *testing.T) {
	testEnv(t)
	tmp := t.TempDir()
	feedPath := filepath.Join(tmp, "events.ndjson")
	if err := os.WriteFile(feedPath, []byte(sessionFeed), 0600); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(tmp, "config.toml")
	cfg := "[summary]\ninactivity_sec = 0\non_pane_switch = false\nhistory = false\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "", "ingest", "-config", cfgPath, feedPath)
	if !strings.Contains(out, "1 summaries") {
		t.Errorf("with both triggers off only shutdown should summarize: %q", out)
	}
	if out := mustRun(t, "", "history", "-config", cfgPath); !strings.Contains(out, "No summaries recorded.") {
		t.Errorf("history disabled but got:\n%s", out)
	}
}

func TestDataDirLock(t *testing.T) {
	dir := testEnv(t)
	lock, err := store.AcquireLock(filepath.Join(dir, lockFileName))
	if err != nil {
		t.Fatal(err)
	}

	code, _, errOut := runCLI(t, "", "summarize")
	if code != 1 || !strings.Contains(errOut, "in use") {
		t.Errorf("summarize with a held lock: exit %d, stderr %q", code, errOut)
	}
	// Read-only commands do not need the lock.
	mustRun(t, "", "status")

	lock.Close()
	mustRun(t, "", "summarize")
}

func TestActivity(t *testing.T) {
	testEnv(t)
	out := mustRun(t, `{"kind":"TextTyped","text":"hello"}
{"kind":"Navigation","navigation":{"direction":"Left","count":1}}
{"kind":"Navigation","navigation":{"direction":"Left","count":1}}
`, "activity", "-cols", "40")
	if !strings.Contains(out, "typing") {
		t.Errorf("activity view missing live text:\n%s", out)
	}
}

func TestUsageErrors(t *testing.T) {
	testEnv(t)
	tests := []struct {
		args []string
		code int
	}{
		{nil, 2},
		{[]string{"frobnicate"}, 2},
		{[]string{"status", "extra"}, 2},
		{[]string{"dump", "-bogus"}, 1},
		{[]string{"ingest", "-follow", "-"}, 1},
		{[]string{"help"}, 0},
	}
	for _, tt := range tests {
		code, _, _ := runCLI(t, "", tt.args...)
		if code != tt.code {
			t.Errorf("crumbeez %v: exit %d, want %d", tt.args, code, tt.code)
		}
	}
}

func TestVersion(t *testing.T) {
	if out := mustRun(t, "", "version"); out != "crumbeez dev\n" {
		t.Errorf("version = %q", out)
	}
}

func TestInit(t *testing.T) {
	dir := testEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "config.toml")

	out := mustRun(t, "", "init", "-config", cfgPath)
	if !strings.Contains(out, "Created "+cfgPath) || !strings.Contains(out, dir) {
		t.Errorf("init = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "scratchpad")); err != nil {
		t.Errorf("scratchpad not created: %v", err)
	}

	out = mustRun(t, "", "init", "-config", cfgPath)
	if !strings.Contains(out, "Using existing") {
		t.Errorf("second init = %q", out)
	}
	out = mustRun(t, "", "status", "-config", cfgPath)
	if !strings.Contains(out, "Log:            stderr (info)") {
		t.Errorf("status missing log destination:\n%s", out)
	}
}
