package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crumbeez/internal/summary"
)

func compressible() []byte {
	return bytes.Repeat([]byte("kind:TextTyped text:hello "), 200)
}

func TestSnapshotLoadMissing(t *testing.T) {
	f := NewSnapshotFile(filepath.Join(t.TempDir(), "none", "log.bin"), CompressionZstd)
	data, err := f.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if data != nil {
		t.Errorf("expected nil data, got %d bytes", len(data))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "scratchpad", "event_log.bin")
			f := NewSnapshotFile(path, c)
			want := compressible()

			if err := f.Save(want); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, err := f.Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("payload mismatch: got %d bytes, want %d", len(got), len(want))
			}

			h, err := f.Stat()
			if err != nil {
				t.Fatalf("Stat failed: %v", err)
			}
			if h.Compression != c {
				t.Errorf("compression = %s, want %s", h.Compression, c)
			}
			if h.RawLen != uint64(len(want)) {
				t.Errorf("raw len = %d, want %d", h.RawLen, len(want))
			}
			if c != CompressionNone && h.StoredLen >= h.RawLen {
				t.Errorf("stored %d bytes for %d raw bytes", h.StoredLen, h.RawLen)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if perm := info.Mode().Perm(); perm != 0600 {
				t.Errorf("permissions = %o, want 600", perm)
			}
		})
	}
}

func TestSnapshotIncompressibleStoredRaw(t *testing.T) {
	f := NewSnapshotFile(filepath.Join(t.TempDir(), "log.bin"), CompressionZstd)
	tiny := []byte{0xa2, 0x01}
	if err := f.Save(tiny); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	h, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if h.Compression != CompressionNone {
		t.Errorf("compression = %s, want none", h.Compression)
	}
	got, err := f.Load()
	if err != nil || !bytes.Equal(got, tiny) {
		t.Fatalf("Load = %x, %v", got, err)
	}
}

func TestSnapshotOverwriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f := NewSnapshotFile(filepath.Join(dir, "log.bin"), CompressionLZ4)
	for i := range 3 {
		if err := f.Save(bytes.Repeat([]byte{byte(i)}, 100)); err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the snapshot, found %d entries", len(entries))
	}
	got, err := f.Load()
	if err != nil || !bytes.Equal(got, bytes.Repeat([]byte{2}, 100)) {
		t.Fatalf("Load after overwrite = %v", err)
	}
}

func TestSnapshotCorruption(t *testing.T) {
	tests := []struct {
		name   string
		mangle func([]byte) []byte
		want   error
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrBadMagic},
		{"bad version", func(b []byte) []byte { b[7] = 9; return b }, ErrBadVersion},
		{"short header", func(b []byte) []byte { return b[:10] }, ErrTruncated},
		{"short payload", func(b []byte) []byte { return b[:len(b)-1] }, ErrTruncated},
		{"flipped payload bit", func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b }, ErrChecksum},
		{"corrupt raw length", func(b []byte) []byte { b[24] |= 0x80; return b }, ErrChecksum},
		{"corrupt compression byte", func(b []byte) []byte { b[8] = 9; return b }, ErrChecksum},
		{"resealed huge raw length", func(b []byte) []byte {
			binary.BigEndian.PutUint64(b[24:32], 1<<63)
			return resealHeader(b)
		}, ErrCorruptPayload},
		{"resealed lz4 expansion", func(b []byte) []byte {
			b[8] = byte(CompressionLZ4)
			binary.BigEndian.PutUint64(b[24:32], 1<<29)
			return resealHeader(b)
		}, ErrCorruptPayload},
		{"resealed unknown compression", func(b []byte) []byte { b[8] = 9; return resealHeader(b) }, ErrCorruptPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "log.bin")
			f := NewSnapshotFile(path, CompressionZstd)
			if err := f.Save(compressible()); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(path, tt.mangle(raw), 0600); err != nil {
				t.Fatal(err)
			}
			_, err = f.Load()
			if !errors.Is(err, tt.want) {
				t.Errorf("Load error = %v, want %v", err, tt.want)
			}
		})
	}
}

// resealHeader recomputes the header checksum after a test edits the header.
func resealHeader(b []byte) []byte {
	binary.BigEndian.PutUint32(b[44:48], crc32.ChecksumIEEE(b[:44]))
	return b
}

func TestParseCompression(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		c, err := ParseCompression(name)
		if err != nil {
			t.Fatalf("ParseCompression(%q): %v", name, err)
		}
		if c.String() != name {
			t.Errorf("round trip %q -> %q", name, c.String())
		}
	}
	if _, err := ParseCompression("brotli"); err == nil {
		t.Error("expected error for unknown compression")
	}
}

func sampleSummary(n int) summary.Summary {
	return summary.Summary{
		EventsConsumed:  n + 1,
		EventTypeCounts: map[string]int{"TextTyped": n, "EditControl": 1},
		FirstMs:         1_700_000_000_000,
		LastMs:          1_700_000_060_000,
	}
}

func TestHistoryRecordAndRecent(t *testing.T) {
	h, err := OpenHistory(filepath.Join(t.TempDir(), "db", "history.db"), time.Second)
	if err != nil {
		t.Fatalf("OpenHistory failed: %v", err)
	}
	defer h.Close()
	if err := h.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	base := time.UnixMilli(1_700_000_100_000)
	for i := range 3 {
		if err := h.Record(base.Add(time.Duration(i)*time.Minute), summary.TriggerInactivity, sampleSummary(i+1)); err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}
	if err := h.Record(base.Add(time.Hour), summary.TriggerPaneSwitch, sampleSummary(10)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	recent, err := h.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].Trigger != summary.TriggerPaneSwitch {
		t.Errorf("newest trigger = %q", recent[0].Trigger)
	}
	if got := recent[0].Summary.EventTypeCounts["TextTyped"]; got != 10 {
		t.Errorf("TextTyped count = %d, want 10", got)
	}
	if recent[0].Summary.EventsConsumed != 11 {
		t.Errorf("events consumed = %d, want 11", recent[0].Summary.EventsConsumed)
	}
	if !recent[0].CreatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("created at = %v", recent[0].CreatedAt)
	}
	if recent[1].Summary.FirstMs != 1_700_000_000_000 {
		t.Errorf("first ms = %d", recent[1].Summary.FirstMs)
	}

	totals, err := h.Totals()
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals["TextTyped"] != 1+2+3+10 || totals["EditControl"] != 4 {
		t.Errorf("totals = %v", totals)
	}
}

func TestHistoryReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	h, err := OpenHistory(path, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Record(time.Now(), summary.TriggerManual, sampleSummary(1)); err != nil {
		t.Fatal(err)
	}
	h.Close()

	h, err = OpenHistory(path, time.Second)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer h.Close()
	v, err := schemaVersion(h.db)
	if err != nil {
		t.Fatal(err)
	}
	if v != len(migrations) {
		t.Errorf("schema version = %d, want %d", v, len(migrations))
	}
	recent, err := h.Recent(10)
	if err != nil || len(recent) != 1 {
		t.Fatalf("Recent = %d records, %v", len(recent), err)
	}
}

func TestHistoryCloseNil(t *testing.T) {
	h := &History{}
	if err := h.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestJournalAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "summaries")
	j := NewJournal(dir)
	at := time.Date(2026, 5, 4, 10, 30, 0, 0, time.Local)

	if err := j.Record(at, summary.TriggerInactivity, sampleSummary(2)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := j.Record(at.Add(time.Minute), summary.TriggerPaneSwitch, sampleSummary(3)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	path := j.PathFor(at)
	if filepath.Base(path) != "2026-05-04.md" {
		t.Errorf("journal file = %s", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)
	if strings.Count(text, "# crumbeez 2026-05-04") != 1 {
		t.Errorf("expected one heading:\n%s", text)
	}
	for _, want := range []string{"## 10:30:00", "## 10:31:00", "- TextTyped: 3", "_trigger: pane_switch_"} {
		if !strings.Contains(text, want) {
			t.Errorf("journal missing %q:\n%s", want, text)
		}
	}
}

func TestJournalRecordReportsErrors(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir)
	at := time.Date(2026, 5, 4, 10, 30, 0, 0, time.Local)

	// A directory where the day file belongs cannot be appended to.
	if err := os.Mkdir(j.PathFor(at), 0700); err != nil {
		t.Fatal(err)
	}
	if err := j.Record(at, summary.TriggerManual, sampleSummary(1)); err == nil {
		t.Fatal("expected an error recording into a directory")
	}

	next := at.AddDate(0, 0, 1)
	for i := range 3 {
		if err := j.Record(next, summary.TriggerManual, sampleSummary(i)); err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}
	raw, err := os.ReadFile(j.PathFor(next))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(raw), "_trigger: manual_"); n != 3 {
		t.Errorf("found %d entries, want 3", n)
	}
}

func TestLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "crumbeez.lock")

	first, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if _, err := AcquireLock(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("second AcquireLock = %v, want ErrLocked", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	again, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
	defer again.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) == "" {
		t.Error("lock file does not record the holder")
	}
}
