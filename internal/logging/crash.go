package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// CrashReport describes a recovered panic.
type CrashReport struct {
	Timestamp    time.Time      `json:"timestamp"`
	Version      string         `json:"version"`
	GoVersion    string         `json:"go_version"`
	GOOS         string         `json:"goos"`
	GOARCH       string         `json:"goarch"`
	NumGoroutine int            `json:"num_goroutine"`
	PanicValue   string         `json:"panic_value"`
	StackTrace   string         `json:"stack_trace"`
	Operation    string         `json:"operation,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// ErrPanic is returned by Guard when the guarded function panicked.
var ErrPanic = errors.New("recovered panic")

// CrashHandler turns panics into crash reports on disk.
type CrashHandler struct {
	mu      sync.Mutex
	dir     string
	version string
	logger  *Logger
	seq     int
}

// DefaultCrashDir returns the crash directory next to the default log file.
func DefaultCrashDir() string {
	return filepath.Join(stateDir(), "crashes")
}

// NewCrashHandler writes reports into dir. logger may be nil.
func NewCrashHandler(dir, version string, logger *Logger) *CrashHandler {
	if dir == "" {
		dir = DefaultCrashDir()
	}
	return &CrashHandler{dir: dir, version: version, logger: logger}
}

// Dir returns the report directory.
func (h *CrashHandler) Dir() string { return h.dir }

// Guard runs fn and converts a panic into a crash report and an error
// wrapping ErrPanic.
func (h *CrashHandler) Guard(op string, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			report := h.HandlePanic(op, v, nil)
			err = fmt.Errorf("%w in %s: %s", ErrPanic, op, report.PanicValue)
		}
	}()
	return fn()
}

// HandlePanic records a crash report for v and logs it.
func (h *CrashHandler) HandlePanic(op string, v any, contextInfo map[string]any) CrashReport {
	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		GoVersion:    runtime.Version(),
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprint(v),
		StackTrace:   string(debug.Stack()),
		Operation:    op,
		Context:      contextInfo,
	}

	path, err := h.write(report)
	if h.logger != nil {
		if err != nil {
			h.logger.Error("panic recovered; crash report not written",
				"operation", op, "panic", report.PanicValue, "error", err)
		} else {
			h.logger.Error("panic recovered", "operation", op, "panic", report.PanicValue, "report", path)
		}
	}
	return report
}

func (h *CrashHandler) write(report CrashReport) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(h.dir, 0750); err != nil {
		return "", err
	}
	h.seq++
	name := fmt.Sprintf("crash-%s-%03d.json", report.Timestamp.Format("20060102-150405"), h.seq)
	path := filepath.Join(h.dir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

// Reports returns the stored crash reports, oldest first. Unreadable files
// are skipped.
func (h *CrashHandler) Reports() ([]CrashReport, error) {
	files, err := filepath.Glob(filepath.Join(h.dir, "crash-*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	reports := make([]CrashReport, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var report CrashReport
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Prune removes reports whose files are older than maxAge.
func (h *CrashHandler) Prune(maxAge time.Duration) (int, error) {
	files, err := filepath.Glob(filepath.Join(h.dir, "crash-*.json"))
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) && os.Remove(file) == nil {
			removed++
		}
	}
	return removed, nil
}
