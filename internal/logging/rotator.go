package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRotator is an io.Writer over a log file that rolls the file over when
// it would grow past Config.MaxSize or when the day changes. Rolled files are
// named <base>-<yyyymmdd-hhmmss.mmm><ext>, optionally gzipped, and pruned by
// Config.MaxBackups and Config.MaxAge.
type FileRotator struct {
	path       string
	maxBytes   int64
	maxBackups int
	maxAge     int
	compress   bool
	now        func() time.Time

	mu       sync.Mutex
	file     *os.File
	size     int64
	openedAt time.Time
	lastRoll time.Time
}

// NewFileRotator creates the log directory if needed and opens the file for
// appending.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	r := &FileRotator{
		path:       cfg.FilePath,
		maxBytes:   cfg.MaxSize * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		maxAge:     cfg.MaxAge,
		compress:   cfg.Compress,
		now:        time.Now,
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0750); err != nil {
		return nil, err
	}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) openFile() error {
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = file
	r.size = info.Size()
	r.openedAt = r.now()
	return nil
}

// Write implements io.Writer.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.openFile(); err != nil {
			return 0, err
		}
	}
	if r.shouldRotate(int64(len(p))) {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *FileRotator) shouldRotate(writeSize int64) bool {
	if r.size == 0 {
		return false
	}
	if r.maxBytes > 0 && r.size+writeSize > r.maxBytes {
		return true
	}
	y1, m1, d1 := r.openedAt.Date()
	y2, m2, d2 := r.now().Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

func (r *FileRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close current log: %w", err)
	}
	r.file = nil

	// Names sort chronologically, so stamps must be strictly increasing.
	stamp := r.now().Truncate(time.Millisecond)
	if !stamp.After(r.lastRoll) {
		stamp = r.lastRoll.Add(time.Millisecond)
	}
	r.lastRoll = stamp

	dir, name, ext := r.parts()
	rotated := filepath.Join(dir, fmt.Sprintf("%s-%s%s", name, stamp.Format(stampLayout), ext))
	if err := os.Rename(r.path, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}
	if err := r.openFile(); err != nil {
		return err
	}
	if r.compress {
		compressFile(rotated)
	}
	r.cleanup()
	return nil
}

const stampLayout = "20060102-150405.000"

func (r *FileRotator) parts() (dir, name, ext string) {
	base := filepath.Base(r.path)
	ext = filepath.Ext(base)
	return filepath.Dir(r.path), strings.TrimSuffix(base, ext), ext
}

// compressFile replaces path with path.gz.
func compressFile(path string) {
	input, err := os.Open(path)
	if err != nil {
		return
	}
	defer input.Close()

	output, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer output.Close()

	gz := gzip.NewWriter(output)
	gz.Name = filepath.Base(path)
	if _, err := io.Copy(gz, input); err != nil {
		gz.Close()
		os.Remove(path + ".gz")
		return
	}
	if err := gz.Close(); err != nil {
		os.Remove(path + ".gz")
		return
	}
	os.Remove(path)
}

// cleanup prunes rolled files past MaxBackups (oldest first) and those whose
// roll time is older than MaxAge days.
func (r *FileRotator) cleanup() {
	files, err := r.Backups()
	if err != nil {
		return
	}
	if r.maxBackups > 0 && len(files) > r.maxBackups {
		for _, f := range files[:len(files)-r.maxBackups] {
			os.Remove(f)
		}
		files = files[len(files)-r.maxBackups:]
	}
	if r.maxAge <= 0 {
		return
	}
	_, name, _ := r.parts()
	cutoff := r.now().AddDate(0, 0, -r.maxAge)
	for _, f := range files {
		rest := strings.TrimPrefix(filepath.Base(f), name+"-")
		if len(rest) < len(stampLayout) {
			continue
		}
		rolled, err := time.ParseInLocation(stampLayout, rest[:len(stampLayout)], time.Local)
		if err == nil && rolled.Before(cutoff) {
			os.Remove(f)
		}
	}
}

// Backups returns the rolled files, compressed or not, oldest first.
func (r *FileRotator) Backups() ([]string, error) {
	dir, name, ext := r.parts()
	matches, err := filepath.Glob(filepath.Join(dir, name+"-*"+ext+"*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Close closes the file. A later Write reopens it.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Sync flushes any buffered data to the file.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}
