package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crumbeez/internal/summary"
)

// Journal appends summaries as Markdown to one file per day.
type Journal struct {
	dir string
}

// NewJournal returns a Journal writing into dir.
func NewJournal(dir string) *Journal {
	return &Journal{dir: dir}
}

// PathFor returns the journal file that holds summaries produced at t.
func (j *Journal) PathFor(t time.Time) string {
	return filepath.Join(j.dir, t.Format(time.DateOnly)+".md")
}

// Record appends s to the journal file for at, starting the file with a
// date heading when it is new.
func (j *Journal) Record(at time.Time, trigger summary.Trigger, s summary.Summary) (err error) {
	if err := os.MkdirAll(j.dir, 0700); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	path := j.PathFor(at)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close journal: %w", cerr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat journal: %w", err)
	}
	if info.Size() == 0 {
		if _, err := fmt.Fprintf(f, "# crumbeez %s\n\n", at.Format(time.DateOnly)); err != nil {
			return fmt.Errorf("write journal heading: %w", err)
		}
	}
	if _, err := fmt.Fprintf(f, "%s\n_trigger: %s_\n\n", s.Markdown(at), trigger); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}
