package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Follower reads a feed file that another process keeps appending to.
// Write notifications trigger a read; a poll ticker covers filesystems that
// do not deliver them. A truncated file is read again from the start.
type Follower struct {
	path   string
	poll   time.Duration
	parser *Parser

	offset  int64
	partial []byte

	items  chan Item
	errors chan error
}

// NewFollower returns a Follower for path. poll <= 0 disables polling.
func NewFollower(path string, validate bool, poll time.Duration) (*Follower, error) {
	p, err := NewParser(validate)
	if err != nil {
		return nil, err
	}
	return &Follower{
		path:   path,
		poll:   poll,
		parser: p,
		items:  make(chan Item, 256),
		errors: make(chan error, 16),
	}, nil
}

// Items returns the channel of decoded events. It is closed when Run returns.
func (f *Follower) Items() <-chan Item { return f.items }

// Errors returns line and watch errors. Sends are dropped when nobody reads.
// It is closed when Run returns.
func (f *Follower) Errors() <-chan error { return f.errors }

// Run reads the file from the beginning and then follows it until ctx is
// cancelled.
func (f *Follower) Run(ctx context.Context) error {
	defer close(f.items)
	defer close(f.errors)

	abs, err := filepath.Abs(f.path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	// Watch the directory so the file may be created or replaced later.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var tick <-chan time.Time
	if f.poll > 0 {
		t := time.NewTicker(f.poll)
		defer t.Stop()
		tick = t.C
	}

	if !f.readAvailable(ctx) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !f.readAvailable(ctx) {
				return nil
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.report(err)

		case <-tick:
			if !f.readAvailable(ctx) {
				return nil
			}
		}
	}
}

// readAvailable parses every complete line past the current offset. It
// reports false when ctx ended while delivering.
func (f *Follower) readAvailable(ctx context.Context) bool {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	if err != nil {
		f.report(err)
		return true
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		f.report(err)
		return true
	}
	if info.Size() < f.offset {
		f.offset = 0
		f.partial = nil
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		f.report(err)
		return true
	}
	chunk, err := io.ReadAll(file)
	if err != nil {
		f.report(err)
		return true
	}
	f.offset += int64(len(chunk))

	buf := append(f.partial, chunk...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := buf[:i]
		buf = buf[i+1:]

		item, ok, perr := f.parser.Parse(line)
		if perr != nil {
			f.report(perr)
			continue
		}
		if !ok {
			continue
		}
		select {
		case f.items <- item:
		case <-ctx.Done():
			return false
		}
	}
	f.partial = append([]byte(nil), buf...)
	return true
}

func (f *Follower) report(err error) {
	select {
	case f.errors <- err:
	default:
	}
}
