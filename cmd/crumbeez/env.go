package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"crumbeez/internal/config"
	"crumbeez/internal/eventlog"
	"crumbeez/internal/logging"
	"crumbeez/internal/metrics"
	"crumbeez/internal/session"
	"crumbeez/internal/store"
)

const lockFileName = "crumbeez.lock"

// env is what every command needs: configuration, a logger and metrics.
type env struct {
	cfg     *config.Config
	path    string
	logger  *logging.Logger
	metrics *metrics.Crumbeez
	stderr  io.Writer
	hist    *store.History
	closers []io.Closer
}

func (c *cli) openEnv(configPath string) (*env, error) {
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lc, err := cfg.LogConfig()
	if err != nil {
		return nil, err
	}
	lc.Component = "crumbeez"
	var logger *logging.Logger
	if lc.Output == "stderr" {
		logger = logging.NewWithWriter(lc, c.stderr)
	} else if logger, err = logging.New(lc); err != nil {
		return nil, err
	}

	return &env{
		cfg:     cfg,
		path:    configPath,
		logger:  logger,
		metrics: metrics.NewCrumbeez(metrics.NewRegistry(cfg.Metrics.Namespace)),
		stderr:  c.stderr,
	}, nil
}

func (e *env) Close() error {
	var errs []error
	for _, c := range slices.Backward(e.closers) {
		errs = append(errs, c.Close())
	}
	errs = append(errs, e.logger.Close())
	return errors.Join(errs...)
}

func (e *env) snapshot() (*store.SnapshotFile, error) {
	c, err := store.ParseCompression(e.cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	return store.NewSnapshotFile(e.cfg.SnapshotPath(), c), nil
}

func (e *env) history() (*store.History, error) {
	if e.hist != nil {
		return e.hist, nil
	}
	h, err := store.OpenHistory(e.cfg.HistoryPath(), e.cfg.BusyTimeout())
	if err != nil {
		return nil, err
	}
	e.hist = h
	e.closers = append(e.closers, h)
	return h, nil
}

// sessionOptions maps the summary settings onto session options. A zero
// inactivity setting disables the trigger.
func sessionOptions(cfg *config.Config) session.Options {
	inactivity := cfg.Inactivity()
	if inactivity == 0 {
		inactivity = -1
	}
	return session.Options{
		Inactivity:   inactivity,
		PendingLimit: cfg.Summary.PendingLimit,
		OnPaneSwitch: cfg.Summary.OnPaneSwitch,
		LogCapacity:  cfg.Storage.LogCapacity,
	}
}

// openSession builds a session over the configured storage and loads the
// saved log. With persist unset the session keeps everything in memory.
func (e *env) openSession(persist bool) (*session.Session, error) {
	opts := sessionOptions(e.cfg)
	opts.Metrics = e.metrics
	opts.Logger = e.logger

	if persist {
		if err := e.cfg.EnsureDirectories(); err != nil {
			return nil, err
		}
		lock, err := store.AcquireLock(filepath.Join(e.cfg.Storage.DataDir, lockFileName))
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, lock)
		e.logger.Debug("data directory locked", "path", lock.Path())

		snap, err := e.snapshot()
		if err != nil {
			return nil, err
		}
		opts.Store = snap

		if e.cfg.Summary.History {
			h, err := e.history()
			if err != nil {
				return nil, err
			}
			opts.Sinks = append(opts.Sinks, h)
		}
		if e.cfg.Summary.Journal {
			opts.Sinks = append(opts.Sinks, store.NewJournal(e.cfg.SummariesDir()))
		}
	}

	s := session.New(opts)
	if err := s.Load(); err != nil {
		// The session has logged it and carries on with an empty log.
		fmt.Fprintf(e.stderr, "warning: %v\n", err)
	}
	return s, nil
}

// loadLog reads the saved event log without creating anything on disk. A
// missing snapshot yields an empty log.
func (e *env) loadLog() (*eventlog.Log, error) {
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	data, err := snap.Load()
	if err != nil {
		return nil, err
	}
	if data == nil {
		return eventlog.NewWithCapacity(e.cfg.Storage.LogCapacity), nil
	}
	return eventlog.DeserializeWithCapacity(data, e.cfg.Storage.LogCapacity)
}
