package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"crumbeez/internal/config"
	"crumbeez/internal/feed"
	"crumbeez/internal/health"
	"crumbeez/internal/logging"
	"crumbeez/internal/metrics"
	"crumbeez/internal/session"
)

const (
	tickInterval   = time.Second
	crashReportTTL = 30 * 24 * time.Hour
)

func (c *cli) cmdIngest(args []string) error {
	fs, configPath := c.newFlagSet("ingest")
	follow := fs.Bool("follow", false, "keep reading as the file grows (implies -watch)")
	noSave := fs.Bool("no-save", false, "keep the log in memory; do not touch the data directory")
	noValidate := fs.Bool("no-validate", false, "skip JSON schema validation of feed lines")
	watch := fs.Bool("watch", false, "reload the configuration file when it changes")
	fs.Usage = func() {
		fmt.Fprintln(c.stderr, "Usage: crumbeez ingest [-follow] [-no-save] [-no-validate] [-watch] [-config file] [events.ndjson|-]")
		fs.PrintDefaults()
	}
	if err := c.parse(fs, args, 1); err != nil {
		return err
	}

	e, err := c.openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	path := e.cfg.Feed.Path
	if fs.NArg() == 1 {
		path = fs.Arg(0)
	}
	followMode := *follow || e.cfg.Feed.Follow
	if followMode && path == "-" {
		return fmt.Errorf("cannot follow standard input")
	}
	validate := e.cfg.Feed.Validate && !*noValidate

	sess, err := e.openSession(!*noSave)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	crash := logging.NewCrashHandler(e.cfg.CrashDir(), version, e.logger)
	if n, err := crash.Prune(crashReportTTL); err == nil && n > 0 {
		e.logger.Debug("pruned crash reports", "count", n)
	}

	var unsaved atomic.Bool
	if e.cfg.Metrics.Enabled {
		srv := metrics.NewServer(e.cfg.Metrics.ListenAddr, e.metrics.Registry(), e.logger.Logger)
		e.healthChecker(!*noSave, &unsaved).Mount(srv)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				e.logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	var src source
	if followMode {
		src, err = followFeed(ctx, path, validate, e.cfg.PollInterval(), e.logger)
	} else {
		src, err = c.readFeed(ctx, path, validate)
	}
	if err != nil {
		return err
	}

	var reloads <-chan *config.Config
	if *watch || followMode {
		if ch, err := watchConfig(ctx, e); err != nil {
			e.logger.Warn("config watch disabled", "error", err)
		} else {
			reloads = ch
		}
	}

	l := &runLoop{
		sess:    sess,
		crash:   crash,
		logger:  e.logger,
		metrics: e.metrics,
		ticks:   followMode,
		unsaved: &unsaved,
	}
	l.run(ctx, src, reloads)

	if err := sess.Close(); err != nil {
		return err
	}
	st := sess.Stats()
	fmt.Fprintf(c.stdout, "ingested %d events (%d rejected), %d summaries; log %d/%d, %d unconsumed\n",
		l.handled, l.rejected, e.metrics.Summaries.Value(),
		st.LogTotal, st.LogCapacity, st.LogUnconsumed)
	return nil
}

// source delivers decoded feed items and per-line errors. Both channels are
// closed when the feed ends.
type source struct {
	items <-chan feed.Item
	errs  <-chan error
}

func (c *cli) readFeed(ctx context.Context, path string, validate bool) (source, error) {
	var r io.ReadCloser
	if path == "-" {
		r = io.NopCloser(c.stdin)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return source{}, err
		}
		r = f
	}
	dec, err := feed.NewDecoder(r, validate)
	if err != nil {
		r.Close()
		return source{}, err
	}

	items := make(chan feed.Item, 256)
	errs := make(chan error, 16)
	go func() {
		defer r.Close()
		defer close(items)
		defer close(errs)
		for {
			item, err := dec.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case errs <- err:
				case <-ctx.Done():
					return
				}
				var lineErr *feed.LineError
				if errors.As(err, &lineErr) {
					continue
				}
				return
			}
			select {
			case items <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return source{items: items, errs: errs}, nil
}

func followFeed(ctx context.Context, path string, validate bool, poll time.Duration, logger *logging.Logger) (source, error) {
	f, err := feed.NewFollower(path, validate, poll)
	if err != nil {
		return source{}, err
	}
	go func() {
		if err := f.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("feed follower stopped", "path", path, "error", err)
		}
	}()
	return source{items: f.Items(), errs: f.Errors()}, nil
}

// watchConfig delivers reloaded configurations. Only the newest pending
// configuration is kept.
func watchConfig(ctx context.Context, e *env) (<-chan *config.Config, error) {
	loader := config.NewLoader(e.path)
	if _, err := loader.Load(); err != nil {
		return nil, err
	}
	out := make(chan *config.Config, 1)
	loader.OnChange(func(cfg *config.Config) {
		select {
		case <-out:
		default:
		}
		out <- cfg
	})
	if err := loader.Watch(); err != nil {
		return nil, err
	}
	e.logger.Debug("watching configuration", "path", loader.Path())
	go func() {
		for {
			select {
			case <-ctx.Done():
				loader.Close()
				return
			case err := <-loader.Errors():
				e.logger.Warn("config reload failed", "error", err)
			}
		}
	}()
	return out, nil
}

// healthChecker builds the probes served next to /metrics.
func (e *env) healthChecker(persist bool, unsaved *atomic.Bool) *health.Checker {
	hc := health.NewChecker()
	hc.RegisterFunc("snapshot", false, health.FlagCheck("last snapshot save failed", unsaved.Load))
	if persist {
		hc.RegisterFunc("data_dir", true, health.WritableDirCheck(filepath.Dir(e.cfg.SnapshotPath())))
		if h := e.hist; h != nil {
			hc.RegisterFunc("history", false, health.DatabaseCheck(h.Ping))
		}
	}
	hc.SetReady(true)
	return hc
}

// runLoop applies feed items, timer ticks and configuration reloads to a
// session from a single goroutine.
type runLoop struct {
	sess    *session.Session
	crash   *logging.CrashHandler
	logger  *logging.Logger
	metrics *metrics.Crumbeez
	now     func() time.Time

	// ticks drives the inactivity trigger from the wall clock. A replayed
	// file relies on event timestamps instead.
	ticks bool

	// unsaved mirrors the session's dirty flag for the health endpoint.
	unsaved *atomic.Bool

	handled  int
	rejected int
}

func (l *runLoop) run(ctx context.Context, src source, reloads <-chan *config.Config) {
	if l.now == nil {
		l.now = time.Now
	}
	var tick <-chan time.Time
	if l.ticks {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	items, errs := src.items, src.errs
	for items != nil || errs != nil {
		select {
		case <-ctx.Done():
			l.logger.Info("stopping", "reason", context.Cause(ctx))
			return

		case item, ok := <-items:
			if !ok {
				items = nil
				continue
			}
			l.apply(item)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			l.rejected++
			l.metrics.FeedErrors.Inc()
			l.logger.Warn("skipping feed line", "error", err)

		case now := <-tick:
			l.crash.Guard("tick", func() error {
				l.sess.Tick(now)
				return nil
			})

		case cfg := <-reloads:
			opts := sessionOptions(cfg)
			l.sess.SetInactivity(opts.Inactivity)
			l.sess.SetPaneSwitch(opts.OnPaneSwitch)
			l.logger.Info("configuration reloaded")
		}
		if l.unsaved != nil {
			l.unsaved.Store(l.sess.Stats().Dirty)
		}
	}
}

func (l *runLoop) apply(item feed.Item) {
	at := l.now()
	if item.TimestampMs != 0 {
		at = time.UnixMilli(int64(item.TimestampMs))
	}
	err := l.crash.Guard("handle event", func() error {
		return l.sess.Handle(item.Event, at)
	})
	if err != nil {
		l.rejected++
		l.metrics.FeedErrors.Inc()
		l.logger.Warn("event rejected", "line", item.Line, "error", err)
		if errors.Is(err, logging.ErrPanic) {
			l.logger.Sync()
		}
		return
	}
	l.handled++
}
