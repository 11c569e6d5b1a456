package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"time"

	"crumbeez/internal/activity"
	"crumbeez/internal/config"
	"crumbeez/internal/feed"
	"crumbeez/internal/keystroke"
	"crumbeez/internal/logging"
	"crumbeez/internal/summary"
)

func (c *cli) cmdInit(args []string) error {
	flags, configPath := c.newFlagSet("init")
	if err := c.parse(flags, args, 0); err != nil {
		return err
	}
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if created {
		fmt.Fprintf(c.stdout, "Created %s\n", path)
	} else {
		fmt.Fprintf(c.stdout, "Using existing %s\n", path)
	}
	fmt.Fprintf(c.stdout, "Data directory: %s\n", cfg.Storage.DataDir)
	return nil
}

func (c *cli) cmdStatus(args []string) error {
	flags, configPath := c.newFlagSet("status")
	if err := c.parse(flags, args, 0); err != nil {
		return err
	}
	e, err := c.openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	fmt.Fprintln(c.stdout, "=== crumbeez status ===")
	fmt.Fprintln(c.stdout)
	fmt.Fprintf(c.stdout, "Data directory: %s\n", e.cfg.Storage.DataDir)
	fmt.Fprintf(c.stdout, "Config:         %s\n", e.path)
	lc := e.logger.Config()
	logTo := lc.Output
	switch lc.Output {
	case "file":
		logTo = lc.FilePath
	case "both":
		logTo = "stderr, " + lc.FilePath
	}
	fmt.Fprintf(c.stdout, "Log:            %s (%s)\n", logTo, logging.LevelString(lc.Level))
	crashes, err := logging.NewCrashHandler(e.cfg.CrashDir(), version, e.logger).Reports()
	if err != nil {
		return err
	}
	if len(crashes) > 0 {
		fmt.Fprintf(c.stdout, "Crash reports:  %d in %s\n", len(crashes), e.cfg.CrashDir())
	}

	snap, err := e.snapshot()
	if err != nil {
		return err
	}
	hdr, err := snap.Stat()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintf(c.stdout, "Snapshot:       none (%s)\n", snap.Path())
	case err != nil:
		return fmt.Errorf("snapshot %s: %w", snap.Path(), err)
	default:
		fmt.Fprintf(c.stdout, "Snapshot:       %s\n", snap.Path())
		fmt.Fprintf(c.stdout, "  saved:        %s\n", hdr.SavedAt.Format(time.DateTime))
		fmt.Fprintf(c.stdout, "  compression:  %s (%d -> %d bytes)\n", hdr.Compression, hdr.RawLen, hdr.StoredLen)
	}

	log, err := e.loadLog()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout)
	fmt.Fprintln(c.stdout, "Event log:")
	fmt.Fprintf(c.stdout, "  total:      %d / %d\n", log.TotalCount(), log.Capacity())
	fmt.Fprintf(c.stdout, "  consumed:   %d\n", log.ConsumedCount())
	fmt.Fprintf(c.stdout, "  unconsumed: %d\n", log.UnconsumedCount())
	if log.UnconsumedCount() > 0 {
		s := summary.FromEntries(log.Unconsumed())
		for _, line := range s.Lines()[1:] {
			fmt.Fprintf(c.stdout, "  %s\n", line)
		}
	}

	if _, err := os.Stat(e.cfg.HistoryPath()); err != nil {
		return nil
	}
	h, err := e.history()
	if err != nil {
		return err
	}
	totals, err := h.Totals()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout)
	fmt.Fprintln(c.stdout, "Summarized so far:")
	for _, k := range slices.Sorted(maps.Keys(totals)) {
		fmt.Fprintf(c.stdout, "  %s: %d\n", k, totals[k])
	}
	return nil
}

func (c *cli) cmdSummarize(args []string) error {
	flags, configPath := c.newFlagSet("summarize")
	if err := c.parse(flags, args, 0); err != nil {
		return err
	}
	e, err := c.openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	sess, err := e.openSession(true)
	if err != nil {
		return err
	}
	s, err := sess.Summarize(summary.TriggerManual, time.Now())
	if err != nil {
		return err
	}
	if s == nil {
		fmt.Fprintln(c.stdout, "Nothing to summarize.")
		return nil
	}
	fmt.Fprintln(c.stdout, s)
	return nil
}

func (c *cli) cmdCompact(args []string) error {
	flags, configPath := c.newFlagSet("compact")
	if err := c.parse(flags, args, 0); err != nil {
		return err
	}
	e, err := c.openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	sess, err := e.openSession(true)
	if err != nil {
		return err
	}
	n, err := sess.Compact()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Dropped %d summarized events, %d remain.\n", n, sess.Log().TotalCount())
	return nil
}

func (c *cli) cmdDump(args []string) error {
	flags, configPath := c.newFlagSet("dump")
	all := flags.Bool("all", false, "include events that were already summarized")
	asJSON := flags.Bool("json", false, "print NDJSON that ingest accepts")
	if err := c.parse(flags, args, 0); err != nil {
		return err
	}
	e, err := c.openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	log, err := e.loadLog()
	if err != nil {
		return err
	}
	entries := log.Unconsumed()
	if *all {
		entries = log.All()
	}

	i := 0
	for entry := range entries {
		if *asJSON {
			if err := feed.Encode(c.stdout, entry.Event, entry.TimestampMs); err != nil {
				return err
			}
			continue
		}
		mark := " "
		if *all && i < log.ConsumedCount() {
			mark = "✓"
		}
		ts := time.UnixMilli(int64(entry.TimestampMs)).Format("2006-01-02 15:04:05.000")
		fmt.Fprintf(c.stdout, "%s %s  %s\n", mark, ts, entry.Event)
		i++
	}
	return nil
}

func (c *cli) cmdActivity(args []string) error {
	flags, configPath := c.newFlagSet("activity")
	rows := flags.Int("rows", 20, "lines to show")
	cols := flags.Int("cols", 80, "line width")
	if err := c.parse(flags, args, 1); err != nil {
		return err
	}
	e, err := c.openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	path := "-"
	if flags.NArg() == 1 {
		path = flags.Arg(0)
	}
	ring := activity.New()
	err = c.replay(path, e.cfg.Feed.Validate, func(ev keystroke.Event, _ time.Time) error {
		ring.Push(ev)
		return nil
	})
	if err != nil {
		return err
	}
	for _, line := range ring.Render(*rows, *cols) {
		fmt.Fprintln(c.stdout, line)
	}
	return nil
}

func (c *cli) cmdHistory(args []string) error {
	flags, configPath := c.newFlagSet("history")
	limit := flags.Int("n", 10, "number of summaries")
	if err := c.parse(flags, args, 0); err != nil {
		return err
	}
	e, err := c.openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	if _, err := os.Stat(e.cfg.HistoryPath()); err != nil {
		fmt.Fprintln(c.stdout, "No summaries recorded.")
		return nil
	}
	h, err := e.history()
	if err != nil {
		return err
	}
	records, err := h.Recent(*limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(c.stdout, "No summaries recorded.")
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(c.stdout, "#%d %s (%s)\n", r.ID, r.CreatedAt.Format(time.DateTime), r.Trigger)
		for _, line := range r.Summary.Lines() {
			fmt.Fprintf(c.stdout, "  %s\n", line)
		}
	}
	return nil
}

func (c *cli) cmdMetrics(args []string) error {
	flags, configPath := c.newFlagSet("metrics")
	asJSON := flags.Bool("json", false, "print JSON instead of the Prometheus text format")
	if err := c.parse(flags, args, 1); err != nil {
		return err
	}
	e, err := c.openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	path := "-"
	if flags.NArg() == 1 {
		path = flags.Arg(0)
	}
	sess, err := e.openSession(false)
	if err != nil {
		return err
	}
	if err := c.replay(path, e.cfg.Feed.Validate, sess.Handle); err != nil {
		return err
	}
	if err := sess.Close(); err != nil {
		return err
	}

	if *asJSON {
		return e.metrics.Registry().WriteJSON(c.stdout)
	}
	return e.metrics.Registry().WritePrometheus(c.stdout)
}

// replay feeds every event of a stream to fn, stopping at the first error.
// Lines without a timestamp use the current time.
func (c *cli) replay(path string, validate bool, fn func(keystroke.Event, time.Time) error) error {
	src, err := c.readFeed(context.Background(), path, validate)
	if err != nil {
		return err
	}
	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}
	items, errs := src.items, src.errs
	for items != nil || errs != nil {
		select {
		case item, ok := <-items:
			if !ok {
				items = nil
				continue
			}
			if firstErr != nil {
				continue
			}
			at := time.Now()
			if item.TimestampMs != 0 {
				at = time.UnixMilli(int64(item.TimestampMs))
			}
			if err := fn(item.Event, at); err != nil {
				keep(fmt.Errorf("line %d: %w", item.Line, err))
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			keep(err)
		}
	}
	return firstErr
}
