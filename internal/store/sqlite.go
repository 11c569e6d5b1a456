// Package store persists crumbeez state: the event log snapshot, the SQLite
// summary history and the Markdown summary journal.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"crumbeez/internal/summary"
)

// HistoryRecord is one stored summary.
type HistoryRecord struct {
	ID        int64
	CreatedAt time.Time
	Trigger   summary.Trigger
	Summary   summary.Summary
}

// History is the SQLite summary history.
type History struct {
	db *sql.DB
}

// OpenHistory opens or creates the history database at path and migrates it.
// busyTimeout bounds how long a write waits for another process holding the
// database lock.
func OpenHistory(path string, busyTimeout time.Duration) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the database.
func (h *History) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (h *History) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Record stores s with its per-kind counts.
func (h *History) Record(at time.Time, trigger summary.Trigger, s summary.Summary) error {
	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO summaries (created_ms, reason, events_consumed, first_ms, last_ms)
		VALUES (?, ?, ?, ?, ?)`,
		at.UnixMilli(), string(trigger), s.EventsConsumed, int64(s.FirstMs), int64(s.LastMs),
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO summary_counts (summary_id, kind, count) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare count insert: %w", err)
	}
	defer stmt.Close()

	for kind, n := range s.EventTypeCounts {
		if _, err := stmt.Exec(id, kind, n); err != nil {
			return fmt.Errorf("insert count %s: %w", kind, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit summaries, newest first.
func (h *History) Recent(limit int) ([]HistoryRecord, error) {
	rows, err := h.db.Query(`
		SELECT id, created_ms, reason, events_consumed, first_ms, last_ms
		FROM summaries ORDER BY created_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var (
			r               HistoryRecord
			createdMs       int64
			trigger         string
			firstMs, lastMs int64
		)
		if err := rows.Scan(&r.ID, &createdMs, &trigger, &r.Summary.EventsConsumed, &firstMs, &lastMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdMs)
		r.Trigger = summary.Trigger(trigger)
		r.Summary.FirstMs, r.Summary.LastMs = uint64(firstMs), uint64(lastMs)
		r.Summary.EventTypeCounts = make(map[string]int)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := h.loadCounts(out[i].ID, out[i].Summary.EventTypeCounts); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (h *History) loadCounts(id int64, into map[string]int) error {
	rows, err := h.db.Query(`SELECT kind, count FROM summary_counts WHERE summary_id = ?`, id)
	if err != nil {
		return fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return fmt.Errorf("scan count: %w", err)
		}
		into[kind] = n
	}
	return rows.Err()
}

// Totals returns the number of events ever summarized per kind.
func (h *History) Totals() (map[string]int, error) {
	rows, err := h.db.Query(`SELECT kind, SUM(count) FROM summary_counts GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan total: %w", err)
		}
		totals[kind] = n
	}
	return totals, rows.Err()
}
