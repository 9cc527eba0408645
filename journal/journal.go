// Package journal implements the run journal (C5): a durable, crash-safe
// SQLite-backed record of every run an app has made, its captured output,
// and the aggregate statistics the admin API surfaces from it.
package journal

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/frectonz/penny/xlog"
)

// Outcome is how a run ended, recorded on the exit transitions out of
// Stopping or Failed.
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeStartFailed     Outcome = "start_failed"
	OutcomeStoppedOnIdle   Outcome = "stopped_on_idle"
	OutcomeCrashed         Outcome = "crashed"
	OutcomeStoppedOnDeploy Outcome = "stopped_on_shutdown"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	host        TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER,
	outcome     TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_host_started ON runs(host, started_at);

CREATE TABLE IF NOT EXISTS log_entries (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    TEXT NOT NULL,
	stream    TEXT NOT NULL,
	line      TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
CREATE INDEX IF NOT EXISTS idx_log_entries_run ON log_entries(run_id, stream, timestamp);
`

// Journal is a durable store of runs and their logs, backed by SQLite.
// Concurrent readers and a single-writer-at-a-time pattern (SQLite's default
// locking) give reads a consistent snapshot per query; SQLite's WAL-less
// commit semantics make each completed write durable, so at worst a crash
// mid-line drops that one in-flight log entry.
type Journal struct {
	db  *sql.DB
	log *xlog.Logger
}

// Open creates or opens the database at databaseURL and ensures the schema
// exists.
func Open(databaseURL string) (*Journal, error) {
	db, err := sql.Open("sqlite", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", databaseURL, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite has no internal connection pool locking

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}

	return &Journal{db: db, log: xlog.NewDomain("journal")}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func newRunID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// BeginRun records the start of a new run for host and returns its run_id.
func (j *Journal) BeginRun(ctx context.Context, host string, startedAt int64) (string, error) {
	runID := newRunID()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, host, started_at) VALUES (?, ?, ?)`,
		runID, host, startedAt)
	if err != nil {
		return "", fmt.Errorf("journal: begin run: %w", err)
	}
	return runID, nil
}

// AppendLog records one captured output line.
func (j *Journal) AppendLog(ctx context.Context, runID, stream, line string, timestamp int64) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO log_entries (run_id, stream, line, timestamp) VALUES (?, ?, ?, ?)`,
		runID, stream, line, timestamp)
	if err != nil {
		j.log.Warn().Err(err).Str("run_id", runID).Msg("failed to append log entry")
		return err
	}
	return nil
}

// EndRun finalizes a run with its terminal outcome.
func (j *Journal) EndRun(ctx context.Context, runID string, endedAt int64, outcome Outcome) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, outcome = ? WHERE run_id = ?`,
		endedAt, string(outcome), runID)
	if err != nil {
		return fmt.Errorf("journal: end run %s: %w", runID, err)
	}
	return nil
}
