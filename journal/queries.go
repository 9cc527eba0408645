package journal

import (
	"context"
	"database/sql"
)

// TimeRange bounds a query by started_at, in unix milliseconds. A zero value
// on either end means unbounded.
type TimeRange struct {
	Start *int64
	End   *int64
}

// Totals is the aggregate run/uptime/downtime/failure counters over a
// TimeRange, either for one host (Overview) or across every app (Totals).
type Totals struct {
	Host              string `json:"host,omitempty"`
	TotalRuns         int64  `json:"total_runs"`
	TotalAwakeTimeMs  int64  `json:"total_awake_time_ms"`
	TotalSleepTimeMs  int64  `json:"total_sleep_time_ms"`
	TotalStartFailure int64  `json:"total_start_failures"`
	TotalStopFailure  int64  `json:"total_stop_failures"`
}

// Run is one paginated row of an app's run history.
type Run struct {
	RunID           string `json:"run_id"`
	StartTimeMs     int64  `json:"start_time_ms"`
	EndTimeMs       int64  `json:"end_time_ms"`
	TotalAwakeTimeMs int64 `json:"total_awake_time_ms"`
}

// RunPage is one cursor-paginated page of app runs.
type RunPage struct {
	Items      []Run  `json:"items"`
	NextCursor *int64 `json:"next_cursor"`
}

// LogEntry is one captured output line, as surfaced by the admin API.
type LogEntry struct {
	Line      string `json:"line"`
	Timestamp int64  `json:"timestamp"`
}

// RunLogs is the full captured output of a run, split by stream.
type RunLogs struct {
	Stdout []LogEntry `json:"stdout"`
	Stderr []LogEntry `json:"stderr"`
}

// totalsQuery is shared by Totals and Overview: it sums awake time directly
// from (started_at, ended_at) pairs and derives sleep time from the gaps
// between consecutive runs, using the outcome column in place of the
// original's separate start_failed/stop_failed flags.
const totalsQuery = `
WITH ordered_runs AS (
	SELECT
		started_at,
		ended_at,
		outcome,
		LAG(ended_at) OVER (ORDER BY started_at) as prev_ended_at
	FROM runs
	WHERE (:host = '' OR host = :host)
	  AND (:start IS NULL OR started_at >= :start)
	  AND (:end IS NULL OR started_at <= :end)
)
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN ended_at IS NOT NULL THEN ended_at - started_at ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN prev_ended_at IS NOT NULL AND started_at > prev_ended_at THEN started_at - prev_ended_at ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN outcome = 'start_failed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN outcome = 'crashed' THEN 1 ELSE 0 END), 0)
FROM ordered_runs
`

func (j *Journal) totals(ctx context.Context, host string, r TimeRange) (Totals, error) {
	var t Totals
	t.Host = host
	row := j.db.QueryRowContext(ctx, totalsQuery,
		sql.Named("host", host), sql.Named("start", r.Start), sql.Named("end", r.End))
	err := row.Scan(&t.TotalRuns, &t.TotalAwakeTimeMs, &t.TotalSleepTimeMs, &t.TotalStartFailure, &t.TotalStopFailure)
	if err != nil {
		return Totals{}, err
	}
	return t, nil
}

// Totals reports aggregate statistics across every app in r.
func (j *Journal) Totals(ctx context.Context, r TimeRange) (Totals, error) {
	t, err := j.totals(ctx, "", r)
	t.Host = ""
	return t, err
}

// Overview reports aggregate statistics for a single host, or (false, nil)
// if the host has never run.
func (j *Journal) Overview(ctx context.Context, host string, r TimeRange) (Totals, bool, error) {
	t, err := j.totals(ctx, host, r)
	if err != nil {
		return Totals{}, false, err
	}
	if t.TotalRuns == 0 {
		return Totals{}, false, nil
	}
	return t, true, nil
}

// AppsOverview reports per-host aggregate statistics for every host that has
// ever run, in host order.
func (j *Journal) AppsOverview(ctx context.Context, r TimeRange) ([]Totals, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT DISTINCT host FROM runs ORDER BY host`)
	if err != nil {
		return nil, err
	}
	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return nil, err
		}
		hosts = append(hosts, h)
	}
	rows.Close()

	out := make([]Totals, 0, len(hosts))
	for _, h := range hosts {
		t, ok, err := j.Overview(ctx, h, r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}

const defaultRunPageLimit = 20
const maxRunPageLimit = 100

// ListRuns returns one cursor-paginated page of host's run history, most
// recent first. cursor, when non-nil, is the started_at of the last item
// from the previous page.
func (j *Journal) ListRuns(ctx context.Context, host string, r TimeRange, cursor *int64, limit int) (RunPage, error) {
	if limit <= 0 {
		limit = defaultRunPageLimit
	}
	if limit > maxRunPageLimit {
		limit = maxRunPageLimit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, started_at, COALESCE(ended_at, started_at), COALESCE(ended_at, started_at) - started_at
		FROM runs
		WHERE host = :host
		  AND (:start IS NULL OR started_at >= :start)
		  AND (:end IS NULL OR started_at <= :end)
		  AND (:cursor IS NULL OR started_at < :cursor)
		ORDER BY started_at DESC
		LIMIT :limit
	`,
		sql.Named("host", host), sql.Named("start", r.Start), sql.Named("end", r.End),
		sql.Named("cursor", cursor), sql.Named("limit", limit+1))
	if err != nil {
		return RunPage{}, err
	}
	defer rows.Close()

	var items []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.RunID, &run.StartTimeMs, &run.EndTimeMs, &run.TotalAwakeTimeMs); err != nil {
			return RunPage{}, err
		}
		items = append(items, run)
	}

	var next *int64
	if len(items) > limit {
		items = items[:limit]
		c := items[len(items)-1].StartTimeMs
		next = &c
	}
	return RunPage{Items: items, NextCursor: next}, nil
}

// Logs returns the full captured output of a run, or (false, nil) if run_id
// is unknown.
func (j *Journal) Logs(ctx context.Context, runID string) (RunLogs, bool, error) {
	var exists int
	err := j.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE run_id = ?`, runID).Scan(&exists)
	if err == sql.ErrNoRows {
		return RunLogs{}, false, nil
	}
	if err != nil {
		return RunLogs{}, false, err
	}

	stdout, err := j.logsByStream(ctx, runID, "stdout")
	if err != nil {
		return RunLogs{}, false, err
	}
	stderr, err := j.logsByStream(ctx, runID, "stderr")
	if err != nil {
		return RunLogs{}, false, err
	}
	return RunLogs{Stdout: stdout, Stderr: stderr}, true, nil
}

func (j *Journal) logsByStream(ctx context.Context, runID, stream string) ([]LogEntry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT line, timestamp FROM log_entries WHERE run_id = ? AND stream = ? ORDER BY timestamp ASC`,
		runID, stream)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.Line, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
