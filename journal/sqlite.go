package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	price REAL NOT NULL,
	bue REAL NOT NULL,
	delta REAL NOT NULL,
	signal TEXT NOT NULL,
	value_estimate REAL NOT NULL,
	action TEXT NOT NULL,
	pnl REAL NOT NULL,
	close_reason TEXT NOT NULL,
	equity REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
`

// SQLite is a database-backed journal. SQLite serializes concurrent
// writers itself, so no explicit advisory locking is needed; the busy
// timeout bounds waits the same way the CSV backend's lock wait does.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=3000")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) Append(rec EventRecord) error {
	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(appendBackoff)
		}

		_, err := j.db.Exec(`
			INSERT INTO events
			(session_id, timestamp, symbol, price, bue, delta, signal, value_estimate, action, pnl, close_reason, equity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.SessionID, rec.Timestamp.Format(TimeLayout), rec.Symbol,
			rec.Price, rec.FairValue, rec.Delta, rec.Signal, rec.Value,
			rec.Action, rec.PnL, rec.CloseReason, rec.Equity,
		)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrWriteFailed, lastErr)
}

func (j *SQLite) Tail(limit int, filter Filter) ([]EventRecord, error) {
	q := `
		SELECT session_id, timestamp, symbol, price, bue, delta, signal, value_estimate, action, pnl, close_reason, equity
		FROM events`
	var args []any
	var where []string
	if filter.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	for i, cond := range where {
		if i == 0 {
			q += " WHERE " + cond
		} else {
			q += " AND " + cond
		}
	}
	q += " ORDER BY id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows came newest first; callers expect chronological order.
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

func (j *SQLite) LastEvent() (EventRecord, bool, error) {
	recs, err := j.Tail(1, Filter{})
	if err != nil {
		return EventRecord{}, false, err
	}
	if len(recs) == 0 {
		return EventRecord{}, false, nil
	}
	return recs[0], true, nil
}

// ListSessions returns the distinct session IDs present in the journal,
// oldest first.
func (j *SQLite) ListSessions() ([]string, error) {
	rows, err := j.db.Query(`SELECT DISTINCT session_id FROM events ORDER BY session_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListEventsBetween returns events whose timestamp is within [start, end).
func (j *SQLite) ListEventsBetween(start, end time.Time) ([]EventRecord, error) {
	rows, err := j.db.Query(`
		SELECT session_id, timestamp, symbol, price, bue, delta, signal, value_estimate, action, pnl, close_reason, equity
		FROM events
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY id ASC`,
		start.Format(TimeLayout), end.Format(TimeLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

func scanEvent(rows *sql.Rows) (EventRecord, error) {
	var rec EventRecord
	var ts string
	err := rows.Scan(
		&rec.SessionID,
		&ts,
		&rec.Symbol,
		&rec.Price,
		&rec.FairValue,
		&rec.Delta,
		&rec.Signal,
		&rec.Value,
		&rec.Action,
		&rec.PnL,
		&rec.CloseReason,
		&rec.Equity,
	)
	if err != nil {
		return EventRecord{}, err
	}

	rec.Timestamp, err = time.ParseInLocation(TimeLayout, ts, time.Local)
	if err != nil {
		return EventRecord{}, fmt.Errorf("parse event timestamp %q: %w", ts, err)
	}
	return rec, nil
}
