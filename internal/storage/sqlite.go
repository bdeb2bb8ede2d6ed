package storage

import (
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteSink stores series rows in a SQLite database, one row per value.
// Writes of one run go through a single transaction committed on Flush.
type SQLiteSink struct {
	mu    sync.Mutex
	db    *sql.DB
	runID string
	tx    *sql.Tx
	stmt  *sql.Stmt
}

// OpenSQLite opens or creates the database at path and registers runID.
func OpenSQLite(path, runID string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO runs (id, created_at) VALUES (?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		db.Close()
		return nil, fmt.Errorf("register run: %w", err)
	}
	return &SQLiteSink{db: db, runID: runID}, nil
}

func (s *SQLiteSink) DeclareSeries(series string, columns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec := s.db.Exec
	if s.tx != nil {
		exec = s.tx.Exec
	}
	for i, c := range columns {
		if _, err := exec(`INSERT OR REPLACE INTO series_columns (run_id, name, idx, label) VALUES (?, ?, ?, ?)`,
			s.runID, series, i, c); err != nil {
			return fmt.Errorf("declare series %q: %w", series, err)
		}
	}
	return nil
}

func (s *SQLiteSink) begin() error {
	if s.tx != nil {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO series (run_id, name, t, idx, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	s.tx, s.stmt = tx, stmt
	return nil
}

func (s *SQLiteSink) WriteSeries(series string, t float64, values []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for i, v := range values {
		if _, err := s.stmt.Exec(s.runID, series, t, i, v); err != nil {
			return fmt.Errorf("insert %s[%d] at t=%g: %w", series, i, t, err)
		}
	}
	return nil
}

// Flush commits the pending transaction.
func (s *SQLiteSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	s.stmt.Close()
	err := s.tx.Commit()
	s.tx, s.stmt = nil, nil
	return err
}

// LoadSeries reads a series of this sink's run back from the database.
func (s *SQLiteSink) LoadSeries(series string) (*Series, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &Series{Name: series}
	cols, err := s.db.Query(`SELECT label FROM series_columns WHERE run_id = ? AND name = ? ORDER BY idx`, s.runID, series)
	if err != nil {
		return nil, err
	}
	defer cols.Close()
	for cols.Next() {
		var c string
		if err := cols.Scan(&c); err != nil {
			return nil, err
		}
		out.Columns = append(out.Columns, c)
	}
	if err := cols.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT t, idx, value FROM series WHERE run_id = ? AND name = ? ORDER BY rowid`, s.runID, series)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t   float64
			idx int
			v   float64
		)
		if err := rows.Scan(&t, &idx, &v); err != nil {
			return nil, err
		}
		if idx == 0 {
			out.Times = append(out.Times, t)
			out.Values = append(out.Values, nil)
		}
		last := len(out.Values) - 1
		if last < 0 {
			return nil, fmt.Errorf("series %q: row without leading column at t=%g", series, t)
		}
		out.Values[last] = append(out.Values[last], v)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	if err := s.Flush(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
