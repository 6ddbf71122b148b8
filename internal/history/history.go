// Package history persists finished translations to PostgreSQL so operators
// can review what the assistant produced and which rules carry the load.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/daeun-ops/promql-assistant-cli/internal/engine"
	apperrors "github.com/daeun-ops/promql-assistant-cli/internal/errors"
)

// Entry is one recorded translation
type Entry struct {
	ID        int64               `json:"id"`
	Phrase    string              `json:"phrase"`
	Query     string              `json:"query"`
	RuleID    string              `json:"rule_id"`
	Trace     []engine.TraceEntry `json:"trace"`
	Warnings  []string            `json:"warnings,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// Store records translations in PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a history store on an open connection
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL with the given lib/pq DSN
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeHistoryWrite, "Could not open history database")
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Record stores one finished translation
func (s *Store) Record(ctx context.Context, phrase string, tr *engine.Translation) error {
	trace, err := json.Marshal(tr.Trace)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeHistoryWrite, "Could not encode trace")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO translations (phrase, query, rule_id, trace, warnings)
		 VALUES ($1, $2, $3, $4, $5)`,
		phrase, tr.Query, tr.RuleID, trace, pq.Array(tr.Warnings))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeHistoryWrite, "Could not record translation")
	}
	return nil
}

// Recent returns the most recent entries, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phrase, query, rule_id, trace, warnings, created_at
		 FROM translations
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeHistoryWrite, "Could not read history")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var trace []byte
		if err := rows.Scan(&e.ID, &e.Phrase, &e.Query, &e.RuleID, &trace, pq.Array(&e.Warnings), &e.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeHistoryWrite, "Could not scan history row")
		}
		if err := json.Unmarshal(trace, &e.Trace); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeHistoryWrite, "Corrupt trace in history row")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RuleUsage returns how often each rule has fired, busiest first
func (s *Store) RuleUsage(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rule_id, COUNT(*) FROM translations GROUP BY rule_id`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeHistoryWrite, "Could not read rule usage")
	}
	defer rows.Close()

	usage := make(map[string]int64)
	for rows.Next() {
		var rule string
		var count int64
		if err := rows.Scan(&rule, &count); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeHistoryWrite, "Could not scan usage row")
		}
		usage[rule] = count
	}
	return usage, rows.Err()
}
