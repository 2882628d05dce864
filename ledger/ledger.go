/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package ledger keeps the version history of a database in an append-only table inside that database.
// The target version of the latest row is the current version of the database;
// the whole set of rows is the history that conditional commands are evaluated against.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gocraft/dbr/v2"
	"github.com/google/uuid"

	"github.com/acronis/go-dbpatch"
	"github.com/acronis/go-dbpatch/patchfile"
)

// Runner executes ledger queries. Both *dbr.Session and *dbr.Tx implement it.
type Runner interface {
	dbr.SessionRunner
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Record is one row of the ledger: a patch that was applied successfully.
type Record struct {
	ID int64
	// Source is empty for INIT patches.
	Source     string
	Target     string
	Kind       patchfile.Kind
	Statements int
	AppliedAt  time.Time
	RunID      uuid.UUID
}

// State is the version state of a database derived from its ledger.
type State struct {
	// Version is empty when the ledger is absent or empty.
	Version string
	// Statements is the number of statements executed by all recorded patches.
	Statements int
	Rows       int
}

// History is the set of versions a database has passed through.
type History map[string]bool

// Contains implements patchfile.History.
func (h History) Contains(version string) bool {
	return h[version]
}

var _ patchfile.History = History(nil)

// Ledger reads and writes the ledger table of one dialect.
type Ledger struct {
	dialect dbpatch.Dialect
	table   string
	now     func() time.Time
}

// Option is a functional option for the Ledger.
type Option func(*Ledger)

// WithTable sets the name of the ledger table.
func WithTable(name string) Option {
	return func(l *Ledger) {
		l.table = name
	}
}

// WithClock sets the source of the applied_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a ledger for the dialect.
func New(dialect dbpatch.Dialect, opts ...Option) (*Ledger, error) {
	l := &Ledger{dialect: dialect, table: dbpatch.DefaultLedgerTable, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if !validTableName(l.table) {
		return nil, fmt.Errorf("invalid ledger table name %q", l.table)
	}
	if _, err := createTableSQL(dialect, l.table); err != nil {
		return nil, err
	}
	return l, nil
}

// Table returns the name of the ledger table.
func (l *Ledger) Table() string {
	return l.table
}

// Ensure creates the ledger table if it doesn't exist.
func (l *Ledger) Ensure(ctx context.Context, r Runner) error {
	createSQL, err := createTableSQL(l.dialect, l.table)
	if err != nil {
		return err
	}
	if _, err = r.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// Exists reports whether the ledger table exists.
func (l *Ledger) Exists(ctx context.Context, r Runner) (bool, error) {
	query, err := tableExistsSQL(l.dialect)
	if err != nil {
		return false, err
	}
	var n int
	if err = r.SelectBySql(query, catalogName(l.dialect, l.table)).LoadOneContext(ctx, &n); err != nil {
		return false, fmt.Errorf("check ledger table: %w", err)
	}
	return n > 0, nil
}

type recordRow struct {
	ID             int64          `db:"id"`
	SourceVersion  sql.NullString `db:"source_version"`
	TargetVersion  string         `db:"target_version"`
	PatchKind      string         `db:"patch_kind"`
	StatementCount int            `db:"statement_count"`
	AppliedAt      time.Time      `db:"applied_at"`
	RunID          string         `db:"run_id"`
}

// Records returns every row of the ledger in the order they were appended.
// No records are returned when the table doesn't exist.
func (l *Ledger) Records(ctx context.Context, r Runner) ([]Record, error) {
	exists, err := l.Exists(ctx, r)
	if err != nil || !exists {
		return nil, err
	}
	var rows []recordRow
	if _, err = r.Select("id", "source_version", "target_version", "patch_kind", "statement_count", "applied_at", "run_id").
		From(l.table).
		OrderBy("id").
		LoadContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("load ledger records: %w", err)
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := Record{
			ID:         row.ID,
			Source:     row.SourceVersion.String,
			Target:     row.TargetVersion,
			Statements: row.StatementCount,
			AppliedAt:  row.AppliedAt,
		}
		rec.Kind, _ = patchfile.ParseKind(row.PatchKind)
		if rec.RunID, err = uuid.Parse(row.RunID); err != nil {
			return nil, fmt.Errorf("ledger record %d: invalid run id %q: %w", row.ID, row.RunID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// StateOf derives the version state from ledger records.
func StateOf(records []Record) State {
	var st State
	for _, rec := range records {
		st.Statements += rec.Statements
	}
	st.Rows = len(records)
	if len(records) != 0 {
		st.Version = records[len(records)-1].Target
	}
	return st
}

// HistoryOf returns the versions recorded as targets of applied patches.
func HistoryOf(records []Record) History {
	h := make(History, len(records))
	for _, rec := range records {
		h[rec.Target] = true
	}
	return h
}

// Current returns the version state of the database.
func (l *Ledger) Current(ctx context.Context, r Runner) (State, error) {
	records, err := l.Records(ctx, r)
	if err != nil {
		return State{}, err
	}
	return StateOf(records), nil
}

// History returns the versions the database has passed through.
func (l *Ledger) History(ctx context.Context, r Runner) (History, error) {
	records, err := l.Records(ctx, r)
	if err != nil {
		return nil, err
	}
	return HistoryOf(records), nil
}

// Append adds a row for an applied patch. AppliedAt is set from the ledger clock when zero.
func (l *Ledger) Append(ctx context.Context, r Runner, rec Record) error {
	if rec.AppliedAt.IsZero() {
		rec.AppliedAt = l.now()
	}
	if _, err := r.InsertInto(l.table).
		Pair("source_version", sql.NullString{String: rec.Source, Valid: rec.Source != ""}).
		Pair("target_version", rec.Target).
		Pair("patch_kind", rec.Kind.String()).
		Pair("statement_count", rec.Statements).
		Pair("applied_at", rec.AppliedAt.UTC()).
		Pair("run_id", rec.RunID.String()).
		ExecContext(ctx); err != nil {
		return fmt.Errorf("append ledger record %s: %w", rec.Target, err)
	}
	return nil
}
