/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gocraft/dbr/v2"
	"github.com/gocraft/dbr/v2/dialect"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dbpatch"
	"github.com/acronis/go-dbpatch/patchfile"
)

func openSQLiteSession(t *testing.T) *dbr.Session {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	conn := &dbr.Connection{DB: db, Dialect: dialect.SQLite3, EventReceiver: &dbr.NullEventReceiver{}}
	return conn.NewSession(nil)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(dbpatch.DialectSQLite, WithTable("version log"))
	assert.Error(t, err)

	_, err = New(dbpatch.Dialect("oracle"))
	assert.Error(t, err)

	l, err := New(dbpatch.DialectPostgres)
	require.NoError(t, err)
	assert.Equal(t, dbpatch.DefaultLedgerTable, l.Table())
}

func TestLedger_SQLite(t *testing.T) {
	ctx := context.Background()
	sess := openSQLiteSession(t)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, err := New(dbpatch.DialectSQLite, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	exists, err := l.Exists(ctx, sess)
	require.NoError(t, err)
	assert.False(t, exists)

	st, err := l.Current(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, State{}, st, "absent ledger means no version")

	require.NoError(t, l.Ensure(ctx, sess))
	require.NoError(t, l.Ensure(ctx, sess), "ensure must be repeatable")

	exists, err = l.Exists(ctx, sess)
	require.NoError(t, err)
	assert.True(t, exists)

	runID := uuid.New()
	require.NoError(t, l.Append(ctx, sess, Record{Target: "1.0", Kind: patchfile.KindInit, Statements: 1, RunID: runID}))
	require.NoError(t, l.Append(ctx, sess, Record{Source: "1.0", Target: "1.0.2", Kind: patchfile.KindUpgrade, Statements: 2, RunID: runID}))

	records, err := l.Records(ctx, sess)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "", records[0].Source)
	assert.Equal(t, patchfile.KindInit, records[0].Kind)
	assert.Equal(t, "1.0", records[1].Source)
	assert.Equal(t, runID, records[1].RunID)
	assert.True(t, fixed.Equal(records[1].AppliedAt), "applied_at %v", records[1].AppliedAt)

	st, err = l.Current(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, State{Version: "1.0.2", Statements: 3, Rows: 2}, st)

	h, err := l.History(ctx, sess)
	require.NoError(t, err)
	assert.True(t, h.Contains("1.0"))
	assert.True(t, h.Contains("1.0.2"))
	assert.False(t, h.Contains("1.1"))
}

func TestLedger_AppendInsideTransaction(t *testing.T) {
	ctx := context.Background()
	sess := openSQLiteSession(t)
	l, err := New(dbpatch.DialectSQLite, WithTable("custom_ledger"))
	require.NoError(t, err)

	tx, err := sess.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, l.Ensure(ctx, tx))
	require.NoError(t, l.Append(ctx, tx, Record{Target: "1.0", Kind: patchfile.KindInit, RunID: uuid.New()}))
	require.NoError(t, tx.Rollback())

	exists, err := l.Exists(ctx, sess)
	require.NoError(t, err)
	assert.False(t, exists, "rolled back INIT must leave no ledger behind")
}

func TestLedger_Postgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sess := (&dbr.Connection{DB: db, Dialect: dialect.PostgreSQL, EventReceiver: &dbr.NullEventReceiver{}}).NewSession(nil)

	l, err := New(dbpatch.DialectPostgres, WithTable("Version_Log"))
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM information_schema.tables WHERE table_schema = current_schema\(\) AND table_name = 'version_log'`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	exists, err := l.Exists(context.Background(), sess)
	require.NoError(t, err)
	assert.False(t, exists)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS Version_Log \(\s+id BIGSERIAL PRIMARY KEY`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, l.Ensure(context.Background(), sess))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, State{}, StateOf(nil))
	assert.Equal(t, State{Version: "2", Statements: 5, Rows: 2}, StateOf([]Record{
		{Target: "1", Statements: 2},
		{Source: "1", Target: "2", Statements: 3},
	}))
}
