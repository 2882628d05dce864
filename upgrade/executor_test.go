/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package upgrade

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dbpatch"
	"github.com/acronis/go-dbpatch/conn"
	"github.com/acronis/go-dbpatch/patchfile"
)

func initOnlySource(t *testing.T) *patchfile.Memory {
	t.Helper()
	src := patchfile.NewMemory("memory")
	require.NoError(t, src.Add(patchfile.KindInit, "", "1.0",
		patchfile.Command{Text: "CREATE TABLE users (id INT)", Line: 1},
		patchfile.Command{Text: "CREATE INDEX users_id ON users (id)", Line: 2},
	))
	return src
}

func newPostgresUpgrader(t *testing.T, src patchfile.Source, opts ...Option) (*Upgrader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := dbpatch.NewDefaultConfig()
	cfg.Target = "1.0"
	cfg.Connections = map[string]dbpatch.ConnectionConfig{
		dbpatch.DefaultConnectionName: {Dialect: dbpatch.DialectPostgres, URL: "postgres://localhost:5432/app"},
	}
	openFn := func(dbpatch.Dialect, string, string, string) (*sql.DB, error) { return db, nil }
	u, err := NewUpgrader(cfg, append([]Option{
		WithPatchSource(src),
		WithConnectionOptions(conn.WithOpenFunc(openFn)),
	}, opts...)...)
	require.NoError(t, err)
	return u, mock
}

const pgLedgerExistsQuery = `SELECT COUNT\(\*\) FROM information_schema.tables WHERE table_schema = current_schema\(\) AND table_name = 'dbpatch_version_log'`

func TestExecutor_PatchTransaction(t *testing.T) {
	metrics := dbpatch.NewPrometheusMetrics()
	u, mock := newPostgresUpgrader(t, initOnlySource(t), WithMetrics(metrics))

	mock.ExpectQuery(pgLedgerExistsQuery).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS dbpatch_version_log`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE users \(id INT\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX users_id ON users \(id\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "dbpatch_version_log"`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, u.Upgrade(context.Background(), ""))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PatchesTotal.WithLabelValues("INIT", "ok")))
}

func TestExecutor_FailedCommandRollsBack(t *testing.T) {
	metrics := dbpatch.NewPrometheusMetrics()
	u, mock := newPostgresUpgrader(t, initOnlySource(t), WithMetrics(metrics))

	mock.ExpectQuery(pgLedgerExistsQuery).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS dbpatch_version_log`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE users \(id INT\)`).
		WillReturnError(&pgconn.PgError{Code: "42P07", Message: `relation "users" already exists`})
	mock.ExpectRollback()

	err := u.Upgrade(context.Background(), "")
	var cmdErr *CommandExecutionError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "42P07", cmdErr.Code)
	assert.Equal(t, 1, cmdErr.Command.Line)
	assert.Equal(t, "1.0", cmdErr.Target)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PatchesTotal.WithLabelValues("INIT", "failed")))
}

func TestExecutor_FailedLedgerAppendRollsBack(t *testing.T) {
	u, mock := newPostgresUpgrader(t, initOnlySource(t))

	mock.ExpectQuery(pgLedgerExistsQuery).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS dbpatch_version_log`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE users`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX users_id`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "dbpatch_version_log"`).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := u.Upgrade(context.Background(), "")
	require.ErrorIs(t, err, sql.ErrConnDone)
	require.NoError(t, mock.ExpectationsWereMet())
}
