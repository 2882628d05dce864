/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbpatch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/require"
)

func TestDriverErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "not a driver error", err: errors.New("boom"), want: ""},
		{name: "mysql", err: &mysql.MySQLError{Number: 1050, Message: "Table 'users' already exists"}, want: "1050"},
		{name: "pgx", err: &pgconn.PgError{Code: "42P07"}, want: "42P07"},
		{name: "lib/pq", err: &pq.Error{Code: "23505"}, want: "23505"},
		{name: "sqlite", err: sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, want: "2067"},
		{name: "mssql", err: mssql.Error{Number: 2714}, want: "2714"},
		{name: "wrapped", err: fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40001"}), want: "40001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DriverErrorCode(tt.err))
		})
	}
}

func TestConfigError(t *testing.T) {
	require.EqualError(t, &ConfigError{Msg: "target version is not set"}, "config: target version is not set")
	require.EqualError(t, &ConfigError{Connection: "audit", Msg: "missing url"}, `config: connection "audit": missing url`)
	require.EqualError(t, &UnsupportedOperationError{Op: "password prompt"}, "unsupported operation: password prompt")
}
