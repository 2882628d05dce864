/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbpatch

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"
)

// ConfigError is returned when the connection configuration is unusable:
// the default connection is missing, a dialect or URL cannot be resolved, or credentials are absent.
type ConfigError struct {
	Connection string
	Msg        string
}

func (e *ConfigError) Error() string {
	if e.Connection == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: connection %q: %s", e.Connection, e.Msg)
}

// UnsupportedOperationError is returned when the caller cannot serve a request of the engine,
// e.g. an interactive password prompt in a non-interactive embedding.
type UnsupportedOperationError struct {
	Op string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation: %s", e.Op)
}

// DriverErrorCode extracts the driver-specific error code from an error returned by one of the supported
// database/sql drivers (MySQL error number, Postgres SQLSTATE, SQLite extended code, MSSQL error number).
// An empty string is returned when err doesn't come from a known driver.
func DriverErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return strconv.Itoa(int(mysqlErr.Number))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strconv.Itoa(int(sqliteErr.ExtendedCode))
	}

	var mssqlErr mssql.Error
	if errors.As(err, &mssqlErr) {
		return strconv.Itoa(int(mssqlErr.Number))
	}

	return ""
}
