/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbpatch

import (
	"fmt"

	"github.com/gocraft/dbr/v2"
	"github.com/gocraft/dbr/v2/dialect"
)

// Dialect defines possible values for planned supported SQL dialects.
type Dialect string

// SQL dialects.
const (
	DialectSQLite   Dialect = "sqlite3"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectPgx      Dialect = "pgx"
	DialectMSSQL    Dialect = "mssql"
)

// AllDialects returns all dialects known to the package.
func AllDialects() []Dialect {
	return []Dialect{DialectSQLite, DialectMySQL, DialectPostgres, DialectPgx, DialectMSSQL}
}

// ParseDialect converts a driver name into a Dialect.
func ParseDialect(s string) (Dialect, error) {
	for _, d := range AllDialects() {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dialect %q", s)
}

// DriverName returns the name under which the database/sql driver for the dialect is registered.
func (d Dialect) DriverName() string {
	return string(d)
}

// DBRDialect returns the query builder dialect used by gocraft/dbr.
func (d Dialect) DBRDialect() (dbr.Dialect, error) {
	switch d {
	case DialectMySQL:
		return dialect.MySQL, nil
	case DialectPostgres, DialectPgx:
		return dialect.PostgreSQL, nil
	case DialectSQLite:
		return dialect.SQLite3, nil
	case DialectMSSQL:
		return dialect.MSSQL, nil
	}
	return nil, fmt.Errorf("unsupported dialect: %s", d)
}
