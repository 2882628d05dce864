/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbpatch

import (
	"context"
	"database/sql"
	"fmt"

	// Drivers for every supported dialect.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

// Open opens a database of the given dialect with the credentials injected into the DSN.
// If ping is true, the database is pinged right after opening.
func Open(dialect Dialect, dsn, username, password string, ping bool) (*sql.DB, error) {
	fullDSN, err := MakeDSN(dialect, dsn, username, password)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.DriverName(), fullDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if ping {
		if err = db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
	}
	return db, nil
}

// DoInTx begins a new transaction, calls passed function and do commit or rollback
// depending on whether the function returns an error or not.
// Unlike a retrying transaction runner, DoInTx never repeats fn: schema changes are not safely repeatable.
func DoInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if err = tx.Commit(); err != nil {
			err = fmt.Errorf("commit tx: %w", err)
		}
	}()
	return fn(tx)
}
