/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package testing starts throwaway database servers in containers for integration tests.
package testing

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mariadb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/acronis/go-dbpatch"
)

const (
	postgresImage = "postgres:16-alpine"
	mariadbImage  = "mariadb:11.4"

	testDBName     = "dbpatch_test"
	testDBUser     = "dbpatch"
	testDBPassword = "dbpatch-password"
)

// StopFunc terminates a started container.
type StopFunc func(ctx context.Context) error

// RunTestDB starts a database server for the dialect and returns the URL of an empty database on it.
// Postgres (both drivers) and MySQL (served by MariaDB) are supported.
func RunTestDB(ctx context.Context, dialect dbpatch.Dialect) (string, StopFunc, error) {
	switch dialect {
	case dbpatch.DialectPostgres, dbpatch.DialectPgx:
		ctr, err := postgres.Run(ctx, postgresImage,
			postgres.WithDatabase(testDBName),
			postgres.WithUsername(testDBUser),
			postgres.WithPassword(testDBPassword),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			return "", nil, fmt.Errorf("run postgres container: %w", err)
		}
		url, err := ctr.ConnectionString(ctx, "sslmode=disable")
		return withStop(url, err, ctr)

	case dbpatch.DialectMySQL:
		ctr, err := mariadb.Run(ctx, mariadbImage,
			mariadb.WithDatabase(testDBName),
			mariadb.WithUsername(testDBUser),
			mariadb.WithPassword(testDBPassword),
		)
		if err != nil {
			return "", nil, fmt.Errorf("run mariadb container: %w", err)
		}
		url, err := ctr.ConnectionString(ctx, "multiStatements=true")
		return withStop(url, err, ctr)
	}
	return "", nil, fmt.Errorf("no test container for dialect %q", dialect)
}

// MustRunTestDB is like RunTestDB but panics on error.
func MustRunTestDB(ctx context.Context, dialect dbpatch.Dialect) (string, StopFunc) {
	url, stop, err := RunTestDB(ctx, dialect)
	if err != nil {
		panic(err)
	}
	return url, stop
}

func withStop(url string, err error, ctr testcontainers.Container) (string, StopFunc, error) {
	stop := func(ctx context.Context) error {
		return ctr.Terminate(ctx)
	}
	if err != nil {
		_ = stop(context.Background())
		return "", nil, fmt.Errorf("get connection string: %w", err)
	}
	return url, stop, nil
}
