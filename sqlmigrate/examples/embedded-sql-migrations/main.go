/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	stdlog "log"
	"os"

	"github.com/acronis/go-appkit/log"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/acronis/go-dbpatch"
	"github.com/acronis/go-dbpatch/progress"
	"github.com/acronis/go-dbpatch/sqlmigrate"
	"github.com/acronis/go-dbpatch/upgrade"
)

//go:embed migrations/mysql/*.sql
//go:embed migrations/postgres/*.sql
var migrationFS embed.FS

func main() {
	if err := runUpgrade(); err != nil {
		stdlog.Fatal(err)
	}
}

func runUpgrade() error {
	var driverName, target string
	flag.StringVar(&driverName, "driver", "", "driver name, supported values: mysql, postgres, pgx")
	flag.StringVar(&target, "target", "0002_users_email.sql", "target migration ID")
	flag.Parse()

	dialect, err := dbpatch.ParseDialect(driverName)
	if err != nil {
		return fmt.Errorf("parse dialect: %w", err)
	}
	dirName := "migrations/postgres"
	if dialect == dbpatch.DialectMySQL {
		dirName = "migrations/mysql"
	}

	// Existing sql-migrate migrations become patches: the first one is INIT, every next one is an UPGRADE
	// from the previous ID, and Down parts become DOWNGRADE patches.
	patches, err := sqlmigrate.Import(migrate.EmbedFileSystemMigrationSource{FileSystem: migrationFS, Root: dirName})
	if err != nil {
		return fmt.Errorf("import migrations: %w", err)
	}

	cfg := dbpatch.NewDefaultConfig()
	cfg.DowngradeAllowed = true
	cfg.Connections = map[string]dbpatch.ConnectionConfig{
		dbpatch.DefaultConnectionName: {Dialect: dialect, URL: os.Getenv("DB_DSN")},
	}

	logger, loggerClose := log.NewLogger(&log.Config{Output: log.OutputStderr, Level: log.LevelInfo})
	defer loggerClose()

	u, err := upgrade.NewUpgrader(cfg,
		upgrade.WithPatchSource(patches),
		upgrade.WithLogger(logger),
		upgrade.WithListener(progress.NewLogListener(logger, nil)),
		upgrade.WithExclusiveLock(0),
	)
	if err != nil {
		return err
	}
	defer func() { _ = u.Close() }()

	return u.Upgrade(context.Background(), target)
}
