/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package sqlmigrate converts migrations written for github.com/rubenv/sql-migrate into patches,
// so projects can move their schema history to upgrade files without rewriting it.
//
// Migration IDs become versions. The first migration is turned into an INIT patch,
// every next one into an UPGRADE patch from the previous ID, and its Down part into the reverse DOWNGRADE patch.
package sqlmigrate

import (
	"fmt"
	"strings"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/afero"

	"github.com/acronis/go-dbpatch/patchfile"
)

// DefaultSourceName is the name of the imported source unless WithName is given.
const DefaultSourceName = "sql-migrate"

// Option is a functional option for Import.
type Option func(*importOptions)

type importOptions struct {
	name        string
	connection  string
	noDowngrade bool
}

// WithName sets the name of the imported source.
func WithName(name string) Option {
	return func(o *importOptions) {
		o.name = name
	}
}

// WithConnection directs every imported command at the named connection.
func WithConnection(name string) Option {
	return func(o *importOptions) {
		o.connection = name
	}
}

// WithoutDowngrades skips the Down parts of migrations.
func WithoutDowngrades() Option {
	return func(o *importOptions) {
		o.noDowngrade = true
	}
}

// Import reads the migrations of src in sql-migrate order and converts them into patches.
func Import(src migrate.MigrationSource, opts ...Option) (*patchfile.Memory, error) {
	o := importOptions{name: DefaultSourceName, connection: patchfile.DefaultConnection}
	for _, opt := range opts {
		opt(&o)
	}

	migrations, err := src.FindMigrations()
	if err != nil {
		return nil, fmt.Errorf("find migrations: %w", err)
	}
	if len(migrations) == 0 {
		return nil, fmt.Errorf("no migrations found")
	}

	mem := patchfile.NewMemory(o.name)
	prev := ""
	for _, m := range migrations {
		if m.DisableTransactionUp || (m.DisableTransactionDown && !o.noDowngrade) {
			return nil, fmt.Errorf("migration %s: non-transactional migrations cannot be imported", m.Id)
		}
		kind := patchfile.KindUpgrade
		if prev == "" {
			kind = patchfile.KindInit
		}
		if err = mem.Add(kind, prev, m.Id, o.commands(m.Up)...); err != nil {
			return nil, fmt.Errorf("migration %s: %w", m.Id, err)
		}
		if prev != "" && !o.noDowngrade && len(m.Down) != 0 {
			if err = mem.Add(patchfile.KindDowngrade, m.Id, prev, o.commands(m.Down)...); err != nil {
				return nil, fmt.Errorf("migration %s: %w", m.Id, err)
			}
		}
		prev = m.Id
	}
	return mem, nil
}

// ImportDir imports the *.sql migrations of a directory of fs.
func ImportDir(fs afero.Fs, dir string, opts ...Option) (*patchfile.Memory, error) {
	return Import(migrate.HttpFileSystemMigrationSource{FileSystem: afero.NewHttpFs(fs).Dir(dir)}, opts...)
}

func (o importOptions) commands(stmts []string) []patchfile.Command {
	cmds := make([]patchfile.Command, 0, len(stmts))
	for i, stmt := range stmts {
		text := strings.TrimSpace(stmt)
		if text == "" {
			continue
		}
		cmds = append(cmds, patchfile.Command{Text: text, Connection: o.connection, Line: i + 1})
	}
	return cmds
}
