/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package sqlmigrate

import (
	"context"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dbpatch"
	"github.com/acronis/go-dbpatch/patchfile"
	"github.com/acronis/go-dbpatch/upgrade"
)

func commandTexts(t *testing.T, src patchfile.Source, p patchfile.Patch) []string {
	t.Helper()
	it := src.Commands(p)
	defer func() { require.NoError(t, it.Close()) }()
	var texts []string
	for it.Next() {
		texts = append(texts, it.Command().Text)
	}
	require.NoError(t, it.Err())
	return texts
}

func TestImport(t *testing.T) {
	src := migrate.MemoryMigrationSource{Migrations: []*migrate.Migration{
		{Id: "2", Up: []string{"ALTER TABLE users ADD COLUMN email TEXT"}, Down: []string{"ALTER TABLE users DROP COLUMN email"}},
		{Id: "1", Up: []string{"CREATE TABLE users (id INTEGER)", " "}, Down: []string{"DROP TABLE users"}},
		{Id: "3", Up: []string{"CREATE INDEX users_email ON users (email)"}},
	}}

	mem, err := Import(src, WithName("legacy"))
	require.NoError(t, err)
	assert.Equal(t, "legacy", mem.Name())

	patches := mem.Patches()
	require.Len(t, patches, 4)
	assert.Equal(t, "INIT --> \"1\"", patches[0].String())
	assert.Equal(t, patchfile.KindUpgrade, patches[1].Kind)
	assert.Equal(t, "1", patches[1].Source)
	assert.Equal(t, "2", patches[1].Target)
	assert.Equal(t, patchfile.KindDowngrade, patches[2].Kind)
	assert.Equal(t, "2", patches[2].Source)
	assert.Equal(t, "1", patches[2].Target)
	assert.Equal(t, patchfile.KindUpgrade, patches[3].Kind)
	assert.Equal(t, "3", patches[3].Target)

	assert.Equal(t, []string{"CREATE TABLE users (id INTEGER)"}, commandTexts(t, mem, patches[0]))
	assert.Equal(t, []string{"ALTER TABLE users DROP COLUMN email"}, commandTexts(t, mem, patches[2]))
}

func TestImport_Options(t *testing.T) {
	src := migrate.MemoryMigrationSource{Migrations: []*migrate.Migration{
		{Id: "1", Up: []string{"CREATE TABLE a (id INTEGER)"}},
		{Id: "2", Up: []string{"CREATE TABLE b (id INTEGER)"}, Down: []string{"DROP TABLE b"}},
	}}

	mem, err := Import(src, WithoutDowngrades(), WithConnection("audit"))
	require.NoError(t, err)
	require.Len(t, mem.Patches(), 2)

	it := mem.Commands(mem.Patches()[1])
	require.True(t, it.Next())
	assert.Equal(t, "audit", it.Command().Connection)
	assert.Equal(t, 1, it.Command().Line)
}

func TestImport_Errors(t *testing.T) {
	_, err := Import(migrate.MemoryMigrationSource{})
	assert.Error(t, err)

	_, err = Import(migrate.MemoryMigrationSource{Migrations: []*migrate.Migration{
		{Id: "1", Up: []string{"CREATE INDEX CONCURRENTLY i ON t (c)"}, DisableTransactionUp: true},
	}})
	assert.ErrorContains(t, err, "non-transactional")
}

func TestImportDir_Upgrade(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "migrations/1_users.sql", []byte(`-- +migrate Up
CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);

-- +migrate Down
DROP TABLE users;
`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "migrations/2_users_email.sql", []byte(`-- +migrate Up
ALTER TABLE users ADD COLUMN email TEXT;
INSERT INTO users (name, email) VALUES ('admin', 'admin@example.com');

-- +migrate Down
DELETE FROM users;
`), 0o644))

	mem, err := ImportDir(fs, "migrations")
	require.NoError(t, err)
	require.Len(t, mem.Patches(), 3)

	cfg := dbpatch.NewDefaultConfig()
	cfg.Connections = map[string]dbpatch.ConnectionConfig{
		dbpatch.DefaultConnectionName: {Dialect: dbpatch.DialectSQLite, URL: filepath.Join(t.TempDir(), "app.db")},
	}
	u, err := upgrade.NewUpgrader(cfg, upgrade.WithPatchSource(mem))
	require.NoError(t, err)
	defer func() { require.NoError(t, u.Close()) }()

	ctx := context.Background()
	require.NoError(t, u.Upgrade(ctx, "2_users_email.sql"))

	state, err := u.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2_users_email.sql", state.Version)
	assert.Equal(t, 3, state.Statements)
}
