/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package patchfile

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenScript(t *testing.T) {
	script := `--* ENCODING "UTF-8"
-- maintenance
--* SET MESSAGE "Cleanup"
DELETE FROM sessions;
--* SELECT CONNECTION reporting
VACUUM
`
	it, err := OpenScript(strings.NewReader(script), "cleanup.sql")
	require.NoError(t, err)

	cmds := readAll(t, it)
	require.Len(t, cmds, 2)
	assert.Equal(t, "DELETE FROM sessions", cmds[0].Text)
	assert.Equal(t, "Cleanup", cmds[0].Message)
	assert.Equal(t, DefaultConnection, cmds[0].Connection)
	assert.Equal(t, "VACUUM", cmds[1].Text)
	assert.Equal(t, "reporting", cmds[1].Connection)
	assert.Equal(t, 6, cmds[1].Line)
}

func TestOpenScript_RejectsPatchBlocks(t *testing.T) {
	it, err := OpenScript(strings.NewReader("SELECT 1;\n--* UPGRADE \"1.0\" --> \"1.1\"\n"), "script.sql")
	require.NoError(t, err)

	assert.True(t, it.Next())
	assert.False(t, it.Next())

	var parseErr *ParseError
	require.True(t, errors.As(it.Err(), &parseErr))
	assert.Equal(t, 2, parseErr.Line)
}

func TestOpenScript_UnknownEncoding(t *testing.T) {
	_, err := OpenScript(strings.NewReader("--* ENCODING \"KLINGON\"\nSELECT 1;\n"), "script.sql")
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, 1, parseErr.Line)
}

func TestMemory(t *testing.T) {
	m := NewMemory("memory")
	require.NoError(t, m.Add(KindInit, "", "1", Command{Text: "CREATE TABLE t (id INT)"}))
	require.NoError(t, m.Add(KindUpgrade, "1", "2", Command{Text: "ALTER TABLE t ADD x INT", Connection: "other"}))

	assert.Error(t, m.Add(KindUpgrade, "1", "2"), "duplicate")
	assert.Error(t, m.Add(KindInit, "1", "2"), "init with source")
	assert.Error(t, m.Add(KindDowngrade, "", "1"), "downgrade without source")

	patches := m.Patches()
	require.Len(t, patches, 2)

	cmds := readAll(t, m.Commands(patches[0]))
	require.Len(t, cmds, 1)
	assert.Equal(t, DefaultConnection, cmds[0].Connection)

	cmds = readAll(t, m.Commands(patches[1]))
	require.Len(t, cmds, 1)
	assert.Equal(t, "other", cmds[0].Connection)

	// Unlike a file, memory can be read again.
	assert.Len(t, readAll(t, m.Commands(patches[1])), 1)
}
