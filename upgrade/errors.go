/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package upgrade

import (
	"fmt"

	"github.com/acronis/go-dbpatch"
	"github.com/acronis/go-dbpatch/graph"
	"github.com/acronis/go-dbpatch/patchfile"
)

// Errors of the other packages that an upgrade run can fail with.
type (
	// ParseError is returned for malformed or undecodable upgrade files and scripts.
	ParseError = patchfile.ParseError
	// NoPathError is returned when the requested version cannot be reached.
	NoPathError = graph.NoPathError
	// ConfigError is returned for unusable connection configuration.
	ConfigError = dbpatch.ConfigError
	// UnsupportedOperationError is returned when the caller cannot provide a withheld password.
	UnsupportedOperationError = dbpatch.UnsupportedOperationError
)

// CommandExecutionError is returned when a command of a patch fails. All transactions of the patch
// are rolled back; patches applied before it stay applied.
type CommandExecutionError struct {
	// Kind, Source and Target identify the patch. Source is empty for INIT patches and scripts.
	Kind       patchfile.Kind
	Source     string
	Target     string
	Connection string
	Command    patchfile.Command
	// Code is the driver error code (MySQL error number, SQLSTATE, ...), empty if unknown.
	Code string
	Err  error
}

func (e *CommandExecutionError) Error() string {
	var where string
	switch {
	case e.Target == "":
		where = "script"
	default:
		where = fmt.Sprintf("patch %s", patchfile.Patch{Kind: e.Kind, Source: e.Source, Target: e.Target})
	}
	msg := fmt.Sprintf("execute command at line %d of %s on connection %q", e.Command.Line, where, e.Connection)
	if e.Code != "" {
		msg += fmt.Sprintf(" (code %s)", e.Code)
	}
	return msg + ": " + e.Err.Error()
}

func (e *CommandExecutionError) Unwrap() error {
	return e.Err
}
