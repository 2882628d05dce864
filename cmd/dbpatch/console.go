/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"fmt"
	"io"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"

	"github.com/acronis/go-dbpatch/patchfile"
	"github.com/acronis/go-dbpatch/progress"
)

// consoleListener prints progress for a human: one line per patch with a dot per executed command.
type consoleListener struct {
	out     io.Writer
	verbose bool
	prompt  func(username string) (string, error)

	patchColor *color.Color
	okColor    *color.Color
	failColor  *color.Color
	noteColor  *color.Color

	// pending is true while the current line is still being written.
	pending bool
}

var _ progress.Listener = (*consoleListener)(nil)

func newConsoleListener(out io.Writer, verbose bool) *consoleListener {
	return &consoleListener{
		out:        out,
		verbose:    verbose,
		prompt:     askPassword,
		patchColor: color.New(color.FgCyan, color.Bold),
		okColor:    color.New(color.FgGreen),
		failColor:  color.New(color.FgRed, color.Bold),
		noteColor:  color.New(color.Faint),
	}
}

func askPassword(username string) (string, error) {
	var password string
	err := survey.AskOne(&survey.Password{Message: fmt.Sprintf("Password for user %s:", username)}, &password)
	return password, err
}

func (l *consoleListener) endLine() {
	if l.pending {
		fmt.Fprintln(l.out)
		l.pending = false
	}
}

func (l *consoleListener) OpeningPatchFile(name string) {
	l.endLine()
	l.noteColor.Fprintf(l.out, "Opening %s\n", name)
}

func (l *consoleListener) OpenedPatchFile(_, encoding string) {
	if l.verbose {
		l.noteColor.Fprintf(l.out, "Encoding is %s\n", encoding)
	}
}

func (l *consoleListener) PatchStarting(kind patchfile.Kind, source, target string) {
	l.endLine()
	if source == "" {
		l.patchColor.Fprintf(l.out, "%s to %q", progress.KindVerb(kind), target)
	} else {
		l.patchColor.Fprintf(l.out, "%s %q to %q", progress.KindVerb(kind), source, target)
	}
	l.pending = true
}

func (l *consoleListener) Executing(_ patchfile.Command, message string) {
	if message != "" {
		l.endLine()
		fmt.Fprintf(l.out, "    %s", message)
		l.pending = true
	}
}

func (l *consoleListener) Executed() {
	fmt.Fprint(l.out, ".")
	l.pending = true
}

func (l *consoleListener) Exception(cmd patchfile.Command, err error) {
	l.endLine()
	l.failColor.Fprintf(l.out, "Command at line %d failed: %v\n", cmd.Line, err)
}

func (l *consoleListener) PatchFinished() {
	if l.pending {
		l.okColor.Fprintln(l.out, " done")
		l.pending = false
	}
}

func (l *consoleListener) PatchingFinished() {
	l.endLine()
	l.okColor.Fprintln(l.out, "The database is upgraded.")
}

func (l *consoleListener) Debug(message string) {
	if l.verbose {
		l.endLine()
		l.noteColor.Fprintln(l.out, message)
	}
}

func (l *consoleListener) RequestPassword(username string) (string, error) {
	l.endLine()
	return l.prompt(username)
}
