/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package progress

import (
	"fmt"
	"strings"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-dbpatch/patchfile"
)

// Buffer accumulates the pieces of one progress line. It is owned by the caller,
// so several listeners (or several runs) can share the same line.
type Buffer struct {
	sb      strings.Builder
	started bool
}

// Start begins a new line. The previous line is returned if it wasn't flushed.
func (b *Buffer) Start(s string) string {
	prev := b.Flush()
	b.sb.WriteString(s)
	b.started = true
	return prev
}

// Append adds text to the current line, starting one if needed.
func (b *Buffer) Append(s string) {
	b.sb.WriteString(s)
	b.started = true
}

// Flush returns the current line and empties the buffer.
func (b *Buffer) Flush() string {
	if !b.started {
		return ""
	}
	s := b.sb.String()
	b.sb.Reset()
	b.started = false
	return s
}

// LogListener writes progress to a logger. Progress of a patch is collected into one line
// ("Upgrading "1.0" to "1.1"..."), which is logged when the patch finishes or a new message starts.
type LogListener struct {
	Nop
	logger log.FieldLogger
	buf    *Buffer
}

var _ Listener = (*LogListener)(nil)

// NewLogListener creates a listener writing to the logger. If buf is nil, the listener uses its own buffer.
func NewLogListener(logger log.FieldLogger, buf *Buffer) *LogListener {
	if buf == nil {
		buf = &Buffer{}
	}
	return &LogListener{logger: logger, buf: buf}
}

func (l *LogListener) flush() {
	if s := l.buf.Flush(); s != "" {
		l.logger.Info(s)
	}
}

func (l *LogListener) info(msg string) {
	l.flush()
	l.logger.Info(msg)
}

func (l *LogListener) OpeningPatchFile(name string) {
	l.info(fmt.Sprintf("Opening file '%s'", name))
}

func (l *LogListener) OpenedPatchFile(_, encoding string) {
	l.info(fmt.Sprintf("    Encoding is '%s'", encoding))
}

func (l *LogListener) PatchStarting(kind patchfile.Kind, source, target string) {
	l.flush()
	line := KindVerb(kind)
	if source == "" {
		line += fmt.Sprintf(" to %q", target)
	} else {
		line += fmt.Sprintf(" %q to %q", source, target)
	}
	l.buf.Start(line)
}

func (l *LogListener) Executing(_ patchfile.Command, message string) {
	if message != "" {
		l.flush()
		l.buf.Start(message)
	}
}

func (l *LogListener) Executed() {
	l.buf.Append(".")
}

func (l *LogListener) Exception(cmd patchfile.Command, err error) {
	l.flush()
	l.logger.Errorf("command at line %d failed: %v", cmd.Line, err)
}

func (l *LogListener) PatchFinished() {
	l.flush()
}

func (l *LogListener) PatchingFinished() {
	l.info("The database is upgraded.")
}

func (l *LogListener) Debug(message string) {
	l.flush()
	l.logger.Debug("DEBUG: " + message)
}

// KindVerb returns the progress verb of a patch kind ("Upgrading", "Switching", ...).
func KindVerb(kind patchfile.Kind) string {
	switch kind {
	case patchfile.KindInit:
		return "Initializing"
	case patchfile.KindUpgrade:
		return "Upgrading"
	case patchfile.KindSwitch:
		return "Switching"
	case patchfile.KindDowngrade:
		return "Downgrading"
	default:
		return "Patching"
	}
}
