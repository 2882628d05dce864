/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package patchfile

import (
	"io"
	"strings"
)

// OpenScript opens a plain SQL script: commands with the same directives as patch bodies
// (SET MESSAGE, SELECT CONNECTION, DELIMITER) but no patch blocks and no version bookkeeping.
// History conditions are accepted too; they are evaluated against the ledger when it exists.
// The script is streamed, syntax errors surface through the iterator's Err.
func OpenScript(r io.Reader, name string) (CommandIterator, error) {
	lr := newLineReader(r, name, 0, 0)
	if err := lr.readEncoding(); err != nil {
		return nil, err
	}
	return &scriptCommands{lines: lr, body: newBodyScanner(name)}, nil
}

type scriptCommands struct {
	lines *lineReader
	body  *bodyScanner
	cur   Command
	err   error
	done  bool
}

func (it *scriptCommands) Next() bool {
	for !it.done {
		l, ok, err := it.lines.next()
		if err != nil {
			return it.fail(err)
		}
		if !ok {
			it.done = true
			cmd, err := it.body.finish(it.lines.lineNo)
			if err != nil {
				return it.fail(err)
			}
			if cmd == nil {
				return false
			}
			it.cur = *cmd
			return true
		}
		if d, isDirective := parseDirective(strings.TrimSpace(l.text)); isDirective && d.startsPatch() {
			return it.fail(&ParseError{Name: it.lines.name, Line: l.no, Msg: "patch blocks are not allowed in a script"})
		}
		cmd, err := it.body.feed(l)
		if err != nil {
			return it.fail(err)
		}
		if cmd != nil {
			it.cur = *cmd
			return true
		}
	}
	return false
}

func (it *scriptCommands) fail(err error) bool {
	it.err = err
	it.done = true
	return false
}

func (it *scriptCommands) Command() Command {
	return it.cur
}

func (it *scriptCommands) Err() error {
	return it.err
}

func (it *scriptCommands) Close() error {
	it.done = true
	return nil
}
