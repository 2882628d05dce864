/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package patchfile

import (
	"fmt"
	"io"
	"strings"
)

// File is an opened upgrade file. Open indexes the patch headers; the commands of a patch
// are streamed from the underlying reader only when requested, so the file is never held in memory.
type File struct {
	name     string
	r        io.ReadSeeker
	encoding string
	declared string
	patches  []Patch
	consumed map[int]bool
	reading  bool
}

var _ Source = (*File)(nil)

// Open reads the upgrade file once to find its encoding and patch headers and to validate its syntax.
// The reader must stay available for File.Commands until the upgrade is finished.
func Open(r io.ReadSeeker, name string) (*File, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, &ParseError{Name: name, Msg: "seek failed", Err: err}
	}
	lr := newLineReader(r, name, 0, 0)
	if err := lr.readEncoding(); err != nil {
		return nil, err
	}

	f := &File{name: name, r: r, encoding: lr.encoding, declared: lr.declared, consumed: make(map[int]bool)}
	seen := make(map[patchKey]int)

	var cur *Patch
	var body *bodyScanner
	for {
		l, ok, err := lr.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		trimmed := strings.TrimSpace(l.text)
		d, isDirective := parseDirective(trimmed)

		if cur == nil {
			if !isDirective {
				if trimmed == "" || strings.HasPrefix(trimmed, "--") {
					continue
				}
				return nil, &ParseError{Name: name, Line: l.no, Msg: "statement outside of a patch block"}
			}
			p, err := parsePatchHeader(name, l.no, d)
			if err != nil {
				return nil, err
			}
			if prev, dup := seen[p.key()]; dup {
				return nil, &ParseError{Name: name, Line: l.no,
					Msg: fmt.Sprintf("duplicate patch %s, first declared at line %d", p, prev)}
			}
			seen[p.key()] = l.no
			p.Order = len(f.patches)
			p.offset = lr.offset
			cur, body = &p, newBodyScanner(name)
			continue
		}

		if isDirective {
			switch {
			case d.isEndOf(cur.Kind):
				if _, err = body.finish(l.no); err != nil {
					return nil, err
				}
				f.patches = append(f.patches, *cur)
				cur = nil
				continue
			case d.startsPatch():
				return nil, &ParseError{Name: name, Line: l.no,
					Msg: fmt.Sprintf("patch %s started at line %d is not closed with --* /%s", cur, cur.Line, cur.Kind)}
			case strings.HasPrefix(d.word, "/") && d.word != "/IF":
				return nil, &ParseError{Name: name, Line: l.no,
					Msg: fmt.Sprintf("unexpected --* %s, expected --* /%s", d.word, cur.Kind)}
			case d.word == "ENCODING":
				return nil, &ParseError{Name: name, Line: l.no, Msg: "ENCODING must be declared on the first line"}
			}
		}
		if _, err = body.feed(l); err != nil {
			return nil, err
		}
	}
	if cur != nil {
		return nil, &ParseError{Name: name, Line: cur.Line,
			Msg: fmt.Sprintf("patch %s is not closed with --* /%s", cur, cur.Kind)}
	}
	return f, nil
}

func parsePatchHeader(name string, lineNo int, d directive) (Patch, error) {
	kind, ok := ParseKind(d.word)
	if !ok {
		if d.word == "ENCODING" {
			return Patch{}, &ParseError{Name: name, Line: lineNo, Msg: "ENCODING must be declared on the first line"}
		}
		if strings.HasPrefix(d.word, "/") {
			return Patch{}, &ParseError{Name: name, Line: lineNo, Msg: fmt.Sprintf("unexpected --* %s outside of a patch block", d.word)}
		}
		return Patch{}, &ParseError{Name: name, Line: lineNo, Msg: fmt.Sprintf("unknown patch type %q", d.word)}
	}
	source, target, err := parseHeader(kind, d.rest)
	if err != nil {
		return Patch{}, &ParseError{Name: name, Line: lineNo, Msg: err.Error()}
	}
	return Patch{Kind: kind, Source: source, Target: target, Line: lineNo}, nil
}

// Name returns the name the file was opened with.
func (f *File) Name() string {
	return f.name
}

// Encoding returns the declared encoding of the file, DefaultEncoding if none is declared.
func (f *File) Encoding() string {
	return f.encoding
}

// Patches returns the patch headers in declaration order.
func (f *File) Patches() []Patch {
	return append([]Patch(nil), f.patches...)
}

// Commands returns the commands of the patch. Commands of every patch can be read only once,
// and only one patch can be read at a time.
func (f *File) Commands(p Patch) CommandIterator {
	if p.Order < 0 || p.Order >= len(f.patches) || f.patches[p.Order].key() != p.key() {
		return errIterator{fmt.Errorf("patch %s does not belong to %s", p, f.name)}
	}
	if f.consumed[p.Order] {
		return errIterator{fmt.Errorf("commands of patch %s have already been read", p)}
	}
	if f.reading {
		return errIterator{fmt.Errorf("commands of another patch of %s are being read", f.name)}
	}
	p = f.patches[p.Order]
	if _, err := f.r.Seek(p.offset, io.SeekStart); err != nil {
		return errIterator{&ParseError{Name: f.name, Line: p.Line, Msg: "seek failed", Err: err}}
	}
	lr := newLineReader(f.r, f.name, p.Line, p.offset)
	if f.declared != "" {
		if err := lr.setEncoding(f.declared); err != nil {
			return errIterator{err}
		}
	}
	f.consumed[p.Order] = true
	f.reading = true
	return &fileCommands{file: f, patch: p, lines: lr, body: newBodyScanner(f.name)}
}

type fileCommands struct {
	file  *File
	patch Patch
	lines *lineReader
	body  *bodyScanner
	cur   Command
	err   error
	done  bool
}

func (it *fileCommands) Next() bool {
	for !it.done {
		l, ok, err := it.lines.next()
		if err != nil {
			return it.fail(err)
		}
		if !ok {
			return it.fail(&ParseError{Name: it.file.name, Line: it.patch.Line,
				Msg: fmt.Sprintf("patch %s is not closed with --* /%s", it.patch, it.patch.Kind)})
		}
		if d, isDirective := parseDirective(strings.TrimSpace(l.text)); isDirective && d.isEndOf(it.patch.Kind) {
			it.done = true
			cmd, err := it.body.finish(l.no)
			if err != nil {
				return it.fail(err)
			}
			if cmd == nil {
				return false
			}
			it.cur = *cmd
			return true
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

func (it *fileCommands) fail(err error) bool {
	it.err = err
	it.done = true
	return false
}

func (it *fileCommands) Command() Command {
	return it.cur
}

func (it *fileCommands) Err() error {
	return it.err
}

func (it *fileCommands) Close() error {
	it.done = true
	it.file.reading = false
	return nil
}
