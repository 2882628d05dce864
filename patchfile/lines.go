/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package patchfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultEncoding is used when the upgrade file doesn't declare one.
const DefaultEncoding = "UTF-8"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type line struct {
	no   int
	text string
}

// lineReader reads decoded lines and keeps track of the byte offset of the next unread line,
// so a patch body can be found again with a single seek.
type lineReader struct {
	name     string
	br       *bufio.Reader
	dec      *encoding.Decoder
	encoding string
	declared string
	lineNo   int
	offset   int64
	pending  *line
}

func newLineReader(r io.Reader, name string, lineNo int, offset int64) *lineReader {
	return &lineReader{
		name:     name,
		br:       bufio.NewReader(r),
		encoding: DefaultEncoding,
		lineNo:   lineNo,
		offset:   offset,
	}
}

func (lr *lineReader) unread(l line) {
	lr.pending = &l
}

func (lr *lineReader) next() (line, bool, error) {
	if lr.pending != nil {
		l := *lr.pending
		lr.pending = nil
		return l, true, nil
	}

	raw, err := lr.br.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return line{}, false, &ParseError{Name: lr.name, Line: lr.lineNo + 1, Msg: "read failed", Err: err}
	}
	if len(raw) == 0 {
		return line{}, false, nil
	}
	consumed := int64(len(raw))
	if lr.offset == 0 {
		raw = bytes.TrimPrefix(raw, utf8BOM)
	}
	lr.lineNo++
	lr.offset += consumed
	raw = bytes.TrimRight(raw, "\r\n")

	if lr.dec == nil {
		if !utf8.Valid(raw) {
			return line{}, false, &ParseError{
				Name: lr.name, Line: lr.lineNo, Encoding: lr.encoding, Msg: "content is not valid character data"}
		}
		return line{lr.lineNo, string(raw)}, true, nil
	}
	decoded, err := lr.dec.Bytes(raw)
	if err != nil {
		return line{}, false, &ParseError{
			Name: lr.name, Line: lr.lineNo, Encoding: lr.encoding, Msg: "content cannot be decoded", Err: err}
	}
	return line{lr.lineNo, string(decoded)}, true, nil
}

// setEncoding switches decoding of the following lines.
func (lr *lineReader) setEncoding(name string) error {
	dec, canonical, err := lookupDecoder(name)
	if err != nil {
		return &ParseError{Name: lr.name, Line: lr.lineNo, Encoding: name, Msg: err.Error()}
	}
	lr.dec = dec
	lr.encoding = canonical
	lr.declared = name
	return nil
}

// readEncoding consumes the ENCODING declaration if the first non-empty line is one.
func (lr *lineReader) readEncoding() error {
	for {
		l, ok, err := lr.next()
		if err != nil || !ok {
			return err
		}
		trimmed := strings.TrimSpace(l.text)
		if trimmed == "" {
			continue
		}
		d, isDirective := parseDirective(trimmed)
		if !isDirective || d.word != "ENCODING" {
			lr.unread(l)
			return nil
		}
		name, rest, err := unquote(d.rest)
		if err != nil || rest != "" || name == "" {
			return &ParseError{Name: lr.name, Line: l.no, Msg: `malformed ENCODING directive, expected --* ENCODING "<name>"`}
		}
		return lr.setEncoding(name)
	}
}

func lookupDecoder(name string) (*encoding.Decoder, string, error) {
	if strings.EqualFold(name, "UTF-8") || strings.EqualFold(name, "UTF8") {
		return nil, DefaultEncoding, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, "", fmt.Errorf("unknown encoding")
	}
	if enc == nil {
		return nil, "", fmt.Errorf("unsupported encoding")
	}
	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil {
		canonical = name
	}
	upper := strings.ToUpper(canonical)
	if strings.HasPrefix(upper, "UTF-16") || strings.HasPrefix(upper, "UTF-32") {
		return nil, "", fmt.Errorf("encoding is not line-oriented")
	}
	if upper == "UTF-8" {
		return nil, DefaultEncoding, nil
	}
	return enc.NewDecoder(), canonical, nil
}
