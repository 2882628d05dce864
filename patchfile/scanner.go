/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package patchfile

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const directivePrefix = "--*"

// DefaultDelimiter terminates statements unless a block selects another one.
const DefaultDelimiter = ";"

type directive struct {
	word string
	rest string
}

// parseDirective recognizes "--* WORD rest" lines. The word is upper-cased.
func parseDirective(trimmed string) (directive, bool) {
	if !strings.HasPrefix(trimmed, directivePrefix) {
		return directive{}, false
	}
	body := strings.TrimSpace(trimmed[len(directivePrefix):])
	word, rest := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		word, rest = body[:i], strings.TrimSpace(body[i:])
	}
	return directive{word: strings.ToUpper(word), rest: rest}, true
}

func (d directive) isEndOf(kind Kind) bool {
	return d.word == "/"+kind.String()
}

func (d directive) startsPatch() bool {
	_, ok := ParseKind(d.word)
	return ok
}

var errNotQuoted = errors.New("value must be double-quoted")

// unquote cuts a leading double-quoted value off s.
func unquote(s string) (value, rest string, err error) {
	if !strings.HasPrefix(s, `"`) {
		return "", s, errNotQuoted
	}
	end := strings.IndexByte(s[1:], '"')
	if end < 0 {
		return "", s, errors.New("missing closing quote")
	}
	return s[1 : end+1], strings.TrimSpace(s[end+2:]), nil
}

// cutKeyword cuts a leading case-insensitive keyword off s.
func cutKeyword(s, keyword string) (string, bool) {
	if len(s) < len(keyword) || !strings.EqualFold(s[:len(keyword)], keyword) {
		return s, false
	}
	rest := s[len(keyword):]
	if rest != "" && !unicode.IsSpace(rune(rest[0])) {
		return s, false
	}
	return strings.TrimSpace(rest), true
}

// parseHeader parses the part of a patch header after the kind keyword: ["source"] --> "target".
func parseHeader(kind Kind, rest string) (source, target string, err error) {
	if strings.HasPrefix(rest, `"`) {
		if source, rest, err = unquote(rest); err != nil {
			return "", "", fmt.Errorf("malformed source version: %w", err)
		}
	}
	if !strings.HasPrefix(rest, "-->") {
		return "", "", fmt.Errorf(`missing target version, expected --* %s ["<source>"] --> "<target>"`, kind)
	}
	rest = strings.TrimSpace(rest[len("-->"):])
	if rest == "" {
		return "", "", errors.New("missing target version")
	}
	if target, rest, err = unquote(rest); err != nil {
		return "", "", fmt.Errorf("malformed target version: %w", err)
	}
	if rest != "" {
		return "", "", fmt.Errorf("unexpected text %q after target version", rest)
	}
	if target == "" {
		return "", "", errors.New("missing target version")
	}
	if kind == KindInit && source != "" {
		return "", "", errors.New("INIT patch cannot have a source version")
	}
	if kind != KindInit && source == "" {
		return "", "", fmt.Errorf("%s patch needs a source version", kind)
	}
	return source, target, nil
}

// bodyScanner turns body lines of a patch block or a script into commands.
type bodyScanner struct {
	name       string
	delimiter  string
	connection string
	message    string
	conditions []Condition
	stmt       strings.Builder
	stmtLine   int
}

func newBodyScanner(name string) *bodyScanner {
	return &bodyScanner{name: name, delimiter: DefaultDelimiter, connection: DefaultConnection}
}

func (s *bodyScanner) errorf(lineNo int, format string, args ...interface{}) error {
	return &ParseError{Name: s.name, Line: lineNo, Msg: fmt.Sprintf(format, args...)}
}

// feed consumes one body line. It returns a command when the line completes a statement.
func (s *bodyScanner) feed(l line) (*Command, error) {
	trimmed := strings.TrimSpace(l.text)

	if d, ok := parseDirective(trimmed); ok {
		if s.stmt.Len() != 0 {
			return nil, s.errorf(l.no, "directive %s inside an unterminated statement started at line %d", d.word, s.stmtLine)
		}
		return nil, s.directive(l.no, d)
	}

	if s.stmt.Len() == 0 {
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			return nil, nil
		}
		if s.wordDelimiter() && strings.EqualFold(trimmed, s.delimiter) {
			return nil, nil
		}
		s.stmtLine = l.no
	}

	if s.wordDelimiter() {
		if strings.EqualFold(trimmed, s.delimiter) {
			return s.emit(), nil
		}
		s.stmt.WriteString(l.text)
		s.stmt.WriteByte('\n')
		return nil, nil
	}

	text := strings.TrimRightFunc(l.text, unicode.IsSpace)
	if strings.HasSuffix(text, s.delimiter) {
		s.stmt.WriteString(strings.TrimSuffix(text, s.delimiter))
		return s.emit(), nil
	}
	s.stmt.WriteString(l.text)
	s.stmt.WriteByte('\n')
	return nil, nil
}

// finish is called at the end of the block. Text left without a delimiter becomes the last command.
func (s *bodyScanner) finish(lineNo int) (*Command, error) {
	if len(s.conditions) != 0 {
		return nil, s.errorf(lineNo, "%s is not closed with --* /IF", s.conditions[len(s.conditions)-1])
	}
	return s.emit(), nil
}

func (s *bodyScanner) wordDelimiter() bool {
	for _, r := range s.delimiter {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func (s *bodyScanner) emit() *Command {
	text := strings.TrimSpace(s.stmt.String())
	s.stmt.Reset()
	if text == "" {
		return nil
	}
	cmd := &Command{
		Text:       text,
		Connection: s.connection,
		Message:    s.message,
		Line:       s.stmtLine,
	}
	if len(s.conditions) != 0 {
		cmd.Conditions = append([]Condition(nil), s.conditions...)
	}
	s.message = ""
	return cmd
}

func (s *bodyScanner) directive(lineNo int, d directive) error {
	switch d.word {
	case "SET":
		rest, ok := cutKeyword(d.rest, "MESSAGE")
		if !ok {
			return s.errorf(lineNo, `unknown SET directive, expected --* SET MESSAGE "<text>"`)
		}
		msg, tail, err := unquote(rest)
		if err != nil || tail != "" {
			return s.errorf(lineNo, `malformed SET MESSAGE, expected --* SET MESSAGE "<text>"`)
		}
		s.message = msg
	case "SELECT":
		rest, ok := cutKeyword(d.rest, "CONNECTION")
		if !ok {
			return s.errorf(lineNo, "unknown SELECT directive, expected --* SELECT CONNECTION <name>")
		}
		name := rest
		if strings.HasPrefix(rest, `"`) {
			var tail string
			var err error
			if name, tail, err = unquote(rest); err != nil || tail != "" {
				return s.errorf(lineNo, "malformed connection name")
			}
		}
		if name == "" || strings.ContainsFunc(name, unicode.IsSpace) {
			return s.errorf(lineNo, "malformed connection name %q", name)
		}
		s.connection = name
	case "IF":
		cond, err := parseCondition(d.rest)
		if err != nil {
			return s.errorf(lineNo, "%v", err)
		}
		s.conditions = append(s.conditions, cond)
	case "/IF":
		if len(s.conditions) == 0 {
			return s.errorf(lineNo, "--* /IF without matching --* IF")
		}
		s.conditions = s.conditions[:len(s.conditions)-1]
	case "DELIMITER":
		delim, tail, err := unquote(d.rest)
		if err != nil || tail != "" || strings.TrimSpace(delim) == "" {
			return s.errorf(lineNo, `malformed DELIMITER, expected --* DELIMITER "<delimiter>"`)
		}
		s.delimiter = strings.TrimSpace(delim)
	default:
		return s.errorf(lineNo, "unknown directive %q", d.word)
	}
	return nil
}

func parseCondition(rest string) (Condition, error) {
	const usage = `expected --* IF HISTORY [NOT] CONTAINS "<version>"`
	rest, ok := cutKeyword(rest, "HISTORY")
	if !ok {
		return Condition{}, errors.New("unknown IF directive, " + usage)
	}
	var cond Condition
	rest, cond.Negated = cutKeyword(rest, "NOT")
	if rest, ok = cutKeyword(rest, "CONTAINS"); !ok {
		return Condition{}, errors.New("malformed IF HISTORY, " + usage)
	}
	version, tail, err := unquote(rest)
	if err != nil || tail != "" || version == "" {
		return Condition{}, errors.New("malformed IF HISTORY, " + usage)
	}
	cond.Version = version
	return cond, nil
}
