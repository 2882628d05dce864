/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package patchfile

import (
	"fmt"
)

// ParseError is returned for malformed or unreadable upgrade files.
type ParseError struct {
	Name string
	Line int
	// Encoding is set when the content cannot be decoded in the declared encoding.
	Encoding string
	Msg      string
	Err      error
}

func (e *ParseError) Error() string {
	msg := e.Msg
	if e.Encoding != "" {
		msg = fmt.Sprintf("%s (declared encoding %q)", msg, e.Encoding)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %s", e.Name, e.Line, msg)
	}
	return fmt.Sprintf("parse %s: %s", e.Name, msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
