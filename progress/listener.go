/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package progress defines the observer contract of an upgrade run.
// Listeners are implemented by callers (CLI, build tooling, services); the engine only calls them.
package progress

import (
	"errors"
	"fmt"

	"github.com/acronis/go-dbpatch"
	"github.com/acronis/go-dbpatch/patchfile"
)

// Listener receives progress events of an upgrade run. All methods are called from the goroutine
// running the upgrade, in this order:
//
//	OpeningPatchFile, OpenedPatchFile,
//	(PatchStarting, (Executing, Executed)*, PatchFinished)*,
//	PatchingFinished
//
// Exception replaces Executed for the failed command, and the run ends right after it.
// RequestPassword and Debug may be called at any point.
type Listener interface {
	OpeningPatchFile(name string)
	OpenedPatchFile(name, encoding string)
	PatchStarting(kind patchfile.Kind, source, target string)
	// Executing is called before a command runs. The message is empty when no SET MESSAGE label applies.
	Executing(cmd patchfile.Command, message string)
	Executed()
	Exception(cmd patchfile.Command, err error)
	PatchFinished()
	PatchingFinished()
	// RequestPassword asks for the password of a connection whose password was withheld.
	RequestPassword(username string) (string, error)
	Debug(message string)
}

// Nop ignores every event and refuses password requests. Embed it to implement only the needed events.
type Nop struct{}

var _ Listener = Nop{}

func (Nop) OpeningPatchFile(string)                      {}
func (Nop) OpenedPatchFile(string, string)               {}
func (Nop) PatchStarting(patchfile.Kind, string, string) {}
func (Nop) Executing(patchfile.Command, string)          {}
func (Nop) Executed()                                    {}
func (Nop) Exception(patchfile.Command, error)           {}
func (Nop) PatchFinished()                               {}
func (Nop) PatchingFinished()                            {}
func (Nop) Debug(string)                                 {}

// RequestPassword always fails with *dbpatch.UnsupportedOperationError.
func (Nop) RequestPassword(username string) (string, error) {
	return "", &dbpatch.UnsupportedOperationError{Op: fmt.Sprintf("request password for user %q", username)}
}

// Multi returns a listener that forwards every event to all the listeners in order.
// A password is requested from the listeners in order until one of them supports the request.
func Multi(listeners ...Listener) Listener {
	return multi(append([]Listener(nil), listeners...))
}

type multi []Listener

func (m multi) OpeningPatchFile(name string) {
	for _, l := range m {
		l.OpeningPatchFile(name)
	}
}

func (m multi) OpenedPatchFile(name, encoding string) {
	for _, l := range m {
		l.OpenedPatchFile(name, encoding)
	}
}

func (m multi) PatchStarting(kind patchfile.Kind, source, target string) {
	for _, l := range m {
		l.PatchStarting(kind, source, target)
	}
}

func (m multi) Executing(cmd patchfile.Command, message string) {
	for _, l := range m {
		l.Executing(cmd, message)
	}
}

func (m multi) Executed() {
	for _, l := range m {
		l.Executed()
	}
}

func (m multi) Exception(cmd patchfile.Command, err error) {
	for _, l := range m {
		l.Exception(cmd, err)
	}
}

func (m multi) PatchFinished() {
	for _, l := range m {
		l.PatchFinished()
	}
}

func (m multi) PatchingFinished() {
	for _, l := range m {
		l.PatchingFinished()
	}
}

func (m multi) Debug(message string) {
	for _, l := range m {
		l.Debug(message)
	}
}

func (m multi) RequestPassword(username string) (string, error) {
	for _, l := range m {
		password, err := l.RequestPassword(username)
		var unsupported *dbpatch.UnsupportedOperationError
		if errors.As(err, &unsupported) {
			continue
		}
		return password, err
	}
	return Nop{}.RequestPassword(username)
}
