/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package patchfile

import (
	"fmt"
	"strings"
)

// Kind is the kind of a patch. It drives how the resolver may use the patch.
type Kind int

// Patch kinds.
const (
	// KindInit bootstraps the version ledger. It is the only kind without a source version.
	KindInit Kind = iota + 1
	KindUpgrade
	// KindSwitch moves between otherwise unconnected version branches.
	KindSwitch
	KindDowngrade
)

var kindNames = map[Kind]string{
	KindInit:      "INIT",
	KindUpgrade:   "UPGRADE",
	KindSwitch:    "SWITCH",
	KindDowngrade: "DOWNGRADE",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind returns the kind named by s (case-insensitive).
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, true
		}
	}
	return 0, false
}

// Patch is the header of a patch block: a versioned unit of schema change.
// Commands of the patch are read separately through Source.Commands.
type Patch struct {
	Kind Kind
	// Source is empty only for KindInit.
	Source string
	Target string
	// Order is the declaration index of the patch within its source.
	Order int
	// Line is the line number of the patch header.
	Line int

	offset int64
}

func (p Patch) String() string {
	if p.Source == "" {
		return fmt.Sprintf("%s --> %q", p.Kind, p.Target)
	}
	return fmt.Sprintf("%s %q --> %q", p.Kind, p.Source, p.Target)
}

type patchKey struct {
	kind           Kind
	source, target string
}

func (p Patch) key() patchKey {
	return patchKey{p.Kind, p.Source, p.Target}
}

// History answers whether the schema ever passed through a version.
type History interface {
	Contains(version string) bool
}

// Condition is a history predicate attached to a command.
type Condition struct {
	Version string
	Negated bool
}

// Holds evaluates the condition against the history.
func (c Condition) Holds(h History) bool {
	return h.Contains(c.Version) != c.Negated
}

func (c Condition) String() string {
	if c.Negated {
		return fmt.Sprintf("IF HISTORY NOT CONTAINS %q", c.Version)
	}
	return fmt.Sprintf("IF HISTORY CONTAINS %q", c.Version)
}

// DefaultConnection is the connection commands are directed at unless selected otherwise.
const DefaultConnection = "default"

// Command is a single statement of a patch or a script.
type Command struct {
	Text string
	// Connection is the name of the connection the command is executed on.
	Connection string
	// Conditions must all hold for the command to be executed.
	Conditions []Condition
	// Message is the human-readable label set with SET MESSAGE, empty if none.
	Message string
	Line    int
}

// Conditional reports whether the command depends on the version history.
func (c Command) Conditional() bool {
	return len(c.Conditions) != 0
}

// Applies reports whether every condition of the command holds.
func (c Command) Applies(h History) bool {
	for _, cond := range c.Conditions {
		if !cond.Holds(h) {
			return false
		}
	}
	return true
}

// CommandIterator is a forward-only sequence of commands. It can be consumed only once.
//
//	it := src.Commands(p)
//	defer it.Close()
//	for it.Next() {
//	    cmd := it.Command()
//	    ...
//	}
//	if err := it.Err(); err != nil {
//	    ...
//	}
type CommandIterator interface {
	Next() bool
	Command() Command
	Err() error
	Close() error
}

// Source provides patches and their commands.
type Source interface {
	// Name identifies the source in messages.
	Name() string
	// Encoding returns the character encoding declared by the source.
	Encoding() string
	// Patches returns the patch headers in declaration order.
	Patches() []Patch
	// Commands returns the commands of the patch.
	Commands(p Patch) CommandIterator
}

// SliceCommands returns an iterator over commands held in memory.
func SliceCommands(cmds []Command) CommandIterator {
	return &sliceIterator{cmds: cmds, pos: -1}
}

type sliceIterator struct {
	cmds []Command
	pos  int
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.cmds) {
		it.pos = len(it.cmds)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Command() Command {
	if it.pos < 0 || it.pos >= len(it.cmds) {
		return Command{}
	}
	return it.cmds[it.pos]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }

type errIterator struct {
	err error
}

func (it errIterator) Next() bool       { return false }
func (it errIterator) Command() Command { return Command{} }
func (it errIterator) Err() error       { return it.err }
func (it errIterator) Close() error     { return nil }
