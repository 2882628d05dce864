/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package patchfile

import (
	"fmt"
)

// Memory is a Source built in code, used by importers and tests.
type Memory struct {
	name     string
	patches  []Patch
	commands [][]Command
}

var _ Source = (*Memory)(nil)

// NewMemory creates an empty in-memory source.
func NewMemory(name string) *Memory {
	return &Memory{name: name}
}

// Add appends a patch. Commands without a connection are directed at DefaultConnection.
func (m *Memory) Add(kind Kind, source, target string, cmds ...Command) error {
	if _, ok := kindNames[kind]; !ok {
		return fmt.Errorf("unknown patch kind %d", int(kind))
	}
	if target == "" {
		return fmt.Errorf("%s patch needs a target version", kind)
	}
	if (kind == KindInit) != (source == "") {
		if kind == KindInit {
			return fmt.Errorf("INIT patch cannot have a source version")
		}
		return fmt.Errorf("%s patch needs a source version", kind)
	}
	p := Patch{Kind: kind, Source: source, Target: target, Order: len(m.patches)}
	for _, existing := range m.patches {
		if existing.key() == p.key() {
			return fmt.Errorf("duplicate patch %s", p)
		}
	}
	stored := make([]Command, len(cmds))
	for i, c := range cmds {
		if c.Connection == "" {
			c.Connection = DefaultConnection
		}
		stored[i] = c
	}
	m.patches = append(m.patches, p)
	m.commands = append(m.commands, stored)
	return nil
}

// Name returns the name of the source.
func (m *Memory) Name() string {
	return m.name
}

// Encoding always returns DefaultEncoding.
func (m *Memory) Encoding() string {
	return DefaultEncoding
}

// Patches returns the patch headers in the order they were added.
func (m *Memory) Patches() []Patch {
	return append([]Patch(nil), m.patches...)
}

// Commands returns the commands of the patch. Unlike File, it can be called repeatedly.
func (m *Memory) Commands(p Patch) CommandIterator {
	if p.Order < 0 || p.Order >= len(m.patches) || m.patches[p.Order].key() != p.key() {
		return errIterator{fmt.Errorf("patch %s does not belong to %s", p, m.name)}
	}
	return SliceCommands(m.commands[p.Order])
}
