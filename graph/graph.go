/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package graph builds the version graph of an upgrade file and resolves the patches
// leading from the current version of a database to the requested one.
package graph

import (
	"fmt"
	"sort"

	"github.com/acronis/go-dbpatch/patchfile"
)

// NoPathError is returned when the target version cannot be reached from the current one.
type NoPathError struct {
	// Current is empty when the database has no version yet.
	Current string
	Target  string
	// DowngradeRequired is set when a path exists but only through DOWNGRADE patches
	// that were not allowed.
	DowngradeRequired bool
}

func (e *NoPathError) Error() string {
	from := "an uninitialized database"
	if e.Current != "" {
		from = fmt.Sprintf("version %q", e.Current)
	}
	msg := fmt.Sprintf("no patch path from %s to version %q", from, e.Target)
	if e.DowngradeRequired {
		msg += " without downgrades"
	}
	return msg
}

// Graph is a directed multigraph with versions as nodes and patches as edges.
// INIT patches are the edges of the empty version, which stands for a database without a ledger.
type Graph struct {
	versions []string
	known    map[string]bool
	edges    map[string][]patchfile.Patch
}

// New builds the graph from patch headers. Edges keep their declaration order.
func New(patches []patchfile.Patch) *Graph {
	g := &Graph{known: make(map[string]bool), edges: make(map[string][]patchfile.Patch)}
	sorted := append([]patchfile.Patch(nil), patches...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	for _, p := range sorted {
		g.addVersion(p.Source)
		g.addVersion(p.Target)
		g.edges[p.Source] = append(g.edges[p.Source], p)
	}
	for v := range g.edges {
		edges := g.edges[v]
		sort.SliceStable(edges, func(i, j int) bool { return kindRank(edges[i].Kind) < kindRank(edges[j].Kind) })
	}
	return g
}

func (g *Graph) addVersion(v string) {
	if v == "" || g.known[v] {
		return
	}
	g.known[v] = true
	g.versions = append(g.versions, v)
}

// kindRank is the preference of edge kinds when leaving a version.
func kindRank(k patchfile.Kind) int {
	switch k {
	case patchfile.KindInit:
		return 0
	case patchfile.KindUpgrade:
		return 1
	case patchfile.KindSwitch:
		return 2
	default:
		return 3
	}
}

// Versions returns every version of the graph in order of first appearance.
func (g *Graph) Versions() []string {
	return append([]string(nil), g.versions...)
}

// Has reports whether the version is a node of the graph.
func (g *Graph) Has(v string) bool {
	return g.known[v]
}

// Resolve returns the patches to apply, in order, to move from current to target.
// An empty current means the database has no version yet, so only INIT patches can start the path.
// The path is found breadth-first: the shortest one wins, and among equally short paths
// UPGRADE patches are preferred over SWITCH ones, then DOWNGRADE ones, then declaration order.
func (g *Graph) Resolve(current, target string, downgradeAllowed bool) ([]patchfile.Patch, error) {
	if current != "" && current == target {
		return []patchfile.Patch{}, nil
	}
	path, ok := g.search(current, target, downgradeAllowed)
	if ok {
		return path, nil
	}
	noPath := &NoPathError{Current: current, Target: target}
	if !downgradeAllowed {
		_, noPath.DowngradeRequired = g.search(current, target, true)
	}
	return nil, noPath
}

// Targets returns every version reachable from current, nearest first.
func (g *Graph) Targets(current string, downgradeAllowed bool) []string {
	var targets []string
	g.walk(current, downgradeAllowed, func(v string) bool {
		targets = append(targets, v)
		return false
	})
	return targets
}

func (g *Graph) search(current, target string, downgradeAllowed bool) ([]patchfile.Patch, bool) {
	if target == "" || !g.known[target] || (current != "" && !g.known[current]) {
		return nil, false
	}
	found := false
	via := g.walk(current, downgradeAllowed, func(v string) bool {
		found = v == target
		return found
	})
	if !found {
		return nil, false
	}
	var path []patchfile.Patch
	for v := target; v != current; {
		p := via[v]
		path = append(path, p)
		v = p.Source
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}

// walk visits versions reachable from start breadth-first and returns the edge each of them was reached by.
// The walk stops when visit returns true.
func (g *Graph) walk(start string, downgradeAllowed bool, visit func(v string) bool) map[string]patchfile.Patch {
	via := make(map[string]patchfile.Patch)
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, p := range g.edges[v] {
			if p.Kind == patchfile.KindDowngrade && !downgradeAllowed {
				continue
			}
			if visited[p.Target] {
				continue
			}
			visited[p.Target] = true
			via[p.Target] = p
			if visit(p.Target) {
				return via
			}
			queue = append(queue, p.Target)
		}
	}
	return via
}
