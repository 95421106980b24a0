// Package depgraph expands a requested target into the DAG of resolved
// nodes the staleness analyzer and executor walk: rule matching, glob and
// computed-inputs expansion, and cycle detection.
package depgraph

import (
	"github.com/kakebuild/kake/internal/ruleset"
)

// Node is one target instantiated against a concrete rule match (or a
// source leaf with Rule == nil).
type Node struct {
	// Target is this node's project-relative path.
	Target string

	// Rule is the matching rule, or nil for a source leaf.
	Rule *ruleset.Rule

	// Bindings holds the rule's output-pattern variable substitutions.
	Bindings map[string]string

	// Inputs is the node's fully expanded, ordered input list (static
	// patterns, then any computed inputs appended after).
	Inputs []string

	// Children holds the resolved Node for each entry in Inputs, in the
	// same order.
	Children []*Node

	// IsSource is true for leaf nodes: source files and absolute
	// host-binary references, neither of which has a Rule.
	IsSource bool

	// ContextView is vars restricted to Rule.Capability's declared
	// used-context keys.
	ContextView map[string]string

	// VersionTag is Rule.Capability's version at the time this plan was
	// formed.
	VersionTag int
}

// Leaves returns every source/absolute leaf reachable from n, deduplicated
// by target, in first-visit order. Used by tests and diagnostics to
// describe a plan's shape without walking the tree by hand.
func (n *Node) Leaves() []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(*Node)
	walk = func(cur *Node) {
		if cur.IsSource {
			if !seen[cur.Target] {
				seen[cur.Target] = true
				out = append(out, cur.Target)
			}
			return
		}
		for _, c := range cur.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}

// Topological returns every node reachable from n (n included), ordered so
// that a node always appears after all of its children — the order the
// executor builds in.
func (n *Node) Topological() []*Node {
	seen := make(map[string]bool)
	var order []*Node
	var walk func(*Node)
	walk = func(cur *Node) {
		if seen[cur.Target] {
			return
		}
		seen[cur.Target] = true
		for _, c := range cur.Children {
			walk(c)
		}
		order = append(order, cur)
	}
	walk(n)
	return order
}
