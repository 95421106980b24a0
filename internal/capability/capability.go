// Package capability defines the contract a rule's builder object
// implements: one required method, and a handful of single-method
// optional interfaces the executor and dependency resolver probe for
// with type assertions.
package capability

import "context"

// Node is the read-only view of a resolved dependency-graph node that
// optional capability hooks receive. It carries just enough of
// depgraph.Node's shape for a capability to inspect its own inputs and
// bindings without importing depgraph (which imports capability) back.
type Node struct {
	// Target is the generated path this node builds.
	Target string
	// Bindings holds pattern-variable substitutions from the rule's
	// output pattern match (e.g. {"lang": "fr"}).
	Bindings map[string]string
	// Inputs is the node's current input list, in order.
	Inputs []string
}

// Capability is the single required method every rule builder implements:
// produce Output from Inputs. changed is the subset of inputs responsible
// for the staleness decision that triggered this call (all of them on a
// first build). Build must be deterministic given the same inputs, context
// view, and Version.
type Capability interface {
	Build(ctx context.Context, output string, inputs []string, changed []string, vars map[string]string) error
}

// Versioned capabilities participate in staleness via a version tag: bump
// Version whenever Build's semantics change in a way that alters output
// bytes, even with no input files touched. A capability without this
// interface is treated as version 0 forever (its rebuilds are driven
// purely by input/context changes).
type Versioned interface {
	Version() int
}

// ComputedInputsProvider capabilities discover additional inputs by
// inspecting the node's current input list, e.g. scanning a stylesheet's
// @import lines. Called repeatedly by the resolver's fixpoint loop until
// it returns an empty or already-included set.
type ComputedInputsProvider interface {
	ComputedInputs(ctx context.Context, node Node, vars map[string]string) ([]string, error)
}

// ContextAware capabilities declare which context keys participate in
// their staleness digest. A capability without this interface reads no
// context keys: its rebuild decision is never affected by vars.
type ContextAware interface {
	UsedContextKeys() []string
}

// SplitOutputsProvider capabilities produce more than one output file from
// a single Build invocation. The executor registers every path returned
// here as fresh on success and will not start a separate build for any
// sibling while one is in flight.
type SplitOutputsProvider interface {
	SplitOutputs(node Node) []string
}

// Symlinkable capabilities may short-circuit Build entirely: if
// MaybeSymlinkTo returns a non-empty path, the executor verifies that path
// exists and creates/refreshes a symlink from the output to it instead of
// calling Build.
type Symlinkable interface {
	MaybeSymlinkTo(node Node) (string, bool)
}

// NonInputDepsProvider capabilities declare extra paths that force a
// rebuild when they change but are not passed to Build as inputs.
type NonInputDepsProvider interface {
	NonInputDeps(node Node) []string
}

// NodeVersioned capabilities compute their effective version tag from the
// resolved node rather than a fixed constant — e.g. CachedFile, whose
// version folds in a content hash of its current inputs. The resolver
// prefers this over Versioned when a capability implements both.
type NodeVersioned interface {
	HashVersion(ctx context.Context, node Node) (int, error)
}

// versionOf returns cap's version tag, or 0 if it doesn't implement
// Versioned.
func versionOf(c Capability) int {
	if v, ok := c.(Versioned); ok {
		return v.Version()
	}
	return 0
}

// Version is the exported form of versionOf, used by packages that only
// hold a Capability value (depgraph) and need its version tag
// without a type assertion of their own.
func Version(c Capability) int { return versionOf(c) }

// UsedContextKeys returns c's declared context keys, or nil if c doesn't
// implement ContextAware.
func UsedContextKeys(c Capability) []string {
	if ca, ok := c.(ContextAware); ok {
		return ca.UsedContextKeys()
	}
	return nil
}
