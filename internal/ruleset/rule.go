// Package ruleset stores compile rules and resolves a concrete target path
// to the rule (and pattern-variable bindings) that produces it.
package ruleset

import "github.com/kakebuild/kake/internal/capability"

// Rule is an immutable registered record: one output pattern, its ordered
// static input patterns, the capability that builds it, and the bits of
// metadata the staleness analyzer and executor need (non-input deps,
// used context keys).
type Rule struct {
	// Label is an arbitrary human string for diagnostics; not used for
	// lookup.
	Label string

	// OutputPattern is either a literal generated path or a pattern
	// containing {name} / ** / {{glob}} segments.
	OutputPattern string

	// StaticInputPatterns are source-tree-relative input specifiers,
	// each literal, variable-substituted, or glob.
	StaticInputPatterns []string

	// Capability is the builder object satisfying capability.Capability.
	Capability capability.Capability

	// registeredAt records insertion order, for the tie-break in Find.
	registeredAt int
}

// specificity counts the pattern's wildcard segments: fewer wins. A
// literal pattern (no variables) has specificity 0.
func (r Rule) specificity() int {
	return countWildcardSegments(r.OutputPattern)
}

// isLiteral reports whether OutputPattern contains no pattern metacharacters
// at all — an exact path, matched only by equality.
func (r Rule) isLiteral() bool {
	return r.specificity() == 0
}
