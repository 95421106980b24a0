package ruleset

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// countWildcardSegments counts the pattern segments that are not literal
// text: {name} variables, {{glob}} segments, and ** each count once per
// occurrence. Used to rank competing pattern rules; fewer wildcard
// segments wins. A pattern containing any of the three must never be
// filed as a literal: a {{glob}} segment can only match via glob
// semantics, so treating it as exact text would leave the rule
// unreachable.
func countWildcardSegments(pattern string) int {
	n := 0
	for _, seg := range strings.Split(pattern, "/") {
		if isVariableSegment(seg) || isGlobSegment(seg) || seg == "**" {
			n++
		}
	}
	return n
}

func isVariableSegment(seg string) bool {
	i := strings.Index(seg, "{")
	return i >= 0 && !strings.HasPrefix(seg[i:], "{{") && strings.Contains(seg[i:], "}")
}

// isGlobSegment reports whether seg is a {{...}} segment, matched with
// shell-glob semantics within a single path segment.
func isGlobSegment(seg string) bool {
	return strings.HasPrefix(seg, "{{") && strings.HasSuffix(seg, "}}")
}

func splitVariable(seg string) (prefix, name, suffix string) {
	i := strings.Index(seg, "{")
	j := i + strings.Index(seg[i:], "}")
	return seg[:i], seg[i+1 : j], seg[j+1:]
}

// matchOutput attempts to match a concrete, already-cleaned target path
// against pattern, binding any {name} segments and letting ** absorb zero
// or more segments. Returns ok=false if the pattern does not match target.
func matchOutput(pattern, target string) (map[string]string, bool) {
	patSegs := strings.Split(pattern, "/")
	tgtSegs := strings.Split(target, "/")

	bindings := make(map[string]string)
	ok := matchSegments(patSegs, tgtSegs, bindings)
	if !ok {
		return nil, false
	}
	return bindings, true
}

// matchSegments recursively matches pattern segments against target
// segments, handling ** via backtracking (it may absorb any suffix length,
// greedily preferring the longest match first).
func matchSegments(pat, tgt []string, bindings map[string]string) bool {
	if len(pat) == 0 {
		return len(tgt) == 0
	}

	head := pat[0]
	if head == "**" {
		// Greedy: try consuming as much of tgt as possible first, then
		// back off until the remaining pattern matches.
		for consume := len(tgt); consume >= 0; consume-- {
			if matchSegments(pat[1:], tgt[consume:], bindings) {
				return true
			}
		}
		return false
	}

	if len(tgt) == 0 {
		return false
	}

	switch {
	case isVariableSegment(head):
		prefix, name, suffix := splitVariable(head)
		if len(tgt[0]) <= len(prefix)+len(suffix) || !strings.HasPrefix(tgt[0], prefix) || !strings.HasSuffix(tgt[0], suffix) {
			return false
		}
		bindings[name] = tgt[0][len(prefix) : len(tgt[0])-len(suffix)]
	case isGlobSegment(head):
		matched, err := doublestar.Match(strings.TrimSuffix(strings.TrimPrefix(head, "{{"), "}}"), tgt[0])
		if err != nil || !matched {
			return false
		}
	default:
		if head != tgt[0] {
			return false
		}
	}
	return matchSegments(pat[1:], tgt[1:], bindings)
}

// substituteVars replaces every {name} segment in pattern with
// bindings[name]. Returns an error naming the first unbound variable.
func substituteVars(pattern string, bindings map[string]string) (string, error) {
	segs := strings.Split(pattern, "/")
	for i, seg := range segs {
		if !isVariableSegment(seg) {
			continue
		}
		prefix, name, suffix := splitVariable(seg)
		val, ok := bindings[name]
		if !ok {
			return "", fmt.Errorf("ruleset: unbound pattern variable %q in %q", name, pattern)
		}
		segs[i] = prefix + val + suffix
	}
	return strings.Join(segs, "/"), nil
}

// isGlobPattern reports whether a (post-substitution) input specifier
// needs filesystem glob expansion rather than being used as a literal
// path: it contains doublestar metacharacters or a {{glob:...}} wrapper.
func isGlobPattern(pattern string) bool {
	if strings.Contains(pattern, "{{") {
		return true
	}
	return strings.ContainsAny(pattern, "*?[")
}

// globTemplate extracts the doublestar pattern to glob from an input
// specifier: either a {{glob:<pattern>}} wrapper, or the specifier itself
// when it already contains raw glob metacharacters.
func globTemplate(pattern string) string {
	const prefix = "{{glob:"
	if strings.HasPrefix(pattern, prefix) && strings.HasSuffix(pattern, "}}") {
		return strings.TrimSuffix(strings.TrimPrefix(pattern, prefix), "}}")
	}
	return pattern
}
