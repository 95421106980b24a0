package ruleset

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kakebuild/kake/internal/ignore"
)

// ExpandInputs substitutes bindings into rule.StaticInputPatterns and
// expands any glob specifiers against the filesystem rooted at
// sourceRoot, in pattern order. Glob matches within one pattern are
// sorted for determinism (S5); ignoreMatcher, if non-nil, filters out
// ignored paths from glob expansions (literal inputs are never filtered —
// an explicit literal input is never accidentally ignored).
func ExpandInputs(rule *Rule, bindings map[string]string, sourceRoot string, ignoreMatcher *ignore.Matcher) ([]string, error) {
	var out []string
	for _, pat := range rule.StaticInputPatterns {
		substituted, err := substituteVars(pat, bindings)
		if err != nil {
			return nil, err
		}

		if !isGlobPattern(substituted) {
			out = append(out, substituted)
			continue
		}

		matches, err := expandGlob(substituted, sourceRoot, ignoreMatcher)
		if err != nil {
			return nil, fmt.Errorf("ruleset: expanding glob input %q: %w", pat, err)
		}
		out = append(out, matches...)
	}
	return out, nil
}

func expandGlob(pattern, sourceRoot string, ignoreMatcher *ignore.Matcher) ([]string, error) {
	template := globTemplate(pattern)
	full := template
	if sourceRoot != "" {
		full = filepath.ToSlash(filepath.Join(sourceRoot, template))
	}

	matches, err := doublestar.FilepathGlob(full, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}

	rels := make([]string, 0, len(matches))
	for _, m := range matches {
		rel := m
		if sourceRoot != "" {
			r, err := filepath.Rel(sourceRoot, m)
			if err != nil {
				return nil, err
			}
			rel = r
		}
		rels = append(rels, filepath.ToSlash(rel))
	}
	sort.Strings(rels)

	if ignoreMatcher == nil {
		return rels, nil
	}
	return ignoreMatcher.FilterMatches(rels)
}
