// Package discovery expands CLI-supplied target arguments — literal target
// paths and glob patterns — into the concrete target list BuildMany needs.
package discovery

import (
	"cmp"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kakebuild/kake/internal/ignore"
)

// Options configures target expansion.
type Options struct {
	// ProjectRoot is the absolute project root; glob arguments are matched
	// against the filesystem tree rooted here.
	ProjectRoot string

	// Ignore, if non-nil, filters glob matches through .kakeignore.
	Ignore *ignore.Matcher
}

// Expand turns CLI arguments into a deduplicated, sorted list of
// project-root-relative target paths.
//
// An argument containing glob metacharacters (*, ?, [, {) is expanded
// against files that already exist under ProjectRoot — this is the "rebuild
// everything matching" convenience used for bulk CI invocations. An
// argument without metacharacters passes through unchanged: it names a
// target directly, which may not exist yet (a generated path is only
// created by its first successful build).
func Expand(args []string, opts Options) ([]string, error) {
	seen := make(map[string]bool)
	var results []string

	for _, arg := range args {
		if !containsGlobChars(arg) {
			if !seen[arg] {
				seen[arg] = true
				results = append(results, arg)
			}
			continue
		}

		matches, err := expandGlob(arg, opts)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				results = append(results, m)
			}
		}
	}

	slices.SortFunc(results, func(a, b string) int { return cmp.Compare(a, b) })
	return results, nil
}

func containsGlobChars(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

func expandGlob(pattern string, opts Options) ([]string, error) {
	root := opts.ProjectRoot
	if root == "" {
		root = "."
	}

	fullPattern := pattern
	if !filepath.IsAbs(pattern) {
		fullPattern = filepath.ToSlash(filepath.Join(root, pattern))
	}

	matches, err := doublestar.FilepathGlob(fullPattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}

	var results []string
	for _, m := range matches {
		rel, err := filepath.Rel(root, m)
		if err != nil {
			rel = m
		}
		rel = filepath.ToSlash(rel)

		if opts.Ignore != nil {
			ignored, err := opts.Ignore.Match(rel)
			if err != nil {
				return nil, err
			}
			if ignored {
				continue
			}
		}
		results = append(results, rel)
	}
	return results, nil
}
