// Package ignore loads and evaluates .kakeignore patterns.
//
// A .kakeignore file at the project root uses .dockerignore pattern syntax
// and matching (via github.com/moby/patternmatcher): patterns are anchored
// at the project root, so a bare name such as "scratch.out" matches only an
// entry at the top level (and everything under it), not one in a
// subdirectory. It is
// consulted when a rule's static_input_patterns expands a glob
// ({{glob}} or **), so VCS metadata, scratch directories, and other noise
// never silently enter a dependency graph.
package ignore

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

// fileName is the ignore-file name consulted at the project root.
const fileName = ".kakeignore"

// Matcher evaluates paths against the patterns loaded from .kakeignore.
// A Matcher with no patterns ignores nothing; zero value is usable.
type Matcher struct {
	mu       sync.RWMutex
	matcher  *patternmatcher.PatternMatcher
	patterns []string
	loaded   bool
	loadErr  error
	root     string
}

// New returns a Matcher that lazily loads <projectRoot>/.kakeignore on
// first use.
func New(projectRoot string) *Matcher {
	return &Matcher{root: projectRoot}
}

// Patterns returns the loaded ignore patterns, for diagnostics.
func (m *Matcher) Patterns() ([]string, error) {
	if err := m.ensureLoaded(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.patterns, nil
}

// Match reports whether path (project-root-relative, forward-slash) is
// ignored, either directly or because a parent directory matches.
func (m *Matcher) Match(path string) (bool, error) {
	if err := m.ensureLoaded(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.matcher == nil {
		return false, nil
	}
	return m.matcher.MatchesOrParentMatches(filepath.ToSlash(path))
}

// FilterMatches removes every path in paths that is matched by the ignore
// patterns, preserving order.
func (m *Matcher) FilterMatches(paths []string) ([]string, error) {
	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		ignored, err := m.Match(p)
		if err != nil {
			return nil, err
		}
		if !ignored {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

func (m *Matcher) ensureLoaded() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return m.loadErr
	}
	m.loaded = true

	patterns, err := loadPatterns(m.root)
	if err != nil {
		m.loadErr = err
		return err
	}
	m.patterns = patterns

	if len(patterns) > 0 {
		m.matcher, m.loadErr = patternmatcher.New(patterns)
	}
	return m.loadErr
}

func loadPatterns(root string) ([]string, error) {
	f, err := os.Open(filepath.Join(root, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	return ignorefile.ReadAll(f)
}
