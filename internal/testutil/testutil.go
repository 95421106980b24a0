// Package testutil provides shared scaffolding for kake's package tests:
// building a throwaway project tree under t.TempDir() and asserting
// against its resulting layout.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Project is a disposable project root under t.TempDir(), pre-populated
// with source files for a test case.
type Project struct {
	tb   testing.TB
	Root string
}

// NewProject creates an empty project root.
func NewProject(tb testing.TB) *Project {
	tb.Helper()
	return &Project{tb: tb, Root: tb.TempDir()}
}

// WriteFile writes content to a project-relative path, creating parent
// directories as needed.
func (p *Project) WriteFile(relPath, content string) string {
	p.tb.Helper()
	full := filepath.Join(p.Root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		p.tb.Fatalf("testutil: mkdir %s: %v", filepath.Dir(full), err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		p.tb.Fatalf("testutil: write %s: %v", full, err)
	}
	return full
}

// Touch sets a file's mtime to the given time, creating it first if it
// does not exist. Used to drive staleness tests without sleeping between
// writes.
func (p *Project) Touch(relPath string, mtime time.Time) {
	p.tb.Helper()
	full := filepath.Join(p.Root, filepath.FromSlash(relPath))
	if _, err := os.Stat(full); os.IsNotExist(err) {
		p.WriteFile(relPath, "")
	}
	if err := os.Chtimes(full, mtime, mtime); err != nil {
		p.tb.Fatalf("testutil: touch %s: %v", full, err)
	}
}

// AssertExists fails the test if the project-relative path does not exist.
func (p *Project) AssertExists(relPath string) {
	p.tb.Helper()
	full := filepath.Join(p.Root, filepath.FromSlash(relPath))
	if _, err := os.Stat(full); err != nil {
		p.tb.Errorf("testutil: expected %s to exist: %v", relPath, err)
	}
}

// ReadFile reads a project-relative file, failing the test on error.
func (p *Project) ReadFile(relPath string) string {
	p.tb.Helper()
	full := filepath.Join(p.Root, filepath.FromSlash(relPath))
	data, err := os.ReadFile(full)
	if err != nil {
		p.tb.Fatalf("testutil: read %s: %v", relPath, err)
	}
	return string(data)
}
