package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMatch_NoIgnoreFile(t *testing.T) {
	tmpDir := t.TempDir()

	m := New(tmpDir)

	ignored, err := m.Match("anything.txt")
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if ignored {
		t.Error("expected nothing to be ignored without .kakeignore")
	}
}

func TestMatch_WithIgnoreFile(t *testing.T) {
	tmpDir := t.TempDir()

	content := `
# Comment line
*.tmp
genfiles/scratch/
!genfiles/scratch/keep.tmp
`
	if err := os.WriteFile(filepath.Join(tmpDir, fileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New(tmpDir)

	tests := []struct {
		path string
		want bool
	}{
		{"build.tmp", true},
		{"genfiles/scratch/keep.tmp", false}, // negated pattern
		{"genfiles/scratch/other.txt", true},
		{"src/main.css", false},
	}

	for _, tc := range tests {
		got, err := m.Match(tc.path)
		if err != nil {
			t.Errorf("Match(%q) error: %v", tc.path, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestFilterMatches(t *testing.T) {
	tmpDir := t.TempDir()
	content := "*.log\n"
	if err := os.WriteFile(filepath.Join(tmpDir, fileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New(tmpDir)
	kept, err := m.FilterMatches([]string{"a.css", "debug.log", "b.css"})
	if err != nil {
		t.Fatalf("FilterMatches() error: %v", err)
	}
	want := []string{"a.css", "b.css"}
	if len(kept) != len(want) {
		t.Fatalf("FilterMatches() = %v, want %v", kept, want)
	}
	for i := range want {
		if kept[i] != want[i] {
			t.Errorf("FilterMatches()[%d] = %q, want %q", i, kept[i], want[i])
		}
	}
}

func TestPatterns(t *testing.T) {
	tmpDir := t.TempDir()
	content := "*.tmp\nnode_modules/\n"
	if err := os.WriteFile(filepath.Join(tmpDir, fileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New(tmpDir)
	patterns, err := m.Patterns()
	if err != nil {
		t.Fatalf("Patterns() error: %v", err)
	}
	if len(patterns) != 2 {
		t.Errorf("expected 2 patterns, got %d: %v", len(patterns), patterns)
	}
}
