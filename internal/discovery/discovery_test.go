package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kakebuild/kake/internal/ignore"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExpand_LiteralPassesThroughEvenIfMissing(t *testing.T) {
	results, err := Expand([]string{"genfiles/not-built-yet.out"}, Options{ProjectRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	if len(results) != 1 || results[0] != "genfiles/not-built-yet.out" {
		t.Fatalf("Expand() = %v", results)
	}
}

func TestExpand_Glob(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "genfiles", "a.out"))
	writeFile(t, filepath.Join(root, "genfiles", "b.out"))
	writeFile(t, filepath.Join(root, "genfiles", "c.txt"))

	results, err := Expand([]string{"genfiles/*.out"}, Options{ProjectRoot: root})
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	want := []string{"genfiles/a.out", "genfiles/b.out"}
	if len(results) != len(want) {
		t.Fatalf("Expand() = %v, want %v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("Expand()[%d] = %q, want %q", i, results[i], want[i])
		}
	}
}

func TestExpand_Dedup(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.out"))

	results, err := Expand([]string{"a.out", "a.out", "*.out"}, Options{ProjectRoot: root})
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	if len(results) != 1 || results[0] != "a.out" {
		t.Fatalf("Expand() = %v", results)
	}
}

func TestExpand_RespectsIgnore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "genfiles", "keep.out"))
	writeFile(t, filepath.Join(root, "genfiles", "scratch.out"))
	if err := os.WriteFile(filepath.Join(root, ".kakeignore"), []byte("genfiles/scratch.out\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := Expand([]string{"genfiles/*.out"}, Options{ProjectRoot: root, Ignore: ignore.New(root)})
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	if len(results) != 1 || results[0] != "genfiles/keep.out" {
		t.Fatalf("Expand() = %v", results)
	}
}

func TestExpand_NoMatches(t *testing.T) {
	results, err := Expand([]string{"nonexistent-*.xyz"}, Options{ProjectRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}
