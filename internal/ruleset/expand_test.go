package ruleset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandInputsLiteralAndGlob(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "parts"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "parts", "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "parts", "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "fixed.txt"), []byte("f"), 0o644))

	rule := &Rule{
		StaticInputPatterns: []string{"fixed.txt", "{{glob:parts/*.txt}}"},
	}
	inputs, err := ExpandInputs(rule, nil, root, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"fixed.txt", "parts/a.txt", "parts/b.txt"}, inputs)
}

func TestExpandInputsSubstitutesBindings(t *testing.T) {
	rule := &Rule{StaticInputPatterns: []string{"src/{lang}/strings.json"}}
	inputs, err := ExpandInputs(rule, map[string]string{"lang": "fr"}, "", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"src/fr/strings.json"}, inputs)
}

func TestExpandInputsUnboundVariableErrors(t *testing.T) {
	rule := &Rule{StaticInputPatterns: []string{"src/{lang}/strings.json"}}
	_, err := ExpandInputs(rule, nil, "", nil)
	require.Error(t, err)
}
