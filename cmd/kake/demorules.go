package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kakebuild/kake/internal/capability"
	"github.com/kakebuild/kake/internal/engine"
)

// copyFile is the plain Capability CachedFile wraps below (Version always
// reports 1). Wrapped, the node's version tag also changes whenever the
// source file's content changes, so such a change forces a rebuild even
// when mtimes alone would not show it.
type copyFile struct {
	root string
}

func (c *copyFile) Build(_ context.Context, output string, inputs, _ []string, _ map[string]string) error {
	if len(inputs) != 1 {
		return fmt.Errorf("demorules: mirror expects exactly one input, got %d", len(inputs))
	}
	src := filepath.Join(c.root, filepath.FromSlash(inputs[0]))
	dst := filepath.Join(c.root, filepath.FromSlash(output))

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func (c *copyFile) Version() int { return 1 }

// registerDemoRules wires up a small, fixed rule set from kake's built-in
// capability variants — there is no declarative rule-file format, so a
// standalone binary has nothing to register rules from except Go code.
// This is illustrative scaffolding, not a product feature: a real embedder
// registers its own rules against its own capabilities at startup.
//
//   - genfiles/mirror/{name} <- src/{name} (CachedFile wrapping a plain copy,
//     whose version tag follows the source file's content hash)
//   - genfiles/checksums/{name}.sha256 <- src/{name} (ExecRule, subprocess)
func registerDemoRules(e *engine.Engine) error {
	mirror := &capability.CachedFile{
		Inner:  &copyFile{root: e.ProjectRoot()},
		Hasher: e.Hasher(),
	}
	if err := e.RegisterCompile("mirror-src", "genfiles/mirror/{name}", []string{"src/{name}"}, mirror); err != nil {
		return err
	}

	checksum := &capability.ExecRule{
		Label:  "checksum",
		Caller: e.Caller(),
		ArgvFunc: func(output string, inputs []string) []string {
			// sha256sum writes "<hex>  <path>\n" to stdout; redirect it to
			// output so the rule's declared output actually gets written.
			return []string{"sh", "-c", fmt.Sprintf("sha256sum %q > %q", inputs[0], output)}
		},
		Ver: 1,
	}
	return e.RegisterCompile("checksum-src", "genfiles/checksums/{name}.sha256", []string{"src/{name}"}, checksum)
}
