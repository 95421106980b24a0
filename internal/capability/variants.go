package capability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	digest "github.com/opencontainers/go-digest"
)

// Hasher computes a stable content digest of a path. *fsview.View
// satisfies this; it is taken as an interface here so capability doesn't
// import fsview (which would create a cycle with staleness/executor, both
// of which depend on capability).
type Hasher interface {
	Hash(ctx context.Context, path string) (digest.Digest, error)
}

// CachedFile is a Capability that folds a combined content hash of its
// inputs into its version tag, so a change to any input's content makes the
// node stale through the staleness analyzer's existing version-tag check,
// without CachedFile needing its own sidecar format.
//
// The hash only adds a reason to rebuild; it does not remove one. An input
// whose mtime is newer than the output still makes the node stale even when
// its content is unchanged, and the rewritten output is then newer for any
// downstream node as well.
type CachedFile struct {
	Inner  Capability
	Hasher Hasher
}

// Build delegates to Inner.Build unconditionally; whether it runs at all is
// decided by the staleness analyzer, which compares the node's version tag
// (stamped from HashVersion by the resolver) with the sidecar's.
func (c *CachedFile) Build(ctx context.Context, output string, inputs, changed []string, vars map[string]string) error {
	return c.Inner.Build(ctx, output, inputs, changed, vars)
}

// Version reports Inner's declared version alone. The input-hash folding
// needs the node's input list, which Version doesn't receive; HashVersion
// is the node-aware form consulted during plan resolution.
func (c *CachedFile) Version() int {
	return versionOf(c.Inner)
}

// HashVersion computes CachedFile's effective version tag for a specific
// node: Inner's declared version folded with a hash of node.Inputs'
// content. The resolver calls this through the NodeVersioned interface,
// instead of the plain Versioned.Version, when it stamps the node's
// VersionTag.
func (c *CachedFile) HashVersion(ctx context.Context, node Node) (int, error) {
	h := combinedHash(ctx, c.Hasher, node.Inputs)
	return versionOf(c.Inner)*31 + int(h), nil
}

func combinedHash(ctx context.Context, hasher Hasher, paths []string) uint32 {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	var acc uint32
	for _, p := range sorted {
		d, err := hasher.Hash(ctx, p)
		if err != nil {
			continue
		}
		for _, b := range []byte(d.String()) {
			acc = acc*31 + uint32(b)
		}
	}
	return acc
}

func (c *CachedFile) ComputedInputs(ctx context.Context, node Node, vars map[string]string) ([]string, error) {
	if cip, ok := c.Inner.(ComputedInputsProvider); ok {
		return cip.ComputedInputs(ctx, node, vars)
	}
	return nil, nil
}

func (c *CachedFile) UsedContextKeys() []string {
	return UsedContextKeys(c.Inner)
}

// CreateSymlink is a Capability whose entire Build is creating a symlink
// from the output to Target (a project-relative path). It exists as a
// standalone rule variant for cases where the symlink relationship is the
// rule itself — as opposed to Symlinkable's per-build fast path, which a
// heavier capability offers conditionally alongside a real Build.
type CreateSymlink struct {
	// ProjectRoot anchors the relative symlink that gets created.
	ProjectRoot string
	// Target is the project-relative path the output should point at.
	Target string
}

func (c *CreateSymlink) Build(_ context.Context, output string, _, _ []string, _ map[string]string) error {
	outputAbs := filepath.Join(c.ProjectRoot, filepath.FromSlash(output))
	targetAbs := filepath.Join(c.ProjectRoot, filepath.FromSlash(c.Target))

	rel, err := filepath.Rel(filepath.Dir(outputAbs), targetAbs)
	if err != nil {
		return fmt.Errorf("capability: CreateSymlink: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputAbs), 0o750); err != nil {
		return fmt.Errorf("capability: CreateSymlink: %w", err)
	}
	_ = os.Remove(outputAbs)
	return os.Symlink(rel, outputAbs)
}

func (c *CreateSymlink) MaybeSymlinkTo(_ Node) (string, bool) {
	return c.Target, true
}

// ExecRule wraps an argv template and the executor's subprocess Call
// helper directly: Build shells out to ArgvFunc's result and treats a
// non-zero exit as a build failure. It is the only built-in variant that
// is not purely in-process — it exists so tests and the CLI demo have a
// capability that exercises the subprocess path without hand-rolling their
// own exec.Command plumbing.
type ExecRule struct {
	Label   string
	Caller  Caller
	// ArgvFunc builds the command line for one invocation from the
	// resolved output path and input list.
	ArgvFunc func(output string, inputs []string) []string
	Ver      int
}

func (r *ExecRule) Build(ctx context.Context, output string, inputs, _ []string, _ map[string]string) error {
	argv := r.ArgvFunc(output, inputs)
	_, err := r.Caller.Call(ctx, argv)
	return err
}

func (r *ExecRule) Version() int { return r.Ver }
