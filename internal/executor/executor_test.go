package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kakebuild/kake/internal/capability"
	"github.com/kakebuild/kake/internal/depgraph"
	"github.com/kakebuild/kake/internal/fsview"
	"github.com/kakebuild/kake/internal/pathutil"
	"github.com/kakebuild/kake/internal/ruleset"
	"github.com/kakebuild/kake/internal/staleness"
)

// concatCapability concatenates its inputs' contents, appending Suffix,
// and counts how many times Build actually ran — the hook every
// idempotence/coalescing test below asserts against.
type concatCapability struct {
	root    string
	suffix  string
	ver     int
	calls   int32
	usedCtx []string
}

func (c *concatCapability) Build(_ context.Context, output string, inputs, _ []string, _ map[string]string) error {
	atomic.AddInt32(&c.calls, 1)
	var sb strings.Builder
	for _, in := range inputs {
		data, err := os.ReadFile(filepath.Join(c.root, filepath.FromSlash(in)))
		if err != nil {
			return err
		}
		sb.Write(data)
	}
	sb.WriteString(c.suffix)
	full := filepath.Join(c.root, filepath.FromSlash(output))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(sb.String()), 0o644)
}

func (c *concatCapability) Version() int { return c.ver }

func (c *concatCapability) UsedContextKeys() []string { return c.usedCtx }

func (c *concatCapability) Calls() int { return int(atomic.LoadInt32(&c.calls)) }

type testHarness struct {
	t        *testing.T
	root     string
	registry *ruleset.Registry
	resolver *depgraph.Resolver
	exec     *Executor
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	root := t.TempDir()
	classifier, err := pathutil.NewClassifier("genfiles")
	require.NoError(t, err)
	fv := fsview.New()
	reg := ruleset.New()

	return &testHarness{
		t:        t,
		root:     root,
		registry: reg,
		resolver: &depgraph.Resolver{Registry: reg, Classifier: classifier, FSView: fv, SourceRoot: root},
		exec: &Executor{
			FSView:      fv,
			Staleness:   &staleness.Analyzer{FSView: fv, ProjectRoot: root},
			ProjectRoot: root,
			Workers:     4,
		},
	}
}

func (h *testHarness) writeFile(rel, content string) {
	h.t.Helper()
	full := filepath.Join(h.root, filepath.FromSlash(rel))
	require.NoError(h.t, os.MkdirAll(filepath.Dir(full), 0o750))
	require.NoError(h.t, os.WriteFile(full, []byte(content), 0o644))
	// A real host invalidates the view via the watcher on every observed
	// write; tests do the same explicitly since nothing is watching here.
	h.exec.FSView.Invalidate(full)
}

func (h *testHarness) readFile(rel string) string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.root, filepath.FromSlash(rel)))
	require.NoError(h.t, err)
	return string(data)
}

func (h *testHarness) build(target string, vars map[string]string) ([]Outcome, error) {
	h.t.Helper()
	node, err := h.resolver.Resolve(context.Background(), target, vars)
	require.NoError(h.t, err)
	return h.exec.Build(context.Background(), node, vars)
}

func outcomeFor(outcomes []Outcome, target string) Outcome {
	for _, o := range outcomes {
		if o.Target == target {
			return o
		}
	}
	return Outcome{}
}

func TestFirstBuildThenNoOpInputChangeVersionBump(t *testing.T) {
	h := newHarness(t)
	h.writeFile("a.txt", "hello")

	cap := &concatCapability{root: h.root, suffix: "X", ver: 1}
	require.NoError(t, h.registry.RegisterCompile("concat", "genfiles/out.txt", []string{"a.txt"}, cap))

	outcomes, err := h.build("genfiles/out.txt", nil)
	require.NoError(t, err)
	require.Equal(t, "helloX", h.readFile("genfiles/out.txt"))
	require.True(t, outcomeFor(outcomes, "genfiles/out.txt").Rebuilt)
	require.Equal(t, 1, cap.Calls())

	// Immediate rebuild is a no-op.
	outcomes, err = h.build("genfiles/out.txt", nil)
	require.NoError(t, err)
	require.False(t, outcomeFor(outcomes, "genfiles/out.txt").Rebuilt)
	require.Equal(t, 1, cap.Calls())

	// A changed input triggers exactly one rebuild.
	h.writeFile("a.txt", "world")
	outcomes, err = h.build("genfiles/out.txt", nil)
	require.NoError(t, err)
	require.Equal(t, "worldX", h.readFile("genfiles/out.txt"))
	require.True(t, outcomeFor(outcomes, "genfiles/out.txt").Rebuilt)
	require.Equal(t, 2, cap.Calls())

	// A version bump alone triggers a rebuild.
	cap.suffix = "Y"
	cap.ver = 2
	outcomes, err = h.build("genfiles/out.txt", nil)
	require.NoError(t, err)
	require.Equal(t, "worldY", h.readFile("genfiles/out.txt"))
	require.True(t, outcomeFor(outcomes, "genfiles/out.txt").Rebuilt)
	require.Equal(t, 3, cap.Calls())
}

// Glob inputs expand in sorted order, and deletions are observed on the
// next build.
func TestGlobInputSortedOrder(t *testing.T) {
	h := newHarness(t)
	h.writeFile("parts/b.txt", "B")
	h.writeFile("parts/a.txt", "A")

	cap := &concatCapability{root: h.root, suffix: "", ver: 1}
	require.NoError(t, h.registry.RegisterCompile("bundle", "genfiles/bundle.txt", []string{"{{glob:parts/*.txt}}"}, cap))

	_, err := h.build("genfiles/bundle.txt", nil)
	require.NoError(t, err)
	require.Equal(t, "AB", h.readFile("genfiles/bundle.txt"))

	require.NoError(t, os.Remove(filepath.Join(h.root, "parts", "a.txt")))
	h.exec.FSView.InvalidateAll()
	_, err = h.build("genfiles/bundle.txt", nil)
	require.NoError(t, err)
	require.Equal(t, "B", h.readFile("genfiles/bundle.txt"))
}

func TestContextSensitivity(t *testing.T) {
	h := newHarness(t)
	h.writeFile("a.txt", "hello")

	cap := &concatCapability{root: h.root, suffix: "X", ver: 1, usedCtx: []string{"env"}}
	require.NoError(t, h.registry.RegisterCompile("concat", "genfiles/out.txt", []string{"a.txt"}, cap))

	_, err := h.build("genfiles/out.txt", map[string]string{"env": "dev", "unused": "a"})
	require.NoError(t, err)
	require.Equal(t, 1, cap.Calls())

	// Changing a key not listed in UsedContextKeys must not rebuild.
	_, err = h.build("genfiles/out.txt", map[string]string{"env": "dev", "unused": "b"})
	require.NoError(t, err)
	require.Equal(t, 1, cap.Calls())

	// Changing a key that IS listed must rebuild.
	_, err = h.build("genfiles/out.txt", map[string]string{"env": "prod", "unused": "b"})
	require.NoError(t, err)
	require.Equal(t, 2, cap.Calls())
}

// translationCapability exercises the symlink fast path: Build must never
// be invoked when MaybeSymlinkTo applies.
type translationCapability struct {
	lang string
}

func (translationCapability) Build(context.Context, string, []string, []string, map[string]string) error {
	panic("Build should never be called when MaybeSymlinkTo applies")
}

func (c translationCapability) MaybeSymlinkTo(node capability.Node) (string, bool) {
	if node.Bindings["lang"] == "en" {
		return "src/en.txt", true
	}
	return "", false
}

func TestSymlinkFastPath(t *testing.T) {
	h := newHarness(t)
	h.writeFile("src/en.txt", "hello")

	require.NoError(t, h.registry.RegisterCompile("translate", "genfiles/i18n/{lang}.txt", nil, translationCapability{}))

	outcomes, err := h.build("genfiles/i18n/en.txt", nil)
	require.NoError(t, err)
	require.True(t, outcomeFor(outcomes, "genfiles/i18n/en.txt").Rebuilt)

	full := filepath.Join(h.root, "genfiles/i18n/en.txt")
	info, err := os.Lstat(full)
	require.NoError(t, err)
	require.True(t, info.Mode()&os.ModeSymlink != 0)
}

// N concurrent Build calls for the same target coalesce to one capability
// invocation and all observe the same content.
func TestConcurrentCoalescing(t *testing.T) {
	h := newHarness(t)
	h.writeFile("a.txt", "hello")

	cap := &concatCapability{root: h.root, suffix: "X", ver: 1}
	require.NoError(t, h.registry.RegisterCompile("concat", "genfiles/out.txt", []string{"a.txt"}, cap))

	const n = 16
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.build("genfiles/out.txt", nil)
			errs[i] = err
			results[i] = h.readFile("genfiles/out.txt")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "helloX", results[i])
	}
	require.Equal(t, 1, cap.Calls())
}

type splitCapability struct {
	root  string
	calls int32
}

func (c *splitCapability) Build(_ context.Context, output string, _, _ []string, _ map[string]string) error {
	atomic.AddInt32(&c.calls, 1)
	for _, out := range []string{output, "genfiles/out.map"} {
		full := filepath.Join(c.root, filepath.FromSlash(out))
		if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(full, []byte("data"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (c *splitCapability) Version() int { return 1 }

func (c *splitCapability) SplitOutputs(capability.Node) []string {
	return []string{"genfiles/out.map"}
}

func TestSplitOutputsAtomic(t *testing.T) {
	h := newHarness(t)
	cap := &splitCapability{root: h.root}
	require.NoError(t, h.registry.RegisterCompile("split", "genfiles/out.js", nil, cap))

	_, err := h.build("genfiles/out.js", nil)
	require.NoError(t, err)

	for _, out := range []string{"genfiles/out.js", "genfiles/out.map"} {
		_, err := os.Stat(filepath.Join(h.root, filepath.FromSlash(out)))
		require.NoError(t, err)
		sc, err := staleness.ReadSidecar(filepath.Join(h.root, filepath.FromSlash(out)))
		require.NoError(t, err)
		require.NotNil(t, sc)
		require.Equal(t, 1, sc.VersionTag)
	}
}

// gatedSplitCapability is splitCapability with its Build call held open
// until the test releases it, so a concurrent request for the secondary
// output can be driven in while the primary build is provably still
// running.
type gatedSplitCapability struct {
	root    string
	calls   int32
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *gatedSplitCapability) Build(_ context.Context, output string, _, _ []string, _ map[string]string) error {
	atomic.AddInt32(&c.calls, 1)
	c.once.Do(func() { close(c.entered) })
	<-c.release
	for _, out := range []string{output, "genfiles/out.map"} {
		full := filepath.Join(c.root, filepath.FromSlash(out))
		if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(full, []byte("data"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (c *gatedSplitCapability) Version() int { return 1 }

func (c *gatedSplitCapability) SplitOutputs(capability.Node) []string {
	return []string{"genfiles/out.map"}
}

// TestSplitOutputsRefuseConcurrentSiblingBuild drives a request for the
// secondary output ("genfiles/out.map") in while the primary
// ("genfiles/out.js") build is still running. Both outputs are registered
// as separate rules sharing one capability, the pattern a host uses to
// let either name be requested directly. Before buildOne consulted
// splitOwner, the two calls raced two independent builds of the same
// capability; now the sibling request joins the primary's single-flight
// call instead.
func TestSplitOutputsRefuseConcurrentSiblingBuild(t *testing.T) {
	h := newHarness(t)
	cap := &gatedSplitCapability{root: h.root, entered: make(chan struct{}), release: make(chan struct{})}
	require.NoError(t, h.registry.RegisterCompile("primary", "genfiles/out.js", nil, cap))
	require.NoError(t, h.registry.RegisterCompile("sibling", "genfiles/out.map", nil, cap))

	var wg sync.WaitGroup
	var primaryErr, siblingErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, primaryErr = h.build("genfiles/out.js", nil)
	}()

	<-cap.entered // primary build is now in flight, holding the gate shut

	go func() {
		defer wg.Done()
		_, siblingErr = h.build("genfiles/out.map", nil)
	}()

	// Give the sibling request time to reach buildOne and join the
	// primary's single-flight call before releasing the gate.
	time.Sleep(20 * time.Millisecond)
	close(cap.release)
	wg.Wait()

	require.NoError(t, primaryErr)
	require.NoError(t, siblingErr)
	require.Equal(t, int32(1), atomic.LoadInt32(&cap.calls), "sibling request must not start its own build")
}

// Touching a shared input rebuilds it and its transitive descendants,
// nothing else.
func TestMinimumRebuild(t *testing.T) {
	h := newHarness(t)
	h.writeFile("a.txt", "a")
	h.writeFile("b.txt", "b")

	capA := &concatCapability{root: h.root, suffix: "", ver: 1}
	capMid := &concatCapability{root: h.root, suffix: "", ver: 1}
	capOther := &concatCapability{root: h.root, suffix: "", ver: 1}
	require.NoError(t, h.registry.RegisterCompile("mid", "genfiles/mid.txt", []string{"a.txt"}, capMid))
	require.NoError(t, h.registry.RegisterCompile("top", "genfiles/top.txt", []string{"genfiles/mid.txt"}, capA))
	require.NoError(t, h.registry.RegisterCompile("other", "genfiles/other.txt", []string{"b.txt"}, capOther))

	_, err := h.build("genfiles/top.txt", nil)
	require.NoError(t, err)
	_, err = h.build("genfiles/other.txt", nil)
	require.NoError(t, err)
	require.Equal(t, 1, capMid.Calls())
	require.Equal(t, 1, capA.Calls())
	require.Equal(t, 1, capOther.Calls())

	h.writeFile("a.txt", "aa")
	_, err = h.build("genfiles/top.txt", nil)
	require.NoError(t, err)
	require.Equal(t, 2, capMid.Calls())
	require.Equal(t, 2, capA.Calls())

	_, err = h.build("genfiles/other.txt", nil)
	require.NoError(t, err)
	require.Equal(t, 1, capOther.Calls(), "untouched sibling graph must not rebuild")
}

func TestBuildFailurePropagatesToAncestor(t *testing.T) {
	h := newHarness(t)
	failing := failCapability{}
	passthrough := &concatCapability{root: h.root, suffix: "", ver: 1}
	require.NoError(t, h.registry.RegisterCompile("fails", "genfiles/child.txt", nil, failing))
	require.NoError(t, h.registry.RegisterCompile("parent", "genfiles/parent.txt", []string{"genfiles/child.txt"}, passthrough))

	_, err := h.build("genfiles/parent.txt", nil)
	require.Error(t, err)
}

type failCapability struct{}

func (failCapability) Build(context.Context, string, []string, []string, map[string]string) error {
	return fmt.Errorf("boom")
}

func (failCapability) Version() int { return 1 }
