// Package executor drives a resolved plan to completion: topological
// scheduling under a bounded worker pool, single-flight coalescing of
// concurrent requests for the same target, the symlink fast path, and
// split-outputs bookkeeping.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/kakebuild/kake/internal/capability"
	"github.com/kakebuild/kake/internal/depgraph"
	"github.com/kakebuild/kake/internal/diagnostics"
	"github.com/kakebuild/kake/internal/fsview"
	"github.com/kakebuild/kake/internal/log"
	"github.com/kakebuild/kake/internal/staleness"
)

const defaultWorkers = 4

// Executor walks a depgraph.Node plan, building stale nodes in dependency
// order. One Executor is shared by every Build/BuildMany call on an
// Engine, since the single-flight group and split-output bookkeeping must
// coordinate across concurrent top-level calls, not just within one plan.
type Executor struct {
	FSView      *fsview.View
	Staleness   *staleness.Analyzer
	ProjectRoot string

	// Workers bounds concurrent node builds; <= 0 means defaultWorkers.
	Workers int

	// NodeTimeout, if > 0, bounds each capability.Build call.
	NodeTimeout time.Duration

	group singleflight.Group
	mu    sync.Mutex
	// splitOwner maps a secondary output currently under construction to
	// the primary target whose build produces it, so a concurrent request
	// for that secondary can join the primary's single-flight call instead
	// of starting a build of its own.
	splitOwner map[string]string
}

// Outcome reports what happened building one node.
type Outcome struct {
	Target  string
	Rebuilt bool
	Err     error
}

func (e *Executor) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return defaultWorkers
}

// Build walks the plan rooted at root to completion, returning one Outcome
// per distinct node visited.
func (e *Executor) Build(ctx context.Context, root *depgraph.Node, vars map[string]string) ([]Outcome, error) {
	nodes := root.Topological()

	states := make(map[string]*nodeState, len(nodes))
	for _, n := range nodes {
		states[n.Target] = &nodeState{node: n, done: make(chan struct{})}
	}

	sem := semaphore.NewWeighted(int64(e.workers()))
	g, gctx := errgroup.WithContext(ctx)

	for _, n := range nodes {
		n := n
		st := states[n.Target]
		g.Go(func() error {
			e.runNode(gctx, n, st, states, vars, sem)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(nodes))
	for _, n := range nodes {
		st := states[n.Target]
		outcomes = append(outcomes, Outcome{Target: n.Target, Rebuilt: st.rebuilt, Err: st.err})
	}
	return outcomes, states[root.Target].err
}

type nodeState struct {
	node    *depgraph.Node
	done    chan struct{}
	err     error
	rebuilt bool
}

func (e *Executor) runNode(ctx context.Context, n *depgraph.Node, st *nodeState, states map[string]*nodeState, vars map[string]string, sem *semaphore.Weighted) {
	defer close(st.done)

	for _, c := range n.Children {
		cst := states[c.Target]
		<-cst.done
		if cst.err != nil {
			st.err = &diagnostics.BuildFailedError{
				Label:      ruleLabel(n),
				Output:     n.Target,
				Downstream: n.Target,
				Err:        fmt.Errorf("dependency %q failed: %w", c.Target, cst.err),
			}
			return
		}
	}

	if n.IsSource {
		return
	}

	select {
	case <-ctx.Done():
		st.err = &diagnostics.CancelledError{Target: n.Target}
		return
	default:
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		st.err = &diagnostics.CancelledError{Target: n.Target}
		return
	}
	defer sem.Release(1)

	rebuilt, err := e.buildOne(ctx, n, vars)
	st.rebuilt = rebuilt
	st.err = err
}

// buildOne single-flights the staleness check + build for one node across
// every concurrent caller asking for the same target, system-wide. If
// target is currently a claimed secondary output of another build in
// flight, it joins that build's single-flight call instead of its own, so
// the two never race to build the same underlying output independently.
func (e *Executor) buildOne(ctx context.Context, n *depgraph.Node, vars map[string]string) (bool, error) {
	key := n.Target
	e.mu.Lock()
	if owner, ok := e.splitOwner[n.Target]; ok {
		key = owner
	}
	e.mu.Unlock()

	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.processNode(ctx, n, vars)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (e *Executor) processNode(ctx context.Context, n *depgraph.Node, vars map[string]string) (bool, error) {
	verdict, err := e.Staleness.Stale(ctx, n, vars)
	if err != nil {
		return false, err
	}
	if !verdict.Stale {
		return false, nil
	}

	log.For("executor").WithField("target", n.Target).WithField("reason", verdict.Reason).Info("rebuilding")

	outputFull := e.full(n.Target)
	capNode := capability.Node{Target: n.Target, Bindings: n.Bindings, Inputs: n.Inputs}

	if sym, ok := n.Rule.Capability.(capability.Symlinkable); ok {
		if linkTarget, yes := sym.MaybeSymlinkTo(capNode); yes {
			if err := e.createSymlink(n.Target, linkTarget); err != nil {
				return false, &diagnostics.BuildFailedError{Label: n.Rule.Label, Output: n.Target, Err: err}
			}
			if err := e.finishBuild(n, outputFull, []string{n.Target}); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	buildCtx := ctx
	var cancel context.CancelFunc
	if e.NodeTimeout > 0 {
		buildCtx, cancel = context.WithTimeout(ctx, e.NodeTimeout)
		defer cancel()
	}

	splitOutputs := e.claimSplitOutputs(n, capNode)
	defer e.releaseSplitOutputs(splitOutputs)

	buildErr := n.Rule.Capability.Build(buildCtx, n.Target, n.Inputs, verdict.Changed, vars)
	if buildErr != nil {
		if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
			return false, &diagnostics.TimeoutError{Label: n.Rule.Label, Output: n.Target}
		}
		if errors.Is(buildCtx.Err(), context.Canceled) {
			return false, &diagnostics.CancelledError{Target: n.Target}
		}
		return false, &diagnostics.BuildFailedError{Label: n.Rule.Label, Output: n.Target, Err: buildErr}
	}

	allOutputs := append([]string{n.Target}, splitOutputs...)
	if err := e.finishBuild(n, outputFull, allOutputs); err != nil {
		return false, err
	}
	return true, nil
}

// finishBuild verifies every declared output exists, writes their
// sidecars, and invalidates the filesystem view for each, in that order:
// invalidation must happen only once the new content and sidecar are both
// already visible on disk, so no reader ever observes stale metadata for
// a fresh output.
func (e *Executor) finishBuild(n *depgraph.Node, primaryFull string, outputs []string) error {
	sc := staleness.Sidecar{VersionTag: n.VersionTag, ContextDigest: staleness.ContextDigest(n.ContextView)}

	for _, out := range outputs {
		full := e.full(out)
		st, err := os.Stat(full)
		if err != nil || st.IsDir() {
			return &diagnostics.MissingOutputError{Label: n.Rule.Label, Output: out}
		}
		if err := staleness.WriteSidecar(full, sc); err != nil {
			return err
		}
	}
	for _, out := range outputs {
		e.FSView.Invalidate(e.full(out))
	}
	return nil
}

func (e *Executor) createSymlink(output, linkTarget string) error {
	outputFull := e.full(output)
	targetFull := e.full(linkTarget)

	if _, err := os.Stat(targetFull); err != nil {
		return fmt.Errorf("executor: symlink target %q does not exist: %w", linkTarget, err)
	}
	if err := os.MkdirAll(filepath.Dir(outputFull), 0o750); err != nil {
		return err
	}
	rel, err := filepath.Rel(filepath.Dir(outputFull), targetFull)
	if err != nil {
		rel = targetFull
	}
	_ = os.Remove(outputFull)
	return os.Symlink(rel, outputFull)
}

// claimSplitOutputs marks every secondary output a capability declares as
// currently owned by this build, so a concurrent request for one of those
// siblings doesn't race a separate build for it while this one is still
// running.
func (e *Executor) claimSplitOutputs(n *depgraph.Node, capNode capability.Node) []string {
	provider, ok := n.Rule.Capability.(capability.SplitOutputsProvider)
	if !ok {
		return nil
	}
	outputs := provider.SplitOutputs(capNode)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.splitOwner == nil {
		e.splitOwner = make(map[string]string)
	}
	for _, o := range outputs {
		e.splitOwner[o] = n.Target
	}
	return outputs
}

func (e *Executor) releaseSplitOutputs(outputs []string) {
	if len(outputs) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range outputs {
		delete(e.splitOwner, o)
	}
}

func (e *Executor) full(relOrAbs string) string {
	if filepath.IsAbs(relOrAbs) || e.ProjectRoot == "" {
		return relOrAbs
	}
	return filepath.ToSlash(filepath.Join(e.ProjectRoot, filepath.FromSlash(relOrAbs)))
}

func ruleLabel(n *depgraph.Node) string {
	if n.Rule != nil {
		return n.Rule.Label
	}
	return ""
}
