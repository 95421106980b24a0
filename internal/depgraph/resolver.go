package depgraph

import (
	"context"
	"fmt"
	"slices"

	"github.com/kakebuild/kake/internal/capability"
	"github.com/kakebuild/kake/internal/diagnostics"
	"github.com/kakebuild/kake/internal/fsview"
	"github.com/kakebuild/kake/internal/ignore"
	"github.com/kakebuild/kake/internal/log"
	"github.com/kakebuild/kake/internal/pathutil"
	"github.com/kakebuild/kake/internal/ruleset"
)

// defaultMaxComputedInputsDepth bounds the computed-inputs fixpoint loop
// when the Resolver isn't configured with one explicitly.
const defaultMaxComputedInputsDepth = 8

// Resolver expands targets into resolved-node DAGs.
type Resolver struct {
	Registry   *ruleset.Registry
	Classifier *pathutil.Classifier
	FSView     *fsview.View
	Ignore     *ignore.Matcher

	// SourceRoot is the absolute (or process-cwd-relative) directory
	// source paths and glob expansions are resolved against.
	SourceRoot string

	// MaxComputedInputsDepth bounds the fixpoint loop; 0 means
	// defaultMaxComputedInputsDepth.
	MaxComputedInputsDepth int
}

func (r *Resolver) maxDepth() int {
	if r.MaxComputedInputsDepth > 0 {
		return r.MaxComputedInputsDepth
	}
	return defaultMaxComputedInputsDepth
}

// Resolve expands a single target into its full plan.
func (r *Resolver) Resolve(ctx context.Context, target string, vars map[string]string) (*Node, error) {
	memo := make(map[string]*Node)
	return r.resolve(ctx, target, vars, memo, map[string]bool{}, nil)
}

// ResolveMany expands targets into one DAG per target, sharing a single
// memo cache so children common to multiple targets are resolved once.
func (r *Resolver) ResolveMany(ctx context.Context, targets []string, vars map[string]string) ([]*Node, error) {
	memo := make(map[string]*Node)
	nodes := make([]*Node, len(targets))
	for i, t := range targets {
		n, err := r.resolve(ctx, t, vars, memo, map[string]bool{}, nil)
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return nodes, nil
}

func (r *Resolver) resolve(ctx context.Context, target string, vars map[string]string, memo map[string]*Node, stack map[string]bool, path []string) (*Node, error) {
	clean, err := pathutil.Clean(target)
	if err != nil {
		return nil, &diagnostics.BadRequestError{Reason: err.Error()}
	}

	if node, ok := memo[clean]; ok {
		return node, nil
	}

	if pathutil.IsAbsoluteBinary(clean) {
		node := &Node{Target: clean, IsSource: true}
		memo[clean] = node
		return node, nil
	}

	if r.Classifier.IsSource(clean) {
		st, err := r.FSView.Stat(r.fullPath(clean))
		if err != nil {
			return nil, fmt.Errorf("depgraph: stat %q: %w", clean, err)
		}
		if !st.Exists {
			return nil, &diagnostics.BadRequestError{Reason: fmt.Sprintf("source input %q does not exist", clean)}
		}
		node := &Node{Target: clean, IsSource: true}
		memo[clean] = node
		return node, nil
	}

	if stack[clean] {
		return nil, &diagnostics.CycleDetectedError{Cycle: append(slices.Clone(path), clean)}
	}

	rule, bindings, ok := r.Registry.Find(clean)
	if !ok {
		return nil, &diagnostics.UnknownTargetError{Target: clean}
	}

	stack[clean] = true
	defer delete(stack, clean)
	nextPath := append(slices.Clone(path), clean)

	inputs, err := ruleset.ExpandInputs(rule, bindings, r.SourceRoot, r.Ignore)
	if err != nil {
		return nil, err
	}

	inputs, err = r.convergeComputedInputs(ctx, rule, clean, bindings, inputs, vars)
	if err != nil {
		return nil, err
	}

	children := make([]*Node, len(inputs))
	for i, in := range inputs {
		child, err := r.resolve(ctx, in, vars, memo, stack, nextPath)
		if err != nil {
			return nil, err
		}
		children[i] = child
	}

	contextView := restrictContext(vars, capability.UsedContextKeys(rule.Capability))

	capNode := capability.Node{Target: clean, Bindings: bindings, Inputs: inputs}
	versionTag, err := nodeVersion(ctx, rule.Capability, capNode)
	if err != nil {
		return nil, fmt.Errorf("depgraph: resolving version for %q: %w", clean, err)
	}

	node := &Node{
		Target:      clean,
		Rule:        rule,
		Bindings:    bindings,
		Inputs:      inputs,
		Children:    children,
		ContextView: contextView,
		VersionTag:  versionTag,
	}
	memo[clean] = node
	return node, nil
}

// convergeComputedInputs runs the computed-inputs fixpoint loop: computed
// inputs are a monotone function (only added, never removed) between
// iterations, so the loop is simply bounded by maxDepth and exits as soon
// as an iteration adds nothing new.
func (r *Resolver) convergeComputedInputs(ctx context.Context, rule *ruleset.Rule, target string, bindings map[string]string, inputs []string, vars map[string]string) ([]string, error) {
	cip, ok := rule.Capability.(capability.ComputedInputsProvider)
	if !ok {
		return inputs, nil
	}

	included := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		included[in] = true
	}

	for depth := 0; ; depth++ {
		if depth >= r.maxDepth() {
			return nil, &diagnostics.ComputedInputsDivergenceError{Target: target, MaxDepth: r.maxDepth()}
		}

		node := capability.Node{Target: target, Bindings: bindings, Inputs: inputs}
		extra, err := cip.ComputedInputs(ctx, node, vars)
		if err != nil {
			return nil, fmt.Errorf("depgraph: computed_inputs for %q: %w", target, err)
		}

		var fresh []string
		for _, e := range extra {
			clean, err := pathutil.Clean(e)
			if err != nil {
				return nil, &diagnostics.BadRequestError{Reason: err.Error()}
			}
			if !included[clean] {
				included[clean] = true
				fresh = append(fresh, clean)
			}
		}
		if len(fresh) == 0 {
			return inputs, nil
		}
		inputs = append(inputs, fresh...)
		log.For("depgraph").WithField("target", target).WithField("count", len(fresh)).Debug("computed inputs converging")
	}
}

func (r *Resolver) fullPath(clean string) string {
	if r.SourceRoot == "" {
		return clean
	}
	return joinPath(r.SourceRoot, clean)
}

func restrictContext(vars map[string]string, keys []string) map[string]string {
	if len(keys) == 0 {
		return nil
	}
	view := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := vars[k]; ok {
			view[k] = v
		}
	}
	return view
}

func nodeVersion(ctx context.Context, cap capability.Capability, node capability.Node) (int, error) {
	if nv, ok := cap.(capability.NodeVersioned); ok {
		return nv.HashVersion(ctx, node)
	}
	return capability.Version(cap), nil
}
