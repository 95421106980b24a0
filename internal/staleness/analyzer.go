package staleness

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kakebuild/kake/internal/capability"
	"github.com/kakebuild/kake/internal/depgraph"
	"github.com/kakebuild/kake/internal/fsview"
	"github.com/kakebuild/kake/internal/log"
)

// Analyzer decides whether a resolved node needs rebuilding, consulting
// the filesystem view for mtimes and the sidecar for the last-built
// version tag and context digest. Child nodes must already have been
// built by the time Stale is called on their parent: staleness is
// evaluated in topological order, so fresh child mtimes participate.
type Analyzer struct {
	FSView      *fsview.View
	ProjectRoot string
}

// Verdict reports a staleness decision and, when stale, the inputs
// responsible for it — the changed_inputs the executor passes to Build.
type Verdict struct {
	Stale   bool
	Reason  string
	Changed []string
}

// Stale evaluates node against the current filesystem and sidecar state.
func (a *Analyzer) Stale(ctx context.Context, node *depgraph.Node, vars map[string]string) (Verdict, error) {
	outputFull := a.full(node.Target)

	outStat, err := a.FSView.Stat(outputFull)
	if err != nil {
		return Verdict{}, fmt.Errorf("staleness: stat output %q: %w", node.Target, err)
	}
	if !outStat.Exists {
		log.For("staleness").WithField("target", node.Target).Debug("stale: output missing")
		return Verdict{Stale: true, Reason: "output missing", Changed: node.Inputs}, nil
	}

	sidecar, err := ReadSidecar(outputFull)
	if err != nil {
		return Verdict{}, err
	}
	if sidecar == nil {
		return Verdict{Stale: true, Reason: "missing or unparsable sidecar", Changed: node.Inputs}, nil
	}

	if sidecar.VersionTag != node.VersionTag {
		return Verdict{Stale: true, Reason: "rule version changed", Changed: node.Inputs}, nil
	}

	wantDigest := ContextDigest(node.ContextView)
	if sidecar.ContextDigest != wantDigest {
		return Verdict{Stale: true, Reason: "context digest changed", Changed: node.Inputs}, nil
	}

	var changed []string
	for _, child := range node.Children {
		childStat, err := a.FSView.Stat(a.full(child.Target))
		if err != nil {
			return Verdict{}, fmt.Errorf("staleness: stat input %q: %w", child.Target, err)
		}
		if !childStat.Exists || childStat.MtimeNS > outStat.MtimeNS {
			changed = append(changed, child.Target)
		}
	}
	if len(changed) > 0 {
		return Verdict{Stale: true, Reason: "input newer than output", Changed: changed}, nil
	}

	if node.Rule != nil {
		if newer, dep, err := a.nonInputDepsNewer(node, outStat); err != nil {
			return Verdict{}, err
		} else if newer {
			log.For("staleness").WithField("target", node.Target).WithField("dep", dep).Debug("stale: non-input dep newer")
			return Verdict{Stale: true, Reason: "non-input dependency newer than output", Changed: node.Inputs}, nil
		}
	}

	return Verdict{Stale: false}, nil
}

func (a *Analyzer) nonInputDepsNewer(node *depgraph.Node, outStat fsview.Stat) (bool, string, error) {
	provider, ok := node.Rule.Capability.(capability.NonInputDepsProvider)
	if !ok {
		return false, "", nil
	}
	capNode := capability.Node{Target: node.Target, Bindings: node.Bindings, Inputs: node.Inputs}
	for _, dep := range provider.NonInputDeps(capNode) {
		st, err := a.FSView.Stat(a.full(dep))
		if err != nil {
			return false, "", fmt.Errorf("staleness: stat non-input dep %q: %w", dep, err)
		}
		if st.Exists && st.MtimeNS > outStat.MtimeNS {
			return true, dep, nil
		}
	}
	return false, "", nil
}

func (a *Analyzer) full(relOrAbs string) string {
	if filepath.IsAbs(relOrAbs) || a.ProjectRoot == "" {
		return relOrAbs
	}
	return filepath.ToSlash(filepath.Join(a.ProjectRoot, filepath.FromSlash(relOrAbs)))
}
