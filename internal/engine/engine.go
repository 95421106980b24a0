// Package engine wires the resolver, staleness analyzer, and executor
// together behind the embeddable API: register rules once at startup,
// then call Build/BuildMany repeatedly as the host serves requests, with
// InvalidatePath/InvalidateFilesystemView feeding it filesystem-change
// notifications from a watcher or the host's own write path.
package engine

import (
	"context"
	"fmt"
	"sync"

	digest "github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/kakebuild/kake/internal/capability"
	"github.com/kakebuild/kake/internal/depgraph"
	"github.com/kakebuild/kake/internal/diagnostics"
	"github.com/kakebuild/kake/internal/executor"
	"github.com/kakebuild/kake/internal/fsview"
	"github.com/kakebuild/kake/internal/ignore"
	"github.com/kakebuild/kake/internal/log"
	"github.com/kakebuild/kake/internal/pathutil"
	"github.com/kakebuild/kake/internal/ruleset"
	"github.com/kakebuild/kake/internal/staleness"
)

// Engine is the single long-lived object a host constructs once and keeps
// for its process lifetime. It is safe for concurrent use: the registry is
// read-only after registration finishes, and every other component
// (fsview.View, the executor's single-flight group) is built for
// concurrent access from the ground up.
type Engine struct {
	registry *ruleset.Registry
	fsview   *fsview.View
	ignore   *ignore.Matcher

	// mu guards the fields below, which SetProjectRoot/SetGenfilesPrefix
	// replace wholesale. Build/BuildMany snapshot a consistent
	// (resolver, executor) pair under RLock before walking a plan, so an
	// in-flight build always runs against one root/prefix, never a mix
	// of before- and after-the-change state.
	mu          sync.RWMutex
	classifier  *pathutil.Classifier
	resolver    *depgraph.Resolver
	executor    *executor.Executor
	projectRoot string
	workers     int
	maxDepth    int
}

// Option configures an Engine at construction time.
type Option func(*engineConfig)

type engineConfig struct {
	projectRoot            string
	genfilesPrefix         string
	workers                int
	maxComputedInputsDepth int
	ignoreMatcher          *ignore.Matcher
}

// WithProjectRoot sets the directory every target path is resolved
// relative to. Default: the process's current working directory.
func WithProjectRoot(path string) Option {
	return func(c *engineConfig) { c.projectRoot = path }
}

// WithGenfilesPrefix sets the project-relative directory generated
// outputs live under. Default: "genfiles".
func WithGenfilesPrefix(prefix string) Option {
	return func(c *engineConfig) { c.genfilesPrefix = prefix }
}

// WithWorkers bounds the executor's concurrent build pool. Default: 4.
func WithWorkers(n int) Option {
	return func(c *engineConfig) { c.workers = n }
}

// WithComputedInputsMaxDepth bounds the computed-inputs fixpoint loop.
// Default: 8.
func WithComputedInputsMaxDepth(n int) Option {
	return func(c *engineConfig) { c.maxComputedInputsDepth = n }
}

// WithIgnoreMatcher supplies a .kakeignore matcher filtering glob
// expansions. Default: no filtering.
func WithIgnoreMatcher(m *ignore.Matcher) Option {
	return func(c *engineConfig) { c.ignoreMatcher = m }
}

// New constructs an Engine ready for rule registration.
func New(opts ...Option) (*Engine, error) {
	cfg := &engineConfig{projectRoot: ".", genfilesPrefix: "genfiles"}
	for _, opt := range opts {
		opt(cfg)
	}

	e := &Engine{
		registry: ruleset.New(),
		fsview:   fsview.New(),
		ignore:   cfg.ignoreMatcher,
		workers:  cfg.workers,
		maxDepth: cfg.maxComputedInputsDepth,
	}
	if err := e.rebuild(cfg.projectRoot, cfg.genfilesPrefix); err != nil {
		return nil, err
	}
	return e, nil
}

// rebuild replaces the classifier/resolver/analyzer/executor quartet for a
// new (projectRoot, genfilesPrefix) pair. Callers must hold e.mu for
// writing.
func (e *Engine) rebuild(projectRoot, genfilesPrefix string) error {
	classifier, err := pathutil.NewClassifier(genfilesPrefix)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	analyzer := &staleness.Analyzer{FSView: e.fsview, ProjectRoot: projectRoot}

	e.classifier = classifier
	e.projectRoot = projectRoot
	e.resolver = &depgraph.Resolver{
		Registry:               e.registry,
		Classifier:             classifier,
		FSView:                 e.fsview,
		Ignore:                 e.ignore,
		SourceRoot:             projectRoot,
		MaxComputedInputsDepth: e.maxDepth,
	}
	e.executor = &executor.Executor{
		FSView:      e.fsview,
		Staleness:   analyzer,
		ProjectRoot: projectRoot,
		Workers:     e.workers,
	}
	return nil
}

// SetProjectRoot changes the directory target paths are resolved relative
// to. Takes effect for every Build/BuildMany call started afterward; calls
// already in flight keep running against the root they started with.
func (e *Engine) SetProjectRoot(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuild(path, e.classifier.GenfilesPrefix())
}

// SetGenfilesPrefix changes the generated-output prefix. Same in-flight
// semantics as SetProjectRoot.
func (e *Engine) SetGenfilesPrefix(prefix string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuild(e.projectRoot, prefix)
}

// snapshot returns a consistent (resolver, executor, root)
// tuple for one Build/BuildMany call.
func (e *Engine) snapshot() (*depgraph.Resolver, *executor.Executor, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolver, e.executor, e.projectRoot
}

// RegisterCompile registers one rule: an output pattern, its ordered
// static input patterns, and the capability that builds it. Registration
// is expected to happen at host startup, before the first Build call; the
// registry enforces no locking discipline against concurrent Build calls
// beyond the read-write mutex already in ruleset.Registry.
func (e *Engine) RegisterCompile(label, outputPattern string, inputPatterns []string, cap capability.Capability) error {
	return e.registry.RegisterCompile(label, outputPattern, inputPatterns, cap)
}

// BuildResult reports the outcome of resolving and building a single
// target, including every transitive node touched along the way.
type BuildResult struct {
	Target   string
	Rebuilt  bool
	Outcomes []executor.Outcome
}

// Build resolves target to its plan and brings it up to date, rebuilding
// only the nodes staleness analysis finds stale. vars is the context view
// available to ContextAware capabilities and computed-inputs providers.
func (e *Engine) Build(ctx context.Context, target string, vars map[string]string) (*BuildResult, error) {
	resolver, exec, _ := e.snapshot()

	node, err := resolver.Resolve(ctx, target, vars)
	if err != nil {
		return nil, err
	}

	outcomes, err := exec.Build(ctx, node, vars)
	if err != nil {
		return &BuildResult{Target: target, Outcomes: outcomes}, err
	}

	rebuilt := false
	for _, o := range outcomes {
		if o.Target == target {
			rebuilt = o.Rebuilt
		}
	}
	return &BuildResult{Target: target, Rebuilt: rebuilt, Outcomes: outcomes}, nil
}

// BuildManyResult reports per-target outcomes for a BuildMany call,
// aggregated through the same diagnostics.Chain a CLI front end uses to
// render a single report for the whole batch.
type BuildManyResult struct {
	Results []*BuildResult
	Report  diagnostics.Report
}

// BuildMany resolves and builds every target in one pass: a single
// resolve memo is shared across targets so inputs common to more than one
// requested target are only resolved once, and the per-target walks then
// run concurrently so the union of the DAGs is executed once. A child
// shared by two targets coalesces on the executor's single-flight table
// while both walks are in flight; a walk arriving after the child has
// already finished finds it fresh instead.
func (e *Engine) BuildMany(ctx context.Context, targets []string, vars map[string]string) (*BuildManyResult, error) {
	resolver, exec, _ := e.snapshot()

	nodes, err := resolver.ResolveMany(ctx, targets, vars)
	if err != nil {
		return nil, err
	}

	results := make([]*BuildResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, node := range nodes {
		i, node := i, node
		g.Go(func() error {
			outcomes, _ := exec.Build(gctx, node, vars)
			res := &BuildResult{Target: targets[i], Outcomes: outcomes}
			for _, o := range outcomes {
				if o.Target == targets[i] {
					res.Rebuilt = o.Rebuilt
				}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var allOutcomes []diagnostics.Outcome
	for _, res := range results {
		for _, o := range res.Outcomes {
			allOutcomes = append(allOutcomes, diagnostics.Outcome{
				Target:  o.Target,
				Rebuilt: o.Rebuilt,
				Err:     o.Err,
			})
		}
	}

	report := diagnostics.DefaultChain().Run(allOutcomes)
	log.For("engine").WithField("targets", len(targets)).WithField("failed", len(report.Failed())).Info("build_many complete")

	return &BuildManyResult{Results: results, Report: report}, nil
}

// InvalidateFilesystemView drops every cached stat and content hash,
// forcing the next Build call to re-observe the filesystem from scratch.
// Intended for a bulk external change the watcher couldn't enumerate
// precisely (e.g. a git checkout or a dropped inotify queue).
func (e *Engine) InvalidateFilesystemView() {
	e.fsview.InvalidateAll()
}

// InvalidatePath drops the cached stat and content hash for a single
// path, normally called by internal/watch in response to one filesystem
// event.
func (e *Engine) InvalidatePath(path string) {
	e.mu.RLock()
	root := e.projectRoot
	e.mu.RUnlock()
	e.fsview.Invalidate(full(root, path))
}

func full(root, relOrAbs string) string {
	if pathutil.IsAbsoluteBinary(relOrAbs) || root == "" {
		return relOrAbs
	}
	return root + "/" + relOrAbs
}

// ProjectRoot returns the directory target paths are resolved relative to.
func (e *Engine) ProjectRoot() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.projectRoot
}

// GenfilesPrefix returns the configured generated-output prefix.
func (e *Engine) GenfilesPrefix() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.classifier.GenfilesPrefix()
}

// Hasher exposes the Engine's filesystem view as a capability.Hasher, for
// capabilities such as CachedFile that need to hash inputs using the same
// cache the executor and staleness analyzer already maintain. The returned
// hasher anchors project-relative paths at the Engine's current project
// root — capability.Node.Inputs are project-relative, but the underlying
// view keys entries by the path it was asked to open.
func (e *Engine) Hasher() capability.Hasher {
	return rootedHasher{e: e}
}

type rootedHasher struct {
	e *Engine
}

func (h rootedHasher) Hash(ctx context.Context, path string) (digest.Digest, error) {
	h.e.mu.RLock()
	root := h.e.projectRoot
	h.e.mu.RUnlock()
	return h.e.fsview.Hash(ctx, full(root, path))
}

// Caller returns a capability.Caller bound to the Engine's project root,
// for ExecRule-style capabilities that shell out to a subprocess.
func (e *Engine) Caller() capability.Caller {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return capability.Caller{WorkDir: e.projectRoot}
}
