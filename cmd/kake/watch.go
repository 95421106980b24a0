package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/kakebuild/kake/internal/diagnostics"
	"github.com/kakebuild/kake/internal/discovery"
	"github.com/kakebuild/kake/internal/engine"
	"github.com/kakebuild/kake/internal/ignore"
	"github.com/kakebuild/kake/internal/watch"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Build targets, then rebuild them whenever their inputs change on disk",
		ArgsUsage: "TARGET...",
		Flags:     projectFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			targets, err := discovery.Expand(cmd.Args().Slice(), discovery.Options{
				ProjectRoot: cfg.ProjectRoot,
				Ignore:      ignore.New(cfg.ProjectRoot),
			})
			if err != nil {
				return fmt.Errorf("kake: %w", err)
			}
			if len(targets) == 0 {
				return fmt.Errorf("kake: watch requires at least one target")
			}

			e, err := newEngine(cfg)
			if err != nil {
				return err
			}
			if err := registerDemoRules(e); err != nil {
				return fmt.Errorf("kake: %w", err)
			}

			reporter, err := diagnostics.NewReporter(cfg.Output.Format)
			if err != nil {
				return fmt.Errorf("kake: %w", err)
			}

			rebuild := func(ctx context.Context) {
				result, err := e.BuildMany(ctx, targets, nil)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					return
				}
				if err := reporter.Report(os.Stdout, result.Report); err != nil {
					fmt.Fprintln(os.Stderr, err)
				}
			}
			rebuild(ctx)

			// Changes to generated outputs are already handled by the
			// executor's post-build invalidation; watching them would only
			// rebuild everything twice per build.
			sig := &rebuildSignaler{eng: e, ch: make(chan struct{}, 1)}
			w, err := watch.New(cfg.ProjectRoot, sig, watch.WithIgnore(func(rel string) bool {
				return rel == cfg.GenfilesPrefix || strings.HasPrefix(rel, cfg.GenfilesPrefix+"/")
			}))
			if err != nil {
				return fmt.Errorf("kake: %w", err)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("kake: %w", err)
			}
			defer w.Stop()

			fmt.Fprintf(os.Stderr, "watching %s for changes (ctrl-c to stop)\n", cfg.ProjectRoot)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-sig.ch:
					rebuild(ctx)
				}
			}
		},
	}
}

// rebuildSignaler forwards watcher invalidations to the Engine and nudges
// the watch loop to rebuild. The channel has capacity one: invalidations
// arriving while a rebuild is already pending collapse into it.
type rebuildSignaler struct {
	eng *engine.Engine
	ch  chan struct{}
}

func (s *rebuildSignaler) InvalidatePath(path string) {
	s.eng.InvalidatePath(path)
	s.notify()
}

func (s *rebuildSignaler) InvalidateFilesystemView() {
	s.eng.InvalidateFilesystemView()
	s.notify()
}

func (s *rebuildSignaler) notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}
