package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kakebuild/kake/internal/config"
	"github.com/kakebuild/kake/internal/engine"
)

func invalidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "invalidate",
		Usage:     "Drop cached filesystem state, forcing the next build to re-observe it",
		ArgsUsage: "[PATH...]",
		Flags:     projectFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			e, err := newEngine(cfg)
			if err != nil {
				return err
			}

			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				e.InvalidateFilesystemView()
				fmt.Println("invalidated entire filesystem view")
				return nil
			}

			for _, p := range paths {
				e.InvalidatePath(p)
			}
			fmt.Printf("invalidated %d path(s)\n", len(paths))
			return nil
		},
	}
}

func newEngine(cfg *config.Config) (*engine.Engine, error) {
	e, err := engine.New(
		engine.WithProjectRoot(cfg.ProjectRoot),
		engine.WithGenfilesPrefix(cfg.GenfilesPrefix),
		engine.WithWorkers(cfg.Concurrency),
		engine.WithComputedInputsMaxDepth(cfg.ComputedInputsMaxDepth),
	)
	if err != nil {
		return nil, fmt.Errorf("kake: %w", err)
	}
	return e, nil
}
