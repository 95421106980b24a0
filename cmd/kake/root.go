package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kakebuild/kake/internal/version"
)

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "kake",
		Usage:   "An in-process build and dependency engine",
		Version: version.Version(),
		Description: `kake resolves targets to a dependency graph, rebuilds only what staleness
analysis finds out of date, and reports what it did.

Examples:
  kake build genfiles/out.txt
  kake build genfiles/*.txt
  kake watch genfiles/out.txt
  kake invalidate
  kake version`,
		Commands: []*cli.Command{
			buildCommand(),
			watchCommand(),
			invalidateCommand(),
			versionCommand(),
		},
	}
}

// Execute runs the CLI application.
func Execute() error {
	return NewApp().Run(context.Background(), os.Args)
}
