package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kakebuild/kake/internal/config"
)

// projectFlags are shared between every subcommand that talks to an Engine.
func projectFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "project-root",
			Usage:   "Directory target paths are resolved relative to (default: auto-discovered)",
			Sources: cli.EnvVars("KAKE_PROJECT_ROOT"),
		},
		&cli.StringFlag{
			Name:    "genfiles-prefix",
			Usage:   "Project-relative directory generated outputs live under",
			Sources: cli.EnvVars("KAKE_GENFILES_PREFIX"),
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Executor worker pool size",
			Sources: cli.EnvVars("KAKE_CONCURRENCY"),
		},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Diagnostics output format: text, json, sarif",
			Sources: cli.EnvVars("KAKE_OUTPUT_FORMAT"),
		},
		&cli.StringFlag{
			Name:  "progress",
			Usage: "Progress rendering: auto, always, never",
		},
	}
}

// loadConfig discovers and loads configuration for the current invocation,
// applying any CLI flags the user explicitly set as the highest-priority
// overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	invocationDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	overrides := map[string]any{}
	if cmd.IsSet("project-root") {
		overrides["project-root"] = cmd.String("project-root")
	}
	if cmd.IsSet("genfiles-prefix") {
		overrides["genfiles-prefix"] = cmd.String("genfiles-prefix")
	}
	if cmd.IsSet("concurrency") {
		overrides["concurrency"] = cmd.Int("concurrency")
	}
	if cmd.IsSet("format") || cmd.IsSet("progress") {
		output := map[string]any{}
		if cmd.IsSet("format") {
			output["format"] = cmd.String("format")
		}
		if cmd.IsSet("progress") {
			output["progress"] = cmd.String("progress")
		}
		overrides["output"] = output
	}

	return config.LoadWithFlags(invocationDir, overrides)
}
