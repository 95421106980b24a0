package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"charm.land/bubbles/v2/spinner"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/kakebuild/kake/internal/diagnostics"
	"github.com/kakebuild/kake/internal/discovery"
	"github.com/kakebuild/kake/internal/ignore"
)

func buildCommand() *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "Bring one or more targets up to date",
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
				return fmt.Errorf("kake: build requires at least one target")
			}

			e, err := newEngine(cfg)
			if err != nil {
				return err
			}
			if err := registerDemoRules(e); err != nil {
				return fmt.Errorf("kake: %w", err)
			}

			stopSpinner := startBuildSpinner(cfg.Output.Progress, len(targets))
			result, buildErr := e.BuildMany(ctx, targets, nil)
			stopSpinner()
			if buildErr != nil {
				return fmt.Errorf("kake: %w", buildErr)
			}

			reporter, err := diagnostics.NewReporter(cfg.Output.Format)
			if err != nil {
				return fmt.Errorf("kake: %w", err)
			}
			if err := reporter.Report(os.Stdout, result.Report); err != nil {
				return fmt.Errorf("kake: %w", err)
			}

			if !result.Report.OK() {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

// startBuildSpinner renders a line-updating spinner while a build runs when
// mode is "always", or when stderr is a TTY and mode isn't "never". With
// mode "never" it prints nothing; otherwise it prints one line up front.
// In both of those cases it returns a no-op stop function.
func startBuildSpinner(mode string, targetCount int) func() {
	if mode == "never" {
		return func() {}
	}

	msg := fmt.Sprintf("building %d target(s)", targetCount)
	interactive := mode == "always" || (mode != "never" && isatty.IsTerminal(os.Stderr.Fd()))
	if !interactive {
		fmt.Fprintln(os.Stderr, msg)
		return func() {}
	}

	sp := spinner.Line
	frames := sp.Frames
	interval := sp.FPS
	if len(frames) == 0 {
		frames = []string{"-"}
	}
	if interval <= 0 {
		interval = 120 * time.Millisecond
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		frame := 0
		for {
			select {
			case <-stop:
				fmt.Fprint(os.Stderr, "\r\033[2K")
				close(done)
				return
			case <-ticker.C:
				fmt.Fprintf(os.Stderr, "\r%s %s", frames[frame%len(frames)], msg)
				frame++
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}
