// Package config provides configuration loading and discovery for the kake
// CLI front end.
//
// Configuration is loaded from multiple sources with the following priority
// (highest to lowest):
//  1. CLI flags (applied by the caller via confmap.Provider)
//  2. Environment variables (KAKE_* prefix)
//  3. Config file (closest .kake.toml or kake.toml)
//  4. Built-in defaults
//
// Config file discovery follows a cascading pattern similar to Ruff/ESLint:
// starting from the invocation directory, walk up the filesystem until a
// config file is found. The closest config wins (no merging).
//
// The engine core itself (internal/engine) never reads this package — it
// takes an already-resolved project root, genfiles prefix, and worker count
// through its Option constructors. Config exists only so the CLI front end
// doesn't require every setting spelled out as a flag.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gkampitakis/ciinfo"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// FileNames defines the config file names to search for, in priority order.
var FileNames = []string{".kake.toml", "kake.toml"}

// EnvPrefix is the prefix for environment variables.
const EnvPrefix = "KAKE_"

// Config represents the complete kake CLI configuration.
type Config struct {
	// ProjectRoot is the directory all target paths are relative to.
	// Default: the directory containing the config file, or "." if none.
	ProjectRoot string `koanf:"project-root"`

	// GenfilesPrefix is the project-relative directory generated outputs
	// live under. Default: "genfiles".
	GenfilesPrefix string `koanf:"genfiles-prefix"`

	// Concurrency is the executor's worker pool size. Default: NumCPU,
	// clamped down when running under CI (see Default).
	Concurrency int `koanf:"concurrency"`

	// ComputedInputsMaxDepth bounds the computed-inputs fixpoint loop.
	// Default: 8.
	ComputedInputsMaxDepth int `koanf:"computed-inputs-max-depth"`

	// Output configures diagnostics rendering for the CLI.
	Output OutputConfig `koanf:"output"`

	// ConfigFile is the path to the config file that was loaded (if any).
	// This is metadata, not loaded from config.
	ConfigFile string `koanf:"-"`
}

// OutputConfig configures CLI diagnostics formatting.
type OutputConfig struct {
	// Format specifies the output format: "text", "json", or "sarif".
	// Default: "text"
	Format string `koanf:"format"`

	// Progress controls whether a live TUI progress view is rendered:
	// "auto" (TTY-detected), "always", or "never". Default: "auto"
	Progress string `koanf:"progress"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	concurrency := runtime.NumCPU()
	if ciinfo.IsCI {
		// CI runners are typically shared, resource-constrained machines;
		// a developer's workstation is not. Clamp instead of defaulting to
		// every core.
		concurrency = min(concurrency, 2)
	}

	return &Config{
		ProjectRoot:            ".",
		GenfilesPrefix:         "genfiles",
		Concurrency:            concurrency,
		ComputedInputsMaxDepth: 8,
		Output: OutputConfig{
			Format:   "text",
			Progress: "auto",
		},
	}
}

// Load loads configuration relevant to a target invocation directory. It
// discovers the closest config file, loads it, and applies environment
// variable overrides.
func Load(invocationDir string) (*Config, error) {
	return LoadWithFlags(invocationDir, nil)
}

// LoadWithFlags loads configuration the same way as Load, additionally
// applying flagOverrides (the same nested shape as the TOML file) with the
// highest precedence — e.g. values parsed from CLI flags.
func LoadWithFlags(invocationDir string, flagOverrides map[string]any) (*Config, error) {
	configPath := Discover(invocationDir)

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: func(k, v string) (string, any) {
			return envKeyTransform(k), v
		},
	}), nil); err != nil {
		return nil, err
	}

	if len(flagOverrides) > 0 {
		if err := k.Load(confmap.Provider(flagOverrides, ""), nil); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	cfg.ConfigFile = configPath

	if cfg.ProjectRoot == "." && configPath != "" {
		cfg.ProjectRoot = filepath.Dir(configPath)
	}

	return cfg, Validate(cfg)
}

// Validate checks that a loaded Config is internally consistent.
func Validate(cfg *Config) error {
	if cfg.Concurrency <= 0 {
		return &InvalidFieldError{Field: "concurrency", Reason: "must be > 0"}
	}
	if cfg.ComputedInputsMaxDepth <= 0 {
		return &InvalidFieldError{Field: "computed-inputs-max-depth", Reason: "must be > 0"}
	}
	if cfg.GenfilesPrefix == "" {
		return &InvalidFieldError{Field: "genfiles-prefix", Reason: "must not be empty"}
	}
	switch cfg.Output.Format {
	case "text", "json", "sarif":
	default:
		return &InvalidFieldError{Field: "output.format", Reason: "must be one of text, json, sarif"}
	}
	switch cfg.Output.Progress {
	case "auto", "always", "never":
	default:
		return &InvalidFieldError{Field: "output.progress", Reason: "must be one of auto, always, never"}
	}
	return nil
}

// InvalidFieldError reports a config field that failed validation.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return "config: " + e.Field + ": " + e.Reason
}

// envKeyTransform converts environment variable names to config keys.
// KAKE_CONCURRENCY -> concurrency
// KAKE_OUTPUT_FORMAT -> output.format
func envKeyTransform(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", ".")
	for pattern, replacement := range knownHyphenatedKeys {
		s = strings.ReplaceAll(s, pattern, replacement)
	}
	return s
}

var knownHyphenatedKeys = map[string]string{
	"project.root":              "project-root",
	"genfiles.prefix":           "genfiles-prefix",
	"computed.inputs.max.depth": "computed-inputs-max-depth",
}

// Discover finds the closest config file starting from invocationDir,
// walking up the filesystem tree. Returns "" if no config file is found.
func Discover(invocationDir string) string {
	absPath, err := filepath.Abs(invocationDir)
	if err != nil {
		return ""
	}

	dir := absPath
	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if fileExists(candidate) {
				return candidate
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
