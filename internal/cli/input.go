package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"geoweaver/internal/config"
	"geoweaver/internal/models"
)

const (
	ExitSuccess           = 0
	ExitGraphFailure      = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

type ExecutionMode string

const (
	// ExecutionModeClean ignores the fingerprint ledger and rebuilds
	// everything. Nothing is recorded for later runs.
	ExecutionModeClean ExecutionMode = "clean"
	// ExecutionModeIncremental skips tasks whose fingerprint matches the
	// ledger.
	ExecutionModeIncremental ExecutionMode = "incremental"
)

// Invocation is the canonical description of one model run.
//
// Flag values override the configuration file. Relative paths given on the
// command line are resolved against the process working directory; relative
// paths inside the configuration file against the file's directory.
type Invocation struct {
	Model      string
	ConfigPath string
	Workspace  string
	Suffix     string
	Workers    int
	Mode       ExecutionMode
	Verbose    bool

	// TracePath, when set, receives the canonical execution trace.
	TracePath string
	// MetricsPath, when set, receives the run's metrics in the Prometheus
	// text format.
	MetricsPath string

	// Apply sets model inputs given as flags. Paths it sets must already be
	// absolute.
	Apply func(cfg *config.Config)
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

// Resolve loads the configuration and applies the invocation's overrides.
// The shared sections are validated here; the model section is validated by
// the model's builder.
func (inv Invocation) Resolve() (*config.Config, error) {
	if _, ok := models.Lookup(inv.Model); !ok {
		return nil, invalidInvocationf("unknown model %q (expected one of %s)", inv.Model, strings.Join(models.Names(), "|"))
	}
	if _, err := parseExecutionMode(string(inv.Mode)); err != nil {
		return nil, err
	}
	if inv.Workers < 0 {
		return nil, invalidInvocationf("--workers must be >= 0, got %d", inv.Workers)
	}

	cfg := config.Default()
	if strings.TrimSpace(inv.ConfigPath) != "" {
		var err error
		if cfg, err = config.Load(inv.ConfigPath); err != nil {
			return nil, configErrorf("%v", err)
		}
	}
	if inv.Workspace != "" {
		abs, err := filepath.Abs(inv.Workspace)
		if err != nil {
			return nil, invalidInvocationf("--workspace: %v", err)
		}
		cfg.Workspace = abs
	}
	if inv.Suffix != "" {
		cfg.Suffix = inv.Suffix
	}
	if inv.Workers > 0 {
		cfg.Execution.Workers = inv.Workers
	}
	if inv.Apply != nil {
		inv.Apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, configErrorf("invalid configuration: %v", err)
	}
	return cfg, nil
}

func parseExecutionMode(raw string) (ExecutionMode, error) {
	n := strings.ToLower(strings.TrimSpace(raw))
	switch ExecutionMode(n) {
	case ExecutionModeClean, ExecutionModeIncremental:
		return ExecutionMode(n), nil
	case "":
		return "", invalidInvocationf("--mode is required")
	default:
		return "", invalidInvocationf("invalid --mode %q (expected clean|incremental)", raw)
	}
}

// absPath resolves a flag path against the working directory. Empty stays
// empty.
func absPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", nil
	}
	return filepath.Abs(filepath.Clean(p))
}

// ExitCode extracts a semantic exit code from an error.
// If the error is not a known invocation error, it returns ExitInternalError.
func ExitCode(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitSuccess
	}
	return ExitInternalError
}
