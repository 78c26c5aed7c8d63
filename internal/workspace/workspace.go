// Package workspace lays out a model run directory:
//
//	<root>/inputs/        read-only inputs
//	<root>/intermediate/  files passed between tasks
//	<root>/outputs/       model results
//	<root>/.geoweaver/    fingerprint ledger and run records
//
// Paths handed to tasks are relative to the root so fingerprints do not
// depend on where the workspace lives.
package workspace

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"geoweaver/internal/core"
	"geoweaver/internal/geoerr"
	"geoweaver/internal/runlog"
)

const (
	InputsDir       = "inputs"
	IntermediateDir = "intermediate"
	OutputsDir      = "outputs"
	MetaDir         = ".geoweaver"
)

// Ledger backends.
const (
	LedgerJSON   = "json"
	LedgerSQLite = "sqlite"
)

// Workspace is an opened run directory.
type Workspace struct {
	Root string

	// Suffix is appended to every intermediate and output file name, before
	// the extension. It always starts with "_" when set.
	Suffix string
}

// Open creates the directory layout under root if needed.
func Open(root, suffix string) (*Workspace, error) {
	const op = "workspace.Open"
	if strings.TrimSpace(root) == "" {
		return nil, geoerr.Inputf(op, "", "workspace path is required")
	}
	suffix, err := NormalizeSuffix(suffix)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, geoerr.IO(op, root, err)
	}
	for _, d := range []string{InputsDir, IntermediateDir, OutputsDir, MetaDir} {
		if err := os.MkdirAll(filepath.Join(abs, d), 0o755); err != nil {
			return nil, geoerr.IO(op, filepath.Join(abs, d), err)
		}
	}
	return &Workspace{Root: abs, Suffix: suffix}, nil
}

// NormalizeSuffix prefixes a non-empty suffix with "_" and rejects path
// separators.
func NormalizeSuffix(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if strings.ContainsAny(s, `/\`) {
		return "", geoerr.Inputf("workspace.NormalizeSuffix", "", "suffix %q must not contain path separators", s)
	}
	if !strings.HasPrefix(s, "_") {
		s = "_" + s
	}
	return s, nil
}

// Input returns the workspace-relative path of an input file.
func (w *Workspace) Input(name string) string { return path.Join(InputsDir, name) }

// Intermediate returns the suffixed workspace-relative path of an
// intermediate file.
func (w *Workspace) Intermediate(name string) string {
	return path.Join(IntermediateDir, w.withSuffix(name))
}

// Output returns the suffixed workspace-relative path of a result file.
func (w *Workspace) Output(name string) string {
	return path.Join(OutputsDir, w.withSuffix(name))
}

// Abs resolves a workspace-relative path. Absolute paths pass through.
func (w *Workspace) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(w.Root, filepath.FromSlash(rel))
}

func (w *Workspace) withSuffix(name string) string {
	if w.Suffix == "" {
		return name
	}
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + w.Suffix + ext
}

// Guard rejects tasks that write into inputs/ or outside the workspace.
func (w *Workspace) Guard(tasks []core.Task) error {
	for _, t := range tasks {
		for _, o := range t.Outputs {
			rel := filepath.ToSlash(filepath.Clean(o))
			if filepath.IsAbs(o) {
				r, err := filepath.Rel(w.Root, o)
				if err != nil {
					return geoerr.Inputf("workspace.Guard", o, "task %q: output outside workspace", t.Name)
				}
				rel = filepath.ToSlash(r)
			}
			if rel == ".." || strings.HasPrefix(rel, "../") {
				return geoerr.Inputf("workspace.Guard", o, "task %q: output outside workspace", t.Name)
			}
			if rel == InputsDir || strings.HasPrefix(rel, InputsDir+"/") {
				return geoerr.Inputf("workspace.Guard", o, "task %q: inputs/ is read-only", t.Name)
			}
			if rel == MetaDir || strings.HasPrefix(rel, MetaDir+"/") {
				return geoerr.Inputf("workspace.Guard", o, "task %q: %s is reserved", t.Name, MetaDir)
			}
		}
	}
	return nil
}

// OpenLedger opens the sidecar fingerprint ledger. The returned close
// function is safe to call once.
func (w *Workspace) OpenLedger(kind string) (core.Ledger, func() error, error) {
	switch kind {
	case "", LedgerJSON:
		l, err := core.OpenFileLedger(filepath.Join(w.Root, MetaDir, "ledger.json"))
		if err != nil {
			return nil, nil, err
		}
		return l, func() error { return nil }, nil
	case LedgerSQLite:
		l, err := core.OpenSQLiteLedger(filepath.Join(w.Root, MetaDir, "ledger.db"))
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", kind)
	}
}

// RunStore returns the store for run records.
func (w *Workspace) RunStore() (*runlog.Store, error) {
	return runlog.NewStore(filepath.Join(w.Root, MetaDir))
}
