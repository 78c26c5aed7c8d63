package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"geoweaver/internal/geoerr"
)

// Entry records which task produced an output and with what fingerprint.
type Entry struct {
	Task        string      `json:"task"`
	Fingerprint Fingerprint `json:"fingerprint"`
}

// Ledger is the side table of output path -> producing fingerprint.
//
// A task may be skipped only when every one of its outputs exists and is
// recorded here under the task's current fingerprint. Implementations must be
// safe for concurrent use.
type Ledger interface {
	// Lookup returns the entry for an output path.
	Lookup(path string) (Entry, bool, error)

	// Record stores fp for every output of task.
	Record(task string, fp Fingerprint, outputs []string) error

	// Forget drops the entries for outputs.
	Forget(outputs []string) error
}

const ledgerFormat = "geoweaver-ledger/1"

type ledgerFile struct {
	Format  string           `json:"format"`
	Outputs map[string]Entry `json:"outputs"`
}

// FileLedger keeps the table in one JSON file, rewritten atomically on every
// change so a crash leaves either the old or the new table.
type FileLedger struct {
	Path string

	mu      sync.Mutex
	entries map[string]Entry
}

// OpenFileLedger loads path, or starts empty when it does not exist.
func OpenFileLedger(path string) (*FileLedger, error) {
	l := &FileLedger{Path: path, entries: map[string]Entry{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, geoerr.IO("core.OpenFileLedger", path, err)
	}
	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, geoerr.IO("core.OpenFileLedger", path, fmt.Errorf("parsing ledger: %w", err))
	}
	if f.Format != ledgerFormat {
		return nil, geoerr.Unsupported("core.OpenFileLedger", path, fmt.Errorf("ledger format %q", f.Format))
	}
	for k, v := range f.Outputs {
		l.entries[k] = v
	}
	return l, nil
}

func (l *FileLedger) Lookup(path string) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[path]
	return e, ok, nil
}

func (l *FileLedger) Record(task string, fp Fingerprint, outputs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range outputs {
		l.entries[o] = Entry{Task: task, Fingerprint: fp}
	}
	return l.flush()
}

func (l *FileLedger) Forget(outputs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := false
	for _, o := range outputs {
		if _, ok := l.entries[o]; ok {
			delete(l.entries, o)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return l.flush()
}

// Paths returns the recorded output paths, sorted.
func (l *FileLedger) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for k := range l.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// flush must be called with l.mu held.
func (l *FileLedger) flush() error {
	data, err := json.MarshalIndent(ledgerFile{Format: ledgerFormat, Outputs: l.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return geoerr.IO("core.FileLedger", l.Path, err)
	}
	if err := writeFileAtomic(l.Path, append(data, '\n'), 0o644); err != nil {
		return geoerr.IO("core.FileLedger", l.Path, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// MemoryLedger keeps the table in memory. Useful for tests and one-shot runs.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: map[string]Entry{}}
}

func (l *MemoryLedger) Lookup(path string) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[path]
	return e, ok, nil
}

func (l *MemoryLedger) Record(task string, fp Fingerprint, outputs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range outputs {
		l.entries[o] = Entry{Task: task, Fingerprint: fp}
	}
	return nil
}

func (l *MemoryLedger) Forget(outputs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range outputs {
		delete(l.entries, o)
	}
	return nil
}
