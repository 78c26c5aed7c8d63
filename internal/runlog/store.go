package runlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store persists run records under:
//
//	<dir>/runs/<run-id>/{run.json,summary.json,failure.json}
//
// All writes are atomic and durable (file sync + atomic rename + dir sync).
type Store struct {
	dir string
}

// NewStore opens a store rooted at dir, normally the workspace metadata
// directory.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("dir is required")
	}
	return &Store{dir: dir}, nil
}

func (s *Store) runsRootDir() string { return filepath.Join(s.dir, "runs") }

func (s *Store) runDir(runID string) string { return filepath.Join(s.runsRootDir(), runID) }

func (s *Store) runPath(runID string) string { return filepath.Join(s.runDir(runID), "run.json") }

func (s *Store) summaryPath(runID string) string {
	return filepath.Join(s.runDir(runID), "summary.json")
}

func (s *Store) failurePath(runID string) string {
	return filepath.Join(s.runDir(runID), "failure.json")
}

// ListRunIDs returns the run IDs present on disk, sorted.
func (s *Store) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.runsRootDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && strings.TrimSpace(e.Name()) != "" {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) SaveRun(run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return s.save(run.RunID, s.runPath(run.RunID), run, "run")
}

func (s *Store) LoadRun(runID string) (Run, error) {
	var run Run
	if err := s.load(runID, s.runPath(runID), &run); err != nil {
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

func (s *Store) SaveSummary(runID string, summary Summary) error {
	if err := summary.Validate(); err != nil {
		return fmt.Errorf("invalid summary: %w", err)
	}
	return s.save(runID, s.summaryPath(runID), summary, "summary")
}

func (s *Store) LoadSummary(runID string) (Summary, error) {
	var summary Summary
	if err := s.load(runID, s.summaryPath(runID), &summary); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

func (s *Store) SaveFailure(runID string, failure Failure) error {
	if err := failure.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	return s.save(runID, s.failurePath(runID), failure, "failure")
}

func (s *Store) LoadFailure(runID string) (Failure, error) {
	var failure Failure
	if err := s.load(runID, s.failurePath(runID), &failure); err != nil {
		return Failure{}, err
	}
	if err := failure.Validate(); err != nil {
		return Failure{}, fmt.Errorf("invalid failure on disk: %w", err)
	}
	return failure, nil
}

func (s *Store) save(runID, path string, v any, what string) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	if err := ensureDirDurable(s.runDir(runID), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	data, err := jsonMarshalStable(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", what, err)
	}
	if err := writeFileAtomicDurable(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", what, err)
	}
	return nil
}

func (s *Store) load(runID, path string, dst any) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	return readJSONStrict(path, dst)
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}
	if parent := filepath.Dir(dir); parent != dir {
		return fsyncDir(parent)
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
