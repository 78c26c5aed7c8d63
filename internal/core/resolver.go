package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"geoweaver/internal/geoerr"
)

// sidecars are the companion files of a shapefile that change its content.
var sidecars = []string{".shx", ".dbf", ".prj", ".cpg"}

// InputResolver turns declared input paths into digests.
//
// Paths are resolved against BaseDir. Patterns with glob characters are
// expanded and the matches strictly sorted; a literal path that does not
// exist is an input error. Shapefile sidecars are folded in so editing the
// attribute table or projection invalidates dependent tasks.
type InputResolver struct {
	BaseDir string
}

// NewInputResolver creates a new InputResolver with the given base directory.
func NewInputResolver(baseDir string) *InputResolver {
	return &InputResolver{BaseDir: baseDir}
}

// Resolve expands paths and digests every file. Paths present in up take the
// upstream fingerprint as their digest and are not read.
func (r *InputResolver) Resolve(paths []string, up Upstream) (*InputSet, error) {
	byPath := make(map[string]string)
	for _, p := range paths {
		if fp, ok := up[p]; ok {
			byPath[filepath.ToSlash(p)] = string(fp)
			continue
		}
		expanded, err := r.expand(p)
		if err != nil {
			return nil, err
		}
		for _, f := range expanded {
			if _, done := byPath[f]; done {
				continue
			}
			d, err := digestFile(f)
			if err != nil {
				return nil, geoerr.IO("core.Resolve", f, err)
			}
			byPath[f] = d
		}
	}

	// Sort explicitly; directory order differs across file systems.
	keys := make([]string, 0, len(byPath))
	for k := range byPath {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	set := &InputSet{Inputs: make([]Input, 0, len(keys))}
	for _, k := range keys {
		set.Inputs = append(set.Inputs, Input{Path: k, Digest: byPath[k]})
	}
	return set, nil
}

func (r *InputResolver) abs(p string) string {
	if filepath.IsAbs(p) || r.BaseDir == "" {
		return p
	}
	return filepath.Join(r.BaseDir, p)
}

// expand returns the files behind one declared input, slash-normalized.
func (r *InputResolver) expand(pattern string) ([]string, error) {
	full := r.abs(pattern)
	var matches []string
	if containsGlobChar(pattern) {
		m, err := filepath.Glob(full)
		if err != nil {
			return nil, geoerr.Inputf("core.Resolve", pattern, "invalid pattern: %v", err)
		}
		matches = m
	} else {
		if _, err := os.Stat(full); err != nil {
			if os.IsNotExist(err) {
				return nil, geoerr.Inputf("core.Resolve", pattern, "input not found")
			}
			return nil, geoerr.IO("core.Resolve", pattern, err)
		}
		matches = []string{full}
	}

	var out []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, geoerr.IO("core.Resolve", m, err)
		}
		if info.IsDir() {
			continue
		}
		out = append(out, filepath.ToSlash(m))
		if strings.EqualFold(filepath.Ext(m), ".shp") {
			base := strings.TrimSuffix(m, filepath.Ext(m))
			for _, ext := range sidecars {
				if _, err := os.Stat(base + ext); err == nil {
					out = append(out, filepath.ToSlash(base+ext))
				}
			}
		}
	}
	return out, nil
}

func digestFile(path string) (string, error) {
	f, err := os.Open(filepath.FromSlash(path))
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// containsGlobChar returns true if the pattern contains glob special characters.
func containsGlobChar(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[]")
}
