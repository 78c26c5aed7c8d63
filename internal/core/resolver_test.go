package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"geoweaver/internal/geoerr"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Expanded inputs are strictly sorted regardless of directory order.
func TestResolve_StrictlySorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zebra.csv", "apple.csv", "mango.csv"} {
		writeFile(t, filepath.Join(dir, name), "content-"+name)
	}
	set, err := NewInputResolver(dir).Resolve([]string{"*.csv"}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"apple.csv", "mango.csv", "zebra.csv"}
	if len(set.Inputs) != len(want) {
		t.Fatalf("expected %d inputs, got %d", len(want), len(set.Inputs))
	}
	for i, w := range want {
		if got := filepath.Base(set.Inputs[i].Path); got != w {
			t.Errorf("position %d: expected %q, got %q", i, w, got)
		}
	}
}

// Digests follow content, not metadata.
func TestResolve_ContentDigest(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "table.csv")
	writeFile(t, p, "a,b\n1,2\n")
	r := NewInputResolver(dir)
	first, err := r.Resolve([]string{"table.csv"}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	writeFile(t, p, "a,b\n1,3\n")
	second, err := r.Resolve([]string{"table.csv"}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.Inputs[0].Digest == second.Inputs[0].Digest {
		t.Fatalf("content change did not change the digest")
	}
}

// A missing literal input is an input error.
func TestResolve_MissingInput(t *testing.T) {
	_, err := NewInputResolver(t.TempDir()).Resolve([]string{"nope.nc"}, nil)
	if !errors.Is(err, geoerr.ErrInput) {
		t.Fatalf("expected ErrInput, got %v", err)
	}
}

// Upstream outputs take their producer's fingerprint and are never read.
func TestResolve_UpstreamFingerprint(t *testing.T) {
	set, err := NewInputResolver(t.TempDir()).Resolve([]string{"intermediate/acc.nc"}, Upstream{"intermediate/acc.nc": "fp-1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(set.Inputs) != 1 || set.Inputs[0].Digest != "fp-1" {
		t.Fatalf("unexpected inputs: %+v", set.Inputs)
	}
}

// Shapefile sidecars are part of the shapefile's identity.
func TestResolve_ShapefileSidecars(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "aoi.shp"), "shp")
	writeFile(t, filepath.Join(dir, "aoi.dbf"), "dbf")
	writeFile(t, filepath.Join(dir, "aoi.prj"), "prj")
	set, err := NewInputResolver(dir).Resolve([]string{"aoi.shp"}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(set.Inputs) != 3 {
		t.Fatalf("expected shp plus 2 sidecars, got %+v", set.Inputs)
	}
}
