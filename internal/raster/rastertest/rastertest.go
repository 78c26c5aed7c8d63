// Package rastertest builds small raster fixtures for tests.
package rastertest

import (
	"math"
	"path/filepath"
	"testing"

	"geoweaver/internal/raster"
)

// Projection is the projection used by fixtures.
const Projection = "+proj=utm +zone=10 +ellps=WGS84 +datum=WGS84 +units=m +no_defs"

// Frame returns a north-up frame with unit pixels whose top-left corner is at
// (0, rows).
func Frame(t testing.TB, cols, rows int) *raster.Frame {
	t.Helper()
	f, err := raster.NewFrame(0, float64(rows), 1, -1, cols, rows, Projection, math.Inf(-1))
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	return f
}

// Write creates name in dir holding rows on a unit frame.
func Write(t testing.TB, dir, name string, rows [][]float64, pt raster.PixelType, nodata float64) *raster.Raster {
	t.Helper()
	return WriteFrame(t, dir, name, Frame(t, len(rows[0]), len(rows)), rows, pt, nodata)
}

// WriteFrame is Write on an explicit frame.
func WriteFrame(t testing.TB, dir, name string, f *raster.Frame, rows [][]float64, pt raster.PixelType, nodata float64) *raster.Raster {
	t.Helper()
	g := raster.GridFromRows(rows, raster.BandInfo{Type: pt, Nodata: nodata, HasNodata: true})
	r, err := raster.FromGrid(filepath.Join(dir, name), f, pt, g)
	if err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// Rows reads band 1 of r as nested rows.
func Rows(t testing.TB, r *raster.Raster) [][]float64 {
	t.Helper()
	g, err := r.ReadGrid(1)
	if err != nil {
		t.Fatalf("read %s: %v", r.Path(), err)
	}
	return g.Rows2D()
}
