package align

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/require"

	"geoweaver/internal/geoerr"
	"geoweaver/internal/raster"
	"geoweaver/internal/raster/rastertest"
	"geoweaver/internal/vector"
)

func frameAt(t *testing.T, ox, oy, px float64, cols, rows int) *raster.Frame {
	t.Helper()
	f, err := raster.NewFrame(ox, oy, px, -px, cols, rows, rastertest.Projection, math.Inf(-1))
	require.NoError(t, err)
	return f
}

func TestAlignSelfIsIdentity(t *testing.T) {
	dir := t.TempDir()
	rows := [][]float64{{1, 2, 3}, {4, -1, 6}, {7, 8, 9}}
	src := rastertest.Write(t, dir, "src.nc", rows, raster.Int16, -1)
	for _, m := range []Resampling{Nearest, Bilinear, Cubic, Mode} {
		t.Run(m.String(), func(t *testing.T) {
			out, frame, err := Align(context.Background(),
				[]Source{{Raster: src, Method: m, Path: filepath.Join(dir, m.String()+".nc")}}, Options{})
			require.NoError(t, err)
			defer out[0].Close()
			require.True(t, frame.SameGrid(src.Frame()), "frame %s vs %s", frame, src.Frame())
			require.Equal(t, rows, rastertest.Rows(t, out[0]))
		})
	}
}

func TestAlignedOutputsShareFrame(t *testing.T) {
	dir := t.TempDir()
	a := rastertest.WriteFrame(t, dir, "a.nc", frameAt(t, 0, 4, 1, 4, 4), [][]float64{
		{1, 1, 1, 1}, {1, 1, 1, 1}, {1, 1, 1, 1}, {1, 1, 1, 1},
	}, raster.Int16, -1)
	b := rastertest.WriteFrame(t, dir, "b.nc", frameAt(t, 2, 6, 2, 2, 2), [][]float64{
		{2.5, 3.5}, {4.5, 5.5},
	}, raster.Float32, -9999)

	outs, frame, err := Align(context.Background(), []Source{
		{Raster: a, Method: Nearest, Path: filepath.Join(dir, "a2.nc")},
		{Raster: b, Method: Nearest, Path: filepath.Join(dir, "b2.nc")},
	}, Options{Policy: Intersection})
	require.NoError(t, err)
	for _, o := range outs {
		defer o.Close()
		require.True(t, o.Frame().Equal(frame))
	}
	require.Equal(t, raster.Extent{XMin: 2, YMin: 2, XMax: 4, YMax: 4}, frame.Extent())
	require.Equal(t, 2, frame.Cols())

	// b's top-left 2x2 pixel covers x in [2,4], y in [4,6]; the overlap
	// takes b's second row.
	require.Equal(t, [][]float64{{4.5, 4.5}, {4.5, 4.5}}, rastertest.Rows(t, outs[1]))
	nd, _ := outs[1].Nodata(1)
	require.True(t, math.IsInf(nd, -1))
	nd, _ = outs[0].Nodata(1)
	require.Equal(t, -1.0, nd)
}

func TestFrameForUnionAndSnapping(t *testing.T) {
	dir := t.TempDir()
	a := rastertest.WriteFrame(t, dir, "a.nc", frameAt(t, 0.25, 2.25, 1, 2, 2), [][]float64{{1, 1}, {1, 1}}, raster.Int16, -1)
	b := rastertest.WriteFrame(t, dir, "b.nc", frameAt(t, 3, 3, 1, 1, 1), [][]float64{{1}}, raster.Int16, -1)
	f, err := FrameFor([]Source{{Raster: a}, {Raster: b}}, Options{Policy: Union})
	require.NoError(t, err)
	// Union is x [0.25, 4], y [0.25, 3]; snapped outward to a's origin.
	require.Equal(t, raster.Extent{XMin: 0.25, YMin: 0.25, XMax: 4.25, YMax: 3.25}, f.Extent())
	ox, oy := f.Origin()
	require.Equal(t, 0.25, math.Mod(ox, 1))
	require.Equal(t, 0.25, math.Mod(oy, 1))

	_, err = FrameFor([]Source{{Raster: a}, {Raster: b}}, Options{Policy: Intersection})
	require.ErrorIs(t, err, geoerr.ErrDomain)
}

func TestFrameForPixelSizeAndAOI(t *testing.T) {
	dir := t.TempDir()
	a := rastertest.WriteFrame(t, dir, "a.nc", frameAt(t, 0, 10, 1, 10, 10), make10(), raster.Float32, -1)
	aoi, err := vector.NewLayer(rastertest.Projection, []vector.Feature{{
		Geom: geom.Polygon{{{X: 2, Y: 2}, {X: 6, Y: 2}, {X: 6, Y: 5}, {X: 2, Y: 5}, {X: 2, Y: 2}}},
	}})
	require.NoError(t, err)
	f, err := FrameFor([]Source{{Raster: a}}, Options{Policy: BoundingAOI, AOI: aoi, PixelWidth: 2, PixelHeight: 2})
	require.NoError(t, err)
	require.Equal(t, raster.Extent{XMin: 2, YMin: 2, XMax: 6, YMax: 6}, f.Extent())
	w, h := f.PixelSize()
	require.Equal(t, 2.0, w)
	require.Equal(t, -2.0, h)

	_, err = FrameFor([]Source{{Raster: a}}, Options{Policy: BoundingAOI})
	require.ErrorIs(t, err, geoerr.ErrDomain)
}

func make10() [][]float64 {
	rows := make([][]float64, 10)
	for r := range rows {
		rows[r] = make([]float64, 10)
		for c := range rows[r] {
			rows[r][c] = float64(r*10 + c)
		}
	}
	return rows
}

func TestModeDownsample(t *testing.T) {
	dir := t.TempDir()
	src := rastertest.Write(t, dir, "lulc.nc", [][]float64{
		{1, 1, 2, 3},
		{1, 2, 3, 3},
	}, raster.Int16, -1)
	outs, _, err := Align(context.Background(),
		[]Source{{Raster: src, Method: Mode, Path: filepath.Join(dir, "m.nc")}},
		Options{PixelWidth: 2, PixelHeight: 2})
	require.NoError(t, err)
	defer outs[0].Close()
	require.Equal(t, [][]float64{{1, 3}}, rastertest.Rows(t, outs[0]))
}

func TestBilinearMidpoint(t *testing.T) {
	dir := t.TempDir()
	src := rastertest.Write(t, dir, "s.nc", [][]float64{{0, 10}, {20, 30}}, raster.Float64, -1)
	rs := &resampler{src: mustGrid(t, src), srcFrame: src.Frame(), method: Bilinear, nodata: -1}
	v, ok := rs.bilinear(1, 1)
	require.True(t, ok)
	require.InDelta(t, 15.0, v, 1e-12)
	v, ok = rs.cubic(1, 1)
	require.True(t, ok)
	require.InDelta(t, 15.0, v, 1e-12)
	_, ok = rs.bilinear(-0.5, 1)
	require.False(t, ok)
}

func mustGrid(t *testing.T, r *raster.Raster) *raster.Grid {
	g, err := r.ReadGrid(1)
	require.NoError(t, err)
	return g
}

func TestReprojectKeepsValues(t *testing.T) {
	dir := t.TempDir()
	f, err := raster.NewFrame(500000, 4001000, 100, -100, 10, 10, rastertest.Projection, math.Inf(-1))
	require.NoError(t, err)
	rows := make([][]float64, 10)
	for r := range rows {
		rows[r] = []float64{7, 7, 7, 7, 7, 7, 7, 7, 7, 7}
	}
	src := rastertest.WriteFrame(t, dir, "utm.nc", f, rows, raster.Int16, -1)
	outs, frame, err := Align(context.Background(),
		[]Source{{Raster: src, Method: Nearest, Path: filepath.Join(dir, "ll.nc")}},
		Options{Projection: "+proj=longlat +datum=WGS84 +no_defs", PixelWidth: 0.001, PixelHeight: 0.001})
	require.NoError(t, err)
	defer outs[0].Close()
	require.Equal(t, "+proj=longlat +datum=WGS84 +no_defs", frame.Projection())
	valid := 0
	for _, row := range rastertest.Rows(t, outs[0]) {
		for _, v := range row {
			if v != -1 {
				require.Equal(t, 7.0, v)
				valid++
			}
		}
	}
	require.Greater(t, valid, 0)
}
