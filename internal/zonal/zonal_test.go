package zonal

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/ctessum/geom"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"geoweaver/internal/geoerr"
	"geoweaver/internal/raster"
	"geoweaver/internal/raster/rastertest"
	"geoweaver/internal/rastercalc"
	"geoweaver/internal/vector"
)

func box(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}}
}

func layer(t *testing.T, polys ...geom.Polygon) *vector.Layer {
	t.Helper()
	feats := make([]vector.Feature, len(polys))
	for i, p := range polys {
		feats[i] = vector.Feature{ID: 10 + i, Geom: p}
	}
	l, err := vector.NewLayer(rastertest.Projection, feats)
	require.NoError(t, err)
	return l
}

func TestZonalSumScenario(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := rastertest.Write(t, t.TempDir(), "v.nc", [][]float64{
		{1, 1, 1},
		{1, -1, 1},
		{1, 1, 1},
	}, raster.Int16, -1)
	res, err := Aggregate(context.Background(), rastercalc.BandOf(r), layer(t, box(0, 0, 3, 3)), All, Options{})
	require.NoError(t, err)
	rec := res[10]
	require.Equal(t, 8.0, rec["count"])
	require.Equal(t, 8.0, rec["sum"])
	require.Equal(t, 1.0, rec["mean"])
	require.Equal(t, 1.0, rec["min"])
	require.Equal(t, 1.0, rec["max"])
	require.Equal(t, 0.0, rec["stddev"])
}

func TestZonalEmptyAndSinglePixel(t *testing.T) {
	r := rastertest.Write(t, t.TempDir(), "v.nc", [][]float64{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, -1},
	}, raster.Int16, -1)
	l := layer(t,
		box(10, 10, 12, 12),     // off the raster
		box(1.4, 1.4, 1.6, 1.6), // encloses the centroid of pixel (1, 1)
		box(2.1, 0.1, 2.9, 0.9), // covers only the nodata pixel
		box(0, 1, 2, 3),         // top-left quadrant
		box(1.2, 1.2, 1.8, 2.8), // overlaps the previous one
	)
	empty := -9999.0
	reducers := append([]Reducer{{Stat: Quantile, Q: 0.5}}, All...)
	res, err := Aggregate(context.Background(), rastercalc.BandOf(r), l, reducers, Options{Empty: &empty, Workers: 2})
	require.NoError(t, err)
	require.Len(t, res, 5)

	for _, id := range []int{10, 12} {
		require.Equal(t, 0.0, res[id]["count"])
		for _, red := range reducers[1:] {
			if red.Stat != Count {
				require.Equal(t, empty, res[id][red.Name()], "feature %d %s", id, red.Name())
			}
		}
		require.Equal(t, empty, res[id]["q0.5"])
	}
	require.Equal(t, 1.0, res[11]["count"])
	require.Equal(t, 5.0, res[11]["sum"])
	require.Equal(t, 5.0, res[11]["q0.5"])

	require.Equal(t, 4.0, res[13]["count"])
	require.Equal(t, 12.0, res[13]["sum"])
	require.InDelta(t, math.Sqrt(2.5), res[13]["stddev"], 1e-12)
	// Pixels (1, 0) and (1, 1) are in both overlapping boxes.
	require.Equal(t, 7.0, res[14]["sum"])
}

func TestZonalPixelFootprintAndEdge(t *testing.T) {
	r := rastertest.Write(t, t.TempDir(), "v.nc", [][]float64{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, 9},
	}, raster.Int16, -1)
	l := layer(t,
		box(1, 1, 2, 2),     // exactly the footprint of pixel (1, 1)
		box(1.5, 1, 2, 2),   // left edge through the centroid of pixel (1, 1)
		box(1.6, 1.6, 2, 2), // inside pixel (1, 1) but misses its centroid
	)
	res, err := Aggregate(context.Background(), rastercalc.BandOf(r), l, []Reducer{{Stat: Count}, {Stat: Sum}}, Options{})
	require.NoError(t, err)
	for _, id := range []int{10, 11} {
		require.Equal(t, 1.0, res[id]["count"], "feature %d", id)
		require.Equal(t, 5.0, res[id]["sum"], "feature %d", id)
	}
	require.Equal(t, 0.0, res[12]["count"])

	one := rastertest.Write(t, t.TempDir(), "one.nc", [][]float64{{42}}, raster.Float32, -9999)
	res, err = Aggregate(context.Background(), rastercalc.BandOf(one), layer(t, box(0, 0, 1, 1)), All, Options{})
	require.NoError(t, err)
	require.Equal(t, 1.0, res[10]["count"])
	require.Equal(t, 42.0, res[10]["mean"])
	require.Equal(t, 0.0, res[10]["stddev"])
}

func TestZonalNaNByDefault(t *testing.T) {
	r := rastertest.Write(t, t.TempDir(), "v.nc", [][]float64{{1}}, raster.Float32, -1)
	res, err := Aggregate(context.Background(), rastercalc.BandOf(r), layer(t, box(5, 5, 6, 6)), All, Options{})
	require.NoError(t, err)
	require.True(t, math.IsNaN(res[10]["mean"]))
	require.Equal(t, 0.0, res[10]["count"])
}

func TestZonalRejectsBadQuantile(t *testing.T) {
	r := rastertest.Write(t, t.TempDir(), "v.nc", [][]float64{{1}}, raster.Float32, -1)
	_, err := Aggregate(context.Background(), rastercalc.BandOf(r), layer(t, box(0, 0, 1, 1)),
		[]Reducer{{Stat: Quantile, Q: 2}}, Options{})
	require.ErrorIs(t, err, geoerr.ErrDomain)
}

func TestReduceQuantileBounds(t *testing.T) {
	vals := []float64{4, 1, 3, 2}
	rec := Reduce(vals, []Reducer{{Stat: Quantile, Q: 0.25}, {Stat: Quantile, Q: 0.75}, {Stat: Min}, {Stat: Max}}, math.NaN())
	require.LessOrEqual(t, rec["min"], rec["q0.25"])
	require.LessOrEqual(t, rec["q0.25"], rec["q0.75"])
	require.LessOrEqual(t, rec["q0.75"], rec["max"])
	require.Equal(t, []float64{4, 1, 3, 2}, vals, "input must not be reordered")
}

func TestParseReducer(t *testing.T) {
	for _, r := range append([]Reducer{{Stat: Quantile, Q: 0.9}}, All...) {
		got, err := ParseReducer(r.Name())
		require.NoError(t, err)
		require.Equal(t, r, got)
	}
	_, err := ParseReducer("median")
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	res := Result{
		2: {"count": 1, "sum": 5},
		1: {"count": 0, "sum": math.NaN()},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, res, []Reducer{{Stat: Count}, {Stat: Sum}}))
	want := "fid,count,sum\n1,0,NaN\n2,1,5\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("csv mismatch (-want +got):\n%s", diff)
	}
}
