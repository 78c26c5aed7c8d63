// Package hydro routes flow over a DEM: D8 and D-infinity flow direction,
// flat resolution, flow accumulation and stream extraction.
//
// D8 directions are integer codes counter-clockwise from east:
//
//	3 2 1
//	4 x 0
//	5 6 7
//
// Sinks and pixels off the DEM are nodata (DirNodata). D-infinity directions
// are angles in radians in [0, 2π), counter-clockwise from east.
package hydro

import (
	"math"

	"geoweaver/internal/raster"
)

// DirNodata marks a D8 sink or a pixel outside the DEM.
const DirNodata = -1

// Column and row offsets of each D8 code. Rows grow southward.
var (
	dx = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
	dy = [8]int{0, -1, -1, -1, 0, 1, 1, 1}
)

// tieOrder is the clockwise preference starting at east used to break ties
// between equally steep neighbours.
var tieOrder = [8]int{0, 7, 6, 5, 4, 3, 2, 1}

// Neighbor returns the pixel that code d points at from (col, row).
func Neighbor(col, row, d int) (int, int) {
	return col + dx[d], row + dy[d]
}

// D8Info is the band layout of a D8 flow direction raster.
var D8Info = raster.BandInfo{Type: raster.Int16, Nodata: DirNodata, HasNodata: true}

func distances(pw, ph float64) [8]float64 {
	w, h := math.Abs(pw), math.Abs(ph)
	diag := math.Hypot(w, h)
	return [8]float64{w, diag, h, diag, w, diag, h, diag}
}

// steepest returns the D8 code of the steepest strictly descending neighbour
// of (c, r), or DirNodata.
func steepest(dem *raster.Grid, c, r int, dist [8]float64) int {
	z := dem.At(c, r)
	best, bestSlope := DirNodata, 0.0
	for _, d := range tieOrder {
		nc, nr := c+dx[d], r+dy[d]
		if !dem.Valid(nc, nr) {
			continue
		}
		if s := (z - dem.At(nc, nr)) / dist[d]; s > bestSlope {
			best, bestSlope = d, s
		}
	}
	return best
}

// D8 computes flow directions for dem. pw and ph are the signed pixel sizes.
// With resolveFlats every flat region drains through a single path; the only
// remaining sinks are one outlet per closed depression.
func D8(dem *raster.Grid, pw, ph float64, resolveFlats bool) *raster.Grid {
	dist := distances(pw, ph)
	dirs := raster.NewGrid(dem.Cols, dem.Rows, D8Info)
	for r := 0; r < dem.Rows; r++ {
		for c := 0; c < dem.Cols; c++ {
			if dem.Valid(c, r) {
				dirs.Set(c, r, float64(steepest(dem, c, r, dist)))
			}
		}
	}
	if resolveFlats {
		resolveFlatAreas(dem, dirs)
	}
	return dirs
}

// D8Target decodes the downstream pixel of (c, r), reporting false for sinks,
// nodata and flow leaving the grid.
func D8Target(dirs *raster.Grid, c, r int) (int, int, bool) {
	v := dirs.At(c, r)
	if dirs.Info.IsNodata(v) || v < 0 || v > 7 || v != math.Trunc(v) {
		return 0, 0, false
	}
	nc, nr := Neighbor(c, r, int(v))
	if !dirs.InBounds(nc, nr) {
		return 0, 0, false
	}
	return nc, nr, true
}
