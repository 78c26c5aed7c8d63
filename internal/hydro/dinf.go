package hydro

import (
	"math"

	"geoweaver/internal/raster"
)

// DInfNodata marks a D-infinity sink or a pixel outside the DEM.
const DInfNodata = -1

// DInfInfo is the band layout of a D-infinity flow direction raster.
var DInfInfo = raster.BandInfo{Type: raster.Float32, Nodata: DInfNodata, HasNodata: true}

// Tarboton facets, counter-clockwise from east. Each facet is bounded by a
// cardinal neighbour (facetCard) and a diagonal one (facetDiag); facetBase and
// facetSign place the in-facet angle on the circle.
var (
	facetCard = [8]int{0, 2, 2, 4, 4, 6, 6, 0}
	facetDiag = [8]int{1, 1, 3, 3, 5, 5, 7, 7}
	facetBase = [8]float64{0, 1, 1, 2, 2, 3, 3, 4}
	facetSign = [8]float64{1, -1, 1, -1, 1, -1, 1, -1}
)

// dinfAngle returns the steepest downslope angle at (c, r) over the eight
// triangular facets, or false for a sink. Pixels must be square; side is the
// pixel edge length.
func dinfAngle(dem *raster.Grid, c, r int, side float64) (float64, bool) {
	z := dem.At(c, r)
	best, bestSlope := 0.0, 0.0
	for k := 0; k < 8; k++ {
		c1, r1 := c+dx[facetCard[k]], r+dy[facetCard[k]]
		c2, r2 := c+dx[facetDiag[k]], r+dy[facetDiag[k]]
		if !dem.Valid(c1, r1) || !dem.Valid(c2, r2) {
			// Fall back to the single valid edge of the facet.
			if dem.Valid(c1, r1) {
				if s := (z - dem.At(c1, r1)) / side; s > bestSlope {
					best, bestSlope = facetBase[k]*math.Pi/2, s
				}
			}
			if dem.Valid(c2, r2) {
				if s := (z - dem.At(c2, r2)) / (side * math.Sqrt2); s > bestSlope {
					best, bestSlope = facetBase[k]*math.Pi/2+facetSign[k]*math.Pi/4, s
				}
			}
			continue
		}
		e1, e2 := dem.At(c1, r1), dem.At(c2, r2)
		s1 := (z - e1) / side
		s2 := (e1 - e2) / side
		a := math.Atan2(s2, s1)
		s := math.Hypot(s1, s2)
		switch {
		case a < 0:
			a, s = 0, s1
		case a > math.Pi/4:
			a, s = math.Pi/4, (z-e2)/(side*math.Sqrt2)
		}
		if s > bestSlope {
			best, bestSlope = facetBase[k]*math.Pi/2+facetSign[k]*a, s
		}
	}
	if bestSlope <= 0 {
		return 0, false
	}
	return normalizeAngle(best), true
}

func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	if a >= 2*math.Pi {
		a = 0
	}
	return a
}

// DInf computes D-infinity directions. Flat regions are resolved with the D8
// flat rules and encoded as the corresponding multiple of π/4.
func DInf(dem *raster.Grid, pw, ph float64, resolveFlats bool) *raster.Grid {
	side := math.Abs(pw)
	out := raster.NewGrid(dem.Cols, dem.Rows, DInfInfo)
	var flat *raster.Grid
	if resolveFlats {
		flat = D8(dem, pw, ph, true)
	}
	for r := 0; r < dem.Rows; r++ {
		for c := 0; c < dem.Cols; c++ {
			if !dem.Valid(c, r) {
				continue
			}
			if a, ok := dinfAngle(dem, c, r, side); ok {
				out.Set(c, r, a)
				continue
			}
			if flat != nil {
				if d := flat.At(c, r); d != DirNodata {
					out.Set(c, r, d*math.Pi/4)
				}
			}
		}
	}
	return out
}

// Downstream splits a D-infinity angle between the two D8 neighbours that
// bound it. The weights are non-negative and sum to 1; w2 is zero when the
// angle points exactly at d1.
func Downstream(angle float64) (d1, d2 int, w1, w2 float64) {
	a := normalizeAngle(angle)
	sector := a / (math.Pi / 4)
	k := int(math.Floor(sector))
	if k > 7 {
		k = 7
	}
	frac := sector - float64(k)
	// Angles round-trip through float32 storage.
	const eps = 1e-6
	if frac < eps {
		return k, (k + 1) % 8, 1, 0
	}
	if frac > 1-eps {
		return (k + 1) % 8, k, 1, 0
	}
	return k, (k + 1) % 8, 1 - frac, frac
}
