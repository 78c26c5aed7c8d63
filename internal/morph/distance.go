// Package morph holds neighbourhood operators over whole bands: the exact
// Euclidean distance transform and separable Gaussian smoothing.
package morph

import (
	"math"

	"geoweaver/internal/raster"
)

// DistanceInfo is the band layout of a distance raster. Nodata only appears
// when the mask is empty.
var DistanceInfo = raster.BandInfo{Type: raster.Float32, Nodata: -1, HasNodata: true}

// far stands in for infinity in the squared-distance arithmetic.
const far = 1e20

// Distance returns, for every pixel, the Euclidean distance to the nearest
// mask pixel (valid and non-zero); mask pixels are 0. sx and sy are the pixel
// spacing along x and y: 1 for pixel units, the pixel size for map units.
//
// This is the two-pass lower-envelope algorithm of Felzenszwalb and
// Huttenlocher, exact for any spacing.
func Distance(mask *raster.Grid, sx, sy float64) *raster.Grid {
	cols, rows := mask.Cols, mask.Rows
	sq := make([]float64, cols*rows)
	found := false
	for i, v := range mask.Data {
		if !mask.Info.IsNodata(v) && v != 0 {
			found = true
		} else {
			sq[i] = far
		}
	}
	out := raster.NewGrid(cols, rows, DistanceInfo)
	if !found {
		return out
	}

	n := max(cols, rows)
	f := make([]float64, n)
	d := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)
	for r := 0; r < rows; r++ {
		copy(f, sq[r*cols:(r+1)*cols])
		envelope(f[:cols], sx, d, v, z)
		copy(sq[r*cols:(r+1)*cols], d[:cols])
	}
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			f[r] = sq[r*cols+c]
		}
		envelope(f[:rows], sy, d, v, z)
		for r := 0; r < rows; r++ {
			sq[r*cols+c] = d[r]
		}
	}
	for i, s := range sq {
		out.Data[i] = math.Sqrt(s)
	}
	return out
}

// envelope computes d[q] = min_p (s·(q-p))² + f[p].
func envelope(f []float64, s float64, d []float64, v []int, z []float64) {
	n := len(f)
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)
	for q := 1; q < n; q++ {
		var x float64
		for {
			p := v[k]
			qs, ps := float64(q)*s, float64(p)*s
			x = ((f[q] + qs*qs) - (f[p] + ps*ps)) / (2 * (qs - ps))
			if x <= z[k] {
				k--
				continue
			}
			break
		}
		k++
		v[k] = q
		z[k] = x
		z[k+1] = math.Inf(1)
	}
	k = 0
	for q := 0; q < n; q++ {
		qs := float64(q) * s
		for z[k+1] < qs {
			k++
		}
		ds := qs - float64(v[k])*s
		d[q] = ds*ds + f[v[k]]
	}
}
