package morph

import (
	"math"

	"geoweaver/internal/raster"
)

// GaussianKernel returns the normalised 1-D kernel for sigma, truncated at
// three standard deviations.
func GaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	k := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range k {
		x := float64(i - radius)
		k[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// reflect maps an out-of-range index back into [0, n) mirroring about the
// edge (d c b a | a b c d | d c b a).
func reflect(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		} else {
			i = 2*n - i - 1
		}
	}
	return i
}

// Smooth convolves g with a Gaussian of sigma pixels. Nodata pixels keep
// nodata and are left out of their neighbours' weighted average, which is
// renormalised over the valid pixels it covers.
func Smooth(g *raster.Grid, sigma float64) *raster.Grid {
	out := raster.NewGrid(g.Cols, g.Rows, g.Info)
	if sigma == 0 {
		copy(out.Data, g.Data)
		return out
	}
	k := GaussianKernel(sigma)
	radius := len(k) / 2
	cols, rows := g.Cols, g.Rows

	num := make([]float64, cols*rows)
	den := make([]float64, cols*rows)
	for i, v := range g.Data {
		if !g.Info.IsNodata(v) {
			num[i], den[i] = v, 1
		}
	}
	tn := make([]float64, cols*rows)
	td := make([]float64, cols*rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var sn, sd float64
			for j, w := range k {
				i := r*cols + reflect(c+j-radius, cols)
				sn += w * num[i]
				sd += w * den[i]
			}
			tn[r*cols+c], td[r*cols+c] = sn, sd
		}
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			if g.Info.IsNodata(g.Data[i]) {
				continue
			}
			var sn, sd float64
			for j, w := range k {
				ii := reflect(r+j-radius, rows)*cols + c
				sn += w * tn[ii]
				sd += w * td[ii]
			}
			if sd > 0 {
				out.Data[i] = sn / sd
			}
		}
	}
	return out
}
