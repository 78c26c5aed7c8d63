package align

import (
	"math"
	"slices"

	"github.com/ctessum/geom/proj"

	"geoweaver/internal/raster"
)

type resampler struct {
	src      *raster.Grid
	srcFrame *raster.Frame
	dst      *raster.Frame
	toSrc    proj.Transformer
	method   Resampling
	nodata   float64
}

// srcPoint maps a destination map coordinate into fractional source pixel
// coordinates.
func (rs *resampler) srcPoint(x, y float64) (float64, float64, error) {
	if rs.toSrc != nil {
		var err error
		if x, y, err = rs.toSrc(x, y); err != nil {
			return 0, 0, err
		}
	}
	fc, fr := rs.srcFrame.Fractional(x, y)
	return fc, fr, nil
}

func (rs *resampler) row(r int, out []float64) error {
	for c := range out {
		x, y := rs.dst.PixelCenter(c, r)
		fc, fr, err := rs.srcPoint(x, y)
		if err != nil {
			return err
		}
		var v float64
		var ok bool
		switch rs.method {
		case Bilinear:
			v, ok = rs.bilinear(fc, fr)
		case Cubic:
			v, ok = rs.cubic(fc, fr)
		case Mode:
			v, ok, err = rs.mode(c, r, fc, fr)
			if err != nil {
				return err
			}
		default:
			v, ok = rs.nearest(fc, fr)
		}
		if !ok {
			v = rs.nodata
		}
		out[c] = v
	}
	return nil
}

func (rs *resampler) value(c, r int) (float64, bool) {
	if !rs.src.Valid(c, r) {
		return 0, false
	}
	return rs.src.At(c, r), true
}

func (rs *resampler) nearest(fc, fr float64) (float64, bool) {
	return rs.value(int(math.Floor(fc)), int(math.Floor(fr)))
}

// bilinear weights the four surrounding pixel centres and renormalises over
// the valid ones. Points outside the source footprint are nodata.
func (rs *resampler) bilinear(fc, fr float64) (float64, bool) {
	if _, ok := rs.nearest(fc, fr); !ok {
		return 0, false
	}
	u, v := fc-0.5, fr-0.5
	c0, r0 := int(math.Floor(u)), int(math.Floor(v))
	dx, dy := u-float64(c0), v-float64(r0)
	var sum, wsum float64
	for j := 0; j < 2; j++ {
		wy := 1 - dy
		if j == 1 {
			wy = dy
		}
		for i := 0; i < 2; i++ {
			wx := 1 - dx
			if i == 1 {
				wx = dx
			}
			w := wx * wy
			if w == 0 {
				continue
			}
			if val, ok := rs.value(c0+i, r0+j); ok {
				sum += w * val
				wsum += w
			}
		}
	}
	if wsum == 0 {
		return 0, false
	}
	return sum / wsum, true
}

func catmullRom(t float64) [4]float64 {
	t2, t3 := t*t, t*t*t
	return [4]float64{
		(-t3 + 2*t2 - t) / 2,
		(3*t3 - 5*t2 + 2) / 2,
		(-3*t3 + 4*t2 + t) / 2,
		(t3 - t2) / 2,
	}
}

// cubic is Catmull-Rom over the 4x4 neighbourhood. When a tap with non-zero
// weight is missing it falls back to bilinear.
func (rs *resampler) cubic(fc, fr float64) (float64, bool) {
	if _, ok := rs.nearest(fc, fr); !ok {
		return 0, false
	}
	u, v := fc-0.5, fr-0.5
	c0, r0 := int(math.Floor(u)), int(math.Floor(v))
	wx := catmullRom(u - float64(c0))
	wy := catmullRom(v - float64(r0))
	var sum float64
	for j := 0; j < 4; j++ {
		for i := 0; i < 4; i++ {
			w := wx[i] * wy[j]
			if w == 0 {
				continue
			}
			val, ok := rs.value(c0-1+i, r0-1+j)
			if !ok {
				return rs.bilinear(fc, fr)
			}
			sum += w * val
		}
	}
	return sum, true
}

// mode takes the most frequent valid source value among the source pixels
// whose centres fall inside the destination pixel; ties go to the smallest
// value. When no centre falls inside (upsampling) it behaves like nearest.
func (rs *resampler) mode(c, r int, fc, fr float64) (float64, bool, error) {
	w, h := rs.dst.PixelSize()
	cx, cy := rs.dst.PixelCenter(c, r)
	corners := [4][2]float64{
		{cx - w/2, cy - h/2}, {cx + w/2, cy - h/2},
		{cx - w/2, cy + h/2}, {cx + w/2, cy + h/2},
	}
	cmin, rmin := math.Inf(1), math.Inf(1)
	cmax, rmax := math.Inf(-1), math.Inf(-1)
	for _, p := range corners {
		pc, pr, err := rs.srcPoint(p[0], p[1])
		if err != nil {
			return 0, false, err
		}
		cmin, cmax = math.Min(cmin, pc), math.Max(cmax, pc)
		rmin, rmax = math.Min(rmin, pr), math.Max(rmax, pr)
	}
	counts := map[float64]int{}
	for sr := int(math.Ceil(rmin - 0.5)); float64(sr)+0.5 < rmax; sr++ {
		for sc := int(math.Ceil(cmin - 0.5)); float64(sc)+0.5 < cmax; sc++ {
			if val, ok := rs.value(sc, sr); ok {
				counts[val]++
			}
		}
	}
	if len(counts) == 0 {
		v, ok := rs.nearest(fc, fr)
		return v, ok, nil
	}
	keys := make([]float64, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	best := keys[0]
	for _, k := range keys[1:] {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return best, true, nil
}
