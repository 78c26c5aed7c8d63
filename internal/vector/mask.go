package vector

import (
	"math"

	"github.com/ctessum/geom"

	"geoweaver/internal/raster"
)

// WindowFor returns the pixel window of frame whose centroids could fall in b.
func WindowFor(frame *raster.Frame, b *geom.Bounds) raster.Window {
	c0, r0 := frame.Fractional(b.Min.X, b.Max.Y)
	c1, r1 := frame.Fractional(b.Max.X, b.Min.Y)
	cmin, cmax := math.Min(c0, c1), math.Max(c0, c1)
	rmin, rmax := math.Min(r0, r1), math.Max(r0, r1)
	// Centroid of pixel c is at c+0.5.
	w := raster.Window{
		Col: int(math.Ceil(cmin - 0.5)),
		Row: int(math.Ceil(rmin - 0.5)),
	}
	w.Cols = int(math.Floor(cmax-0.5)) - w.Col + 1
	w.Rows = int(math.Floor(rmax-0.5)) - w.Row + 1
	return w.Clip(frame.Cols(), frame.Rows())
}

// Rasterize marks every pixel of frame whose centroid lies inside a polygon of
// l. The result is row-major. The layer is reprojected to the frame's
// projection when needed.
func Rasterize(frame *raster.Frame, l *Layer) ([]bool, error) {
	mask := make([]bool, frame.Cols()*frame.Rows())
	if l.Len() == 0 {
		return mask, nil
	}
	l, err := Reproject(l, frame.Projection())
	if err != nil {
		return nil, err
	}
	for f := range l.Features() {
		p, ok := f.Polygonal()
		if !ok {
			continue
		}
		w := WindowFor(frame, p.Bounds())
		for r := w.Row; r < w.Row+w.Rows; r++ {
			for c := w.Col; c < w.Col+w.Cols; c++ {
				i := r*frame.Cols() + c
				if mask[i] {
					continue
				}
				x, y := frame.PixelCenter(c, r)
				mask[i] = Covers(p, x, y)
			}
		}
	}
	return mask, nil
}
