package morph

import (
	"context"
	"math"
	"os"

	"geoweaver/internal/geoerr"
	"geoweaver/internal/raster"
	"geoweaver/internal/rastercalc"
)

// DistanceOptions tune DistanceTransform.
type DistanceOptions struct {
	// MapUnits scales distances by the pixel size instead of counting
	// pixels.
	MapUnits bool
}

// DistanceTransform writes the distance from every pixel to the nearest
// non-zero pixel of mask.
func DistanceTransform(ctx context.Context, mask rastercalc.Input, out string, opts DistanceOptions) (*raster.Raster, error) {
	g, err := mask.Raster.ReadGrid(mask.Band)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sx, sy := 1.0, 1.0
	if opts.MapUnits {
		w, h := mask.Raster.Frame().PixelSize()
		sx, sy = math.Abs(w), math.Abs(h)
	}
	return write(out, mask.Raster.Frame(), Distance(g, sx, sy))
}

// GaussianSmooth writes in smoothed with a Gaussian of sigma pixels. The
// output is real-valued and keeps the input's nodata mask.
func GaussianSmooth(ctx context.Context, in rastercalc.Input, sigma float64, out string) (*raster.Raster, error) {
	if sigma < 0 || math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return nil, geoerr.Domainf("morph.GaussianSmooth", "sigma must be a finite non-negative number, got %g", sigma)
	}
	g, err := in.Raster.ReadGrid(in.Band)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info := g.Info
	if info.Type.IsInteger() || !info.HasNodata {
		info = raster.BandInfo{Type: raster.Float32, Nodata: in.Raster.Frame().Nodata(), HasNodata: true}
	}
	sm := Smooth(g, sigma)
	for i, v := range g.Data {
		if g.Info.IsNodata(v) {
			sm.Data[i] = info.Nodata
		}
	}
	sm.Info = info
	return write(out, in.Raster.Frame(), sm)
}

func write(path string, frame *raster.Frame, g *raster.Grid) (*raster.Raster, error) {
	r, err := raster.Create(path, frame, []raster.BandInfo{g.Info}, raster.Options{})
	if err != nil {
		return nil, err
	}
	if err := r.WriteGrid(1, g); err != nil {
		_ = r.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return r, nil
}
