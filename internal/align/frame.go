// Package align projects, resamples and clips a set of rasters onto one
// shared AlignmentFrame.
package align

import (
	"fmt"
	"math"

	"github.com/ctessum/geom/proj"

	"geoweaver/internal/geoerr"
	"geoweaver/internal/raster"
	"geoweaver/internal/vector"
)

// ExtentPolicy chooses the extent of the aligned frame.
type ExtentPolicy int

const (
	Intersection ExtentPolicy = iota
	Union
	BoundingAOI
)

func (p ExtentPolicy) String() string {
	switch p {
	case Intersection:
		return "intersection"
	case Union:
		return "union"
	case BoundingAOI:
		return "bounding_aoi"
	}
	return fmt.Sprintf("ExtentPolicy(%d)", int(p))
}

// ParsePolicy accepts the names produced by String.
func ParsePolicy(s string) (ExtentPolicy, error) {
	for _, p := range []ExtentPolicy{Intersection, Union, BoundingAOI} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown extent policy %q", s)
}

// Options describe the target frame.
type Options struct {
	// PixelWidth and PixelHeight set the target pixel size; when zero the
	// size is inherited from Sources[PixelFrom]. Output frames are north-up
	// whatever the sign given.
	PixelWidth, PixelHeight float64
	PixelFrom               int

	// Projection is the target descriptor; empty inherits from
	// Sources[ProjectionFrom].
	Projection     string
	ProjectionFrom int

	Policy ExtentPolicy
	// AOI is required by BoundingAOI.
	AOI *vector.Layer

	// RealNodata is the sentinel given to real-valued outputs; -Inf when
	// nil. Integer bands keep their own sentinel.
	RealNodata *float64

	Workers int
}

const edgeSamples = 21

// FrameFor computes the aligned frame for sources without writing anything.
func FrameFor(sources []Source, opts Options) (*raster.Frame, error) {
	const op = "align.FrameFor"
	if len(sources) == 0 {
		return nil, geoerr.Inputf(op, "", "no rasters to align")
	}
	if opts.PixelFrom < 0 || opts.PixelFrom >= len(sources) || opts.ProjectionFrom < 0 || opts.ProjectionFrom >= len(sources) {
		return nil, geoerr.Inputf(op, "", "pixel/projection source index out of range")
	}
	target := opts.Projection
	if target == "" {
		target = sources[opts.ProjectionFrom].Raster.Projection()
	}
	pw, ph := math.Abs(opts.PixelWidth), math.Abs(opts.PixelHeight)
	if pw == 0 || ph == 0 {
		w, h := sources[opts.PixelFrom].Raster.Frame().PixelSize()
		pw, ph = math.Abs(w), math.Abs(h)
	}

	var ext raster.Extent
	switch opts.Policy {
	case Intersection, Union:
		for i, s := range sources {
			e, err := extentIn(s.Raster.Frame(), target)
			if err != nil {
				return nil, err
			}
			switch {
			case i == 0:
				ext = e
			case opts.Policy == Intersection:
				ext = ext.Intersect(e)
			default:
				ext = ext.Union(e)
			}
		}
	case BoundingAOI:
		if opts.AOI == nil || opts.AOI.Len() == 0 {
			return nil, geoerr.Domainf(op, "bounding policy needs a non-empty AOI")
		}
		aoi, err := vector.Reproject(opts.AOI, target)
		if err != nil {
			return nil, err
		}
		b := aoi.Bounds()
		ext = raster.Extent{XMin: b.Min.X, YMin: b.Min.Y, XMax: b.Max.X, YMax: b.Max.Y}
	default:
		return nil, geoerr.Inputf(op, "", "unknown extent policy %s", opts.Policy)
	}
	if ext.Empty() {
		return nil, geoerr.Domainf(op, "%s of the inputs is empty", opts.Policy)
	}

	ax, ay, err := anchor(sources[0].Raster.Frame(), target)
	if err != nil {
		return nil, err
	}
	x0 := ax + snapFloor((ext.XMin-ax)/pw)*pw
	x1 := ax + snapCeil((ext.XMax-ax)/pw)*pw
	y0 := ay + snapFloor((ext.YMin-ay)/ph)*ph
	y1 := ay + snapCeil((ext.YMax-ay)/ph)*ph
	cols := int(math.Round((x1 - x0) / pw))
	rows := int(math.Round((y1 - y0) / ph))

	nodata := math.Inf(-1)
	if opts.RealNodata != nil {
		nodata = *opts.RealNodata
	}
	return raster.NewFrame(x0, y1, pw, -ph, cols, rows, target, nodata)
}

// Values within this many pixels of a whole number are treated as whole.
const snapEps = 1e-6

func snapFloor(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapEps {
		return r
	}
	return math.Floor(v)
}

func snapCeil(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapEps {
		return r
	}
	return math.Ceil(v)
}

// anchor is the first input's origin in the target projection.
func anchor(f *raster.Frame, target string) (float64, float64, error) {
	x, y := f.Origin()
	if f.Projection() == target {
		return x, y, nil
	}
	t, err := vector.Transform(f.Projection(), target)
	if err != nil {
		return 0, 0, err
	}
	tx, ty, err := t(x, y)
	if err != nil {
		return 0, 0, geoerr.IO("align.FrameFor", "", err)
	}
	return tx, ty, nil
}

// extentIn returns the bounding box of f expressed in target, sampling the
// frame edges so curved projected edges are covered.
func extentIn(f *raster.Frame, target string) (raster.Extent, error) {
	e := f.Extent()
	if f.Projection() == target {
		return e, nil
	}
	t, err := vector.Transform(f.Projection(), target)
	if err != nil {
		return raster.Extent{}, err
	}
	return transformExtent(e, t)
}

func transformExtent(e raster.Extent, t proj.Transformer) (raster.Extent, error) {
	out := raster.Extent{XMin: math.Inf(1), YMin: math.Inf(1), XMax: math.Inf(-1), YMax: math.Inf(-1)}
	add := func(x, y float64) error {
		tx, ty, err := t(x, y)
		if err != nil {
			return geoerr.IO("align.FrameFor", "", err)
		}
		out.XMin, out.XMax = math.Min(out.XMin, tx), math.Max(out.XMax, tx)
		out.YMin, out.YMax = math.Min(out.YMin, ty), math.Max(out.YMax, ty)
		return nil
	}
	for i := 0; i < edgeSamples; i++ {
		s := float64(i) / float64(edgeSamples-1)
		x := e.XMin + s*e.Width()
		y := e.YMin + s*e.Height()
		for _, p := range [][2]float64{{x, e.YMin}, {x, e.YMax}, {e.XMin, y}, {e.XMax, y}} {
			if err := add(p[0], p[1]); err != nil {
				return raster.Extent{}, err
			}
		}
	}
	return out, nil
}
