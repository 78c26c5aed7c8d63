package align

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/ctessum/geom/proj"
	"golang.org/x/sync/errgroup"

	"geoweaver/internal/geoerr"
	"geoweaver/internal/raster"
	"geoweaver/internal/vector"
)

// Resampling is the interpolation kernel used for one input.
type Resampling int

const (
	Nearest Resampling = iota
	Bilinear
	Cubic
	Mode
)

func (m Resampling) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	case Cubic:
		return "cubic"
	case Mode:
		return "mode"
	}
	return fmt.Sprintf("Resampling(%d)", int(m))
}

// ParseResampling accepts the names produced by String.
func ParseResampling(s string) (Resampling, error) {
	for _, m := range []Resampling{Nearest, Bilinear, Cubic, Mode} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown resampling method %q", s)
}

// Source is one raster to align and where its aligned copy goes.
type Source struct {
	Raster *raster.Raster
	Method Resampling
	Path   string
}

// Align writes an aligned copy of every source. All outputs share the
// returned frame; integer bands keep their nodata, real bands take the
// frame's sentinel.
func Align(ctx context.Context, sources []Source, opts Options) ([]*raster.Raster, *raster.Frame, error) {
	frame, err := FrameFor(sources, opts)
	if err != nil {
		return nil, nil, err
	}
	out := make([]*raster.Raster, 0, len(sources))
	cleanup := func() {
		for i, r := range out {
			_ = r.Close()
			_ = os.Remove(sources[i].Path)
		}
	}
	for _, s := range sources {
		r, err := alignOne(ctx, s, frame, opts.Workers)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		out = append(out, r)
	}
	return out, frame, nil
}

// Bands returns the band layout an aligned copy of src gets on frame.
func Bands(src *raster.Raster, frame *raster.Frame) []raster.BandInfo {
	bands := make([]raster.BandInfo, src.BandCount())
	for b := range bands {
		info := src.Band(b + 1)
		if info.Type.IsInteger() {
			if !info.HasNodata {
				info.Nodata, info.HasNodata = info.Type.DefaultNodata(), true
			}
		} else {
			info.Nodata, info.HasNodata = frame.Nodata(), true
		}
		bands[b] = info
	}
	return bands
}

func alignOne(ctx context.Context, s Source, frame *raster.Frame, workers int) (*raster.Raster, error) {
	const op = "align.Align"
	src := s.Raster
	var toSrc proj.Transformer
	if src.Projection() != frame.Projection() {
		t, err := vector.Transform(frame.Projection(), src.Projection())
		if err != nil {
			return nil, err
		}
		toSrc = t
	}
	bands := Bands(src, frame)
	dst, err := raster.Create(s.Path, frame, bands, raster.Options{})
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*raster.Raster, error) {
		_ = dst.Close()
		_ = os.Remove(s.Path)
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	for b := 1; b <= src.BandCount(); b++ {
		grid, err := src.ReadGrid(b)
		if err != nil {
			return fail(err)
		}
		rs := &resampler{src: grid, srcFrame: src.Frame(), dst: frame, toSrc: toSrc, method: s.Method, nodata: bands[b-1].Nodata}
		outGrid := raster.NewGrid(frame.Cols(), frame.Rows(), bands[b-1])

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for r := 0; r < frame.Rows(); r++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return rs.row(r, outGrid.Data[r*frame.Cols():(r+1)*frame.Cols()])
			})
		}
		if err := g.Wait(); err != nil {
			return fail(geoerr.Wrap(geoerr.ErrIO, op, err))
		}
		if err := dst.WriteGrid(b, outGrid); err != nil {
			return fail(err)
		}
	}
	return dst, nil
}
