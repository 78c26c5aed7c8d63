// Package rastercalc streams aligned rasters through a per-pixel function into
// one output raster.
//
// Nodata handling lives here and nowhere else: Map short-circuits any pixel
// where an input is nodata, and MapMasked hands the function a validity vector
// instead. Blocks are processed concurrently; each block reads and writes a
// disjoint window, so traversal order is never observable.
package rastercalc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"geoweaver/internal/geoerr"
	"geoweaver/internal/raster"
	"geoweaver/internal/vector"
)

// Input selects one band of an open raster.
type Input struct {
	Raster *raster.Raster
	Band   int
}

// BandOf selects band 1 of r.
func BandOf(r *raster.Raster) Input { return Input{Raster: r, Band: 1} }

// Output describes the raster Map creates.
type Output struct {
	Path   string
	Type   raster.PixelType
	Nodata float64
}

// Func computes one output pixel from the input pixels, in input order.
type Func func(vals []float64) (float64, error)

// MaskedFunc is Func with the per-input validity vector.
type MaskedFunc func(vals []float64, valid []bool) (float64, error)

// Options tunes a Map call. The zero value is usable.
type Options struct {
	// AOI gates the output: pixels whose centroid is outside every polygon
	// are nodata.
	AOI *vector.Layer
	// Strict turns per-pixel failures into a fatal error.
	Strict bool
	// Workers bounds concurrent blocks; GOMAXPROCS when zero.
	Workers int
	// BlockWidth and BlockHeight override the first input's block size.
	BlockWidth, BlockHeight int
	// Warn receives one aggregated warning per block with failures.
	Warn geoerr.WarningFunc
}

// Map applies f to every pixel. The output pixel is nodata when any input
// pixel is nodata or the AOI excludes it.
func Map(ctx context.Context, inputs []Input, out Output, f Func, opts Options) (*raster.Raster, error) {
	return run(ctx, "rastercalc.Map", inputs, out, opts, func(vals []float64, valid []bool) (float64, bool, error) {
		for _, ok := range valid {
			if !ok {
				return 0, true, nil
			}
		}
		v, err := f(vals)
		return v, false, err
	})
}

// MapMasked applies f to every pixel inside the AOI, including pixels where
// some inputs are nodata; f decides what such pixels become.
func MapMasked(ctx context.Context, inputs []Input, out Output, f MaskedFunc, opts Options) (*raster.Raster, error) {
	return run(ctx, "rastercalc.MapMasked", inputs, out, opts, func(vals []float64, valid []bool) (float64, bool, error) {
		v, err := f(vals, valid)
		return v, false, err
	})
}

// eval returns the pixel value, or skip=true for nodata.
type eval func(vals []float64, valid []bool) (v float64, skip bool, err error)

// CheckAligned reports an InvariantError unless every input shares the first
// input's frame.
func CheckAligned(op string, inputs []Input) error {
	if len(inputs) == 0 {
		return geoerr.Inputf(op, "", "no inputs")
	}
	f0 := inputs[0].Raster.Frame()
	for i, in := range inputs {
		if in.Band < 1 || in.Band > in.Raster.BandCount() {
			return geoerr.Inputf(op, in.Raster.Path(), "band %d out of range", in.Band)
		}
		if !in.Raster.Frame().SameGrid(f0) {
			return geoerr.Invariantf(op, "input %d (%s) is not aligned with %s: %s vs %s",
				i, in.Raster.Path(), inputs[0].Raster.Path(), in.Raster.Frame(), f0)
		}
	}
	return nil
}

func run(ctx context.Context, op string, inputs []Input, out Output, opts Options, fn eval) (*raster.Raster, error) {
	if err := CheckAligned(op, inputs); err != nil {
		return nil, err
	}
	if !out.Type.Valid() {
		return nil, geoerr.Inputf(op, out.Path, "invalid output type %s", out.Type)
	}
	frame := inputs[0].Raster.Frame()

	var aoi []bool
	if opts.AOI != nil {
		m, err := vector.Rasterize(frame, opts.AOI)
		if err != nil {
			return nil, err
		}
		if !anyTrue(m) {
			return nil, geoerr.Domainf(op, "AOI covers no pixel of %s", inputs[0].Raster.Path())
		}
		aoi = m
	}

	bw, bh := inputs[0].Raster.BlockSize()
	if opts.BlockWidth > 0 {
		bw = opts.BlockWidth
	}
	if opts.BlockHeight > 0 {
		bh = opts.BlockHeight
	}
	dst, err := raster.Create(out.Path, frame,
		[]raster.BandInfo{{Type: out.Type, Nodata: out.Nodata, HasNodata: true}},
		raster.Options{BlockWidth: bw, BlockHeight: bh})
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	b := &blockRunner{op: op, inputs: inputs, dst: dst, out: out, aoi: aoi, cols: frame.Cols(), strict: opts.Strict, warn: opts.Warn, fn: fn}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, w := range raster.Tile(frame.Cols(), frame.Rows(), bw, bh) {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return b.block(w)
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = dst.Close()
		_ = os.Remove(out.Path)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, err
	}
	return dst, nil
}

type blockRunner struct {
	op     string
	inputs []Input
	dst    *raster.Raster
	out    Output
	aoi    []bool
	cols   int
	strict bool
	warn   geoerr.WarningFunc
	fn     eval
}

func (b *blockRunner) block(w raster.Window) error {
	n := len(b.inputs)
	data := make([][]float64, n)
	infos := make([]raster.BandInfo, n)
	for i, in := range b.inputs {
		d, err := in.Raster.ReadBlock(in.Band, w)
		if err != nil {
			return err
		}
		data[i] = d
		infos[i] = in.Raster.Band(in.Band)
	}

	vals := make([]float64, n)
	valid := make([]bool, n)
	res := make([]float64, w.Len())
	var failures int
	var first error
	for r := 0; r < w.Rows; r++ {
		for c := 0; c < w.Cols; c++ {
			p := r*w.Cols + c
			if b.aoi != nil && !b.aoi[(w.Row+r)*b.cols+w.Col+c] {
				res[p] = b.out.Nodata
				continue
			}
			for i := range data {
				vals[i] = data[i][p]
				valid[i] = !infos[i].IsNodata(vals[i])
			}
			v, skip, err := b.fn(vals, valid)
			if skip {
				res[p] = b.out.Nodata
				continue
			}
			if err == nil {
				err = b.check(v)
			}
			if err != nil {
				if b.strict {
					return geoerr.Wrap(geoerr.ErrInvariant, b.op,
						fmt.Errorf("pixel (%d, %d): %w", w.Col+c, w.Row+r, err))
				}
				failures++
				if first == nil {
					first = fmt.Errorf("pixel (%d, %d): %w", w.Col+c, w.Row+r, err)
				}
				v = b.out.Nodata
			}
			res[p] = v
		}
	}
	if failures > 0 {
		b.warn.Emit(geoerr.Warning{
			Op:     b.op,
			Detail: fmt.Sprintf("%s: set to nodata; first failure %v", b.out.Path, first),
			Count:  failures,
		})
	}
	return b.dst.WriteBlock(1, w, res)
}

func (b *blockRunner) check(v float64) error {
	info := raster.BandInfo{Type: b.out.Type, Nodata: b.out.Nodata, HasNodata: true}
	if info.IsNodata(v) {
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("non-finite result %g", v)
	}
	if !b.out.Type.Representable(v) {
		return fmt.Errorf("%g does not fit %s", v, b.out.Type)
	}
	return nil
}

func anyTrue(m []bool) bool {
	for _, v := range m {
		if v {
			return true
		}
	}
	return false
}
