// Package zonal reduces raster values inside vector polygons.
//
// A pixel belongs to a polygon when its centroid is inside the polygon or on
// its edge. Each polygon is aggregated on its own, so overlapping polygons
// share pixels.
package zonal

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"geoweaver/internal/geoerr"
	"geoweaver/internal/rastercalc"
	"geoweaver/internal/vector"
)

// Stat is a reduction kind.
type Stat int

const (
	Count Stat = iota
	Sum
	Mean
	Min
	Max
	StdDev
	Quantile
)

// Reducer is one requested reduction. Q is the probability for Quantile.
type Reducer struct {
	Stat Stat
	Q    float64
}

// Name is the record key of the reducer: "count", "sum", "mean", "min",
// "max", "stddev" or "q<Q>" (e.g. "q0.9").
func (r Reducer) Name() string {
	switch r.Stat {
	case Count:
		return "count"
	case Sum:
		return "sum"
	case Mean:
		return "mean"
	case Min:
		return "min"
	case Max:
		return "max"
	case StdDev:
		return "stddev"
	case Quantile:
		return "q" + strconv.FormatFloat(r.Q, 'g', -1, 64)
	}
	return fmt.Sprintf("stat%d", int(r.Stat))
}

// ParseReducer is the inverse of Name.
func ParseReducer(s string) (Reducer, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, st := range []Stat{Count, Sum, Mean, Min, Max, StdDev} {
		if r := (Reducer{Stat: st}); r.Name() == s {
			return r, nil
		}
	}
	if q, ok := strings.CutPrefix(s, "q"); ok {
		if p, err := strconv.ParseFloat(q, 64); err == nil && p >= 0 && p <= 1 {
			return Reducer{Stat: Quantile, Q: p}, nil
		}
	}
	return Reducer{}, fmt.Errorf("unknown reduction %q", s)
}

// All is every reduction except quantiles.
var All = []Reducer{{Stat: Count}, {Stat: Sum}, {Stat: Mean}, {Stat: Min}, {Stat: Max}, {Stat: StdDev}}

// Record maps reducer name to value.
type Record map[string]float64

// Result maps feature id to its record.
type Result map[int]Record

// Options tune Aggregate.
type Options struct {
	// Empty is the value of every reduction but count for polygons without
	// valid pixels; NaN when nil.
	Empty   *float64
	Workers int
}

// Aggregate computes reducers for every polygon of layer over band in.
func Aggregate(ctx context.Context, in rastercalc.Input, layer *vector.Layer, reducers []Reducer, opts Options) (Result, error) {
	const op = "zonal.Aggregate"
	if err := rastercalc.CheckAligned(op, []rastercalc.Input{in}); err != nil {
		return nil, err
	}
	for _, r := range reducers {
		if r.Stat == Quantile && (r.Q < 0 || r.Q > 1 || math.IsNaN(r.Q)) {
			return nil, geoerr.Domainf(op, "quantile %g outside [0, 1]", r.Q)
		}
	}
	if layer.Len() > 0 && !layer.Kind().Polygonal() {
		return nil, geoerr.Inputf(op, "", "zonal statistics need polygons, got %s", layer.Kind())
	}
	frame := in.Raster.Frame()
	layer, err := vector.Reproject(layer, frame.Projection())
	if err != nil {
		return nil, err
	}
	empty := math.NaN()
	if opts.Empty != nil {
		empty = *opts.Empty
	}
	info := in.Raster.Band(in.Band)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	records := make([]Record, layer.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < layer.Len(); i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f := layer.Feature(i)
			poly, _ := f.Polygonal()
			w := vector.WindowFor(frame, poly.Bounds())
			var vals []float64
			if !w.Empty() {
				data, err := in.Raster.ReadBlock(in.Band, w)
				if err != nil {
					return err
				}
				for r := 0; r < w.Rows; r++ {
					for c := 0; c < w.Cols; c++ {
						v := data[r*w.Cols+c]
						if info.IsNodata(v) || math.IsNaN(v) {
							continue
						}
						x, y := frame.PixelCenter(w.Col+c, w.Row+r)
						if vector.Covers(poly, x, y) {
							vals = append(vals, v)
						}
					}
				}
			}
			records[i] = Reduce(vals, reducers, empty)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(Result, len(records))
	for i, rec := range records {
		out[layer.Feature(i).ID] = rec
	}
	return out, nil
}

// Reduce applies reducers to vals. With no values, count is 0 and every other
// reduction is empty.
func Reduce(vals []float64, reducers []Reducer, empty float64) Record {
	rec := make(Record, len(reducers))
	var sorted []float64
	for _, r := range reducers {
		name := r.Name()
		if r.Stat == Count {
			rec[name] = float64(len(vals))
			continue
		}
		if len(vals) == 0 {
			rec[name] = empty
			continue
		}
		switch r.Stat {
		case Sum:
			rec[name] = floats.Sum(vals)
		case Mean:
			rec[name] = stat.Mean(vals, nil)
		case Min:
			rec[name] = floats.Min(vals)
		case Max:
			rec[name] = floats.Max(vals)
		case StdDev:
			_, std := stat.PopMeanStdDev(vals, nil)
			rec[name] = std
		case Quantile:
			if sorted == nil {
				sorted = slices.Clone(vals)
				slices.Sort(sorted)
			}
			rec[name] = stat.Quantile(r.Q, stat.LinInterp, sorted, nil)
		}
	}
	return rec
}
