package hydro

import (
	"context"
	"math"

	"geoweaver/internal/geoerr"
	"geoweaver/internal/raster"
)

// AccumInfo is the band layout of an accumulation raster.
var AccumInfo = raster.BandInfo{Type: raster.Float64, Nodata: math.Inf(-1), HasNodata: true}

type pixelState uint8

const (
	unvisited pixelState = iota
	inQueue
	done
)

type edge struct {
	to int
	w  float64
}

// graph is the pixel flow network: each pixel sends fractions of its
// accumulation to at most two downstream pixels.
type graph struct {
	cols, rows int
	active     []bool
	out        [][2]edge
	nout       []uint8
}

func newGraph(cols, rows int, active []bool) *graph {
	return &graph{cols: cols, rows: rows, active: active, out: make([][2]edge, cols*rows), nout: make([]uint8, cols*rows)}
}

func (g *graph) add(from, to int, w float64) {
	if w <= 0 || !g.active[from] || !g.active[to] {
		return
	}
	g.out[from][g.nout[from]] = edge{to: to, w: w}
	g.nout[from]++
}

// activeCells marks the pixels that take part in accumulation: all pixels, or
// the valid pixels of mask.
func activeCells(cols, rows int, mask *raster.Grid) []bool {
	active := make([]bool, cols*rows)
	for i := range active {
		active[i] = mask == nil || !mask.Info.IsNodata(mask.Data[i])
	}
	return active
}

// accumulate runs Kahn's algorithm: a pixel enters the queue once every
// upstream pixel is done, and its value is its own weight plus the inflow it
// received. Pixels left unvisited sit on a cycle.
func (g *graph) accumulate(ctx context.Context, op string, weight *raster.Grid) (*raster.Grid, error) {
	n := g.cols * g.rows
	indeg := make([]int, n)
	for i := 0; i < n; i++ {
		for e := 0; e < int(g.nout[i]); e++ {
			indeg[g.out[i][e].to]++
		}
	}
	state := make([]pixelState, n)
	acc := make([]float64, n)
	queue := make([]int, 0, n)
	total := 0
	for i := 0; i < n; i++ {
		if !g.active[i] {
			continue
		}
		total++
		if indeg[i] == 0 {
			state[i] = inQueue
			queue = append(queue, i)
		}
	}
	for head := 0; head < len(queue); head++ {
		if head%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		i := queue[head]
		own := 1.0
		if weight != nil {
			if w := weight.Data[i]; weight.Info.IsNodata(w) || math.IsNaN(w) {
				own = 0
			} else {
				own = w
			}
		}
		acc[i] += own
		state[i] = done
		for e := 0; e < int(g.nout[i]); e++ {
			ed := g.out[i][e]
			acc[ed.to] += acc[i] * ed.w
			indeg[ed.to]--
			if indeg[ed.to] == 0 && state[ed.to] == unvisited {
				state[ed.to] = inQueue
				queue = append(queue, ed.to)
			}
		}
	}
	if len(queue) != total {
		for i := 0; i < n; i++ {
			if g.active[i] && state[i] != done {
				return nil, geoerr.Invariantf(op, "flow cycle through pixel (%d, %d); %d of %d pixels unreachable",
					i%g.cols, i/g.cols, total-len(queue), total)
			}
		}
	}
	out := raster.NewGrid(g.cols, g.rows, AccumInfo)
	for i := 0; i < n; i++ {
		if g.active[i] {
			out.Data[i] = acc[i]
		}
	}
	return out, nil
}

// AccumulateD8 returns, for every pixel, 1 (or its weight) plus the
// accumulation of every pixel draining into it. mask, when given, restricts
// the computation to its valid pixels; masked pixels are nodata and
// contribute nothing.
func AccumulateD8(ctx context.Context, dirs, weight, mask *raster.Grid) (*raster.Grid, error) {
	g := newGraph(dirs.Cols, dirs.Rows, activeCells(dirs.Cols, dirs.Rows, mask))
	for r := 0; r < dirs.Rows; r++ {
		for c := 0; c < dirs.Cols; c++ {
			if nc, nr, ok := D8Target(dirs, c, r); ok {
				g.add(dirs.Index(c, r), dirs.Index(nc, nr), 1)
			}
		}
	}
	return g.accumulate(ctx, "hydro.AccumulateD8", weight)
}

// AccumulateDInf is AccumulateD8 for D-infinity directions: each pixel's
// accumulation is split between its two downstream neighbours by angle.
// Flow leaving the grid or entering a masked pixel is lost.
func AccumulateDInf(ctx context.Context, angles, weight, mask *raster.Grid) (*raster.Grid, error) {
	g := newGraph(angles.Cols, angles.Rows, activeCells(angles.Cols, angles.Rows, mask))
	for r := 0; r < angles.Rows; r++ {
		for c := 0; c < angles.Cols; c++ {
			a := angles.At(c, r)
			if angles.Info.IsNodata(a) || math.IsNaN(a) || a < 0 {
				continue
			}
			d1, d2, w1, w2 := Downstream(a)
			for _, p := range [2]struct {
				d int
				w float64
			}{{d1, w1}, {d2, w2}} {
				nc, nr := Neighbor(c, r, p.d)
				if angles.InBounds(nc, nr) {
					g.add(angles.Index(c, r), angles.Index(nc, nr), p.w)
				}
			}
		}
	}
	return g.accumulate(ctx, "hydro.AccumulateDInf", weight)
}
