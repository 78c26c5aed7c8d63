package hydro

import (
	"context"
	"fmt"
	"math"
	"os"

	"geoweaver/internal/geoerr"
	"geoweaver/internal/raster"
	"geoweaver/internal/rastercalc"
)

// Method selects the direction encoding.
type Method int

const (
	MethodD8 Method = iota
	MethodDInf
)

func (m Method) String() string {
	if m == MethodDInf {
		return "dinf"
	}
	return "d8"
}

// ParseMethod accepts "d8" and "dinf".
func ParseMethod(s string) (Method, error) {
	switch s {
	case "d8", "":
		return MethodD8, nil
	case "dinf":
		return MethodDInf, nil
	}
	return 0, fmt.Errorf("unknown flow direction method %q", s)
}

// FlowDirection writes the flow field of dem to out.
func FlowDirection(ctx context.Context, dem rastercalc.Input, out string, m Method, resolveFlats bool) (*raster.Raster, error) {
	grid, err := dem.Raster.ReadGrid(dem.Band)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame := dem.Raster.Frame()
	pw, ph := frame.PixelSize()
	var dirs *raster.Grid
	switch m {
	case MethodDInf:
		if math.Abs(math.Abs(pw)-math.Abs(ph)) > raster.Tolerance*math.Abs(pw) {
			return nil, geoerr.Domainf("hydro.FlowDirection", "D-infinity needs square pixels, got %gx%g", pw, ph)
		}
		dirs = DInf(grid, pw, ph, resolveFlats)
	default:
		dirs = D8(grid, pw, ph, resolveFlats)
	}
	return writeGrid(out, frame, dirs)
}

// AccumulationOptions are the optional inputs of FlowAccumulation.
type AccumulationOptions struct {
	// Weight replaces the unit contribution of each pixel.
	Weight *rastercalc.Input
	// Mask restricts accumulation to its valid pixels.
	Mask *rastercalc.Input
}

// FlowAccumulation writes the accumulation of a flow field to out. The
// encoding is taken from the field's band type: integer bands are D8, real
// bands D-infinity.
func FlowAccumulation(ctx context.Context, dirs rastercalc.Input, out string, opts AccumulationOptions) (*raster.Raster, error) {
	const op = "hydro.FlowAccumulation"
	inputs := []rastercalc.Input{dirs}
	if opts.Weight != nil {
		inputs = append(inputs, *opts.Weight)
	}
	if opts.Mask != nil {
		inputs = append(inputs, *opts.Mask)
	}
	if err := rastercalc.CheckAligned(op, inputs); err != nil {
		return nil, err
	}
	field, err := dirs.Raster.ReadGrid(dirs.Band)
	if err != nil {
		return nil, err
	}
	var weight, mask *raster.Grid
	if opts.Weight != nil {
		if weight, err = opts.Weight.Raster.ReadGrid(opts.Weight.Band); err != nil {
			return nil, err
		}
	}
	if opts.Mask != nil {
		if mask, err = opts.Mask.Raster.ReadGrid(opts.Mask.Band); err != nil {
			return nil, err
		}
	}
	var acc *raster.Grid
	if field.Info.Type.IsInteger() {
		acc, err = AccumulateD8(ctx, field, weight, mask)
	} else {
		acc, err = AccumulateDInf(ctx, field, weight, mask)
	}
	if err != nil {
		return nil, err
	}
	return writeGrid(out, dirs.Raster.Frame(), acc)
}

// StreamInfo is the band layout of a stream mask: 1 stream, 0 not, -1 nodata.
var StreamInfo = raster.BandInfo{Type: raster.Int16, Nodata: -1, HasNodata: true}

// ExtractStreams marks pixels whose accumulation reaches threshold.
func ExtractStreams(ctx context.Context, acc rastercalc.Input, threshold float64, out string) (*raster.Raster, error) {
	if threshold < 0 || math.IsNaN(threshold) {
		return nil, geoerr.Domainf("hydro.ExtractStreams", "flow threshold must be non-negative, got %g", threshold)
	}
	return rastercalc.Map(ctx, []rastercalc.Input{acc},
		rastercalc.Output{Path: out, Type: StreamInfo.Type, Nodata: StreamInfo.Nodata},
		func(v []float64) (float64, error) {
			if v[0] >= threshold {
				return 1, nil
			}
			return 0, nil
		}, rastercalc.Options{Strict: true})
}

func writeGrid(path string, frame *raster.Frame, g *raster.Grid) (*raster.Raster, error) {
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
