// Package reclass remaps integer codes to numeric values.
package reclass

import (
	"context"
	"fmt"

	"geoweaver/internal/geoerr"
	"geoweaver/internal/raster"
	"geoweaver/internal/rastercalc"
)

// Mode decides what happens to codes missing from the table.
type Mode int

const (
	// Required makes a missing code fatal.
	Required Mode = iota
	// Default maps missing codes to Options.Default.
	Default
)

// Options for Reclassify.
type Options struct {
	Mode    Mode
	Default float64
	Workers int
}

// Reclassify writes out with every pixel of in replaced by table[pixel].
// Nodata input pixels become the output nodata. Only integer bands are
// accepted.
func Reclassify(ctx context.Context, in rastercalc.Input, table map[int64]float64, out rastercalc.Output, opts Options) (*raster.Raster, error) {
	const op = "reclass.Reclassify"
	if in.Band < 1 || in.Band > in.Raster.BandCount() {
		return nil, geoerr.Inputf(op, in.Raster.Path(), "band %d out of range", in.Band)
	}
	if t := in.Raster.Band(in.Band).Type; !t.IsInteger() {
		return nil, geoerr.Inputf(op, in.Raster.Path(), "cannot reclassify %s band; integer codes required", t)
	}
	f := func(v []float64) (float64, error) {
		code := int64(v[0])
		if val, ok := table[code]; ok {
			return val, nil
		}
		if opts.Mode == Default {
			return opts.Default, nil
		}
		return 0, geoerr.Inputf(op, in.Raster.Path(), "code %d has no entry in the lookup table", code)
	}
	r, err := rastercalc.Map(ctx, []rastercalc.Input{in}, out, f, rastercalc.Options{Strict: true, Workers: opts.Workers})
	if err != nil {
		return nil, fmt.Errorf("reclassify %s: %w", in.Raster.Path(), err)
	}
	return r, nil
}
