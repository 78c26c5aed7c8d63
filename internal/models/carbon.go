package models

import (
	"context"
	"io"

	"geoweaver/internal/align"
	"geoweaver/internal/config"
	"geoweaver/internal/core"
	"geoweaver/internal/raster"
	"geoweaver/internal/rastercalc"
	"geoweaver/internal/reclass"
	"geoweaver/internal/table"
	"geoweaver/internal/zonal"
)

// CarbonPools are the pool columns of the carbon table, in Mg/ha.
var CarbonPools = []string{"c_above", "c_below", "c_soil", "c_dead"}

var carbonReducers = []zonal.Reducer{{Stat: zonal.Count}, {Stat: zonal.Sum}, {Stat: zonal.Mean}}

// Carbon declares the carbon storage model: one reclassified raster per pool,
// their sum as total storage in Mg per pixel, and per-polygon totals when an
// AOI is given.
func Carbon(env Env, cfg config.CarbonConfig) ([]core.Task, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ws := env.Workspace
	mode := reclass.Required
	if cfg.MissingCodes == "zero" {
		mode = reclass.Default
	}

	var tasks []core.Task
	landCover := cfg.LandCover
	var aoiFiles []string
	if cfg.AOI != "" {
		aoiFiles = shapefileInputs(cfg.AOI)
		clipped := ws.Intermediate("land_cover_aoi.nc")
		tasks = append(tasks, core.Task{
			Name:      "clip_land_cover",
			Inputs:    append([]string{cfg.LandCover}, aoiFiles...),
			Outputs:   []string{clipped},
			Identity:  "carbon.clip_land_cover/v1",
			Ephemeral: true,
			Build: func(ctx context.Context) error {
				aoi, err := openLayer(cfg.AOI)
				if err != nil {
					return err
				}
				return openRasters([]string{cfg.LandCover}, func(rs []*raster.Raster) error {
					out, _, err := align.Align(ctx,
						[]align.Source{{Raster: rs[0], Method: align.Nearest, Path: env.abs(clipped)}},
						align.Options{Policy: align.BoundingAOI, AOI: aoi})
					if err != nil {
						return err
					}
					return out[0].Close()
				})
			},
		})
		landCover = clipped
	}

	pools := make([]string, len(CarbonPools))
	for i, pool := range CarbonPools {
		pools[i] = ws.Intermediate(pool + ".nc")
		name := "carbon_" + pool[2:]
		conf := env.baseConfig()
		conf["pool"] = pool
		conf["missing_codes"] = cfg.MissingCodes
		tasks = append(tasks, core.Task{
			Name:      name,
			Inputs:    []string{landCover, cfg.Pools},
			Outputs:   []string{pools[i]},
			Identity:  "carbon.pool/v1",
			Config:    conf,
			Ephemeral: true,
			Build: func(ctx context.Context) error {
				t, err := table.ReadLookup(cfg.Pools, "lucode", CarbonPools...)
				if err != nil {
					return err
				}
				density, err := t.IntFloatMap(pool)
				if err != nil {
					return err
				}
				return openRasters([]string{env.abs(landCover)}, func(rs []*raster.Raster) error {
					// Mg/ha to Mg per pixel.
					ha := rs[0].Frame().PixelArea() / 10000
					perPixel := make(map[int64]float64, len(density))
					for code, d := range density {
						perPixel[code] = d * ha
					}
					return closed(reclass.Reclassify(ctx, rastercalc.BandOf(rs[0]), perPixel,
						rastercalc.Output{Path: env.abs(pools[i]), Type: raster.Float32, Nodata: -1},
						reclass.Options{Mode: mode, Default: 0}))
				})
			},
		})
	}

	total := ws.Output("tot_c.nc")
	tasks = append(tasks, core.Task{
		Name:     "total_carbon",
		Inputs:   append(append([]string(nil), pools...), aoiFiles...),
		Outputs:  []string{total},
		Identity: "carbon.total/v1",
		Config:   env.baseConfig(),
		Build: func(ctx context.Context) error {
			opts := env.mapOptions("total_carbon")
			if cfg.AOI != "" {
				aoi, err := openLayer(cfg.AOI)
				if err != nil {
					return err
				}
				opts.AOI = aoi
			}
			paths := make([]string, len(pools))
			for i, p := range pools {
				paths[i] = env.abs(p)
			}
			return openRasters(paths, func(rs []*raster.Raster) error {
				inputs := make([]rastercalc.Input, len(rs))
				for i, r := range rs {
					inputs[i] = rastercalc.BandOf(r)
				}
				return closed(rastercalc.Map(ctx, inputs,
					rastercalc.Output{Path: env.abs(total), Type: raster.Float32, Nodata: -1},
					sumPools, opts))
			})
		},
	})

	if cfg.AOI != "" {
		report := ws.Output("aoi_carbon.csv")
		tasks = append(tasks, core.Task{
			Name:     "aoi_carbon",
			Inputs:   append([]string{total}, aoiFiles...),
			Outputs:  []string{report},
			Identity: "carbon.aoi_totals/v1",
			Build: func(ctx context.Context) error {
				return zonalReport(ctx, env.abs(total), cfg.AOI, carbonReducers, env.abs(report))
			},
		})
	}
	return tasks, nil
}

func sumPools(vals []float64) (float64, error) {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s, nil
}

// zonalReport aggregates band 1 of rasterPath inside every polygon of
// layerPath and writes the CSV report.
func zonalReport(ctx context.Context, rasterPath, layerPath string, reducers []zonal.Reducer, out string) error {
	layer, err := openLayer(layerPath)
	if err != nil {
		return err
	}
	return openRasters([]string{rasterPath}, func(rs []*raster.Raster) error {
		res, err := zonal.Aggregate(ctx, rastercalc.BandOf(rs[0]), layer, reducers, zonal.Options{})
		if err != nil {
			return err
		}
		return writeFile(out, func(w io.Writer) error { return zonal.WriteCSV(w, res, reducers) })
	})
}
