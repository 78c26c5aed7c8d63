package models

import (
	"context"

	"geoweaver/internal/config"
	"geoweaver/internal/core"
	"geoweaver/internal/hydro"
	"geoweaver/internal/morph"
	"geoweaver/internal/raster"
	"geoweaver/internal/rastercalc"
	"geoweaver/internal/zonal"
)

// Streams declares the flow routing model: direction, accumulation, the
// thresholded stream mask and the distance from every pixel to the nearest
// stream. A watershed layer adds a per-polygon summary of accumulation.
func Streams(env Env, cfg config.StreamsConfig) ([]core.Task, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	method, err := hydro.ParseMethod(cfg.Method)
	if err != nil {
		return nil, err
	}
	reducers := make([]zonal.Reducer, 0, len(cfg.Stats))
	for _, s := range cfg.Stats {
		r, err := zonal.ParseReducer(s)
		if err != nil {
			return nil, err
		}
		reducers = append(reducers, r)
	}

	ws := env.Workspace
	var (
		dirs    = ws.Intermediate("flow_direction.nc")
		acc     = ws.Output("flow_accumulation.nc")
		streams = ws.Output("streams.nc")
		dist    = ws.Output("distance_to_stream.nc")
	)

	tasks := []core.Task{
		{
			Name:     "flow_direction",
			Inputs:   []string{cfg.DEM},
			Outputs:  []string{dirs},
			Identity: "hydro.flow_direction/v1",
			Config: map[string]string{
				"method":        method.String(),
				"resolve_flats": btoa(cfg.ResolveFlats),
			},
			Build: func(ctx context.Context) error {
				return openRasters([]string{cfg.DEM}, func(rs []*raster.Raster) error {
					return closed(hydro.FlowDirection(ctx, rastercalc.BandOf(rs[0]), env.abs(dirs), method, cfg.ResolveFlats))
				})
			},
		},
		{
			Name:     "flow_accumulation",
			Inputs:   []string{dirs},
			Outputs:  []string{acc},
			Identity: "hydro.flow_accumulation/v1",
			Build: func(ctx context.Context) error {
				return openRasters([]string{env.abs(dirs)}, func(rs []*raster.Raster) error {
					return closed(hydro.FlowAccumulation(ctx, rastercalc.BandOf(rs[0]), env.abs(acc), hydro.AccumulationOptions{}))
				})
			},
		},
		{
			Name:     "stream_mask",
			Inputs:   []string{acc},
			Outputs:  []string{streams},
			Identity: "hydro.extract_streams/v1",
			Config:   map[string]string{"threshold": ftoa(cfg.Threshold)},
			Build: func(ctx context.Context) error {
				return openRasters([]string{env.abs(acc)}, func(rs []*raster.Raster) error {
					return closed(hydro.ExtractStreams(ctx, rastercalc.BandOf(rs[0]), cfg.Threshold, env.abs(streams)))
				})
			},
		},
	}

	distOut := dist
	if cfg.Smoothing > 0 {
		distOut = ws.Intermediate("distance_to_stream_raw.nc")
	}
	tasks = append(tasks, core.Task{
		Name:      "distance_to_stream",
		Inputs:    []string{streams},
		Outputs:   []string{distOut},
		Identity:  "morph.distance_transform/v1",
		Config:    map[string]string{"map_units": btoa(cfg.DistanceInMapUnits)},
		Ephemeral: cfg.Smoothing > 0,
		Build: func(ctx context.Context) error {
			return openRasters([]string{env.abs(streams)}, func(rs []*raster.Raster) error {
				return closed(morph.DistanceTransform(ctx, rastercalc.BandOf(rs[0]), env.abs(distOut),
					morph.DistanceOptions{MapUnits: cfg.DistanceInMapUnits}))
			})
		},
	})
	if cfg.Smoothing > 0 {
		tasks = append(tasks, core.Task{
			Name:     "smooth_distance",
			Inputs:   []string{distOut},
			Outputs:  []string{dist},
			Identity: "morph.gaussian_smooth/v1",
			Config:   map[string]string{"sigma": ftoa(cfg.Smoothing)},
			Build: func(ctx context.Context) error {
				return openRasters([]string{env.abs(distOut)}, func(rs []*raster.Raster) error {
					return closed(morph.GaussianSmooth(ctx, rastercalc.BandOf(rs[0]), cfg.Smoothing, env.abs(dist)))
				})
			},
		})
	}

	if cfg.Watersheds != "" {
		report := ws.Output("watershed_accumulation.csv")
		conf := map[string]string{}
		for i, r := range reducers {
			conf["stat."+itoa(i)] = r.Name()
		}
		tasks = append(tasks, core.Task{
			Name:     "watershed_summary",
			Inputs:   append([]string{acc}, shapefileInputs(cfg.Watersheds)...),
			Outputs:  []string{report},
			Identity: "zonal.aggregate/v1",
			Config:   conf,
			Build: func(ctx context.Context) error {
				return zonalReport(ctx, env.abs(acc), cfg.Watersheds, reducers, env.abs(report))
			},
		})
	}
	return tasks, nil
}
