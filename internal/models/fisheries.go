package models

import (
	"context"
	"io"
	"path/filepath"
	"slices"

	"gonum.org/v1/gonum/mat"

	"geoweaver/internal/config"
	"geoweaver/internal/core"
	"geoweaver/internal/fisheries"
	"geoweaver/internal/geoerr"
	"geoweaver/internal/trace"
)

// Fisheries declares the population model. A single task runs the engine and
// writes both the per-region summary and the full cohort table.
func Fisheries(env Env, cfg config.FisheriesConfig) ([]core.Task, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	run, err := fisheriesConfig(cfg)
	if err != nil {
		return nil, err
	}

	inputs := []string{cfg.Params}
	classes := make([]string, 0, len(cfg.Migration))
	for class := range cfg.Migration {
		classes = append(classes, class)
	}
	slices.Sort(classes)
	for _, class := range classes {
		inputs = append(inputs, cfg.Migration[class])
	}

	ws := env.Workspace
	summary := ws.Output("population_summary.csv")
	cohorts := ws.Output("cohorts.csv")
	conf := map[string]string{
		"population":        cfg.Population,
		"sexes":             itoa(cfg.Sexes),
		"timesteps":         itoa(cfg.Timesteps),
		"recruitment":       cfg.Recruitment,
		"alpha":             ftoa(cfg.Alpha),
		"beta":              ftoa(cfg.Beta),
		"fixed_recruits":    ftoa(cfg.FixedRecruits),
		"initial_recruits":  ftoa(cfg.InitialRecruits),
		"spawn_units":       cfg.SpawnUnits,
		"harvest_units":     cfg.HarvestUnits,
		"frac_post_process": ftoa(cfg.FracPostProcess),
		"unit_price":        ftoa(cfg.UnitPrice),
		"strict":            btoa(env.Execution.Strict),
	}
	for _, class := range classes {
		conf["migration."+class] = filepath.Base(cfg.Migration[class])
	}

	return []core.Task{{
		Name:     "population",
		Inputs:   inputs,
		Outputs:  []string{summary, cohorts},
		Identity: "fisheries.run/v1",
		Config:   conf,
		Build: func(ctx context.Context) error {
			p, err := fisheries.ReadParams(cfg.Params, cfg.Sexes, run.Structure)
			if err != nil {
				return err
			}
			rc := run
			rc.Strict = env.Execution.Strict
			rc.Warn = trace.WarningFunc(env.sink(), "population")
			if rc.Migration, err = readMigration(cfg.Migration, p); err != nil {
				return err
			}
			res, err := fisheries.Run(ctx, p, rc)
			if err != nil {
				return err
			}
			if err := writeFile(env.abs(summary), func(w io.Writer) error { return fisheries.WriteSummary(w, res) }); err != nil {
				return err
			}
			return writeFile(env.abs(cohorts), func(w io.Writer) error { return fisheries.WriteCohorts(w, res) })
		},
	}}, nil
}

// fisheriesConfig converts the file configuration into the engine's, leaving
// the parts that need the parameter file for the build.
func fisheriesConfig(cfg config.FisheriesConfig) (fisheries.Config, error) {
	st, err := fisheries.ParseStructure(cfg.Population)
	if err != nil {
		return fisheries.Config{}, err
	}
	rec, err := fisheries.ParseRecruitment(cfg.Recruitment)
	if err != nil {
		return fisheries.Config{}, err
	}
	spawn, err := fisheries.ParseUnits(cfg.SpawnUnits)
	if err != nil {
		return fisheries.Config{}, err
	}
	harvest, err := fisheries.ParseUnits(cfg.HarvestUnits)
	if err != nil {
		return fisheries.Config{}, err
	}
	return fisheries.Config{
		Structure:       st,
		Recruitment:     rec,
		Alpha:           cfg.Alpha,
		Beta:            cfg.Beta,
		FixedRecruits:   cfg.FixedRecruits,
		SpawnUnits:      spawn,
		HarvestUnits:    harvest,
		InitialRecruits: cfg.InitialRecruits,
		Timesteps:       cfg.Timesteps,
		FracPostProcess: cfg.FracPostProcess,
		UnitPrice:       cfg.UnitPrice,
	}, nil
}

// readMigration loads one matrix per named class.
func readMigration(files map[string]string, p *fisheries.Params) (map[int]*mat.Dense, error) {
	if len(files) == 0 {
		return nil, nil
	}
	out := make(map[int]*mat.Dense, len(files))
	for class, path := range files {
		a := slices.Index(p.Classes, class)
		if a < 0 {
			return nil, geoerr.Inputf("models.Fisheries", path, "migration given for unknown class %q", class)
		}
		m, err := fisheries.ReadMigration(path, p.Regions)
		if err != nil {
			return nil, err
		}
		out[a] = m
	}
	return out, nil
}
