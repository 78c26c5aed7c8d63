// Package models turns typed model configurations into task graphs over the
// raster kernel and the fisheries engine.
//
// A builder only declares tasks. Nothing is read or written until the
// coordinator runs a task's build function, so a graph can be validated and
// fingerprinted before any work starts. Task inputs are absolute paths to
// user files or workspace-relative paths to upstream outputs; outputs are
// always workspace-relative.
package models

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"geoweaver/internal/config"
	"geoweaver/internal/core"
	"geoweaver/internal/raster"
	"geoweaver/internal/rastercalc"
	"geoweaver/internal/trace"
	"geoweaver/internal/vector"
	"geoweaver/internal/workspace"
)

// Env is what every builder needs besides its own configuration section.
type Env struct {
	Workspace *workspace.Workspace
	Execution config.ExecutionConfig
	// Sink receives numerical warnings raised inside build functions.
	Sink trace.Sink
}

// Builder declares a model's tasks.
type Builder func(env Env, cfg *config.Config) ([]core.Task, error)

var builders = map[string]Builder{
	"carbon":    func(env Env, cfg *config.Config) ([]core.Task, error) { return Carbon(env, cfg.Carbon) },
	"streams":   func(env Env, cfg *config.Config) ([]core.Task, error) { return Streams(env, cfg.Streams) },
	"fisheries": func(env Env, cfg *config.Config) ([]core.Task, error) { return Fisheries(env, cfg.Fisheries) },
}

// Lookup returns the builder registered under name.
func Lookup(name string) (Builder, bool) {
	b, ok := builders[name]
	return b, ok
}

// Names lists the registered models in order.
func Names() []string {
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (e Env) sink() trace.Sink {
	if e.Sink == nil {
		return trace.NopSink{}
	}
	return e.Sink
}

func (e Env) abs(p string) string { return e.Workspace.Abs(p) }

// mapOptions are the block-parallel options shared by every map task.
func (e Env) mapOptions(task string) rastercalc.Options {
	return rastercalc.Options{
		Strict:      e.Execution.Strict,
		BlockWidth:  e.Execution.BlockSize,
		BlockHeight: e.Execution.BlockSize,
		Warn:        trace.WarningFunc(e.sink(), task),
	}
}

// baseConfig is the execution state that changes a map task's result.
func (e Env) baseConfig() map[string]string {
	return map[string]string{"strict": strconv.FormatBool(e.Execution.Strict)}
}

// openRasters opens every path and hands the rasters to fn, closing them
// afterwards.
func openRasters(paths []string, fn func([]*raster.Raster) error) (err error) {
	rs := make([]*raster.Raster, 0, len(paths))
	defer func() {
		for _, r := range rs {
			if cerr := r.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()
	for _, p := range paths {
		r, err := raster.Open(p)
		if err != nil {
			return err
		}
		rs = append(rs, r)
	}
	return fn(rs)
}

// closed closes the raster a primitive produced.
func closed(r *raster.Raster, err error) error {
	if err != nil {
		return err
	}
	return r.Close()
}

// writeFile writes path through fn. A failed write leaves a partial file for
// the runner to remove.
func writeFile(path string, fn func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

var shapefileSidecars = []string{".shx", ".dbf", ".prj"}

// shapefileInputs is a shapefile plus the sidecars that exist next to it.
// All of them feed the fingerprint.
func shapefileInputs(path string) []string {
	files := []string{path}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range shapefileSidecars {
		if _, err := os.Stat(base + ext); err == nil {
			files = append(files, base+ext)
		}
	}
	return files
}

// openLayer reads a polygon layer, keeping no attributes.
func openLayer(path string) (*vector.Layer, error) {
	l, err := vector.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	return l, nil
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func itoa(v int) string { return strconv.Itoa(v) }

func btoa(v bool) string { return strconv.FormatBool(v) }
