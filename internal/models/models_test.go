package models

import (
	"context"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoweaver/internal/config"
	"geoweaver/internal/core"
	"geoweaver/internal/dag"
	"geoweaver/internal/raster"
	"geoweaver/internal/raster/rastertest"
	"geoweaver/internal/trace"
	"geoweaver/internal/workspace"
)

func newEnv(t *testing.T) Env {
	t.Helper()
	ws, err := workspace.Open(filepath.Join(t.TempDir(), "ws"), "")
	require.NoError(t, err)
	return Env{Workspace: ws, Execution: config.Default().Execution, Sink: trace.NewRecorder()}
}

// execute runs tasks against a JSON ledger in the workspace.
func execute(t *testing.T, env Env, tasks []core.Task) *dag.GraphResult {
	t.Helper()
	require.NoError(t, env.Workspace.Guard(tasks))
	g, err := dag.Build(tasks)
	require.NoError(t, err)
	ledger, closeLedger, err := env.Workspace.OpenLedger(workspace.LedgerJSON)
	require.NoError(t, err)
	defer closeLedger()

	runner := core.NewRunner(env.Workspace.Root, ledger)
	runner.Locker = workspace.NewPathLocks()
	lr, err := dag.NewLedgerRunner(runner)
	require.NoError(t, err)
	ex, err := dag.NewExecutor(g, lr)
	require.NoError(t, err)
	ex.Sink = env.Sink
	res, err := ex.RunParallel(context.Background(), 2)
	require.NoError(t, err)
	return res
}

func writeText(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func readRows(t *testing.T, path string) [][]float64 {
	t.Helper()
	r, err := raster.Open(path)
	require.NoError(t, err)
	defer r.Close()
	return rastertest.Rows(t, r)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"carbon", "fisheries", "streams"}, Names())
	_, ok := Lookup("carbon")
	assert.True(t, ok)
	_, ok = Lookup("wave_energy")
	assert.False(t, ok)
}

const pools = `lucode,c_above,c_below,c_soil,c_dead
1,10,5,20,1
2,0,0,5,0
`

// carbonInputs writes a 2x2 land cover on one-hectare pixels.
func carbonInputs(t *testing.T, code3 float64) config.CarbonConfig {
	t.Helper()
	dir := t.TempDir()
	f, err := raster.NewFrame(0, 200, 100, -100, 2, 2, rastertest.Projection, math.Inf(-1))
	require.NoError(t, err)
	rastertest.WriteFrame(t, dir, "lulc.nc", f, [][]float64{{1, 2}, {2, code3}}, raster.Int16, -1)
	cfg := config.Default().Carbon
	cfg.LandCover = filepath.Join(dir, "lulc.nc")
	cfg.Pools = writeText(t, filepath.Join(dir, "pools.csv"), pools)
	return cfg
}

func TestCarbonTotals(t *testing.T) {
	env := newEnv(t)
	cfg := carbonInputs(t, 3)
	cfg.MissingCodes = "zero"

	tasks, err := Carbon(env, cfg)
	require.NoError(t, err)
	require.Len(t, tasks, 5)

	res := execute(t, env, tasks)
	require.NoError(t, res.Err())
	assert.Equal(t, 5, res.Rebuilt())

	got := readRows(t, env.Workspace.Abs(env.Workspace.Output("tot_c.nc")))
	assert.InDeltaSlice(t, []float64{36, 5}, got[0], 1e-4)
	assert.InDeltaSlice(t, []float64{5, 0}, got[1], 1e-4)

	// Pool rasters are released once the total is written.
	_, err = os.Stat(env.Workspace.Abs(env.Workspace.Intermediate("c_above.nc")))
	assert.True(t, os.IsNotExist(err))

	// An unchanged rerun leaves the released pools alone.
	res = execute(t, env, tasks)
	require.NoError(t, res.Err())
	assert.Zero(t, res.Rebuilt())
	for _, name := range []string{"carbon_above", "carbon_below", "carbon_soil", "carbon_dead", "total_carbon"} {
		assert.Equal(t, dag.TaskCached, res.FinalState[name], name)
	}
	_, err = os.Stat(env.Workspace.Abs(env.Workspace.Intermediate("c_above.nc")))
	assert.True(t, os.IsNotExist(err))

	// Losing the total brings the pools back to rebuild it.
	require.NoError(t, os.Remove(env.Workspace.Abs(env.Workspace.Output("tot_c.nc"))))
	res = execute(t, env, tasks)
	require.NoError(t, res.Err())
	assert.Equal(t, 5, res.Rebuilt())
	got = readRows(t, env.Workspace.Abs(env.Workspace.Output("tot_c.nc")))
	assert.InDeltaSlice(t, []float64{36, 5}, got[0], 1e-4)
}

func TestCarbonMissingCodeFailsPools(t *testing.T) {
	env := newEnv(t)
	cfg := carbonInputs(t, 3)

	tasks, err := Carbon(env, cfg)
	require.NoError(t, err)
	res := execute(t, env, tasks)

	assert.ElementsMatch(t, []string{"carbon_above", "carbon_below", "carbon_dead", "carbon_soil"}, res.Failed())
	assert.Equal(t, dag.TaskSkipped, res.FinalState["total_carbon"])
	_, err = os.Stat(env.Workspace.Abs(env.Workspace.Output("tot_c.nc")))
	assert.True(t, os.IsNotExist(err))
}

func TestCarbonRejectsIncompleteConfig(t *testing.T) {
	_, err := Carbon(newEnv(t), config.Default().Carbon)
	assert.ErrorContains(t, err, "land_cover")
}

func TestStreamsPipeline(t *testing.T) {
	env := newEnv(t)
	dir := t.TempDir()
	rastertest.Write(t, dir, "dem.nc", [][]float64{
		{3, 2, 1},
		{3, 2, 1},
		{3, 2, 1},
	}, raster.Float32, -9999)

	cfg := config.Default().Streams
	cfg.DEM = filepath.Join(dir, "dem.nc")
	cfg.Threshold = 3
	tasks, err := Streams(env, cfg)
	require.NoError(t, err)

	g, err := dag.Build(tasks)
	require.NoError(t, err)
	producer, ok := g.Producer(env.Workspace.Output("streams.nc"))
	require.True(t, ok)
	assert.Equal(t, "stream_mask", producer)

	res := execute(t, env, tasks)
	require.NoError(t, res.Err())

	ws := env.Workspace
	assert.Equal(t, [][]float64{{1, 2, 3}, {1, 2, 3}, {1, 2, 3}}, readRows(t, ws.Abs(ws.Output("flow_accumulation.nc"))))
	assert.Equal(t, [][]float64{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}}, readRows(t, ws.Abs(ws.Output("streams.nc"))))
	dist := readRows(t, ws.Abs(ws.Output("distance_to_stream.nc")))
	for _, row := range dist {
		assert.InDeltaSlice(t, []float64{2, 1, 0}, row, 1e-6)
	}

	// Nothing changed, nothing rebuilds.
	res = execute(t, env, tasks)
	require.NoError(t, res.Err())
	assert.Zero(t, res.Rebuilt())

	// A new threshold invalidates the mask and everything below it.
	cfg.Threshold = 2
	tasks, err = Streams(env, cfg)
	require.NoError(t, err)
	res = execute(t, env, tasks)
	require.NoError(t, res.Err())
	assert.Equal(t, []string{"stream_mask", "distance_to_stream"}, res.ExecutionOrder)
}

func TestStreamsSmoothingAddsEphemeralStage(t *testing.T) {
	env := newEnv(t)
	cfg := config.Default().Streams
	cfg.DEM = "/data/dem.nc"
	cfg.Smoothing = 1.5

	tasks, err := Streams(env, cfg)
	require.NoError(t, err)
	byName := map[string]core.Task{}
	for _, task := range tasks {
		byName[task.Name] = task
	}
	require.Contains(t, byName, "smooth_distance")
	assert.True(t, byName["distance_to_stream"].Ephemeral)
	assert.Equal(t, []string{env.Workspace.Output("distance_to_stream.nc")}, byName["smooth_distance"].Outputs)
}

func TestStreamsSmoothedRerunRebuildsNothing(t *testing.T) {
	env := newEnv(t)
	dir := t.TempDir()
	rastertest.Write(t, dir, "dem.nc", [][]float64{
		{3, 2, 1},
		{3, 2, 1},
		{3, 2, 1},
	}, raster.Float32, -9999)

	cfg := config.Default().Streams
	cfg.DEM = filepath.Join(dir, "dem.nc")
	cfg.Threshold = 3
	cfg.Smoothing = 1
	tasks, err := Streams(env, cfg)
	require.NoError(t, err)

	ws := env.Workspace
	res := execute(t, env, tasks)
	require.NoError(t, res.Err())
	assert.Equal(t, 5, res.Rebuilt())
	_, err = os.Stat(ws.Abs(ws.Intermediate("distance_to_stream_raw.nc")))
	assert.True(t, os.IsNotExist(err))

	res = execute(t, env, tasks)
	require.NoError(t, res.Err())
	assert.Zero(t, res.Rebuilt())
	assert.Equal(t, dag.TaskCached, res.FinalState["distance_to_stream"])

	// A new sigma needs the raw distances again.
	cfg.Smoothing = 2
	tasks, err = Streams(env, cfg)
	require.NoError(t, err)
	res = execute(t, env, tasks)
	require.NoError(t, res.Err())
	assert.Equal(t, []string{"distance_to_stream", "smooth_distance"}, res.ExecutionOrder)
	_, err = os.Stat(ws.Abs(ws.Output("distance_to_stream.nc")))
	assert.NoError(t, err)
}

func TestStreamsRejectsUnknownStat(t *testing.T) {
	cfg := config.Default().Streams
	cfg.DEM = "/data/dem.nc"
	cfg.Stats = []string{"median"}
	_, err := Streams(newEnv(t), cfg)
	assert.ErrorContains(t, err, "median")
}

const params = `class,survnatural,vulnfishing,maturity
juvenile,1,1,0
adult,1,1,1

region,exploitationfraction,larvaldispersal
north,0,0.5
south,0,0.5
`

const identity = `region,north,south
north,1,0
south,0,1
`

func TestFisheriesTables(t *testing.T) {
	env := newEnv(t)
	dir := t.TempDir()
	cfg := config.Default().Fisheries
	cfg.Params = writeText(t, filepath.Join(dir, "params.csv"), params)
	cfg.Migration = map[string]string{"adult": writeText(t, filepath.Join(dir, "mig.csv"), identity)}
	cfg.Recruitment = "fixed"
	cfg.FixedRecruits = 100
	cfg.InitialRecruits = 100
	cfg.Timesteps = 3

	tasks, err := Fisheries(env, cfg)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Len(t, tasks[0].Inputs, 2)

	res := execute(t, env, tasks)
	require.NoError(t, res.Err())

	ws := env.Workspace
	summary := readCSV(t, ws.Abs(ws.Output("population_summary.csv")))
	require.Len(t, summary, 1+4*2)
	assert.Equal(t, []string{"timestep", "region", "population", "spawners", "recruits", "harvest", "value"}, summary[0])

	cohorts := readCSV(t, ws.Abs(ws.Output("cohorts.csv")))
	assert.Len(t, cohorts, 1+4*2*1*2)
}

func TestFisheriesUnknownMigrationClassFails(t *testing.T) {
	env := newEnv(t)
	dir := t.TempDir()
	cfg := config.Default().Fisheries
	cfg.Params = writeText(t, filepath.Join(dir, "params.csv"), params)
	cfg.Migration = map[string]string{"larva": writeText(t, filepath.Join(dir, "mig.csv"), identity)}

	tasks, err := Fisheries(env, cfg)
	require.NoError(t, err)
	res := execute(t, env, tasks)
	assert.Equal(t, []string{"population"}, res.Failed())
	assert.ErrorContains(t, res.Err(), "larva")
}
