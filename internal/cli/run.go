package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"geoweaver/internal/config"
	"geoweaver/internal/logging"
)

// app holds the state shared by the command tree of one process.
type app struct {
	inv      Invocation
	logger   *zap.Logger
	exitCode int

	// newLogger is overridable in tests.
	newLogger func(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error)
	executor  GraphExecutor
}

// Run is a high-level CLI entrypoint suitable for black-box tests.
// It accepts the argument slice (excluding argv[0]), writes the run summary
// to stdout and diagnostics to stderr, and returns the semantic exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{newLogger: logging.New, executor: defaultGraphExecutor{}}
	return a.run(ctx, args, stdout, stderr)
}

func (a *app) run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a.exitCode = ExitSuccess
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, err)
		if a.exitCode == ExitSuccess {
			// Cobra rejected the arguments before any command ran.
			return ExitInvalidInvocation
		}
	}
	return a.exitCode
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "geoweaver",
		Short: "Run raster ecosystem-service models as memoized task graphs",
		Long: `geoweaver runs carbon, stream and fisheries models over a workspace.

Each model is a graph of raster and table tasks. A task whose inputs,
parameters and code are unchanged since its last successful run is skipped.
Outputs go to <workspace>/outputs, logs to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lc := config.Default().Logging
			if a.inv.ConfigPath != "" {
				if cfg, err := config.Load(a.inv.ConfigPath); err == nil {
					lc = cfg.Logging
				}
			}
			logger, err := a.newLogger(lc, a.inv.Verbose)
			if err != nil {
				a.exitCode = ExitConfigError
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.inv.ConfigPath, "config", "c", "", "Model configuration file (YAML)")
	flags.StringVarP(&a.inv.Workspace, "workspace", "w", "", "Workspace directory (overrides config)")
	flags.StringVarP(&a.inv.Suffix, "suffix", "s", "", "Suffix appended to output file names")
	flags.IntVarP(&a.inv.Workers, "workers", "j", 0, "Concurrent tasks (overrides config)")
	flags.StringVar((*string)(&a.inv.Mode), "mode", string(ExecutionModeIncremental), "Execution mode: clean|incremental")
	flags.StringVar(&a.inv.TracePath, "trace", "", "Write the canonical execution trace to this path")
	flags.StringVar(&a.inv.MetricsPath, "metrics-file", "", "Write run metrics in Prometheus text format to this path")
	flags.BoolVarP(&a.inv.Verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(a.carbonCommand(), a.streamsCommand(), a.fisheriesCommand())
	return root
}

// runModel executes the model and prints the summary line.
func (a *app) runModel(cmd *cobra.Command, model string, apply func(*config.Config)) error {
	inv := a.inv
	inv.Model = model
	inv.Apply = apply
	var err error
	if inv.TracePath, err = absPath(inv.TracePath); err != nil {
		a.exitCode = ExitInvalidInvocation
		return err
	}
	if inv.MetricsPath, err = absPath(inv.MetricsPath); err != nil {
		a.exitCode = ExitInvalidInvocation
		return err
	}

	res, err := ExecuteWithExecutor(cmd.Context(), inv, a.logger, a.executor)
	a.exitCode = res.ExitCode
	if err != nil {
		return err
	}
	s := res.Summary
	fmt.Fprintf(cmd.OutOrStdout(), "%s run %s: %d tasks, %d rebuilt, %d cached, %d failed, %d not run, %d warnings\n",
		model, res.RunID, len(s.Tasks), len(s.Rebuilt), len(s.Cached), len(s.Failed), len(s.NotRun), s.TotalWarnings())
	if res.ExitCode == ExitGraphFailure {
		return res.GraphResult.Err()
	}
	return nil
}

// pathFlag binds a file flag that overrides a configuration path.
type pathFlag struct {
	value string
	dst   func(*config.Config) *string
}

func applyPaths(flags []*pathFlag) (func(*config.Config), error) {
	abs := make([]string, len(flags))
	for i, f := range flags {
		p, err := absPath(f.value)
		if err != nil {
			return nil, err
		}
		abs[i] = p
	}
	return func(cfg *config.Config) {
		for i, f := range flags {
			if abs[i] != "" {
				*f.dst(cfg) = abs[i]
			}
		}
	}, nil
}

func (a *app) carbonCommand() *cobra.Command {
	landCover := &pathFlag{dst: func(c *config.Config) *string { return &c.Carbon.LandCover }}
	pools := &pathFlag{dst: func(c *config.Config) *string { return &c.Carbon.Pools }}
	aoi := &pathFlag{dst: func(c *config.Config) *string { return &c.Carbon.AOI }}
	var missing string

	cmd := &cobra.Command{
		Use:   "carbon",
		Short: "Carbon storage from land cover and per-class pool densities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apply, err := applyPaths([]*pathFlag{landCover, pools, aoi})
			if err != nil {
				a.exitCode = ExitInvalidInvocation
				return err
			}
			return a.runModel(cmd, "carbon", func(cfg *config.Config) {
				apply(cfg)
				if missing != "" {
					cfg.Carbon.MissingCodes = missing
				}
			})
		},
	}
	cmd.Flags().StringVar(&landCover.value, "land-cover", "", "Integer land-cover raster")
	cmd.Flags().StringVar(&pools.value, "pools", "", "Carbon pool table keyed by lucode")
	cmd.Flags().StringVar(&aoi.value, "aoi", "", "Area of interest shapefile")
	cmd.Flags().StringVar(&missing, "missing-codes", "", "Land-cover codes absent from the table: error|zero")
	return cmd
}

func (a *app) streamsCommand() *cobra.Command {
	dem := &pathFlag{dst: func(c *config.Config) *string { return &c.Streams.DEM }}
	watersheds := &pathFlag{dst: func(c *config.Config) *string { return &c.Streams.Watersheds }}
	var (
		method    string
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "streams",
		Short: "Flow direction, accumulation, stream network and distance to stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apply, err := applyPaths([]*pathFlag{dem, watersheds})
			if err != nil {
				a.exitCode = ExitInvalidInvocation
				return err
			}
			return a.runModel(cmd, "streams", func(cfg *config.Config) {
				apply(cfg)
				if method != "" {
					cfg.Streams.Method = method
				}
				if threshold > 0 {
					cfg.Streams.Threshold = threshold
				}
			})
		},
	}
	cmd.Flags().StringVar(&dem.value, "dem", "", "Digital elevation model raster")
	cmd.Flags().StringVar(&watersheds.value, "watersheds", "", "Watershed polygons for accumulation statistics")
	cmd.Flags().StringVar(&method, "method", "", "Flow direction method: d8|dinf")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Upstream pixel count that starts a stream")
	return cmd
}

func (a *app) fisheriesCommand() *cobra.Command {
	params := &pathFlag{dst: func(c *config.Config) *string { return &c.Fisheries.Params }}
	var timesteps int

	cmd := &cobra.Command{
		Use:   "fisheries",
		Short: "Age- or stage-structured population and harvest simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apply, err := applyPaths([]*pathFlag{params})
			if err != nil {
				a.exitCode = ExitInvalidInvocation
				return err
			}
			return a.runModel(cmd, "fisheries", func(cfg *config.Config) {
				apply(cfg)
				if timesteps > 0 {
					cfg.Fisheries.Timesteps = timesteps
				}
			})
		},
	}
	cmd.Flags().StringVar(&params.value, "params", "", "Population parameter table")
	cmd.Flags().IntVar(&timesteps, "timesteps", 0, "Number of timesteps to simulate")
	return cmd
}
