package cli

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/thisdougb/runlog/internal/config"
)

// Options wires the command to its environment.
type Options struct {
	Version    string
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Manager    ManagerFunc
	Output     func(jsonMode bool) *Output
}

// NewRootCmd builds the runlog command tree.
func NewRootCmd(opts Options) *cobra.Command {
	var configFile, dbDriver, dbPath string
	var jsonOutput bool

	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Manager == nil {
		opts.Manager = StoreFromConfig
	}
	if opts.Output == nil {
		opts.Output = NewOutput
	}

	rootCmd := &cobra.Command{
		Use:           "runlog",
		Short:         "runlog: training metrics logger",
		Version:       opts.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				if err := config.ReadFile(configFile); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("db-driver") {
				config.Set("RUNLOG_DB_DRIVER", dbDriver)
			}
			if cmd.Flags().Changed("db-path") {
				config.Set("RUNLOG_DB_PATH", dbPath)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML file with RUNLOG_* settings")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "db-driver", "", "Storage driver, overrides RUNLOG_DB_DRIVER")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "SQLite file, overrides RUNLOG_DB_PATH")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	outputFn := func() *Output { return opts.Output(jsonOutput) }

	rootCmd.AddCommand(
		NewFlattenCmd(outputFn),
		NewReplayCmd(outputFn, opts.Registerer),
		NewServeCmd(opts.Manager, opts.Gatherer),
		NewRunsCmd(opts.Manager, outputFn),
		NewKeysCmd(opts.Manager, outputFn),
		NewSeriesCmd(opts.Manager, outputFn),
		NewSummaryCmd(opts.Manager, outputFn),
		NewExportCmd(opts.Manager, outputFn),
	)

	return rootCmd
}
