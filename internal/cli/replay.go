package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/thisdougb/runlog/internal/core"
	"github.com/thisdougb/runlog/internal/metrics"
)

type replayResult struct {
	RunID string `json:"run_id"`
	Steps int64  `json:"steps"`
	Keys  int    `json:"keys"`
}

// NewReplayCmd logs a stream of JSON metric trees as one run, one tree per
// step. Sinks come from the RUNLOG_* environment; Prometheus collectors are
// registered with reg.
func NewReplayCmd(outputFn func() *Output, reg prometheus.Registerer) *cobra.Command {
	var project, name, endpoint string
	var local bool
	var sampleRate time.Duration

	cmd := &cobra.Command{
		Use:   "replay [FILE...]",
		Short: "Log JSON metric trees as a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			cfg := core.ConfigFromEnv()
			if cmd.Flags().Changed("project") {
				cfg.Project = project
			}
			if cmd.Flags().Changed("name") {
				cfg.Name = name
			}
			if cmd.Flags().Changed("endpoint") {
				cfg.Endpoint = endpoint
			}
			if local {
				cfg.Endpoint = ""
			}
			cfg.SampleRate = sampleRate

			sinks, err := core.SinksFromEnv(ctx, cfg.Project, reg)
			if err != nil {
				return err
			}
			cfg.Sinks = sinks

			run, err := core.NewRun(ctx, cfg)
			if err != nil {
				return err
			}

			logErr := eachInput(cmd, args, func(r io.Reader) error {
				return metrics.DecodeStream(r, func(t *metrics.Tree) error {
					return run.Log(ctx, t)
				})
			})
			if err := errors.Join(logErr, run.Close()); err != nil {
				return fmt.Errorf("run %s: %w", run.ID(), err)
			}

			result := replayResult{RunID: run.ID(), Steps: run.Step(), Keys: len(run.State().Keys())}
			out.Print(
				[]string{"RUN", "STEPS", "KEYS"},
				[][]string{{result.RunID, fmt.Sprint(result.Steps), fmt.Sprint(result.Keys)}},
				result,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Project, overrides RUNLOG_PROJECT")
	cmd.Flags().StringVar(&name, "name", "", "Run name, overrides RUNLOG_NAME")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Dashboard URL, overrides RUNLOG_ENDPOINT")
	cmd.Flags().BoolVar(&local, "local", false, "Do not contact the dashboard")
	cmd.Flags().DurationVar(&sampleRate, "sample-rate", 0, "Log system metrics at this interval, 0 disables")

	return cmd
}
