package cli

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/thisdougb/runlog/internal/config"
	"github.com/thisdougb/runlog/internal/handlers"
	"github.com/thisdougb/runlog/internal/storage"
)

// ManagerFunc opens the store the query commands read.
type ManagerFunc func() (*storage.Manager, error)

// StoreFromConfig opens the store named by the RUNLOG_DB_* settings with
// persistence forced on.
func StoreFromConfig() (*storage.Manager, error) {
	config.Set("RUNLOG_PERSISTENCE_ENABLED", true)
	return storage.NewManagerFromConfig()
}

// NewRunsCmd lists stored run ids.
func NewRunsCmd(managerFn ManagerFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := managerFn()
			if err != nil {
				return err
			}
			defer manager.Close()

			runs, err := manager.ListRuns()
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r}
			}
			outputFn().Print([]string{"RUN"}, rows, runs)
			return nil
		},
	}
}

// NewKeysCmd lists the compound keys stored for a run.
func NewKeysCmd(managerFn ManagerFunc, outputFn func() *Output) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List stored keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := managerFn()
			if err != nil {
				return err
			}
			defer manager.Close()

			keys, err := manager.ListKeys(runID)
			if err != nil {
				return err
			}
			if keys == nil {
				keys = []string{}
			}

			rows := make([][]string, len(keys))
			for i, k := range keys {
				rows[i] = []string{k}
			}
			outputFn().Print([]string{"KEY"}, rows, keys)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id, all runs when empty")

	return cmd
}

// NewSeriesCmd prints the stored points of one key, raw or per window.
func NewSeriesCmd(managerFn ManagerFunc, outputFn func() *Output) *cobra.Command {
	var runID string
	var lookback, window time.Duration

	cmd := &cobra.Command{
		Use:   "series KEY",
		Short: "Show the stored points of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if window < 0 || lookback < 0 {
				return fmt.Errorf("window and lookback must not be negative")
			}

			manager, err := managerFn()
			if err != nil {
				return err
			}
			defer manager.Close()

			var start time.Time
			if lookback > 0 {
				start = time.Now().Add(-lookback)
			}
			points, err := manager.ReadSeries(runID, args[0], start, time.Time{})
			if err != nil {
				return err
			}

			out := outputFn()
			if window > 0 {
				windows := handlers.AggregateByWindow(points, window)
				rows := make([][]string, len(windows))
				for i, w := range windows {
					rows[i] = []string{
						w.Start.Format(time.RFC3339),
						strconv.Itoa(w.Count),
						formatFloat(w.Min),
						formatFloat(w.Avg),
						formatFloat(w.Max),
					}
				}
				out.Print([]string{"WINDOW", "COUNT", "MIN", "AVG", "MAX"}, rows, windows)
				return nil
			}

			rows := make([][]string, len(points))
			for i, p := range points {
				value := formatFloat(p.Value)
				if p.IsText {
					value = p.Text
				}
				rows[i] = []string{p.RunID, strconv.FormatInt(p.Step, 10), p.Timestamp.Format(time.RFC3339), value}
			}
			out.Print([]string{"RUN", "STEP", "TIME", "VALUE"}, rows, points)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id, all runs when empty")
	cmd.Flags().DurationVar(&lookback, "lookback", 0, "Only points newer than this")
	cmd.Flags().DurationVar(&window, "window", 0, "Aggregate numeric points per window")

	return cmd
}

// NewSummaryCmd prints per-key statistics of a run.
func NewSummaryCmd(managerFn ManagerFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "summary RUN",
		Short: "Summarise a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := managerFn()
			if err != nil {
				return err
			}
			defer manager.Close()

			summary, err := handlers.GetRunSummary(manager, args[0])
			if err != nil {
				return err
			}

			var rows [][]string
			for _, key := range sortedKeys(summary.Values) {
				v := summary.Values[key]
				rows = append(rows, []string{
					key,
					strconv.Itoa(v.Count),
					formatFloat(v.Min),
					formatFloat(v.Avg),
					formatFloat(v.Max),
					formatFloat(v.Last),
				})
			}
			for _, key := range sortedKeys(summary.Labels) {
				rows = append(rows, []string{key, "", "", "", "", summary.Labels[key]})
			}
			outputFn().Print([]string{"KEY", "COUNT", "MIN", "AVG", "MAX", "LAST"}, rows, summary)
			return nil
		},
	}
}

// NewExportCmd writes every point and attribute of a run as JSON.
func NewExportCmd(managerFn ManagerFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "export RUN",
		Short: "Export a stored run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := managerFn()
			if err != nil {
				return err
			}
			defer manager.Close()

			data, err := handlers.ExportRunJSON(manager, args[0])
			if err != nil {
				return err
			}
			outputFn().Raw(data)
			return nil
		},
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
