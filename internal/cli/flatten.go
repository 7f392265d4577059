package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/thisdougb/runlog/internal/config"
	"github.com/thisdougb/runlog/internal/metrics"
)

// NewFlattenCmd prints the normalized map of every JSON metric tree read
// from the files in args, or stdin.
func NewFlattenCmd(outputFn func() *Output) *cobra.Command {
	var sep string
	var params bool

	cmd := &cobra.Command{
		Use:   "flatten [FILE...]",
		Short: "Normalize JSON metric trees",
		Long: "Reads one or more JSON objects and prints each as a flat map of\n" +
			"compound keys. Arrays must hold exactly one element.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			if !cmd.Flags().Changed("sep") {
				sep = config.StringValue("RUNLOG_SEPARATOR")
			}

			return eachInput(cmd, args, func(r io.Reader) error {
				return metrics.DecodeStream(r, func(t *metrics.Tree) error {
					values, err := metrics.Normalize(t, sep)
					if err != nil {
						return err
					}

					if params {
						out.Print(
							[]string{"KEYS", "PARAMS"},
							[][]string{{fmt.Sprint(values.Len()), fmt.Sprint(metrics.CountParams(t))}},
							map[string]int{"keys": values.Len(), "params": metrics.CountParams(t)},
						)
						return nil
					}

					rows := make([][]string, 0, values.Len())
					values.Range(func(key string, v metrics.Value) bool {
						rows = append(rows, []string{key, v.String()})
						return true
					})
					out.Print([]string{"KEY", "VALUE"}, rows, values)
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVar(&sep, "sep", metrics.DefaultSeparator, "Compound key separator")
	cmd.Flags().BoolVar(&params, "params", false, "Print key and parameter counts instead of values")

	return cmd
}

// eachInput calls fn with every named file, or with the command's stdin
// when there are none. "-" also means stdin.
func eachInput(cmd *cobra.Command, args []string, fn func(io.Reader) error) error {
	if len(args) == 0 {
		return fn(cmd.InOrStdin())
	}
	for _, name := range args {
		if name == "-" {
			if err := fn(cmd.InOrStdin()); err != nil {
				return err
			}
			continue
		}
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		err = fn(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
