package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/spikeload/pkg/jsonpath"
)

// digestPaths are printed by inspect when no paths are given.
var digestPaths = []string{
	"runId",
	"name",
	"passed",
	"interrupted",
	"duration",
	"iterations",
	"metrics.totalRequests",
	"metrics.failedRequests",
	"metrics.errorRate",
	"metrics.rps",
	"metrics.latency.p95",
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <result.json> [path...]",
		Short: "Print fields of a saved JSON result",
		Long: `Print fields of a result written by "run --out".

Paths use JSONPath ($.metrics.latency.p95) or gjson syntax
(thresholds.#(passed==false)#.expression). Durations are in nanoseconds.
Without paths a short digest is printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read result: %w", err)
			}

			out := cmd.OutOrStdout()
			paths := args[1:]
			if len(paths) == 0 {
				// Fields absent from older or partial results are skipped.
				values, _ := jsonpath.ExtractMultiple(data, digestPaths)
				if len(values) == 0 {
					return fmt.Errorf("no result fields found in %s", args[0])
				}
				for _, path := range digestPaths {
					if value, ok := values[path]; ok {
						fmt.Fprintf(out, "%s: %s\n", path, value)
					}
				}
				return nil
			}

			for _, path := range paths {
				value, err := jsonpath.Extract(data, path)
				if err != nil {
					return err
				}
				if len(paths) == 1 {
					fmt.Fprintln(out, value)
					continue
				}
				fmt.Fprintf(out, "%s: %s\n", path, value)
			}
			return nil
		},
	}
}
