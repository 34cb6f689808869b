package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/spikeload/internal/performance/config"
	"github.com/wesleyorama2/spikeload/internal/performance/output"
)

func newValidateCmd() *cobra.Command {
	var printSchema bool

	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Check a test configuration and print its stage plan",
		Long: `Check a test configuration and print its stage plan.

With --schema the JSON Schema that configurations are checked against is
printed instead.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if printSchema {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if printSchema {
				fmt.Fprintln(cmd.OutOrStdout(), config.Schema())
				return nil
			}

			cfg, err := config.LoadConfig(args[0])
			if err != nil {
				return err
			}

			config.ApplyDefaults(cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			output.NewConsole(output.ConsoleConfig{Writer: cmd.OutOrStdout()}).PrintPlan(cfg)
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&printSchema, "schema", false, "print the configuration JSON Schema and exit")
	return cmd
}
