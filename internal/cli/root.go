package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/spikeload/internal/logging"
)

var version = "0.1.0"

// envPrefix is prepended to every flag name to form its environment
// variable: --graceful-stop becomes SPIKELOAD_GRACEFUL_STOP.
const envPrefix = "SPIKELOAD"

// ErrThresholdsFailed is returned by run when the test completed but at
// least one threshold did not hold.
var ErrThresholdsFailed = errors.New("one or more thresholds failed")

// NewRootCmd builds the spikeload command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "spikeload",
		Short:   "Staged HTTP load generator",
		Version: version,
		Long: `spikeload drives a pool of virtual users through a staged load profile
against an HTTP endpoint. Each virtual user repeatedly issues its requests
and pauses between iterations while the pool size follows the stages.

The default profile is a sudden spike: ramp to 10 users over 1m, spike to
50 over 1m, then hold 50 for 5m.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", logging.FormatConsole, "Log format (console or json)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newInspectCmd())
	return root
}

// Execute runs the root command and reports any error on stderr.
// This is called by main.main().
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// bindFlags returns a viper instance that resolves each of cmd's flags from
// the command line first and then from SPIKELOAD_* environment variables.
func bindFlags(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

func newLogger(v *viper.Viper) (*zap.Logger, error) {
	return logging.New(logging.Config{
		Level:  v.GetString("log-level"),
		Format: v.GetString("log-format"),
	})
}
