package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/spikeload/internal/performance/config"
	"github.com/wesleyorama2/spikeload/internal/performance/engine"
	"github.com/wesleyorama2/spikeload/internal/performance/executor"
	"github.com/wesleyorama2/spikeload/internal/performance/output"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a staged load test",
		Long: `Run a staged load test and print a summary.

Built-in sudden-spike profile:
  spikeload run --url https://api.example.com/info

Custom stages and pause:
  spikeload run --url https://api.example.com/info \
    --stages "30s:5,30s:25,2m:25" --sleep 500ms

Config file mode:
  spikeload run --config spike.yaml --out result.json

Every flag can also be set with a SPIKELOAD_ environment variable,
e.g. SPIKELOAD_MAX_RPS=100. Interrupting the run ends the profile early
and in-flight requests get the graceful stop period to finish.`,
		Args: cobra.NoArgs,
		RunE: runLoadTest,
	}

	f := cmd.Flags()
	f.StringP("config", "c", "", "Test configuration file (YAML or JSON)")
	f.StringP("url", "u", config.DefaultTargetURL, "Target URL; with --config this sets settings.baseUrl")
	f.String("stages", "", `Stage list as duration:target pairs, e.g. "1m:10,1m:50,5m:50"`)
	f.Duration("sleep", config.DefaultSleep, "Pause after every iteration")
	f.Int("start-vus", 0, "Virtual users before the first stage")
	f.Duration("graceful-stop", executor.DefaultGracefulStop, "Time in-flight iterations get to finish at the end")
	f.Float64("max-rps", 0, "Global request rate cap (0 = unlimited)")
	f.StringP("out", "o", "", "Write the JSON result to this file (- for stdout)")
	f.BoolP("quiet", "q", false, "Only print PASSED or FAILED")
	return cmd
}

func runLoadTest(cmd *cobra.Command, _ []string) error {
	v, err := bindFlags(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(v)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := buildConfig(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	eng, err := engine.NewEngine(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	console := output.NewConsole(output.ConsoleConfig{
		Writer: cmd.OutOrStdout(),
		Quiet:  v.GetBool("quiet"),
	})
	console.PrintPlan(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// Restore default signal handling so a second interrupt kills the process.
		<-ctx.Done()
		stop()
	}()

	watchCtx, stopWatch := context.WithCancel(ctx)
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		console.Watch(watchCtx, eng)
	}()

	result, runErr := eng.Run(ctx)
	stopWatch()
	<-watched

	if result != nil {
		console.PrintSummary(result)
		if out := v.GetString("out"); out != "" {
			if err := output.SaveJSON(out, result); err != nil {
				return err
			}
		}
	}

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	if !result.Passed {
		return ErrThresholdsFailed
	}
	return nil
}

// buildConfig loads --config or falls back to the built-in spike profile,
// then applies any flag or environment overrides.
func buildConfig(v *viper.Viper) (*config.TestConfig, error) {
	var cfg *config.TestConfig
	if path := v.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		if v.IsSet("url") {
			cfg.Settings.BaseURL = v.GetString("url")
		}
	} else {
		cfg = config.SpikeProfile(v.GetString("url"))
	}

	if v.IsSet("stages") {
		stages, err := config.ParseStageList(v.GetString("stages"))
		if err != nil {
			return nil, err
		}
		cfg.Stages = stages
	}
	if v.IsSet("sleep") {
		sleep := config.Duration(v.GetDuration("sleep"))
		cfg.Sleep = &sleep
		cfg.Pacing = nil
	}
	if v.IsSet("start-vus") {
		cfg.StartVUs = v.GetInt("start-vus")
	}
	if v.IsSet("graceful-stop") {
		cfg.GracefulStop = config.Duration(v.GetDuration("graceful-stop"))
	}
	if v.IsSet("max-rps") {
		cfg.Settings.MaxRPS = v.GetFloat64("max-rps")
	}
	return cfg, nil
}
