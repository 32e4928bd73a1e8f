package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/audit"
	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/pipeline"
)

var (
	runInput        string
	runOutputDir    string
	runOutputFormat string
	runEngineConfig string
	runWorkers      int
	runJSON         bool
)

// runCmd cleans one input file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Clean an input file and publish the cleaned, rejects and audit tables",
	Long: `Reads the input file, cleans every row through the worker pool and
publishes the outputs once the audit trail has been written to the sink.

Settings come from the environment (and .env); flags override them.

Example:
  policyclean run --input policies.csv --output-dir out --engine-config configs/motor_insurance.yaml`,
	RunE: runClean,
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "Input file (overrides INPUT_PATH)")
	runCmd.Flags().StringVar(&runOutputDir, "output-dir", "", "Output directory (overrides OUTPUT_DIR)")
	runCmd.Flags().StringVar(&runOutputFormat, "output-format", "", "parquet or csv (overrides OUTPUT_FORMAT)")
	runCmd.Flags().StringVar(&runEngineConfig, "engine-config", "", "YAML engine config (overrides ENGINE_CONFIG)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Worker pool size (overrides WORKER_POOL_SIZE)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run summary as JSON")
}

func runClean(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	engine, err := config.LoadEngineConfig(cfg.EngineConfig)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	sink, err := audit.OpenSink(ctx, cfg, logger.Named("audit"))
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("Failed to close audit sink", zap.Error(err))
		}
	}()

	runner, err := pipeline.NewRunner(cfg, engine, sink, logger.Named("pipeline"))
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if runJSON {
		data, err := summary.ToJSON()
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), summary.Report())
	return nil
}

func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("input") {
		c.InputPath = runInput
	}
	if flags.Changed("output-dir") {
		c.OutputDir = runOutputDir
	}
	if flags.Changed("output-format") {
		c.OutputFormat = runOutputFormat
	}
	if flags.Changed("engine-config") {
		c.EngineConfig = runEngineConfig
	}
	if flags.Changed("workers") {
		c.WorkerPoolSize = runWorkers
	}
}
