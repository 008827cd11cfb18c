package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"charge-flip/internal/config"
)

var (
	// Global flags
	cfgFile         string
	verbose         bool
	logJSON         bool
	dbPath          string
	metricsTextfile string
	output          string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cflip",
	Short: "Ab initio structure solution by charge flipping",
	Long: `cflip recovers structure factor phases from observed amplitudes by
charge flipping, then locates the origin of the solution.

Commands:
  solve    Solve a job file
  synth    Generate a synthetic job
  section  Render a density section of a solution
  history  List past runs
  version  Show version information`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		overrides := &config.Config{
			Verbose:         verbose,
			LogJSON:         logJSON,
			DB:              dbPath,
			MetricsTextfile: metricsTextfile,
			Output:          output,
		}
		applySolveFlags(cmd, overrides)
		loaded, err := config.Load(cfgFile, overrides)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		slog.SetDefault(newLogger(cfg.Verbose, cfg.LogJSON))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .cflip.yaml, then ~/.config/charge-flip/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Run history database")
	rootCmd.PersistentFlags().StringVar(&metricsTextfile, "metrics-textfile", "", "Write metrics to this node-exporter textfile")
	rootCmd.PersistentFlags().StringVar(&output, "format", "", "Output format (table, json)")
}

func newLogger(verbose, asJSON bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if asJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
