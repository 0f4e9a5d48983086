package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "crmlrun"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     "crmlrun",
		Short:   "CRML portfolio Monte Carlo simulation engine",
		Version: version,
		Long: `crmlrun executes CRML cyber-risk documents: scenarios, portfolios, and
self-contained bundles. It plans portfolio bindings, samples frequency and
severity models under control effects and dependency copulas, and reports
EAL, VaR, and loss distributions as a stable result envelope.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Engine config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		level, _ := cmd.Flags().GetString("log-level")
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			zerolog.SetGlobalLevel(parsed)
		}
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newBundleCmd())
	rootCmd.AddCommand(newMonitorCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
