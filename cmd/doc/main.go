// Command doc talks to Doc from a terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medtwin/doc-voice/internal/config"
	"github.com/medtwin/doc-voice/internal/patient"
)

var (
	verbose     bool
	patientFile string
)

var rootCmd = &cobra.Command{
	Use:   "doc",
	Short: "Talk to Doc, the health companion",
	Long: `Talk to Doc from the terminal.

Available subcommands:
  chat   - Interactive conversation with follow-up threading
  ask    - Ask a single question
  models - List the identifiers each reasoning provider serves
  intent - Classify a message the way the intent router does`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log provider fallbacks and retries to stderr")
	rootCmd.PersistentFlags().StringVar(&patientFile, "patient", "", "Patient context file (defaults to PATIENT_FILE)")

	rootCmd.AddCommand(chatCmd, askCmd, modelsCmd, intentCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cliLogger writes human-readable logs to stderr, quiet unless --verbose.
func cliLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if patientFile != "" {
		cfg.PatientFile = patientFile
	}
	return cfg, nil
}

func loadPatient(cfg *config.Config, logger zerolog.Logger) (*patient.Store, error) {
	store, err := patient.Open(cfg.PatientFile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load patient context: %w", err)
	}
	return store, nil
}
