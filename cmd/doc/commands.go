package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/medtwin/doc-voice/internal/app"
	"github.com/medtwin/doc-voice/internal/reasoning"
)

var askJSON bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask Doc a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the identifiers each configured provider serves",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

var intentCmd = &cobra.Command{
	Use:   "intent <message>",
	Short: "Classify a message as symptom, question, behavior or smalltalk",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIntent,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the advice as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := cliLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reasoner, err := app.NewReasoner(ctx, cfg, logger)
	if err != nil {
		return err
	}
	store, err := loadPatient(cfg, logger)
	if err != nil {
		return err
	}

	advice, err := reasoner.Reason(ctx, strings.Join(args, " "), store.Snapshot())
	if err != nil || advice.IsEmpty() {
		logger.Warn().Err(err).Msg("No usable advice, using fallback message")
		advice = reasoning.Advice{Speak: reasoning.FallbackMessage}
	}

	out := cmd.OutOrStdout()
	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(advice)
	}
	fmt.Fprintln(out, "Doc:", advice.Speak)
	if advice.HasFollowUp() {
		fmt.Fprintln(out, "Doc asks:", advice.FollowUp)
	}
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := cliLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	providers, err := app.NewProviders(ctx, cfg, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, p := range providers {
		ids, err := p.ListIdentifiers(ctx)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", p.Name(), err)
			continue
		}
		fmt.Fprintf(out, "%s (%d):\n", p.Name(), len(ids))
		for _, id := range ids {
			fmt.Fprintf(out, "  %s\n", id)
		}
	}
	return nil
}

func runIntent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := cliLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reasoner, err := app.NewReasoner(ctx, cfg, logger)
	if err != nil {
		return err
	}

	routed, err := reasoning.NewIntentRouter(reasoner, logger).Route(ctx, strings.Join(args, " "), time.Now())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(routed)
}
