package main

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/medtwin/doc-voice/internal/app"
	"github.com/medtwin/doc-voice/internal/session"
	"github.com/medtwin/doc-voice/internal/tts"
	"github.com/medtwin/doc-voice/internal/utterance"
)

var (
	speak    bool
	audioDir string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation with Doc. Short replies are threaded
with Doc's previous follow-up question. Type 'exit' to quit.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&speak, "speak", false, "Write each reply as an mp3 via ElevenLabs")
	chatCmd.Flags().StringVar(&audioDir, "audio-dir", ".", "Directory for spoken replies")
}

func runChat(cmd *cobra.Command, args []string) error {
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

	var synth *tts.ElevenLabsClient
	if speak {
		synth = app.NewSynthesizer(cfg, logger)
		if !synth.Configured() {
			return tts.ErrNotConfigured
		}
	}

	s := session.New("cli", app.SessionConfig(cfg), session.Deps{
		Reasoner: reasoner,
		Patient:  store,
		Logger:   logger,
	})
	defer s.Close()
	s.Post(session.ModeSwitched{Mode: session.ModeText})

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Doc is online. Type your message (type 'exit' to quit).")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	turn := 0
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(text, "exit") {
			break
		}
		if text == "" {
			continue
		}

		advice, err := s.Ask(ctx, text)
		if err != nil {
			return err
		}
		turn++

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Doc:", advice.Speak)
		if advice.HasFollowUp() {
			fmt.Fprintln(out, "Doc asks:", advice.FollowUp)
		}

		if synth != nil {
			spoken := utterance.Truncate(utterance.Combine(advice.Speak, advice.FollowUp), cfg.SpokenCharLimit)
			path := filepath.Join(audioDir, fmt.Sprintf("doc_reply_%03d.mp3", turn))
			if err := tts.SynthesizeToFile(ctx, synth, spoken, path); err != nil {
				logger.Warn().Err(err).Msg("Failed to synthesize reply")
			} else {
				fmt.Fprintln(out, "Audio:", path)
			}
		}
	}
	return scanner.Err()
}
