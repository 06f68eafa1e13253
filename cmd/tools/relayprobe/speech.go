package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/internal/service/speech"
)

// speechFlags are shared by the asr and tts subcommands.
type speechFlags struct {
	session string
	timeout time.Duration
}

func (f *speechFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.session, "session", "", "session id sent to the service (generated when empty)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 45*time.Second, "request timeout")
}

func (f *speechFlags) sessionID() string {
	if f.session != "" {
		return f.session
	}
	return fmt.Sprintf("probe-%d", time.Now().UnixNano())
}

func newSpeechService() (*speech.Service, error) {
	cfg, err := config.LoadSpeech()
	if err != nil {
		return nil, err
	}

	svc := speech.NewService(&cfg)
	if err := svc.Ready(); err != nil {
		return nil, err
	}
	return svc, nil
}

func newASRCmd() *cobra.Command {
	var flags speechFlags
	cmd := &cobra.Command{
		Use:   "asr <audio-file>",
		Short: "Transcribe a PCM file with the cascade ASR service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSpeechService()
			if err != nil {
				return err
			}
			audio, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()

			sessionID := flags.sessionID()
			log.Printf("[probe] ASR session=%s bytes=%d", sessionID, len(audio))
			text, err := svc.Transcribe(ctx, sessionID, audio)
			if err != nil {
				return fmt.Errorf("ASR failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newTTSCmd() *cobra.Command {
	var (
		flags   speechFlags
		voice   string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "tts <text>",
		Short: "Synthesize text with the cascade TTS service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSpeechService()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()

			text := strings.Join(args, " ")
			audio, err := svc.Synthesize(ctx, flags.sessionID(), text, voice)
			if err != nil {
				return fmt.Errorf("TTS failed: %w", err)
			}

			if outPath == "" {
				outPath = fmt.Sprintf("tts-output-%d.pcm", time.Now().Unix())
			}
			if err := os.WriteFile(outPath, audio, 0o644); err != nil {
				return fmt.Errorf("write audio: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(audio), outPath)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&voice, "voice", "", "speaker id (defaults to SPEECH_TTS_VOICE)")
	cmd.Flags().StringVar(&outPath, "out", "", "output file")
	return cmd
}
