package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relayprobe",
	Short: "Drive a voice relay or its speech services from the command line",
	Long: `relayprobe connects to a running relay, plays an audio file into it as
push-to-talk utterances and saves the spoken reply. The asr and tts
subcommands call the cascade speech services directly.`,
	SilenceUsage: true,
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	rootCmd.AddCommand(newSendCmd(), newHealthCmd(), newASRCmd(), newTTSCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
