package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "voiceprobe",
	Short: "Drive a voice tutoring session from audio files",
	Long: `voiceprobe opens a speech-to-speech session with the configured transport,
streams a WAV or raw PCM file as the student's microphone and writes the
tutor's reply audio to a raw 24 kHz PCM file.

Credentials and transport settings are read from the environment (.env is
loaded when present), the same way the API server does.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
