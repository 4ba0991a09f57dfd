package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tutor/backend/internal/model/tutor"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List supported voice ids and the tutor profiles using them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		for _, id := range voice.KnownVoices() {
			marker := ""
			if id == voice.DefaultVoiceID {
				marker = " (default)"
			}
			fmt.Fprintf(out, "%s%s\n", id, marker)
		}
		fmt.Fprintln(out)
		for _, p := range tutor.Seed() {
			fmt.Fprintf(out, "%-10s %-14s %s\n", p.ID, p.Level, voice.NormalizeVoiceID(p.VoiceID, ""))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(voicesCmd)
}
