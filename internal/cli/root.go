// Package cli implements the drover command-line interface.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/drover-ai/drover/internal/cli.version=1.2.3"
	version = "0.4.1"
	logo    = "\n" +
		"      _\n" +
		"   __| |_ __ _____   _____ _ __\n" +
		"  / _` | '__/ _ \\ \\ / / _ \\ '__|\n" +
		" | (_| | | | (_) \\ V /  __/ |\n" +
		"  \\__,_|_|  \\___/ \\_/ \\___|_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Drover - agent orchestration daemon",
	Long: color.CyanString(logo) +
		"\nDrover drives an external CLI agent on behalf of scheduled jobs and chat,\nserializing work per session group and rotating oversized conversations.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
}
