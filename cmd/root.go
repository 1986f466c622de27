package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the slotfinder application
var rootCmd = &cobra.Command{
	Use:   "slotfinder",
	Short: "Finds free meeting slots across Google and Microsoft 365 calendars",
	Long: `slotfinder combines a user's Google calendar with the Microsoft 365
calendars of the people they want to meet, and returns the fixed-length
slots in which everyone is free.

It can run as:
  - An HTTP API and MCP server (serve)
  - An MCP server on stdio for local AI assistants (serve --transport stdio)
  - A one-shot CLI query (slots)`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// configPath is the optional TOML config file shared by all subcommands.
var configPath string

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "slotfinder version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a TOML config file. Can also use SLOTFINDER_CONFIG env var.")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSlotsCmd())
	rootCmd.AddCommand(newLinkCmd())
	rootCmd.AddCommand(newUnlinkCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
