package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the frontdesk-ai backend
var rootCmd = &cobra.Command{
	Use:   "frontdesk-ai",
	Short: "Multi-tenant scheduling backend for AI phone receptionists",
	Long: `frontdesk-ai resolves per-tenant Google Calendar credentials and
exposes appointment scheduling tools to voice agents over MCP
(Model Context Protocol).

It runs three surfaces from one process:
  - An MCP server with the scheduling tools (stdio or streamable HTTP)
  - A dashboard HTTP API for connecting and revoking tenant calendars
  - A Prometheus metrics endpoint`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "frontdesk-ai version %s\n" .Version}}`)

	// If no subcommand is provided, run the server by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newVersionCmd())
}
