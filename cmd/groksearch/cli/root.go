// Package cli is the groksearch command tree. The primary command is serve,
// which runs the MCP server over stdio; the rest are operator conveniences
// against the same configuration and settings database.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	jsonLogs   bool
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var RootCmd = &cobra.Command{
	Use:   "groksearch",
	Short: "Conversational web search MCP server",
	Long: `groksearch exposes stateful web search, reflection-enhanced research,
content extraction, and research planning as MCP tools over stdio.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ~/.config/groksearch/config.yaml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON")
	RootCmd.AddCommand(versionCmd)
}
