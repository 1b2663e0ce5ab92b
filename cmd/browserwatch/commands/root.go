// Package commands implements the browserwatch CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the `browserwatch` root command.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "browserwatch",
		Short: "Screenshot the agent browser after every browser tool call",
		Long: `browserwatch follows an agent's tool calls and, after each call to a
Playwright browser tool, captures the browser page over the Chrome DevTools
Protocol and uploads it to the artifact collector.

Configuration is read from --config, browserwatch.yaml or config.yaml, then
from .env and the environment (POCO_BROWSER_CDP_ENDPOINT,
POCO_BROWSER_VIEWPORT_SIZE, BROWSERWATCH_COLLECTOR_URL).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newWatchCmd(),
		newCaptureCmd(),
		newTargetsCmd(),
	)
	return root
}
