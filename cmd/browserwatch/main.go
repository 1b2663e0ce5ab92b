// Command browserwatch captures a screenshot of the agent-controlled browser
// after every browser tool call and uploads it to the artifact collector.
package main

import (
	"os"

	"github.com/jholhewres/browserwatch/cmd/browserwatch/commands"
)

var version = "dev"

func main() {
	if err := commands.NewRootCmd(version).Execute(); err != nil {
		os.Exit(1)
	}
}
