package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jholhewres/browserwatch/pkg/browserwatch/cdp"
)

// newTargetsCmd creates the `browserwatch targets` command.
func newTargetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List debug targets and the page that would be captured",
		Args:  cobra.NoArgs,
		RunE:  runTargets,
	}

	cmd.Flags().Bool("json", false, "print targets as JSON")
	return cmd
}

func runTargets(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stderr)

	resolver := cdp.NewResolver(cfg.Browser.CDPEndpoint, cfg.Browser.ListTimeout, logger)
	targets, err := resolver.List(cmd.Context())
	if err != nil {
		return err
	}
	selected, ok := cdp.SelectTarget(targets)

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		var sel *cdp.DebugTarget
		if ok {
			sel = &selected
		}
		return enc.Encode(map[string]any{
			"endpoint": resolver.Endpoint(),
			"targets":  targets,
			"selected": sel,
		})
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tTYPE\tSCORE\tURL")
	for _, t := range targets {
		mark := ""
		if ok && strings.TrimSpace(t.WebSocketDebuggerURL) == selected.ControlAddress {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", mark, t.ID, t.Type, cdp.ScoreTarget(t), t.URL)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !ok {
		fmt.Fprintln(out, "no capturable page")
	}
	return nil
}
