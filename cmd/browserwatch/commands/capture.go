package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jholhewres/browserwatch/pkg/browserwatch/cdp"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/collector"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/config"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/tracing"
)

// newCaptureCmd creates the `browserwatch capture` command.
func newCaptureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Take one screenshot of the browser",
		Long: `Capture the most relevant page of the debug endpoint once, write it to
a PNG file and optionally upload it to the collector.

Examples:
  browserwatch capture --out page.png
  browserwatch capture --upload --session sess-42 --tool-use-id manual-1`,
		Args: cobra.NoArgs,
		RunE: runCapture,
	}

	cmd.Flags().StringP("out", "o", "screenshot.png", "output file, empty to skip writing")
	cmd.Flags().Bool("upload", false, "upload the screenshot to the collector")
	cmd.Flags().String("session", "", "session id for the upload")
	cmd.Flags().String("tool-use-id", "", "tool use id for the upload (default: random)")
	cmd.Flags().Duration("timeout", 30*time.Second, "overall capture timeout")
	return cmd
}

func runCapture(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stderr)

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	capturer := cdp.NewCapturer(cdp.CapturerConfig{
		Endpoint:    cfg.Browser.CDPEndpoint,
		Viewport:    cfg.Viewport(),
		ListTimeout: cfg.Browser.ListTimeout,
		ReadTimeout: cfg.Browser.CallTimeout,
	}, logger)

	png, err := capturer.Capture(ctx)
	if err != nil {
		return fmt.Errorf("capturing %s: %w", cfg.Browser.CDPEndpoint, err)
	}

	if out, _ := cmd.Flags().GetString("out"); out != "" {
		if err := os.WriteFile(out, png, 0o644); err != nil {
			return fmt.Errorf("writing screenshot: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes, viewport %s)\n", out, len(png), capturer.Viewport())
	}

	if upload, _ := cmd.Flags().GetBool("upload"); !upload {
		return nil
	}
	if cfg.Collector.BaseURL == "" {
		return fmt.Errorf("upload requested but no collector configured (set collector.base_url or %s)", config.EnvCollectorURL)
	}

	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		return fmt.Errorf("--session is required with --upload")
	}
	toolUseID, _ := cmd.Flags().GetString("tool-use-id")
	if toolUseID == "" {
		toolUseID = "manual-" + uuid.NewString()
	}

	client := collector.NewClient(cfg.Collector.BaseURL, cfg.Collector.UploadTimeout, logger)
	tc := tracing.FromContext(ctx).Ensure()
	if err := client.UploadBrowserScreenshot(ctx, tc, collector.Screenshot{
		SessionID: sessionID,
		ToolUseID: toolUseID,
		PNG:       png,
	}); err != nil {
		return fmt.Errorf("uploading screenshot: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s/%s (trace %s)\n", sessionID, toolUseID, tc.TraceID)
	return nil
}
