package hook

import (
	"context"
	"time"

	"github.com/jholhewres/browserwatch/pkg/browserwatch/collector"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/events"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/metrics"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/tracing"
)

// CaptureRequest describes one eligible tool result.
type CaptureRequest struct {
	SessionID string
	ToolUseID string
	ToolName  string
	Content   any
}

// CaptureAndUpload obtains a screenshot for one tool result and uploads it.
// An image the tool already returned is used as is; otherwise the live page
// is captured. Every failure ends in a log line, never a panic or error.
func (h *BrowserScreenshotHook) CaptureAndUpload(ctx context.Context, req CaptureRequest) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("browser screenshot capture panicked",
				"session_id", req.SessionID,
				"tool_use_id", req.ToolUseID,
				"panic", r,
			)
		}
	}()

	start := time.Now()
	png, ok := events.ExtractPNG(req.Content)
	source := metrics.SourceEmbedded
	if !ok {
		png = h.captureWithRetry(ctx, req)
		source = metrics.SourceLive
	}

	if len(png) == 0 {
		h.metrics.Skipped()
		h.logger.Debug("browser screenshot capture skipped",
			"session_id", req.SessionID,
			"tool_use_id", req.ToolUseID,
			"tool_name", req.ToolName,
		)
		return
	}
	h.metrics.Captured(source, time.Since(start))

	tc := tracing.FromContext(ctx).Ensure()
	err := h.uploader.UploadBrowserScreenshot(ctx, tc, collector.Screenshot{
		SessionID: req.SessionID,
		ToolUseID: req.ToolUseID,
		PNG:       png,
	})
	h.metrics.Uploaded(err == nil)
	if err != nil {
		h.logger.Warn("browser screenshot upload failed",
			"session_id", req.SessionID,
			"tool_use_id", req.ToolUseID,
			"tool_name", req.ToolName,
			"trace_id", tc.TraceID,
			"error", err,
		)
	}
}

// captureWithRetry tries a live capture up to RetryAttempts times. Browsers
// are often not ready on the first attempt after a cold start.
func (h *BrowserScreenshotHook) captureWithRetry(ctx context.Context, req CaptureRequest) []byte {
	for attempt := 1; attempt <= h.opts.RetryAttempts; attempt++ {
		png, err := h.source.Capture(ctx)
		if err == nil && len(png) > 0 {
			return png
		}
		h.logger.Debug("live screenshot attempt failed",
			"tool_use_id", req.ToolUseID,
			"attempt", attempt,
			"error", err,
		)

		if attempt == h.opts.RetryAttempts {
			break
		}
		timer := time.NewTimer(h.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
	return nil
}
