// Package hook watches agent tool events and captures a screenshot of the
// controlled browser after every browser tool call.
//
// Architecture:
//
//	agent ──message──▶ OnAgentResponse ──ToolUse──▶ tool name by id
//	                                  └─ToolResult─▶ eligible? ──▶ tasks.Set.Go
//	                                                               │
//	     embedded image ◀── CaptureAndUpload ──▶ live capture (cdp) ┘
//	                              └──▶ collector upload
//
// The hook is best-effort: nothing it does can block, fail or change the
// outcome of the agent run.
package hook

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/browserwatch/pkg/browserwatch/cdp"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/collector"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/config"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/events"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/metrics"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/tasks"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/tracing"
)

// ExecutionContext identifies the agent run delivering events.
type ExecutionContext struct {
	SessionID string
	RunID     string
}

// AgentHook receives agent lifecycle callbacks. Implementations must not
// block the caller for long and must not panic.
type AgentHook interface {
	OnAgentResponse(ctx context.Context, ec ExecutionContext, message any)
	OnTeardown(ctx context.Context, ec ExecutionContext)
}

// ScreenshotSource captures the browser's current page as PNG.
type ScreenshotSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Uploader stores a captured screenshot.
type Uploader interface {
	UploadBrowserScreenshot(ctx context.Context, tc tracing.Context, shot collector.Screenshot) error
}

// Options tunes the hook. Zero values select the defaults.
type Options struct {
	// ToolPrefix selects the tools that trigger a screenshot.
	ToolPrefix string

	// RetryAttempts is the total number of live capture attempts (default: 2).
	RetryAttempts int

	// RetryDelay is the pause between live capture attempts (default: 200ms).
	RetryDelay time.Duration

	// DrainTimeout bounds how long OnTeardown waits for pending work (default: 15s).
	DrainTimeout time.Duration

	// Metrics records pipeline counters. Optional.
	Metrics *metrics.Collector
}

func (o Options) withDefaults() Options {
	if o.ToolPrefix == "" {
		o.ToolPrefix = config.DefaultToolPrefix
	}
	if o.RetryAttempts < 1 {
		o.RetryAttempts = 2
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 15 * time.Second
	}
	return o
}

// BrowserScreenshotHook captures and uploads a screenshot after each browser
// tool call. One instance serves one agent session.
type BrowserScreenshotHook struct {
	source   ScreenshotSource
	uploader Uploader
	opts     Options
	metrics  *metrics.Collector
	logger   *slog.Logger
	tasks    *tasks.Set

	mu        sync.Mutex
	toolNames map[string]string   // tool_use_id -> tool name
	scheduled map[string]struct{} // tool_use_ids already captured
}

var _ AgentHook = (*BrowserScreenshotHook)(nil)

// New creates a hook from its collaborators.
func New(source ScreenshotSource, uploader Uploader, opts Options, logger *slog.Logger) *BrowserScreenshotHook {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &BrowserScreenshotHook{
		source:    source,
		uploader:  uploader,
		opts:      opts,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "browser_screenshot"),
		tasks:     tasks.NewSet(logger),
		toolNames: make(map[string]string),
		scheduled: make(map[string]struct{}),
	}
}

// NewFromConfig wires a hook to a live browser and a collector as described
// by cfg. m may be nil.
func NewFromConfig(cfg *config.Config, m *metrics.Collector, logger *slog.Logger) *BrowserScreenshotHook {
	capturer := cdp.NewCapturer(cdp.CapturerConfig{
		Endpoint:    cfg.Browser.CDPEndpoint,
		Viewport:    cfg.Viewport(),
		ListTimeout: cfg.Browser.ListTimeout,
		ReadTimeout: cfg.Browser.CallTimeout,
	}, logger)
	uploader := collector.NewClient(cfg.Collector.BaseURL, cfg.Collector.UploadTimeout, logger)

	return New(capturer, uploader, Options{
		ToolPrefix:    cfg.Capture.ToolPrefix,
		RetryAttempts: cfg.Capture.RetryAttempts,
		RetryDelay:    cfg.Capture.RetryDelay,
		DrainTimeout:  cfg.Capture.DrainTimeout,
		Metrics:       m,
	}, logger)
}

// Pending returns the number of capture units that have not finished.
func (h *BrowserScreenshotHook) Pending() int {
	return h.tasks.Len()
}

// OnAgentResponse correlates tool calls with their results and schedules a
// capture for each new browser tool result. Blocks are handled in order and
// synchronously; only the capture itself runs in the background.
func (h *BrowserScreenshotHook) OnAgentResponse(ctx context.Context, ec ExecutionContext, message any) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("browser screenshot hook panicked", "session_id", ec.SessionID, "panic", r)
		}
	}()

	blocks := events.ParseMessage(message)
	if len(blocks) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, b := range blocks {
		switch block := b.(type) {
		case events.ToolUse:
			h.toolNames[block.ID] = block.Name

		case events.ToolResult:
			name, ok := h.toolNames[block.ToolUseID]
			if !ok || !strings.HasPrefix(name, h.opts.ToolPrefix) {
				continue
			}
			if _, done := h.scheduled[block.ToolUseID]; done {
				continue
			}
			// Claim the id before the unit starts so a duplicate result
			// arriving right behind this one is ignored.
			h.scheduled[block.ToolUseID] = struct{}{}
			h.schedule(ctx, CaptureRequest{
				SessionID: ec.SessionID,
				ToolUseID: block.ToolUseID,
				ToolName:  name,
				Content:   block.Content,
			})
		}
	}
}

// schedule starts a background capture unit. The unit keeps ctx's values
// (trace ids) but not its cancellation: it outlives the event dispatch.
func (h *BrowserScreenshotHook) schedule(ctx context.Context, req CaptureRequest) {
	h.metrics.Scheduled()
	h.tasks.Go(context.WithoutCancel(ctx), "screenshot:"+req.ToolUseID, func(ctx context.Context) {
		h.CaptureAndUpload(ctx, req)
	})
}

// OnTeardown waits up to the drain timeout for pending captures, then
// cancels the rest.
func (h *BrowserScreenshotHook) OnTeardown(ctx context.Context, ec ExecutionContext) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("browser screenshot teardown panicked", "session_id", ec.SessionID, "panic", r)
		}
	}()

	timeout := h.opts.DrainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	result := h.tasks.Drain(timeout)
	if result.Completed+result.Cancelled > 0 {
		h.logger.Debug("browser screenshot tasks drained",
			"session_id", ec.SessionID,
			"completed", result.Completed,
			"cancelled", result.Cancelled,
		)
	}
}
