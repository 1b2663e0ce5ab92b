package cdp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/browserwatch/pkg/browserwatch/viewport"
)

var (
	// ErrNoTarget means the endpoint reported no page that can be captured.
	ErrNoTarget = errors.New("cdp: no page target available")

	// ErrNoImage means the capture call returned no decodable image.
	ErrNoImage = errors.New("cdp: screenshot returned no image")
)

// CapturerConfig configures a Capturer.
type CapturerConfig struct {
	// Endpoint is the remote-debugging HTTP endpoint.
	Endpoint string

	// Viewport is emulated on each target before its first capture.
	Viewport viewport.Viewport

	// ListTimeout bounds the /json/list request.
	ListTimeout time.Duration

	// ReadTimeout bounds each control-channel read.
	ReadTimeout time.Duration
}

// Capturer takes PNG screenshots of the most relevant page on a debug endpoint.
// Viewport emulation is applied once per target for the Capturer's lifetime.
type Capturer struct {
	resolver    *Resolver
	viewport    viewport.Viewport
	readTimeout time.Duration
	logger      *slog.Logger

	mu        sync.Mutex
	viewports map[string]*viewportClaim
}

// viewportClaim tracks emulation for one target identity. done closes once
// the claimant has finished; applied is set before that on success.
type viewportClaim struct {
	done    chan struct{}
	applied bool
}

// NewCapturer creates a capturer.
func NewCapturer(cfg CapturerConfig, logger *slog.Logger) *Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Viewport.Width == 0 || cfg.Viewport.Height == 0 {
		cfg.Viewport = viewport.Default
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Capturer{
		resolver:    NewResolver(cfg.Endpoint, cfg.ListTimeout, logger),
		viewport:    cfg.Viewport,
		readTimeout: cfg.ReadTimeout,
		logger:      logger.With("component", "cdp_capture"),
		viewports:   make(map[string]*viewportClaim),
	}
}

// Resolver returns the target resolver used by the capturer.
func (c *Capturer) Resolver() *Resolver {
	return c.resolver
}

// Viewport returns the emulated viewport.
func (c *Capturer) Viewport() viewport.Viewport {
	return c.viewport
}

// Capture resolves a page and returns a PNG screenshot of it.
func (c *Capturer) Capture(ctx context.Context) ([]byte, error) {
	target, ok := c.resolver.Resolve(ctx)
	if !ok {
		return nil, ErrNoTarget
	}
	return c.CaptureTarget(ctx, target)
}

// CaptureTarget returns a PNG screenshot of target.
func (c *Capturer) CaptureTarget(ctx context.Context, target DebugTarget) ([]byte, error) {
	client, err := Dial(ctx, target.ControlAddress,
		WithReadTimeout(c.readTimeout),
		WithLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if _, err := client.Call(ctx, "Page.enable", nil); err != nil {
		c.logger.Debug("Page.enable failed", "target", target.Identity(), "error", err)
	}

	if err := c.ensureViewport(ctx, client, target); err != nil {
		return nil, err
	}

	result, err := client.Call(ctx, "Page.captureScreenshot", map[string]any{
		"format": "png",
	})
	if err != nil {
		return nil, err
	}

	data, _ := result["data"].(string)
	if data == "" {
		return nil, ErrNoImage
	}
	png, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoImage, err)
	}
	if len(png) == 0 {
		return nil, ErrNoImage
	}
	return png, nil
}

// ensureViewport applies device-metrics emulation the first time a target is
// seen. Concurrent captures of the same target wait for the first one instead
// of emulating again. A protocol error from the target still counts as
// applied; a broken connection releases the claim so a later capture retries.
func (c *Capturer) ensureViewport(ctx context.Context, client *Client, target DebugTarget) error {
	key := target.Identity()

	var claim *viewportClaim
	for {
		c.mu.Lock()
		existing, exists := c.viewports[key]
		if !exists {
			claim = &viewportClaim{done: make(chan struct{})}
			c.viewports[key] = claim
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		select {
		case <-existing.done:
			if existing.applied {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := c.applyViewport(ctx, client, target)

	c.mu.Lock()
	if err != nil {
		delete(c.viewports, key)
	} else {
		claim.applied = true
	}
	c.mu.Unlock()
	close(claim.done)
	return err
}

// applyViewport emulates the viewport on target. Resizing the browser window
// only matters for headful browsers watched over VNC and never fails it.
func (c *Capturer) applyViewport(ctx context.Context, client *Client, target DebugTarget) error {
	key := target.Identity()
	vp := c.viewport
	if _, err := client.Call(ctx, "Emulation.setDeviceMetricsOverride", map[string]any{
		"width":             vp.Width,
		"height":            vp.Height,
		"deviceScaleFactor": 1,
		"mobile":            false,
	}); err != nil {
		var callErr *CallError
		if !errors.As(err, &callErr) {
			return err
		}
		c.logger.Debug("viewport override rejected", "target", key, "error", err)
	}

	if target.TargetID != "" {
		c.resizeWindow(ctx, client, target.TargetID)
	}

	c.logger.Debug("viewport applied", "target", key, "viewport", vp.String())
	return nil
}

func (c *Capturer) resizeWindow(ctx context.Context, client *Client, targetID string) {
	win, err := client.Call(ctx, "Browser.getWindowForTarget", map[string]any{
		"targetId": targetID,
	})
	if err != nil {
		return
	}

	// JSON numbers decode as float64.
	rawID, ok := win["windowId"].(float64)
	if !ok || rawID != float64(int(rawID)) {
		return
	}

	if _, err := client.Call(ctx, "Browser.setWindowBounds", map[string]any{
		"windowId": int(rawID),
		"bounds": map[string]any{
			"width":  c.viewport.Width,
			"height": c.viewport.Height,
		},
	}); err != nil {
		c.logger.Debug("window resize failed", "target", targetID, "error", err)
	}
}
