// Package cdp is a minimal Chrome DevTools Protocol client used to take
// screenshots of a browser that some other process controls.
//
// Architecture:
//
//	Resolver ──GET /json/list──▶ debug endpoint ──▶ page target
//	Client   ──websocket──▶ page target ──▶ numbered commands / responses
//	Capturer ──Resolver + Client──▶ Page.captureScreenshot → PNG bytes
//
// Nothing here launches or owns a browser; it only attaches to one.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

// DefaultEndpoint is the remote-debugging endpoint used when none is configured.
const DefaultEndpoint = "http://127.0.0.1:9222"

// DefaultListTimeout bounds the /json/list request.
const DefaultListTimeout = 5 * time.Second

// blankURLs are pages nobody has navigated yet.
var blankURLs = map[string]bool{
	"about:blank":      true,
	"chrome://newtab/": true,
}

// Target is one entry of the /json/list response.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// DebugTarget is the page chosen for a capture attempt.
type DebugTarget struct {
	// ControlAddress is the websocket URL of the page's control channel.
	ControlAddress string `json:"control_address"`

	// TargetID is the page's target id. Empty when the endpoint did not report one.
	TargetID string `json:"target_id,omitempty"`
}

// Identity returns the key used to remember per-target state.
func (t DebugTarget) Identity() string {
	if t.TargetID != "" {
		return t.TargetID
	}
	return t.ControlAddress
}

// ScoreTarget ranks a page target: 1 for a page with a real URL, 0 for an
// empty or blank/new-tab page.
func ScoreTarget(t Target) int {
	u := strings.TrimSpace(t.URL)
	if u == "" || blankURLs[u] {
		return 0
	}
	return 1
}

// SelectTarget picks the page to capture. Only "page" targets with a control
// channel qualify; among those, navigated pages win over blank ones and ties
// keep the endpoint's order.
func SelectTarget(targets []Target) (DebugTarget, bool) {
	pages := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" || strings.TrimSpace(t.WebSocketDebuggerURL) == "" {
			continue
		}
		pages = append(pages, t)
	}
	if len(pages) == 0 {
		return DebugTarget{}, false
	}

	sort.SliceStable(pages, func(i, j int) bool {
		return ScoreTarget(pages[i]) > ScoreTarget(pages[j])
	})

	picked := pages[0]
	return DebugTarget{
		ControlAddress: strings.TrimSpace(picked.WebSocketDebuggerURL),
		TargetID:       strings.TrimSpace(picked.ID),
	}, true
}

// Resolver looks up page targets on a remote-debugging endpoint.
type Resolver struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewResolver creates a resolver for endpoint (e.g. "http://127.0.0.1:9222").
// A non-positive timeout selects DefaultListTimeout.
func NewResolver(endpoint string, timeout time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultListTimeout
	}
	return &Resolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "cdp_resolver"),
	}
}

// Endpoint returns the normalized endpoint base URL.
func (r *Resolver) Endpoint() string {
	return r.endpoint
}

// List fetches every target the endpoint reports.
func (r *Resolver) List(ctx context.Context) ([]Target, error) {
	url := r.endpoint + "/json/list"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing targets: %w", err)
	}

	// Entries that are not target objects are skipped, not fatal.
	targets := make([]Target, 0, len(raw))
	for _, item := range raw {
		var t Target
		if err := json.Unmarshal(item, &t); err != nil {
			continue
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// Resolve returns the page to capture, or false when the endpoint is
// unreachable, answers with something other than a target list, or has no
// usable page.
func (r *Resolver) Resolve(ctx context.Context) (DebugTarget, bool) {
	targets, err := r.List(ctx)
	if err != nil {
		r.logger.Debug("target list unavailable", "endpoint", r.endpoint, "error", err)
		return DebugTarget{}, false
	}
	return SelectTarget(targets)
}
