// Package collector uploads browser screenshots to the artifact collector
// (executor manager).
//
// Endpoint:
//
//	POST /api/v1/computer/screenshots   multipart: session_id, tool_use_id, file
package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/jholhewres/browserwatch/pkg/browserwatch/tracing"
)

const (
	// DefaultTimeout bounds one upload request.
	DefaultTimeout = 10 * time.Second

	screenshotPath = "/api/v1/computer/screenshots"
)

// Screenshot is one PNG captured after a tool call.
type Screenshot struct {
	SessionID string
	ToolUseID string
	PNG       []byte
}

// StatusError is returned when the collector answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("collector returned status %d", e.Code)
	}
	return fmt.Sprintf("collector returned status %d: %s", e.Code, e.Body)
}

// Client talks to the artifact collector.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a collector client. A non-positive timeout selects
// DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "collector"),
	}
}

// BaseURL returns the normalized collector base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UploadBrowserScreenshot sends shot to the collector, tagged with tc.
// Any 2xx answer is success.
func (c *Client) UploadBrowserScreenshot(ctx context.Context, tc tracing.Context, shot Screenshot) error {
	body, contentType, err := encodeScreenshot(shot)
	if err != nil {
		return fmt.Errorf("encoding upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+screenshotPath, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	tc = tc.Ensure()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(tracing.RequestIDHeader, tc.RequestID)
	req.Header.Set(tracing.TraceIDHeader, tc.TraceID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("uploading screenshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	io.Copy(io.Discard, resp.Body)

	c.logger.Debug("screenshot uploaded",
		"session_id", shot.SessionID,
		"tool_use_id", shot.ToolUseID,
		"bytes", len(shot.PNG),
		"trace_id", tc.TraceID,
	)
	return nil
}

func encodeScreenshot(shot Screenshot) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("session_id", shot.SessionID); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("tool_use_id", shot.ToolUseID); err != nil {
		return nil, "", err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="screenshot.png"`)
	h.Set("Content-Type", "image/png")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(shot.PNG); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
