package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultReadTimeout bounds one command, from send to matching response.
	DefaultReadTimeout = 8 * time.Second

	// maxMessageSize fits full-page PNG payloads.
	maxMessageSize = 50 * 1024 * 1024
)

// ErrClosed is returned by Call after Close.
var ErrClosed = errors.New("cdp: connection closed")

// CallError is the protocol-level error a target returned for a command.
type CallError struct {
	Method  string `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *CallError) Error() string {
	return fmt.Sprintf("cdp %s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithReadTimeout overrides the per-command timeout.
func WithReadTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client runs numbered command/response exchanges over one control channel.
// Calls are serialized; the channel also carries event notifications, which
// are read and dropped.
type Client struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	logger      *slog.Logger
	stop        func() bool

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	mu    sync.Mutex
	msgID int
}

// Dial opens a control channel to wsURL. Cancelling ctx after Dial returns
// closes the connection, aborting any in-flight Call.
func Dial(ctx context.Context, wsURL string, opts ...ClientOption) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: DefaultReadTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		conn:        conn,
		readTimeout: DefaultReadTimeout,
		logger:      slog.Default().With("component", "cdp_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stop = context.AfterFunc(ctx, func() {
		c.closeConn()
	})
	return c, nil
}

type request struct {
	ID     int            `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type response struct {
	ID     *int            `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Call sends method with params and waits for the response carrying the same
// id. The whole exchange, including any notifications read on the way, is
// bounded by the read timeout. An empty or missing result yields an empty map.
// A protocol error yields a *CallError; a frame that is not JSON fails the call.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, ErrClosed
	}

	c.msgID++
	id := c.msgID

	deadline := c.deadline(ctx)
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(request{ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("cdp write %s: %w", method, c.readErr(ctx, err))
	}

	c.conn.SetReadDeadline(deadline)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("cdp read %s: %w", method, c.readErr(ctx, err))
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("cdp read %s: malformed message: %w", method, err)
		}
		if resp.ID == nil || *resp.ID != id {
			// Event notification or a stale response.
			if resp.Method != "" {
				c.logger.Debug("cdp notification dropped", "method", resp.Method, "waiting_for", method)
			}
			continue
		}

		if errorSet(resp.Error) {
			callErr := &CallError{Message: string(resp.Error)}
			_ = json.Unmarshal(resp.Error, callErr)
			callErr.Method = method
			return nil, callErr
		}
		return decodeResult(resp.Result)
	}
}

// readErr prefers the reason the connection went away over the raw I/O error.
func (c *Client) readErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if c.closed.Load() {
		return ErrClosed
	}
	return err
}

// Close closes the control channel, aborting an in-flight Call. Safe to call
// more than once.
func (c *Client) Close() error {
	c.stop()
	c.closed.Store(true)
	return c.closeConn()
}

func (c *Client) closeConn() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// deadline is the bound for one command, shortened by ctx's own deadline.
func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.readTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

// errorSet reports whether an error field carries anything. Empty objects,
// empty strings, zero, false and null do not count.
func errorSet(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return true
	}
	switch e := v.(type) {
	case nil:
		return false
	case map[string]any:
		return len(e) > 0
	case []any:
		return len(e) > 0
	case string:
		return e != ""
	case float64:
		return e != 0
	case bool:
		return e
	}
	return true
}

func decodeResult(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		// A non-object result carries nothing callers can read.
		return map[string]any{}, nil
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}
