package cdp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer answers each command by running reply with the request id.
func scriptedServer(t *testing.T, reply func(conn *websocket.Conn, id int, method string)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID     int    `json:"id"`
				Method string `json:"method"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			reply(conn, req.ID, req.Method)
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClientCallSkipsNotifications(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn, id int, method string) {
		conn.WriteJSON(map[string]any{"method": "Network.requestWillBeSent", "params": map[string]any{}})
		conn.WriteJSON(map[string]any{"id": id + 1, "result": map[string]any{"wrong": true}})
		conn.WriteJSON(map[string]any{"id": id, "result": map[string]any{"echo": method}})
	})

	client, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer client.Close()

	result, err := client.Call(context.Background(), "Runtime.evaluate", map[string]any{"expression": "1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "Runtime.evaluate"}, result)

	// Ids keep increasing on the same connection.
	result, err = client.Call(context.Background(), "Page.enable", nil)
	require.NoError(t, err)
	assert.Equal(t, "Page.enable", result["echo"])
	assert.Equal(t, 2, client.msgID)
}

func TestClientCallEmptyResult(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn, id int, method string) {
		switch method {
		case "A":
			conn.WriteJSON(map[string]any{"id": id, "result": map[string]any{}})
		case "B":
			conn.WriteJSON(map[string]any{"id": id})
		default:
			conn.WriteJSON(map[string]any{"id": id, "result": nil})
		}
	})

	client, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer client.Close()

	for _, method := range []string{"A", "B", "C"} {
		result, err := client.Call(context.Background(), method, nil)
		require.NoError(t, err, method)
		require.NotNil(t, result, method)
		assert.Empty(t, result, method)
	}
}

func TestClientCallProtocolError(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn, id int, method string) {
		conn.WriteJSON(map[string]any{
			"id":    id,
			"error": map[string]any{"code": -32601, "message": "method not found"},
		})
	})

	client, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer client.Close()

	result, err := client.Call(context.Background(), "Nope.nope", nil)
	assert.Nil(t, result)

	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, -32601, callErr.Code)
	assert.Equal(t, "Nope.nope", callErr.Method)
	assert.Contains(t, callErr.Error(), "method not found")
}

func TestClientCallReadTimeout(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn, id int, method string) {
		// Only notifications, never the response.
		conn.WriteJSON(map[string]any{"method": "Page.loadEventFired"})
	})

	client, err := Dial(context.Background(), url, WithReadTimeout(150*time.Millisecond))
	require.NoError(t, err)
	defer client.Close()

	start := time.Now()
	_, err = client.Call(context.Background(), "Page.captureScreenshot", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClientCallBoundedDespiteNotifications(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn, id int, method string) {
		// A busy page: lifecycle events every 100ms and no response.
		for i := 0; i < 50; i++ {
			if err := conn.WriteJSON(map[string]any{"method": "Page.lifecycleEvent"}); err != nil {
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
	})

	client, err := Dial(context.Background(), url, WithReadTimeout(300*time.Millisecond))
	require.NoError(t, err)
	defer client.Close()

	start := time.Now()
	_, err = client.Call(context.Background(), "Page.captureScreenshot", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClientCallEmptyErrorIsIgnored(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn, id int, method string) {
		switch method {
		case "A":
			conn.WriteJSON(map[string]any{"id": id, "error": map[string]any{}, "result": map[string]any{"ok": true}})
		case "B":
			conn.WriteJSON(map[string]any{"id": id, "error": nil, "result": map[string]any{"ok": true}})
		default:
			conn.WriteJSON(map[string]any{"id": id, "error": "boom"})
		}
	})

	client, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer client.Close()

	for _, method := range []string{"A", "B"} {
		result, err := client.Call(context.Background(), method, nil)
		require.NoError(t, err, method)
		assert.Equal(t, true, result["ok"], method)
	}

	_, err = client.Call(context.Background(), "C", nil)
	var callErr *CallError
	assert.True(t, errors.As(err, &callErr))
}

func TestClientCallMalformedFrame(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn, id int, method string) {
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteJSON(map[string]any{"id": id, "result": map[string]any{}})
	})

	client, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), "Page.enable", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed message")

	var callErr *CallError
	assert.False(t, errors.As(err, &callErr))
}

func TestClientCloseAbortsCall(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn, id int, method string) {})

	client, err := Dial(context.Background(), url, WithReadTimeout(10*time.Second))
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		client.Close()
	}()

	start := time.Now()
	_, err = client.Call(context.Background(), "Page.enable", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClientCallContextCancel(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn, id int, method string) {})

	ctx, cancel := context.WithCancel(context.Background())
	client, err := Dial(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = client.Call(ctx, "Page.enable", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClientClosed(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn, id int, method string) {})

	client, err := Dial(context.Background(), url)
	require.NoError(t, err)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err = client.Call(context.Background(), "Page.enable", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	_, err := Dial(context.Background(), url)
	assert.Error(t, err)
}
