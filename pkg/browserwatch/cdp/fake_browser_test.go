package cdp

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// fakePNG is not a real image; the capture path only base64-decodes it.
var fakePNG = []byte("\x89PNG\r\n\x1a\nfake-image-bytes")

// fakeBrowser emulates a remote-debugging endpoint with a single page target.
type fakeBrowser struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	calls    map[string]int
	pageURL  string
	targetID string
	// notifyBeforeResponse sends an unrelated event before every response.
	notifyBeforeResponse bool
	// failMethods answers these methods with a protocol error.
	failMethods map[string]bool
	// screenshotData overrides the base64 data returned by captureScreenshot.
	screenshotData *string
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{
		t:           t,
		calls:       make(map[string]int),
		pageURL:     "https://example.com",
		targetID:    "PAGE-1",
		failMethods: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", fb.handleList)
	mux.HandleFunc("/devtools/page/", fb.handlePage)
	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBrowser) wsURL() string {
	return "ws" + strings.TrimPrefix(fb.server.URL, "http") + "/devtools/page/" + fb.targetID
}

func (fb *fakeBrowser) callCount(method string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.calls[method]
}

func (fb *fakeBrowser) handleList(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	targets := []Target{
		{ID: "SW-1", Type: "service_worker", URL: "https://example.com/sw.js"},
		{ID: fb.targetID, Type: "page", URL: fb.pageURL, WebSocketDebuggerURL: fb.wsURL()},
	}
	fb.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(targets)
}

func (fb *fakeBrowser) handlePage(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		fb.t.Logf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req struct {
			ID     int            `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		fb.mu.Lock()
		fb.calls[req.Method]++
		notify := fb.notifyBeforeResponse
		fail := fb.failMethods[req.Method]
		shot := fb.screenshotData
		fb.mu.Unlock()

		if notify {
			conn.WriteJSON(map[string]any{
				"method": "Page.frameNavigated",
				"params": map[string]any{"frame": map[string]any{"id": "F1"}},
			})
			// A stale response for an id nobody is waiting on.
			conn.WriteJSON(map[string]any{"id": req.ID + 1000, "result": map[string]any{"stale": true}})
		}

		if fail {
			conn.WriteJSON(map[string]any{
				"id":    req.ID,
				"error": map[string]any{"code": -32000, "message": "not supported"},
			})
			continue
		}

		var result map[string]any
		switch req.Method {
		case "Page.captureScreenshot":
			data := base64.StdEncoding.EncodeToString(fakePNG)
			if shot != nil {
				data = *shot
			}
			result = map[string]any{"data": data}
		case "Browser.getWindowForTarget":
			result = map[string]any{"windowId": 7, "bounds": map[string]any{}}
		case "Page.enable":
			// Real browsers answer with an empty result object.
			result = map[string]any{}
		}

		resp := map[string]any{"id": req.ID}
		if result != nil {
			resp["result"] = result
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (fb *fakeBrowser) fail(method string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.failMethods[method] = true
}

func (fb *fakeBrowser) setNotify(v bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.notifyBeforeResponse = v
}

func (fb *fakeBrowser) setScreenshotData(data string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.screenshotData = &data
}

func (fb *fakeBrowser) setTargetID(id string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.targetID = id
}
