package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/browserwatch/pkg/browserwatch/config"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func isolate(t *testing.T) {
	t.Helper()
	chdir(t, t.TempDir())
	t.Setenv(config.EnvCDPEndpoint, "")
	t.Setenv(config.EnvViewportSize, "")
	t.Setenv(config.EnvCollectorURL, "")
}

func TestTargetsJSON(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "A", "type": "page", "url": "about:blank", "webSocketDebuggerUrl": "ws://x/A"},
			{"id": "B", "type": "page", "url": "https://example.com", "webSocketDebuggerUrl": "ws://x/B"},
		})
	}))
	defer srv.Close()
	t.Setenv(config.EnvCDPEndpoint, srv.URL)

	out, err := execute(t, "", "targets", "--json")
	require.NoError(t, err)

	var got struct {
		Endpoint string `json:"endpoint"`
		Selected struct {
			ControlAddress string `json:"control_address"`
			TargetID       string `json:"target_id"`
		} `json:"selected"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, srv.URL, got.Endpoint)
	assert.Equal(t, "B", got.Selected.TargetID)
	assert.Equal(t, "ws://x/B", got.Selected.ControlAddress)
}

func TestTargetsTable(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"W","type":"service_worker","url":"https://example.com/sw.js"}]`))
	}))
	defer srv.Close()
	t.Setenv(config.EnvCDPEndpoint, srv.URL)

	out, err := execute(t, "", "targets")
	require.NoError(t, err)
	assert.Contains(t, out, "service_worker")
	assert.Contains(t, out, "no capturable page")
}

func TestCaptureFailsWithoutBrowser(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	t.Setenv(config.EnvCDPEndpoint, srv.URL)

	_, err := execute(t, "", "capture", "--out", filepath.Join(t.TempDir(), "shot.png"))
	assert.Error(t, err)
}

func TestWatchIgnoresNonBrowserEvents(t *testing.T) {
	isolate(t)
	events := strings.Join([]string{
		`{"content":[{"_type":"ToolUseBlock","id":"t1","name":"Bash"}]}`,
		``,
		`{"content":[{"_type":"ToolResultBlock","tool_use_id":"t1","content":"ok"}]}`,
		`not json`,
	}, "\n")

	start := time.Now()
	_, err := execute(t, events, "watch", "--session", "sess-1")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWatchReadsInputFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"content":[]}`+"\n"), 0o644))

	_, err := execute(t, "", "watch", "--input", path)
	assert.NoError(t, err)

	_, err = execute(t, "", "watch", "--input", filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestResolveConfig(t *testing.T) {
	t.Run("environment only", func(t *testing.T) {
		isolate(t)
		t.Setenv(config.EnvCollectorURL, "http://collector:8000")

		cmd := NewRootCmd("test")
		cfg, path, err := resolveConfig(cmd)
		require.NoError(t, err)
		assert.Empty(t, path)
		assert.Equal(t, "http://collector:8000", cfg.Collector.BaseURL)
		assert.Equal(t, config.DefaultCDPEndpoint, cfg.Browser.CDPEndpoint)
	})

	t.Run("explicit file", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "bw.yaml")
		require.NoError(t, os.WriteFile(path, []byte("browser:\n  viewport_size: 800x600\n"), 0o644))

		cmd := NewRootCmd("test")
		require.NoError(t, cmd.PersistentFlags().Set("config", path))
		cfg, got, err := resolveConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, path, got)
		assert.Equal(t, 800, cfg.Viewport().Width)
	})

	t.Run("dotenv", func(t *testing.T) {
		isolate(t)
		os.Unsetenv(config.EnvViewportSize)
		require.NoError(t, os.WriteFile(".env", []byte(config.EnvViewportSize+"=1024x700\n"), 0o644))

		cfg, _, err := resolveConfig(NewRootCmd("test"))
		require.NoError(t, err)
		assert.Equal(t, 700, cfg.Viewport().Height)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		isolate(t)
		cmd := NewRootCmd("test")
		require.NoError(t, cmd.PersistentFlags().Set("config", "nope.yaml"))
		_, _, err := resolveConfig(cmd)
		assert.Error(t, err)
	})
}

func TestNewLoggerLevels(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.Format = "text"
	var buf bytes.Buffer

	cmd := &cobra.Command{}
	cmd.PersistentFlags().Bool("verbose", false, "")
	logger := newLogger(cmd, cfg, &buf)
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	require.NoError(t, cmd.PersistentFlags().Set("verbose", "true"))
	newLogger(cmd, cfg, &buf).Debug("debug line")
	assert.Contains(t, buf.String(), "debug line")
}

func TestReadLinesStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	input := strings.Repeat(`{"content":[]}`+"\n", 100)

	lines, errc := readLines(ctx, strings.NewReader(input))
	<-lines
	cancel()

	// Give the reader time to see the cancellation while nobody receives.
	time.Sleep(50 * time.Millisecond)

	_, ok := <-lines
	assert.False(t, ok, "reader kept sending after cancellation")
	assert.NoError(t, <-errc)
}

func TestReadLinesSkipsBlankLines(t *testing.T) {
	lines, errc := readLines(context.Background(), strings.NewReader("a\n\nb\n"))
	var got []string
	for line := range lines {
		got = append(got, string(line))
	}
	assert.Equal(t, []string{"a", "b"}, got)
	assert.NoError(t, <-errc)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
