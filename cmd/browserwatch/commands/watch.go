package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jholhewres/browserwatch/pkg/browserwatch/config"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/hook"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/metrics"
	"github.com/jholhewres/browserwatch/pkg/browserwatch/tracing"
)

// maxEventLine bounds one JSON-lines event; tool results may embed images.
const maxEventLine = 64 << 20

// newWatchCmd creates the `browserwatch watch` command.
func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow agent events and screenshot after browser tool calls",
		Long: `Read agent response messages as JSON lines and capture a browser
screenshot after every browser tool result. Pending uploads are drained
when the input ends or the process is interrupted.

Examples:
  agent-run --emit-events | browserwatch watch --session sess-42
  browserwatch watch --input events.jsonl --session sess-42 --metrics 127.0.0.1:9464`,
		RunE: runWatch,
	}

	cmd.Flags().StringP("input", "i", "-", "events file, - for stdin")
	cmd.Flags().StringP("session", "s", "", "session id attached to uploads (default: random)")
	cmd.Flags().String("trace-id", "", "trace id propagated to the collector")
	cmd.Flags().String("metrics", "", "serve Prometheus metrics on this address")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stderr)
	if configPath != "" {
		logger.Debug("config loaded", "path", configPath)
	}
	if cfg.Collector.BaseURL == "" {
		logger.Warn("no collector configured, uploads will fail", "env", config.EnvCollectorURL)
	}

	input, closeInput, err := openInput(cmd)
	if err != nil {
		return err
	}
	defer closeInput()

	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	traceID, _ := cmd.Flags().GetString("trace-id")

	m := metrics.NewCollector("browserwatch")
	metricsAddr, _ := cmd.Flags().GetString("metrics")
	if metricsAddr == "" && cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.Listen
	}
	var metricsServer *http.Server
	if metricsAddr != "" {
		metricsServer = startMetricsServer(metricsAddr, m, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if traceID == "" {
		traceID = tracing.GenerateTraceID()
	}
	// One trace per run; every upload gets its own request id.
	ctx = tracing.WithTraceID(ctx, traceID)

	h := hook.NewFromConfig(cfg, m, logger)
	ec := hook.ExecutionContext{SessionID: sessionID}

	logger.Info("watching agent events",
		"session_id", sessionID,
		"trace_id", traceID,
		"cdp_endpoint", cfg.Browser.CDPEndpoint,
		"collector", cfg.Collector.BaseURL,
	)

	lines, readErr := readLines(ctx, input)
	count := 0
loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received, draining")
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			count++
			h.OnAgentResponse(ctx, ec, line)
		}
	}

	teardownCtx, cancel := context.WithTimeout(context.Background(), cfg.Capture.DrainTimeout)
	h.OnTeardown(teardownCtx, ec)
	cancel()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}

	logger.Info("watch finished", "session_id", sessionID, "events", count)

	select {
	case err := <-readErr:
		if err != nil {
			return fmt.Errorf("reading events: %w", err)
		}
	default:
	}
	return nil
}

func openInput(cmd *cobra.Command) (io.Reader, func(), error) {
	path, _ := cmd.Flags().GetString("input")
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening events: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// readLines streams non-empty lines from r. The lines channel closes at EOF
// or when ctx ends; a read error is reported on the second channel.
func readLines(ctx context.Context, r io.Reader) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
		for scanner.Scan() {
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}
			line := make([]byte, len(raw))
			copy(line, raw)
			select {
			case lines <- line:
			case <-ctx.Done():
				errc <- nil
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

func startMetricsServer(addr string, m *metrics.Collector, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "address", addr, "error", err)
		}
	}()
	logger.Info("metrics server running", "address", addr)
	return srv
}
