// Package config loads browserwatch settings from YAML, .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/browserwatch/pkg/browserwatch/viewport"
)

// Environment variables consulted when the config file leaves a field empty.
const (
	EnvCDPEndpoint  = "POCO_BROWSER_CDP_ENDPOINT"
	EnvViewportSize = "POCO_BROWSER_VIEWPORT_SIZE"
	EnvCollectorURL = "BROWSERWATCH_COLLECTOR_URL"
)

// DefaultCDPEndpoint is the remote-debugging endpoint of a local browser.
const DefaultCDPEndpoint = "http://127.0.0.1:9222"

// DefaultToolPrefix marks tools served by the Playwright MCP server.
const DefaultToolPrefix = "mcp____poco_playwright__"

// configCandidates are searched, in order, by FindConfigFile.
var configCandidates = []string{
	"browserwatch.yaml",
	"browserwatch.yml",
	"config.yaml",
	"configs/browserwatch.yaml",
}

// Config is the top-level configuration.
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
	Browser   BrowserConfig   `yaml:"browser"`
	Capture   CaptureConfig   `yaml:"capture"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// CollectorConfig configures the artifact collector client.
type CollectorConfig struct {
	// BaseURL is the collector (executor manager) base URL.
	BaseURL string `yaml:"base_url"`

	// UploadTimeout bounds one upload (default: 10s).
	UploadTimeout time.Duration `yaml:"upload_timeout"`
}

// BrowserConfig configures access to the controlled browser.
type BrowserConfig struct {
	// CDPEndpoint is the remote-debugging HTTP endpoint.
	CDPEndpoint string `yaml:"cdp_endpoint"`

	// ViewportSize is WIDTHxHEIGHT, e.g. "1366x768".
	ViewportSize string `yaml:"viewport_size"`

	// ListTimeout bounds the target list request (default: 5s).
	ListTimeout time.Duration `yaml:"list_timeout"`

	// CallTimeout bounds each protocol read (default: 8s).
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// CaptureConfig tunes when and how screenshots are taken.
type CaptureConfig struct {
	// ToolPrefix selects the tools whose results trigger a screenshot.
	ToolPrefix string `yaml:"tool_prefix"`

	// RetryAttempts is the total number of live capture attempts (default: 2).
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryDelay is the pause between attempts (default: 200ms).
	RetryDelay time.Duration `yaml:"retry_delay"`

	// DrainTimeout bounds how long teardown waits for pending uploads (default: 15s).
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// DefaultConfig returns the defaults. Browser.CDPEndpoint and
// Collector.BaseURL stay empty so the environment can fill them.
func DefaultConfig() *Config {
	return &Config{
		Collector: CollectorConfig{
			UploadTimeout: 10 * time.Second,
		},
		Browser: BrowserConfig{
			ListTimeout: 5 * time.Second,
			CallTimeout: 8 * time.Second,
		},
		Capture: CaptureConfig{
			ToolPrefix:    DefaultToolPrefix,
			RetryAttempts: 2,
			RetryDelay:    200 * time.Millisecond,
			DrainTimeout:  15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// LoadDotEnv loads variables from .env files that exist. Variables already
// set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfigFromFile reads a YAML config file on top of the defaults.
// ${VAR} references in the file are expanded from the environment.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// FindConfigFile returns the first existing config candidate, or "".
func FindConfigFile() string {
	for _, p := range configCandidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// ApplyEnv fills empty fields from the environment and then from the
// built-in defaults.
func (c *Config) ApplyEnv() {
	c.Browser.CDPEndpoint = firstNonEmpty(c.Browser.CDPEndpoint, os.Getenv(EnvCDPEndpoint), DefaultCDPEndpoint)
	c.Browser.CDPEndpoint = strings.TrimRight(c.Browser.CDPEndpoint, "/")
	c.Browser.ViewportSize = firstNonEmpty(c.Browser.ViewportSize, os.Getenv(EnvViewportSize))
	c.Collector.BaseURL = firstNonEmpty(c.Collector.BaseURL, os.Getenv(EnvCollectorURL))
	if c.Capture.ToolPrefix == "" {
		c.Capture.ToolPrefix = DefaultToolPrefix
	}
}

// Viewport returns the configured viewport, or the default when the
// configured value does not parse.
func (c *Config) Viewport() viewport.Viewport {
	return viewport.Resolve(c.Browser.ViewportSize)
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Collector.BaseURL != "" {
		if u, err := url.Parse(c.Collector.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("collector.base_url %q is not an absolute URL", c.Collector.BaseURL))
		}
	}
	if c.Capture.RetryAttempts < 1 {
		errs = append(errs, errors.New("capture.retry_attempts must be at least 1"))
	}
	if c.Capture.RetryDelay < 0 {
		errs = append(errs, errors.New("capture.retry_delay must not be negative"))
	}
	if c.Capture.DrainTimeout <= 0 {
		errs = append(errs, errors.New("capture.drain_timeout must be positive"))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or text", c.Logging.Format))
	}
	return errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
