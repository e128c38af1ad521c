package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// DefaultConnectTimeout bounds each TCP connection attempt. A port that
	// does not answer within this time is reported as filtered.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultReadTimeout bounds the banner read and every protocol probe.
	DefaultReadTimeout = 2 * time.Second

	// DefaultConcurrency is the number of connections that may be in flight
	// at once, shared by port scanning and protocol identification.
	DefaultConcurrency = 512

	// DefaultBatchSize is the number of targets scanned concurrently.
	DefaultBatchSize = 1

	// AppName is the application name used for XDG directory paths.
	AppName = "tcprecon"

	// DefaultUserAgent is sent by the HTTP probe.
	DefaultUserAgent = "Mozilla/5.0 (compatible; MSIE 9.0; Windows NT 6.1; WOW64; Trident/5.0; chromeframe/12.0.742.112)"
)

// Config holds all configuration options for a scan run.
// It is populated from CLI flags and the optional configuration file and
// passed down explicitly; nothing reads it from global state.
type Config struct {
	// ConnectTimeout is the time allowed for each TCP handshake.
	ConnectTimeout time.Duration

	// ReadTimeout is the time allowed for reading a banner and for each
	// protocol probe.
	ReadTimeout time.Duration

	// UserAgent is sent in the HTTP probe request.
	UserAgent string

	// Concurrency is the capacity of the admission limiter.
	Concurrency int

	// Rate limits new connection attempts per second. Zero disables it.
	Rate float64

	// BatchSize is the number of targets scanned concurrently.
	BatchSize int

	// Ports is the port specification, e.g. "22,80,8000-8100".
	// Empty means the top TCP ports.
	Ports string

	// ExcludePorts is a comma separated list of ports to skip.
	ExcludePorts string

	// Verbose enables debug logging and the progress counter.
	Verbose bool

	// HideFiltered omits filtered ports from the simple report.
	HideFiltered bool

	// Sort orders ports by number in reports instead of completion order.
	Sort bool

	// JSONReport selects JSON output. Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport selects Markdown output. Mutually exclusive with JSONReport.
	MarkdownReport bool

	// ReportFile is the output path for the report; empty means stdout.
	ReportFile string

	// MetricsFile, when set, receives the run's metrics in the Prometheus
	// text format.
	MetricsFile string

	// ConfigFilePath is the explicit configuration file path, if any.
	ConfigFilePath string

	// TargetConfigs holds the per-target overrides loaded from the
	// configuration file.
	TargetConfigs *File

	// Targets is the list of hosts to scan.
	Targets []string
}

// Snapshot is the immutable subset of the configuration needed by the
// scanning workers. It is passed by value.
type Snapshot struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	UserAgent      string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		UserAgent:      DefaultUserAgent,
		Concurrency:    DefaultConcurrency,
		BatchSize:      DefaultBatchSize,
	}
}

// Snapshot returns the worker settings.
func (c *Config) Snapshot() Snapshot {
	return Snapshot{
		ConnectTimeout: c.ConnectTimeout,
		ReadTimeout:    c.ReadTimeout,
		UserAgent:      c.UserAgent,
	}
}

// ApplyTimeoutsMillis sets the timeouts from millisecond values as given
// on the command line. Zero keeps the current value.
func (c *Config) ApplyTimeoutsMillis(connectMillis, readMillis int) {
	if connectMillis != 0 {
		c.ConnectTimeout = time.Duration(connectMillis) * time.Millisecond
	}
	if readMillis != 0 {
		c.ReadTimeout = time.Duration(readMillis) * time.Millisecond
	}
}

// PortsFor returns the port specification and exclusion list for target.
// An entry for target in the configuration file is more specific than
// both the file defaults and the command line, so it wins.
func (c *Config) PortsFor(target string) (ports, exclude string) {
	ports, exclude = c.Ports, c.ExcludePorts
	if c.TargetConfigs == nil {
		return ports, exclude
	}
	tc, ok := c.TargetConfigs.Targets[target]
	if !ok {
		return ports, exclude
	}
	if tc.Ports != "" {
		ports = tc.Ports
	}
	if tc.ExcludePorts != "" {
		exclude = tc.ExcludePorts
	}
	return ports, exclude
}

// XDGConfigDir returns the XDG config directory for tcprecon.
// On Linux: ~/.config/tcprecon
// On macOS: ~/Library/Application Support/tcprecon
// On Windows: %APPDATA%\tcprecon
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGConfigFile returns the path of the configuration file inside the XDG
// config directory.
func XDGConfigFile() string {
	return filepath.Join(XDGConfigDir(), "config.yaml")
}

// Validate checks if the configuration is valid.
// It returns the first problem found as one of the sentinel errors.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTarget
	}

	if c.ConnectTimeout <= 0 || c.ReadTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if c.Rate < 0 {
		return ErrInvalidRate
	}

	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}

	return nil
}
