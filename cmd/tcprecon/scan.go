package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/nao1215/tcprecon/internal/config"
	"github.com/nao1215/tcprecon/internal/limiter"
	tclog "github.com/nao1215/tcprecon/internal/log"
	"github.com/nao1215/tcprecon/internal/metrics"
	"github.com/nao1215/tcprecon/internal/model"
	"github.com/nao1215/tcprecon/internal/pipeline"
	"github.com/nao1215/tcprecon/internal/portset"
	"github.com/nao1215/tcprecon/internal/probe"
	"github.com/nao1215/tcprecon/internal/report"
	"github.com/nao1215/tcprecon/internal/scanner"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// errTargetsFailed is returned when at least one target could not be scanned.
var errTargetsFailed = errors.New("scan failed")

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [host...]",
		Short: "Scan TCP ports of one or more hosts",
		Long: `Scan connects to every selected TCP port of each host and reports it as
opened, closed or filtered. Open ports that send a banner are shown with it;
open ports that stay silent are probed for HTTP, DNS and TLS.

Port specifications are comma separated ports and ranges. A range may be
open on either side: "-1024" means 1 to 1024 and "60000-" means 60000 to
65535. Port 0 is accepted but never scanned, so "0-1024" equals "1-1024".
Without --ports the most common TCP ports are scanned.

Examples:
  # Scan the top ports of a host
  tcprecon scan 192.0.2.10

  # Scan a range, skipping two ports, without filtered ports in the output
  tcprecon scan -p 1-1024 -e 25,111 -H scanme.example

  # Scan three hosts, two at a time, and write a JSON report
  tcprecon scan -b 2 -j -o report.json 192.0.2.1 192.0.2.2 192.0.2.3

Configuration file (.tcprecon) example:
  defaults:
    connectTimeout: 3000
    ports: "1-1024"
  targets:
    192.0.2.10:
      ports: "22,80,443,8000-8100"`,
		Args: cobra.ArbitraryArgs,
		RunE: runScanCmd,
	}

	// Port selection
	cmd.Flags().StringP("port", "p", "",
		"Ports to scan, e.g. \"22,80,8000-8100\" (default: top TCP ports)")
	cmd.Flags().StringP("exclude-ports", "e", "",
		"Comma separated ports to skip")

	// Timing and load
	cmd.Flags().IntP("connect-timeout", "c", 0,
		"Connect timeout in milliseconds (0: 5000)")
	cmd.Flags().IntP("read-timeout", "r", 0,
		"Banner read and probe timeout in milliseconds (0: 2000)")
	cmd.Flags().StringP("user-agent", "u", config.DefaultUserAgent,
		"User-Agent sent by the HTTP probe")
	cmd.Flags().Int("concurrency", config.DefaultConcurrency,
		"Maximum number of connections in flight")
	cmd.Flags().Float64("rate", 0,
		"Maximum new connections per second (0: unlimited)")
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of hosts scanned concurrently")

	// Configuration file
	cmd.Flags().String("config", "",
		"Configuration file path (default: .tcprecon in current or home directory)")

	// Output
	cmd.Flags().BoolP("hide-filtered", "H", false,
		"Do not show filtered ports")
	cmd.Flags().Bool("sort", false,
		"Sort ports by number instead of completion order")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().String("metrics-file", "",
		"Write Prometheus metrics of the run to this file")
	cmd.Flags().Bool("log-json", false,
		"Write logs as JSON")

	return cmd
}

// runScanCmd executes the scan command.
func runScanCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logJSON, err := cmd.Flags().GetBool("log-json")
	if err != nil {
		return err
	}
	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose, logJSON)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runScan(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from the configuration file and cobra flags.
// File defaults are applied first; flags override them only when given.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	cfg.ConfigFilePath, err = flags.GetString("config")
	if err != nil {
		return nil, err
	}

	// An explicitly given file must exist; otherwise a missing file is fine.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		cfg.TargetConfigs, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		cfg.TargetConfigs.ApplyDefaults(cfg)
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	default:
		cfg.TargetConfigs = &config.File{Targets: make(map[string]config.TargetConfig)}
	}

	if flags.Changed("port") {
		if cfg.Ports, err = flags.GetString("port"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("exclude-ports") {
		if cfg.ExcludePorts, err = flags.GetString("exclude-ports"); err != nil {
			return nil, err
		}
	}

	connectMillis, err := flags.GetInt("connect-timeout")
	if err != nil {
		return nil, err
	}
	readMillis, err := flags.GetInt("read-timeout")
	if err != nil {
		return nil, err
	}
	if connectMillis < 0 || readMillis < 0 {
		return nil, config.ErrInvalidTimeout
	}
	cfg.ApplyTimeoutsMillis(connectMillis, readMillis)

	if flags.Changed("user-agent") {
		if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("concurrency") {
		if cfg.Concurrency, err = flags.GetInt("concurrency"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("rate") {
		if cfg.Rate, err = flags.GetFloat64("rate"); err != nil {
			return nil, err
		}
	}

	if cfg.BatchSize, err = flags.GetInt("batch"); err != nil {
		return nil, err
	}
	if cfg.HideFiltered, err = flags.GetBool("hide-filtered"); err != nil {
		return nil, err
	}
	if cfg.Sort, err = flags.GetBool("sort"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return nil, err
	}
	if cfg.MetricsFile, err = flags.GetString("metrics-file"); err != nil {
		return nil, err
	}

	cfg.Verbose = getVerboseFlag(cmd)
	cfg.Targets = args

	return cfg, nil
}

// setupLogger creates a structured logger based on verbosity setting.
func setupLogger(w io.Writer, verbose, jsonFormat bool) *slog.Logger {
	if jsonFormat {
		return tclog.NewJSONLogger(w, verbose)
	}
	return tclog.NewLogger(w, verbose)
}

// buildPortSets resolves the port set of every target. Malformed port
// specifications are reported before anything is scanned.
func buildPortSets(cfg *config.Config) (map[string]*portset.Set, error) {
	sets := make(map[string]*portset.Set, len(cfg.Targets))
	for _, target := range cfg.Targets {
		spec, exclude := cfg.PortsFor(target)

		set := portset.Default()
		if spec != "" {
			var err error
			if set, err = portset.Parse(spec); err != nil {
				return nil, fmt.Errorf("ports for %s: %w", target, err)
			}
		}

		if exclude != "" {
			excluded, err := portset.ParseList(exclude)
			if err != nil {
				return nil, fmt.Errorf("excluded ports for %s: %w", target, err)
			}
			set.RemoveAll(excluded...)
		}
		sets[target] = set
	}
	return sets, nil
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// progressPrinter returns a progress callback that rewrites one status line.
func progressPrinter(w io.Writer, p *message.Printer, target string) func(done, total int) {
	return func(done, total int) {
		p.Fprintf(w, "\r%s: %d/%d ports scanned", target, done, total)
		if done == total {
			fmt.Fprintln(w)
		}
	}
}

// runScan scans every target and writes the report.
func runScan(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer, logger *slog.Logger) error {
	ports, err := buildPortSets(cfg)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Nil metrics are no-ops.
	var m *metrics.Metrics
	if cfg.MetricsFile != "" {
		m = metrics.New()
	}

	snap := cfg.Snapshot()
	lim := limiter.New(cfg.Concurrency, limiter.WithWaitObserver(m.ObserveWait))
	sc := scanner.New(
		scanner.WithLimiter(lim),
		scanner.WithSnapshot(snap),
		scanner.WithRateLimit(cfg.Rate),
		scanner.WithLogger(logger),
		scanner.WithMetrics(m),
	)
	engine := probe.NewEngine(
		probe.DefaultProbes(snap, nil, logger),
		probe.WithReadTimeout(snap.ReadTimeout),
		probe.WithLogger(logger),
		probe.WithLimiter(lim),
		probe.WithObserver(m.ObserveProbe),
	)

	printer := message.NewPrinter(language.English)
	showProgress := cfg.Verbose && isTerminal(stderr)

	logger.Debug("starting scan",
		"targets", cfg.Targets,
		"concurrency", cfg.Concurrency,
		"batchSize", cfg.BatchSize,
		"connectTimeout", snap.ConnectTimeout,
		"readTimeout", snap.ReadTimeout,
	)

	bp := pipeline.NewBatchProcessor(
		func(target string) *pipeline.Pipeline {
			set := ports[target]
			printer.Fprintf(stderr, "Got %d ports to scan from %s\n", set.Len(), target)

			var scanOpts []pipeline.ScanStepOption
			if showProgress {
				scanOpts = append(scanOpts, pipeline.WithProgress(progressPrinter(stderr, printer, target)))
			}
			return pipeline.NewScanPipeline(sc, engine, set, scanOpts,
				pipeline.WithLogger(logger),
				pipeline.WithMetrics(m),
			)
		},
		pipeline.WithConcurrency(cfg.BatchSize),
		pipeline.WithBatchLogger(logger),
		pipeline.WithBatchMetrics(m),
	)

	output, closeOutput, err := openOutput(cfg, stdout)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	defer closeOutput()

	var reports []*model.ScanReport
	var scanErr error
	w := newReportWriter(cfg, output)
	if cfg.JSONReport || cfg.MarkdownReport {
		// Whole-document formats are written once every target is done.
		reports, scanErr = bp.ProcessBatch(ctx, cfg.Targets)
		if cfg.Sort {
			for _, r := range reports {
				if r != nil {
					r.SortPorts()
				}
			}
		}
		if _, err := w.WriteBatch(reports); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	} else {
		reports, scanErr = streamReports(ctx, bp, cfg.Targets, w, cfg.Sort)
		if errors.Is(scanErr, errWriteReport) {
			return scanErr
		}
	}

	if m != nil {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("failed to write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}

	if scanErr != nil {
		return scanErr
	}
	return failedTargets(reports)
}

// failedTargets returns errTargetsFailed naming the targets whose scan
// recorded an error.
func failedTargets(reports []*model.ScanReport) error {
	var errs []error
	for _, r := range reports {
		if r != nil && r.Error != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Target, r.Error))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", errTargetsFailed, errors.Join(errs...))
}

// errWriteReport is returned when a streamed report cannot be written.
var errWriteReport = errors.New("failed to write report")

// streamReports scans targets and writes each report as soon as its target
// is done. Reports are returned in target order.
func streamReports(ctx context.Context, bp *pipeline.BatchProcessor, targets []string, w report.Writer, sortPorts bool) ([]*model.ScanReport, error) {
	var (
		mu       sync.Mutex
		writeErr error
		reports  = make([]*model.ScanReport, len(targets))
	)

	err := bp.ProcessBatchWithCallback(ctx, targets, func(r *model.ScanReport, i int) {
		if sortPorts {
			r.SortPorts()
		}

		// Callbacks overlap when several targets run at once.
		mu.Lock()
		defer mu.Unlock()
		reports[i] = r
		if writeErr == nil {
			_, writeErr = w.Write(r)
		}
	})
	if writeErr != nil {
		return reports, fmt.Errorf("%w: %w", errWriteReport, writeErr)
	}
	return reports, err
}

// openOutput returns the report file, or stdout when none is configured.
func openOutput(cfg *config.Config, stdout io.Writer) (io.Writer, func(), error) {
	if cfg.ReportFile == "" {
		return stdout, func() {}, nil
	}

	dir := filepath.Dir(cfg.ReportFile)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Reports reveal the network layout; keep them owner-readable only.
	f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// newReportWriter picks the writer for the requested format.
func newReportWriter(cfg *config.Config, output io.Writer) report.Writer {
	switch {
	case cfg.JSONReport:
		return report.NewJSONWriter(output, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case cfg.MarkdownReport:
		return report.NewMarkdownWriter(output, report.WithMarkdownHideFiltered(cfg.HideFiltered))
	default:
		return report.NewSimpleWriter(output,
			report.WithHideFiltered(cfg.HideFiltered),
			report.WithVerbose(cfg.Verbose),
		)
	}
}
