package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/tcprecon/internal/metrics"
	"github.com/nao1215/tcprecon/internal/model"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency is the number of targets scanned at once unless
// configured otherwise.
const DefaultBatchConcurrency = 1

// BatchProcessor handles concurrent processing of multiple targets.
// It uses errgroup to manage goroutines and respect concurrency limits.
// Connections across all targets stay bounded by the admission limiter
// shared by the pipelines the factory builds.
type BatchProcessor struct {
	// pipelineFactory creates a new pipeline for each target, so per-target
	// port sets can differ.
	pipelineFactory func(target string) *Pipeline

	// concurrency is the maximum number of concurrent target scans.
	concurrency int

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent target scans.
// Non-positive values are ignored.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithBatchMetrics counts targets by outcome.
func WithBatchMetrics(m *metrics.Metrics) BatchOption {
	return func(b *BatchProcessor) {
		b.metrics = m
	}
}

// NewBatchProcessor creates a new BatchProcessor.
func NewBatchProcessor(pipelineFactory func(target string) *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     DefaultBatchConcurrency,
	}

	for _, opt := range opts {
		opt(bp)
	}

	if bp.logger == nil {
		bp.logger = slog.Default()
	}

	return bp
}

// scan runs one target through a fresh pipeline. The error is kept in
// the report.
func (bp *BatchProcessor) scan(ctx context.Context, target string) *model.ScanReport {
	report := model.NewScanReport(target)
	if err := bp.pipelineFactory(target).Execute(ctx, report); err != nil {
		bp.logger.Warn("scan failed",
			"target", target,
			"error", err,
		)
	}
	bp.metrics.ObserveTarget(report.Error)
	return report
}

// ProcessBatch scans targets concurrently and returns one report per
// target in the order of targets. A failed target does not stop the
// others; its report carries the error.
//
// The error return is non-nil only when ctx was cancelled; reports for
// targets that never started are nil.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, targets []string) ([]*model.ScanReport, error) {
	bp.logger.Debug("starting batch processing",
		"total_targets", len(targets),
		"concurrency", bp.concurrency,
	)

	startTime := time.Now()
	results := make([]*model.ScanReport, len(targets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, target := range targets {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			// Each goroutine owns results[i].
			results[i] = bp.scan(ctx, target)
			return nil
		})
	}

	err := g.Wait()

	bp.logger.Debug("batch processing complete",
		"total_targets", len(targets),
		"elapsed", time.Since(startTime),
	)

	return results, err
}

// ProcessBatchWithCallback scans targets and calls callback for each
// completed report with the index of its target. Callbacks run on the
// scanning goroutines and may overlap when concurrency is above one.
func (bp *BatchProcessor) ProcessBatchWithCallback(
	ctx context.Context,
	targets []string,
	callback func(report *model.ScanReport, index int),
) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, target := range targets {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			callback(bp.scan(ctx, target), i)
			return nil
		})
	}

	return g.Wait()
}
