// Package pipeline runs a complete cleaning pass over one input file: it fans
// rows out to a worker pool, assembles and verifies the outputs, flushes the
// audit trail and only then publishes the tables.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/David-Botos/policy-cleaner/pkg/assembler"
	"github.com/David-Botos/policy-cleaner/pkg/audit"
	"github.com/David-Botos/policy-cleaner/pkg/cleaner"
	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/dataset"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// Runner manages a cleaning run
type Runner struct {
	cfg         *config.Config
	engine      *config.EngineConfig
	sink        audit.Sink
	logger      *zap.Logger
	workerCount int
	mem         memory.Allocator
}

// NewRunner creates a runner. The sink is owned by the caller.
func NewRunner(cfg *config.Config, engine *config.EngineConfig, sink audit.Sink, logger *zap.Logger) (*Runner, error) {
	if cfg == nil || engine == nil {
		return nil, errors.New("configuration cannot be nil")
	}
	if sink == nil {
		return nil, errors.New("audit sink cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	workerCount := cfg.WorkerPoolSize
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}

	return &Runner{
		cfg:         cfg,
		engine:      engine,
		sink:        sink,
		logger:      logger,
		workerCount: workerCount,
		mem:         memory.DefaultAllocator,
	}, nil
}

// WithWorkerCount sets the number of worker goroutines
func (r *Runner) WithWorkerCount(count int) *Runner {
	if count > 0 {
		r.workerCount = count
	}
	return r
}

// WithAllocator sets the arrow allocator used for the output tables
func (r *Runner) WithAllocator(mem memory.Allocator) *Runner {
	if mem != nil {
		r.mem = mem
	}
	return r
}

// Run cleans the input file. Outputs are published only after the audit trail
// has been written to the sink; on any error nothing is published.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	runID := uuid.NewString()
	logger := r.logger.With(zap.String("runId", runID))

	logger.Info("Starting cleaning run",
		zap.String("input", r.cfg.InputPath),
		zap.String("outputDir", r.cfg.OutputDir),
		zap.Int("workers", r.workerCount))

	if err := r.sink.Ping(ctx); err != nil {
		if errors.Is(err, model.ErrAuditSinkUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", model.ErrAuditSinkUnavailable, err)
	}

	auditLog := audit.NewLogger(r.sink, runID, logger.Named("audit"))
	defer auditLog.Close()

	dataCleaner, err := cleaner.NewDataCleaner(r.engine, auditLog, logger.Named("cleaner"))
	if err != nil {
		return nil, fmt.Errorf("failed to create data cleaner: %w", err)
	}

	metrics := NewRunMetrics(logger)
	errorHandler := NewErrorHandler(logger)
	asm := assembler.New(r.engine, r.mem)

	rowsRead, err := r.process(ctx, dataCleaner, asm, errorHandler, metrics)
	if err != nil {
		return nil, err
	}
	metrics.SetRowsRead(rowsRead)

	entries := auditLog.Close()
	report := NewVerifier(r.engine, logger).Verify(rowsRead, asm.Cleaned(), asm.Rejected(), entries)
	if err := report.Err(); err != nil {
		return nil, err
	}

	tables, err := asm.Build(rowsRead, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble outputs: %w", err)
	}
	defer tables.Release()

	publisher, err := dataset.NewPublisher(r.cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	if err := r.stage(publisher, tables); err != nil {
		publisher.Abort()
		return nil, err
	}

	flushCtx := ctx
	if r.cfg.Audit != nil && r.cfg.Audit.WriteTimeout > 0 {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(ctx, r.cfg.Audit.WriteTimeout)
		defer cancel()
	}
	if err := auditLog.Flush(flushCtx); err != nil {
		publisher.Abort()
		logger.Error("Audit trail could not be persisted, discarding outputs", zap.Error(err))
		return nil, fmt.Errorf("failed to flush audit trail: %w", err)
	}

	outputs := publisher.Paths()
	if err := publisher.Commit(); err != nil {
		return nil, err
	}

	metrics.Complete()
	if r.cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(r.cfg.MetricsTextfile); err != nil {
			logger.Warn("Failed to export metrics", zap.Error(err))
		}
	}

	summary := metrics.GenerateSummary(runID, errorHandler.GetErrorSummary())
	summary.ErrorSamples = SampleErrors(errorHandler.GetErrorSamples())
	summary.Outputs = outputs

	logger.Info("Cleaning run completed",
		zap.Int("rowsRead", summary.RowsRead),
		zap.Int("rowsAccepted", summary.RowsAccepted),
		zap.Int("rowsRejected", summary.RowsRejected),
		zap.Int("auditEntries", summary.AuditEntries),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// process streams the input into the worker pool and waits for every row to be routed
func (r *Runner) process(
	ctx context.Context,
	dataCleaner *cleaner.DataCleaner,
	asm *assembler.Assembler,
	errorHandler *ErrorHandler,
	metrics *RunMetrics,
) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan RowJob, r.workerCount*10) // Buffer size is 10x worker count

	var rowsRead int
	g.Go(func() error {
		defer close(jobs)

		n, err := dataset.ForEachRecord(gctx, r.cfg.InputPath, r.readerOptions(), func(raw model.RawRecord) error {
			select {
			case jobs <- NewRowJob(raw):
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
		rowsRead = n
		if err != nil {
			errorHandler.HandleError(NewErrorRecord(err, ErrorCategoryInput))
			return fmt.Errorf("failed to read input: %w", err)
		}
		return nil
	})

	for i := 0; i < r.workerCount; i++ {
		worker := NewWorker(i, dataCleaner, asm, errorHandler, metrics, r.logger)
		g.Go(func() error {
			return worker.Start(gctx, jobs)
		})
	}

	if err := g.Wait(); err != nil {
		return rowsRead, err
	}
	return rowsRead, nil
}

func (r *Runner) readerOptions() dataset.ReaderOptions {
	return dataset.ReaderOptions{
		Format:     r.cfg.ResolveInputFormat(),
		Delimiter:  r.cfg.CSVDelimiter,
		NullTokens: r.cfg.NullTokens,
	}
}

// stage writes the three tables to temporary files in the output directory
func (r *Runner) stage(publisher *dataset.Publisher, tables *assembler.Tables) error {
	write, ext, err := dataset.WriterFor(r.cfg.OutputFormat)
	if err != nil {
		return err
	}

	outputs := []struct {
		name string
		rec  arrow.Record
	}{
		{dataset.TableCleaned, tables.Cleaned},
		{dataset.TableRejects, tables.Rejects},
		{dataset.TableAudit, tables.Audit},
	}
	for _, out := range outputs {
		rec := out.rec
		if err := publisher.Stage(out.name+ext, func(w io.Writer) error { return write(w, rec) }); err != nil {
			return err
		}
	}
	return nil
}
