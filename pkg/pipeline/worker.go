package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/assembler"
	"github.com/David-Botos/policy-cleaner/pkg/cleaner"
)

// WorkerState represents the current state of a worker
type WorkerState string

const (
	WorkerStateIdle      WorkerState = "idle"
	WorkerStateWorking   WorkerState = "working"
	WorkerStateCompleted WorkerState = "completed"
	WorkerStateError     WorkerState = "error"
)

// Worker cleans rows taken from the job channel and routes them to the assembler
type Worker struct {
	ID           int
	dataCleaner  *cleaner.DataCleaner
	assembler    *assembler.Assembler
	errorHandler *ErrorHandler
	metrics      *RunMetrics
	logger       *zap.Logger
	state        WorkerState
	rowsHandled  int
	stateLock    sync.RWMutex
}

// NewWorker creates a new worker
func NewWorker(
	id int,
	dataCleaner *cleaner.DataCleaner,
	asm *assembler.Assembler,
	errorHandler *ErrorHandler,
	metrics *RunMetrics,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		ID:           id,
		dataCleaner:  dataCleaner,
		assembler:    asm,
		errorHandler: errorHandler,
		metrics:      metrics,
		logger:       logger.With(zap.Int("workerID", id)),
		state:        WorkerStateIdle,
	}
}

// GetState returns the current state of the worker
func (w *Worker) GetState() WorkerState {
	w.stateLock.RLock()
	defer w.stateLock.RUnlock()
	return w.state
}

// RowsHandled returns how many rows the worker has routed
func (w *Worker) RowsHandled() int {
	w.stateLock.RLock()
	defer w.stateLock.RUnlock()
	return w.rowsHandled
}

func (w *Worker) setState(state WorkerState) {
	w.stateLock.Lock()
	defer w.stateLock.Unlock()

	prevState := w.state
	w.state = state

	if prevState != state {
		w.logger.Debug("Worker state changed",
			zap.String("from", string(prevState)),
			zap.String("to", string(state)))
	}
}

// Start processes jobs until the channel is closed or the context is cancelled.
// It returns an error only when the run must be aborted.
func (w *Worker) Start(ctx context.Context, jobs <-chan RowJob) error {
	w.setState(WorkerStateWorking)
	w.logger.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Worker stopping due to context cancellation")
			w.setState(WorkerStateCompleted)
			return ctx.Err()

		case job, ok := <-jobs:
			if !ok {
				w.logger.Debug("Worker stopping due to closed job channel",
					zap.Int("rowsHandled", w.RowsHandled()))
				w.setState(WorkerStateCompleted)
				return nil
			}

			if err := w.ProcessJob(job); err != nil {
				w.setState(WorkerStateError)
				return err
			}
		}
	}
}

// ProcessJob cleans one row and hands it to the assembler
func (w *Worker) ProcessJob(job RowJob) error {
	started := time.Now()

	out, err := w.dataCleaner.CleanRow(job.Raw)
	if err != nil {
		record := NewErrorRecord(err, w.errorHandler.CategorizeError(err)).WithRow("", job.Raw.Ordinal)
		w.errorHandler.HandleError(record)
		return fmt.Errorf("failed to clean row %d: %w", job.Raw.Ordinal, err)
	}

	result := NewRowResult(out, w.ID, time.Since(started))

	if out.Cleaned != nil {
		err = w.assembler.Add(*out.Cleaned)
	} else {
		err = w.assembler.AddReject(*out.Rejected)
		record := NewErrorRecord(out.Rejected.Category, w.errorHandler.CategorizeError(out.Rejected.Category)).
			WithRow(result.RowID, result.Ordinal).
			WithReason(result.Reason)
		w.errorHandler.HandleError(record)
	}
	if err != nil {
		w.errorHandler.HandleError(NewErrorRecord(err, ErrorCategoryCritical).WithRow(result.RowID, result.Ordinal))
		return fmt.Errorf("failed to route row %d: %w", job.Raw.Ordinal, err)
	}

	w.metrics.RecordRow(result)

	w.stateLock.Lock()
	w.rowsHandled++
	w.stateLock.Unlock()
	return nil
}
