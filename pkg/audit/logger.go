package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// ErrLoggerClosed is returned when entries are submitted after Close
var ErrLoggerClosed = errors.New("audit logger closed")

// Logger collects entries from concurrent workers through a channel drained by
// a single goroutine. Nothing reaches the sink until Flush.
type Logger struct {
	sink   Sink
	runID  string
	logger *zap.Logger

	ch   chan []model.ResolutionEntry
	done chan struct{}

	mu      sync.RWMutex
	closed  bool
	entries []model.ResolutionEntry
}

// NewLogger starts the collector for one run
func NewLogger(sink Sink, runID string, logger *zap.Logger) *Logger {
	l := &Logger{
		sink:   sink,
		runID:  runID,
		logger: logger,
		ch:     make(chan []model.ResolutionEntry, 256),
		done:   make(chan struct{}),
	}
	go l.collect()
	return l
}

// RunID returns the identifier the entries are stored under
func (l *Logger) RunID() string {
	return l.runID
}

func (l *Logger) collect() {
	defer close(l.done)
	for batch := range l.ch {
		l.entries = append(l.entries, batch...)
	}
}

// Submit queues the entries of one row. It is safe for concurrent use.
func (l *Logger) Submit(entries []model.ResolutionEntry) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrLoggerClosed
	}
	if len(entries) > 0 {
		l.ch <- append([]model.ResolutionEntry(nil), entries...)
	}
	return nil
}

// Close stops accepting entries, waits for the queue to drain and returns the
// collected entries ordered by row position then submission sequence
func (l *Logger) Close() []model.ResolutionEntry {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	l.mu.Unlock()

	<-l.done
	sort.SliceStable(l.entries, func(i, j int) bool {
		if l.entries[i].Ordinal != l.entries[j].Ordinal {
			return l.entries[i].Ordinal < l.entries[j].Ordinal
		}
		return l.entries[i].Seq < l.entries[j].Seq
	})
	return l.entries
}

// Flush writes the collected entries to the sink in one transaction. It closes
// the logger first if needed.
func (l *Logger) Flush(ctx context.Context) error {
	entries := l.Close()

	l.logger.Info("Flushing audit trail",
		zap.String("runId", l.runID),
		zap.Int("entries", len(entries)))

	if err := l.sink.Write(ctx, l.runID, entries); err != nil {
		if errors.Is(err, model.ErrAuditSinkUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", model.ErrAuditSinkUnavailable, err)
	}
	return nil
}
