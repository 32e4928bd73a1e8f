package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/assembler"
	"github.com/David-Botos/policy-cleaner/pkg/audit"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// Action defines the recommended action after an error
type Action int

const (
	// ActionContinue indicates processing should continue despite the error
	ActionContinue Action = iota
	// ActionSkipRow indicates the current row goes to the rejects output
	ActionSkipRow
	// ActionAbort indicates the entire run should be aborted
	ActionAbort
)

// String returns a string representation of the action
func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "Continue"
	case ActionSkipRow:
		return "SkipRow"
	case ActionAbort:
		return "Abort"
	default:
		return fmt.Sprintf("Unknown(%d)", a)
	}
}

// ErrorCategory defines categories of errors during a run
type ErrorCategory int

const (
	// Error categories with increasing severity
	ErrorCategoryNone ErrorCategory = iota
	ErrorCategoryValidation
	ErrorCategoryDateParse
	ErrorCategoryContradiction
	ErrorCategoryInput
	ErrorCategoryAuditSink
	ErrorCategoryCritical
)

// String returns a string representation of the error category
func (ec ErrorCategory) String() string {
	switch ec {
	case ErrorCategoryNone:
		return "None"
	case ErrorCategoryValidation:
		return "Validation"
	case ErrorCategoryDateParse:
		return "DateParse"
	case ErrorCategoryContradiction:
		return "Contradiction"
	case ErrorCategoryInput:
		return "Input"
	case ErrorCategoryAuditSink:
		return "AuditSink"
	case ErrorCategoryCritical:
		return "Critical"
	default:
		return fmt.Sprintf("Unknown(%d)", ec)
	}
}

// RowLevel reports whether the category only affects a single row
func (ec ErrorCategory) RowLevel() bool {
	return ec > ErrorCategoryNone && ec < ErrorCategoryInput
}

// ErrorRecord represents a single error during a run
type ErrorRecord struct {
	Category  ErrorCategory
	RowID     string
	Ordinal   int
	Reason    string
	Error     error
	Message   string // Derived from Error but stored for serialization
	Timestamp time.Time
}

// NewErrorRecord creates a new error record with current timestamp
func NewErrorRecord(err error, category ErrorCategory) ErrorRecord {
	record := ErrorRecord{
		Category:  category,
		Error:     err,
		Ordinal:   -1,
		Timestamp: time.Now(),
	}
	if err != nil {
		record.Message = err.Error()
	}
	return record
}

// WithRow adds row information to the error record
func (r ErrorRecord) WithRow(rowID string, ordinal int) ErrorRecord {
	r.RowID = rowID
	r.Ordinal = ordinal
	return r
}

// WithReason adds the reject reason to the error record
func (r ErrorRecord) WithReason(reason string) ErrorRecord {
	r.Reason = reason
	return r
}

// String returns a formatted error message
func (r ErrorRecord) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] ", r.Category))
	if r.RowID != "" {
		sb.WriteString(fmt.Sprintf("Row: %s (#%d) ", r.RowID, r.Ordinal))
	}
	if r.Reason != "" {
		sb.WriteString(fmt.Sprintf("Reason: %s ", r.Reason))
	}
	sb.WriteString(r.Message)
	return sb.String()
}

// ErrorHandler categorizes errors, decides what to do about them and keeps
// counts and samples for the run summary
type ErrorHandler struct {
	logger       *zap.Logger
	errorCounts  map[ErrorCategory]int
	sampleErrors map[ErrorCategory][]ErrorRecord
	mu           sync.Mutex
	maxSamples   int
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger,
		errorCounts:  make(map[ErrorCategory]int),
		sampleErrors: make(map[ErrorCategory][]ErrorRecord),
		maxSamples:   5, // Store up to 5 sample errors per category
	}
}

// CategorizeError determines the category of an error
func (eh *ErrorHandler) CategorizeError(err error) ErrorCategory {
	var category ErrorCategory

	switch {
	case err == nil:
		return ErrorCategoryNone
	case errors.Is(err, model.ErrInvalidSchema):
		category = ErrorCategoryValidation
	case errors.Is(err, model.ErrAmbiguousDate), errors.Is(err, model.ErrUnparseableDate):
		category = ErrorCategoryDateParse
	case errors.Is(err, model.ErrContradictionUnresolved):
		category = ErrorCategoryContradiction
	case errors.Is(err, model.ErrAuditSinkUnavailable), errors.Is(err, audit.ErrLoggerClosed):
		category = ErrorCategoryAuditSink
	case errors.Is(err, assembler.ErrDuplicateRow), errors.Is(err, assembler.ErrIncompleteBatch):
		category = ErrorCategoryCritical
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		category = ErrorCategoryCritical
	default:
		category = ErrorCategoryInput
	}

	if eh.logger != nil {
		eh.logger.Debug("Categorized error",
			zap.String("error", err.Error()),
			zap.String("category", category.String()))
	}
	return category
}

// HandleError records an error and determines the action
func (eh *ErrorHandler) HandleError(record ErrorRecord) Action {
	eh.RecordError(record)

	switch {
	case record.Category == ErrorCategoryNone:
		return ActionContinue
	case record.Category.RowLevel():
		return ActionSkipRow
	default:
		if eh.logger != nil {
			eh.logger.Error("Aborting run",
				zap.String("category", record.Category.String()),
				zap.String("rowId", record.RowID),
				zap.String("error", record.Message))
		}
		return ActionAbort
	}
}

// RecordError adds an error to the counts and samples
func (eh *ErrorHandler) RecordError(record ErrorRecord) {
	if record.Category == ErrorCategoryNone {
		return
	}

	eh.mu.Lock()
	defer eh.mu.Unlock()

	eh.errorCounts[record.Category]++
	if len(eh.sampleErrors[record.Category]) < eh.maxSamples {
		eh.sampleErrors[record.Category] = append(eh.sampleErrors[record.Category], record)
	}
}

// GetErrorSummary returns the number of errors per category
func (eh *ErrorHandler) GetErrorSummary() map[ErrorCategory]int {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	summary := make(map[ErrorCategory]int, len(eh.errorCounts))
	for k, v := range eh.errorCounts {
		summary[k] = v
	}
	return summary
}

// GetErrorSamples returns up to maxSamples errors per category
func (eh *ErrorHandler) GetErrorSamples() map[ErrorCategory][]ErrorRecord {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	samples := make(map[ErrorCategory][]ErrorRecord, len(eh.sampleErrors))
	for k, v := range eh.sampleErrors {
		samples[k] = append([]ErrorRecord(nil), v...)
	}
	return samples
}
