package pipeline

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/cleaner"
	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// ErrVerificationFailed means the assembled run does not account for its input
var ErrVerificationFailed = errors.New("run verification failed")

// Integrity issue types
const (
	IssueRowCount        = "row_count"
	IssueInvariant       = "invariant"
	IssueMissingReject   = "missing_reject_entry"
	IssueAuditSequence   = "audit_sequence"
	IssueOrphanAuditRows = "orphan_audit_entry"
)

// IntegrityIssue represents one failed check
type IntegrityIssue struct {
	IssueType   string
	Description string
	RowID       string
	Ordinal     int
}

// VerificationReport contains the results of a run verification
type VerificationReport struct {
	VerificationTime time.Time
	RowsRead         int
	RowsAccepted     int
	RowsRejected     int
	AuditEntries     int
	RowCountMatches  bool
	IntegrityIssues  []IntegrityIssue
	Duration         time.Duration
}

// Passed reports whether every check succeeded
func (r *VerificationReport) Passed() bool {
	return r.RowCountMatches && len(r.IntegrityIssues) == 0
}

// Err returns ErrVerificationFailed with the first issue, or nil
func (r *VerificationReport) Err() error {
	if r.Passed() {
		return nil
	}
	if !r.RowCountMatches {
		return fmt.Errorf("%w: read %d rows, routed %d accepted and %d rejected",
			ErrVerificationFailed, r.RowsRead, r.RowsAccepted, r.RowsRejected)
	}
	first := r.IntegrityIssues[0]
	return fmt.Errorf("%w: %s (%d issues)", ErrVerificationFailed, first.Description, len(r.IntegrityIssues))
}

// Verifier checks a finished run before anything is published
type Verifier struct {
	cfg    *config.EngineConfig
	logger *zap.Logger
}

// NewVerifier creates a new verifier
func NewVerifier(cfg *config.EngineConfig, logger *zap.Logger) *Verifier {
	return &Verifier{cfg: cfg, logger: logger}
}

// Verify checks conservation of rows, the invariants of every cleaned row and
// the shape of the audit trail. Entries must be ordered by (ordinal, seq).
func (v *Verifier) Verify(
	rowsRead int,
	cleaned []model.CleanedRecord,
	rejected []model.RejectedRecord,
	entries []model.ResolutionEntry,
) *VerificationReport {
	startTime := time.Now()
	report := &VerificationReport{
		VerificationTime: startTime,
		RowsRead:         rowsRead,
		RowsAccepted:     len(cleaned),
		RowsRejected:     len(rejected),
		AuditEntries:     len(entries),
		RowCountMatches:  rowsRead == len(cleaned)+len(rejected),
		IntegrityIssues:  make([]IntegrityIssue, 0),
	}

	for _, rec := range cleaned {
		if inv := cleaner.BrokenInvariant(rec.Record, v.cfg); inv != "" {
			report.IntegrityIssues = append(report.IntegrityIssues, IntegrityIssue{
				IssueType:   IssueInvariant,
				Description: fmt.Sprintf("cleaned row %s violates %s", rec.RowID, inv),
				RowID:       rec.RowID,
				Ordinal:     rec.Ordinal,
			})
		}
	}

	report.IntegrityIssues = append(report.IntegrityIssues, v.checkAuditTrail(rejected, entries)...)
	report.Duration = time.Since(startTime)

	if report.Passed() {
		v.logger.Info("Run verification successful",
			zap.Int("rowsRead", rowsRead),
			zap.Int("auditEntries", len(entries)))
	} else {
		v.logger.Warn("Run verification found issues",
			zap.Bool("rowCountMatches", report.RowCountMatches),
			zap.Int("issues", len(report.IntegrityIssues)))
	}
	return report
}

// checkAuditTrail verifies that per-row sequences are contiguous from zero, that
// every entry belongs to a routed row and that every rejected row ends with a
// reject entry
func (v *Verifier) checkAuditTrail(rejected []model.RejectedRecord, entries []model.ResolutionEntry) []IntegrityIssue {
	issues := make([]IntegrityIssue, 0)
	last := make(map[int]model.ResolutionEntry)
	next := make(map[int]int)

	for _, e := range entries {
		if e.Seq != next[e.Ordinal] {
			issues = append(issues, IntegrityIssue{
				IssueType:   IssueAuditSequence,
				Description: fmt.Sprintf("row %s entry seq %d, expected %d", e.RowID, e.Seq, next[e.Ordinal]),
				RowID:       e.RowID,
				Ordinal:     e.Ordinal,
			})
		}
		next[e.Ordinal] = e.Seq + 1
		last[e.Ordinal] = e
	}

	rejectedAt := make(map[int]bool, len(rejected))
	for _, rec := range rejected {
		rejectedAt[rec.Ordinal] = true
		e, ok := last[rec.Ordinal]
		if !ok || e.RuleID != model.RuleReject {
			issues = append(issues, IntegrityIssue{
				IssueType:   IssueMissingReject,
				Description: fmt.Sprintf("rejected row %s has no terminal reject entry", rec.RowID),
				RowID:       rec.RowID,
				Ordinal:     rec.Ordinal,
			})
		}
	}

	for ordinal, e := range last {
		if e.RuleID == model.RuleReject && !rejectedAt[ordinal] {
			issues = append(issues, IntegrityIssue{
				IssueType:   IssueOrphanAuditRows,
				Description: fmt.Sprintf("row %s has a reject entry but was not rejected", e.RowID),
				RowID:       e.RowID,
				Ordinal:     ordinal,
			})
		}
	}
	return issues
}
