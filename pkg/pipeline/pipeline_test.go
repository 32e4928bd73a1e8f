package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/audit"
	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const policiesCSV = "policy_id;contract_start_date;contract_end_date;lapse_status;lapse_date\n" +
	"P1;2023-01-01;2023-12-31;0;\n" +
	"P2;2023-12-31;2023-01-01;1;2023-06-01\n" +
	"P3;;2023-12-31;1;2023-06-01\n" +
	"P4;2023-01-01;2023-12-31;1;\n" +
	"P5;2023-01-01;2023-06-30;1;2024-01-15\n"

func newConfig(t *testing.T, input string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.csv")
	require.NoError(t, os.WriteFile(path, []byte(input), 0o644))

	return &config.Config{
		InputPath:      path,
		CSVDelimiter:   ';',
		NullTokens:     []string{"NA"},
		OutputDir:      filepath.Join(dir, "out"),
		OutputFormat:   config.FormatCSV,
		WorkerPoolSize: 4,
		Audit: &config.AuditSinkConfig{
			Driver:   config.DriverFile,
			FilePath: filepath.Join(dir, "audit", "audit.jsonl"),
		},
	}
}

func newRunner(t *testing.T, cfg *config.Config, sink audit.Sink) *Runner {
	t.Helper()
	r, err := NewRunner(cfg, config.DefaultEngineConfig(), sink, zap.NewNop())
	require.NoError(t, err)
	return r
}

// failingSink accepts pings but can be told to fail either call
type failingSink struct {
	pingErr  error
	writeErr error
}

func (s *failingSink) Ping(context.Context) error { return s.pingErr }
func (s *failingSink) Write(context.Context, string, []model.ResolutionEntry) error {
	return s.writeErr
}
func (s *failingSink) QueryByRowID(context.Context, string) ([]model.ResolutionEntry, error) {
	return nil, nil
}
func (s *failingSink) Close() error { return nil }

func TestRunner_Run(t *testing.T) {
	t.Parallel()

	t.Run("Should publish every output and persist the audit trail", func(t *testing.T) {
		t.Parallel()
		cfg := newConfig(t, policiesCSV)
		cfg.MetricsTextfile = filepath.Join(t.TempDir(), "policy_cleaner.prom")
		sink := audit.NewFileSink(cfg.Audit.FilePath, zap.NewNop())

		summary, err := newRunner(t, cfg, sink).Run(t.Context())
		require.NoError(t, err)

		assert.Equal(t, 5, summary.RowsRead)
		assert.Equal(t, 3, summary.RowsAccepted)
		assert.Equal(t, 2, summary.RowsRejected)
		assert.Equal(t, map[string]int{
			"missing_required_field:contract_start_date": 1,
			model.RuleLapseDateOutOfRange:                1,
		}, summary.RejectsByReason)
		assert.Equal(t, 1, summary.RuleFirings[model.RuleSwapStartEnd])
		assert.Equal(t, 1, summary.RuleFirings[model.RuleLapseRequiresDate])
		assert.Equal(t, 2, summary.RuleFirings[model.RuleReject])
		require.Len(t, summary.ErrorSamples[ErrorCategoryValidation.String()], 1)
		assert.Equal(t, "P3", summary.ErrorSamples[ErrorCategoryValidation.String()][0].RowID)
		contradictions := summary.ErrorSamples[ErrorCategoryContradiction.String()]
		require.Len(t, contradictions, 1)
		assert.Equal(t, 4, contradictions[0].Ordinal)
		assert.Equal(t, model.RuleLapseDateOutOfRange, contradictions[0].Reason)
		assert.Contains(t, summary.Report(), "Error Samples")
		assert.Contains(t, summary.Report(), "Contradiction P5 (lapse_date_out_of_range)")
		assert.Len(t, summary.Outputs, 3)

		cleaned, err := os.ReadFile(filepath.Join(cfg.OutputDir, "cleaned.csv"))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(cleaned)), "\n")
		require.Len(t, lines, 4)
		assert.Equal(t, "row_id,policy_id,contract_start_date,contract_end_date,lapse_status,lapse_date,flags", lines[0])
		assert.Equal(t, "P1,P1,2023-01-01,2023-12-31,ACTIVE,,", lines[1])
		assert.Equal(t, "P2,P2,2023-01-01,2023-12-31,LAPSED,2023-06-01,", lines[2])
		assert.Equal(t, "P4,P4,2023-01-01,2023-12-31,UNKNOWN,,", lines[3])

		rejects, err := os.ReadFile(filepath.Join(cfg.OutputDir, "rejects.csv"))
		require.NoError(t, err)
		assert.Contains(t, string(rejects), "P3,2,missing_required_field:contract_start_date")
		assert.Contains(t, string(rejects), "P5,4,lapse_date_out_of_range")

		stored, err := sink.QueryByRowID(t.Context(), "P2")
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, model.RuleCoerceStatus, stored[0].RuleID)
		assert.Equal(t, model.RuleSwapStartEnd, stored[1].RuleID)

		prom, err := os.ReadFile(cfg.MetricsTextfile)
		require.NoError(t, err)
		assert.Contains(t, string(prom), `policy_cleaner_rows_total{outcome="accepted"} 3`)
	})

	t.Run("Should produce identical outputs across runs", func(t *testing.T) {
		t.Parallel()
		first := newConfig(t, policiesCSV)
		second := newConfig(t, policiesCSV)

		_, err := newRunner(t, first, audit.NewFileSink(first.Audit.FilePath, zap.NewNop())).Run(t.Context())
		require.NoError(t, err)
		_, err = newRunner(t, second, audit.NewFileSink(second.Audit.FilePath, zap.NewNop())).
			WithWorkerCount(1).Run(t.Context())
		require.NoError(t, err)

		for _, name := range []string{"cleaned.csv", "rejects.csv", "audit.csv"} {
			a, err := os.ReadFile(filepath.Join(first.OutputDir, name))
			require.NoError(t, err)
			b, err := os.ReadFile(filepath.Join(second.OutputDir, name))
			require.NoError(t, err)
			assert.Equal(t, string(a), string(b), name)
		}
	})

	t.Run("Should publish an empty rejects table", func(t *testing.T) {
		t.Parallel()
		cfg := newConfig(t, "policy_id;contract_start_date;contract_end_date;lapse_status;lapse_date\n"+
			"P1;2023-01-01;2023-12-31;0;\n")

		summary, err := newRunner(t, cfg, audit.NewFileSink(cfg.Audit.FilePath, zap.NewNop())).Run(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 0, summary.RowsRejected)

		rejects, err := os.ReadFile(filepath.Join(cfg.OutputDir, "rejects.csv"))
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(string(rejects), "\n"))
	})

	t.Run("Should fail fast when the sink is unreachable", func(t *testing.T) {
		t.Parallel()
		cfg := newConfig(t, policiesCSV)
		sink := &failingSink{pingErr: errors.New("connection refused")}

		_, err := newRunner(t, cfg, sink).Run(t.Context())
		assert.ErrorIs(t, err, model.ErrAuditSinkUnavailable)
		assert.NoDirExists(t, cfg.OutputDir)
	})

	t.Run("Should publish nothing when the audit flush fails", func(t *testing.T) {
		t.Parallel()
		cfg := newConfig(t, policiesCSV)
		sink := &failingSink{writeErr: errors.New("disk full")}

		_, err := newRunner(t, cfg, sink).Run(t.Context())
		assert.ErrorIs(t, err, model.ErrAuditSinkUnavailable)

		entries, err := os.ReadDir(cfg.OutputDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("Should abort on an unreadable input", func(t *testing.T) {
		t.Parallel()
		cfg := newConfig(t, "a;a\n1;2\n")

		_, err := newRunner(t, cfg, &failingSink{}).Run(t.Context())
		assert.ErrorIs(t, err, model.ErrInvalidSchema)
		assert.NoDirExists(t, cfg.OutputDir)
	})
}

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		category ErrorCategory
		action   Action
	}{
		{"invalid schema", model.ErrInvalidSchema, ErrorCategoryValidation, ActionSkipRow},
		{"ambiguous date", model.ErrAmbiguousDate, ErrorCategoryDateParse, ActionSkipRow},
		{"contradiction", model.ErrContradictionUnresolved, ErrorCategoryContradiction, ActionSkipRow},
		{"sink", fmt.Errorf("flush: %w", model.ErrAuditSinkUnavailable), ErrorCategoryAuditSink, ActionAbort},
		{"closed logger", audit.ErrLoggerClosed, ErrorCategoryAuditSink, ActionAbort},
		{"cancelled", context.Canceled, ErrorCategoryCritical, ActionAbort},
		{"other", errors.New("read failed"), ErrorCategoryInput, ActionAbort},
	}

	for _, tc := range cases {
		t.Run("Should categorize "+tc.name, func(t *testing.T) {
			t.Parallel()
			eh := NewErrorHandler(zap.NewNop())
			category := eh.CategorizeError(tc.err)
			assert.Equal(t, tc.category, category)
			assert.Equal(t, tc.action, eh.HandleError(NewErrorRecord(tc.err, category)))
			assert.Equal(t, 1, eh.GetErrorSummary()[category])
		})
	}

	t.Run("Should keep a bounded number of samples", func(t *testing.T) {
		t.Parallel()
		eh := NewErrorHandler(nil)
		for i := 0; i < 20; i++ {
			eh.RecordError(NewErrorRecord(model.ErrAmbiguousDate, ErrorCategoryDateParse))
		}
		assert.Equal(t, 20, eh.GetErrorSummary()[ErrorCategoryDateParse])
		assert.Len(t, eh.GetErrorSamples()[ErrorCategoryDateParse], 5)
	})

	t.Run("Should report samples in input order", func(t *testing.T) {
		t.Parallel()
		eh := NewErrorHandler(nil)
		eh.RecordError(NewErrorRecord(model.ErrAmbiguousDate, ErrorCategoryDateParse).WithRow("P9", 9).WithReason("dates_usable"))
		eh.RecordError(NewErrorRecord(model.ErrAmbiguousDate, ErrorCategoryDateParse).WithRow("", 2))

		samples := SampleErrors(eh.GetErrorSamples())
		require.Len(t, samples["DateParse"], 2)
		assert.Equal(t, 2, samples["DateParse"][0].Ordinal)
		assert.Equal(t, "P9", samples["DateParse"][1].RowID)

		report := (&RunSummary{ErrorSamples: samples}).Report()
		assert.Contains(t, report, "- DateParse #2: "+model.ErrAmbiguousDate.Error())
		assert.Contains(t, report, "- DateParse P9 (dates_usable): "+model.ErrAmbiguousDate.Error())
	})
}

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultEngineConfig()
	v := NewVerifier(cfg, zap.NewNop())

	consistent := model.CleanedRecord{Record: model.Record{
		RowID:   "P1",
		Ordinal: 0,
		Fields: map[string]model.Value{
			"contract_start_date": model.DateValue(mustDate(t, "2023-01-01")),
			"contract_end_date":   model.DateValue(mustDate(t, "2023-12-31")),
			"lapse_status":        model.StatusValue(model.StatusActive),
		},
	}}
	rejected := model.RejectedRecord{Record: model.Record{RowID: "P2", Ordinal: 1}}
	rejectEntry := model.ResolutionEntry{RowID: "P2", Ordinal: 1, Seq: 0, Field: model.RowField, RuleID: model.RuleReject}

	t.Run("Should pass a consistent run", func(t *testing.T) {
		t.Parallel()
		report := v.Verify(2, []model.CleanedRecord{consistent}, []model.RejectedRecord{rejected},
			[]model.ResolutionEntry{rejectEntry})
		assert.True(t, report.Passed())
		assert.NoError(t, report.Err())
	})

	t.Run("Should catch lost rows", func(t *testing.T) {
		t.Parallel()
		report := v.Verify(3, []model.CleanedRecord{consistent}, []model.RejectedRecord{rejected},
			[]model.ResolutionEntry{rejectEntry})
		assert.False(t, report.RowCountMatches)
		assert.ErrorIs(t, report.Err(), ErrVerificationFailed)
	})

	t.Run("Should catch a cleaned row that breaks an invariant", func(t *testing.T) {
		t.Parallel()
		broken := model.CleanedRecord{Record: consistent.Record.Clone()}
		broken.Fields["lapse_date"] = model.DateValue(mustDate(t, "2023-06-01"))

		report := v.Verify(1, []model.CleanedRecord{broken}, nil, nil)
		require.Len(t, report.IntegrityIssues, 1)
		assert.Equal(t, IssueInvariant, report.IntegrityIssues[0].IssueType)
	})

	t.Run("Should catch a reject without its terminal entry", func(t *testing.T) {
		t.Parallel()
		report := v.Verify(1, nil, []model.RejectedRecord{rejected}, nil)
		require.Len(t, report.IntegrityIssues, 1)
		assert.Equal(t, IssueMissingReject, report.IntegrityIssues[0].IssueType)
	})

	t.Run("Should catch gaps in the entry sequence", func(t *testing.T) {
		t.Parallel()
		gap := rejectEntry
		gap.Seq = 2
		report := v.Verify(1, nil, []model.RejectedRecord{rejected}, []model.ResolutionEntry{gap})
		require.Len(t, report.IntegrityIssues, 1)
		assert.Equal(t, IssueAuditSequence, report.IntegrityIssues[0].IssueType)
	})
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(model.CanonicalDateLayout, s)
	require.NoError(t, err)
	return d
}
