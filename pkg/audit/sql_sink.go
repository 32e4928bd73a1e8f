package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/connector"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

var auditColumns = []string{
	"run_id", "recorded_at", "row_id", "ordinal", "seq",
	"field", "original_value", "resolved_value", "rule_id", "reason",
}

var auditColumnTypes = map[string]string{
	"run_id":         "TEXT NOT NULL",
	"recorded_at":    "TEXT NOT NULL",
	"row_id":         "TEXT NOT NULL",
	"ordinal":        "INTEGER NOT NULL",
	"seq":            "INTEGER NOT NULL",
	"field":          "TEXT NOT NULL",
	"original_value": "TEXT",
	"resolved_value": "TEXT",
	"rule_id":        "TEXT NOT NULL",
	"reason":         "TEXT NOT NULL",
}

// SQLSink stores entries in a table of a SQL database
type SQLSink struct {
	conn   connector.DatabaseConnector
	table  string
	logger *zap.Logger
}

// NewSQLSink creates the audit table if needed and returns a sink writing to it
func NewSQLSink(ctx context.Context, conn connector.DatabaseConnector, table string, logger *zap.Logger) (*SQLSink, error) {
	s := &SQLSink{conn: conn, table: table, logger: logger}

	// Identifiers are always quoted so every backend keeps them lower case
	defs := make([]string, len(auditColumns))
	for i, c := range auditColumns {
		defs[i] = pq.QuoteIdentifier(c) + " " + auditColumnTypes[c]
	}
	err := connector.CreateTableIfNotExists(ctx, conn.DB(), table, defs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAuditSinkUnavailable, err)
	}

	logger.Info("Ensured audit table exists",
		zap.String("table", table),
		zap.String("backend", conn.Name()))
	return s, nil
}

// Ping verifies the database connection
func (s *SQLSink) Ping(ctx context.Context) error {
	if err := s.conn.Validate(ctx); err != nil {
		return fmt.Errorf("%w: %v", model.ErrAuditSinkUnavailable, err)
	}
	return nil
}

// Write batch inserts the entries of a run in a single transaction
func (s *SQLSink) Write(ctx context.Context, runID string, entries []model.ResolutionEntry) (err error) {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.conn.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", model.ErrAuditSinkUnavailable, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("Failed to rollback transaction",
					zap.Error(rbErr),
					zap.NamedError("cause", err))
			}
		}
	}()

	at := recordedAt()
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{
			runID, at, e.RowID, e.Ordinal, e.Seq,
			e.Field, e.OriginalValue, e.ResolvedValue, e.RuleID, e.Reason,
		}
	}

	n, err := connector.BatchInsert(ctx, tx, s.table, auditColumns, rows, 100)
	if err != nil {
		return fmt.Errorf("%w: failed to insert audit entries: %v", model.ErrAuditSinkUnavailable, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", model.ErrAuditSinkUnavailable, err)
	}

	s.logger.Info("Recorded audit entries",
		zap.String("runId", runID),
		zap.Int64("count", n))
	return nil
}

// QueryByRowID returns the stored entries of a row ordered by run, then sequence
func (s *SQLSink) QueryByRowID(ctx context.Context, rowID string) ([]model.ResolutionEntry, error) {
	db := s.conn.DB()
	selectList := make([]string, len(auditColumns))
	for i, c := range auditColumns {
		col := pq.QuoteIdentifier(c)
		if c == "original_value" || c == "resolved_value" {
			selectList[i] = "COALESCE(" + col + ", '') AS " + col
			continue
		}
		selectList[i] = col
	}
	query := db.Rebind(fmt.Sprintf(
		`SELECT %s FROM %s WHERE "row_id" = ? ORDER BY "recorded_at", "run_id", "seq"`,
		strings.Join(selectList, ", "),
		pq.QuoteIdentifier(s.table)))

	var stored []StoredEntry
	if err := db.SelectContext(ctx, &stored, query, rowID); err != nil {
		return nil, fmt.Errorf("failed to query audit entries for row %s: %w", rowID, err)
	}

	out := make([]model.ResolutionEntry, len(stored))
	for i, se := range stored {
		out[i] = se.ResolutionEntry
	}
	return out, nil
}

// Close closes the underlying connection
func (s *SQLSink) Close() error {
	return s.conn.Close()
}
