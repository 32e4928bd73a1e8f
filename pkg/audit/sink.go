// Package audit records every field mutation made during a cleaning run and
// persists the trail to a durable sink.
package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/connector"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// Sink is durable storage for resolution entries
type Sink interface {
	// Ping verifies the sink is reachable and writable
	Ping(ctx context.Context) error

	// Write persists a whole run atomically: all entries or none
	Write(ctx context.Context, runID string, entries []model.ResolutionEntry) error

	// QueryByRowID returns every stored entry for a row, oldest run first
	QueryByRowID(ctx context.Context, rowID string) ([]model.ResolutionEntry, error)

	// Close releases the sink's resources
	Close() error
}

// StoredEntry is a resolution entry as persisted, tagged with its run
type StoredEntry struct {
	RunID      string `json:"run_id" db:"run_id"`
	RecordedAt string `json:"recorded_at" db:"recorded_at"`
	model.ResolutionEntry
}

// OpenSink builds the sink selected by the configuration
func OpenSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Sink, error) {
	if cfg.Audit == nil {
		return nil, fmt.Errorf("audit sink configuration is missing")
	}

	if cfg.Audit.Driver == config.DriverFile {
		return NewFileSink(cfg.Audit.FilePath, logger), nil
	}

	conn, err := connector.NewConnectorFactory(cfg, logger).CreateAuditConnector(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAuditSinkUnavailable, err)
	}

	sink, err := NewSQLSink(ctx, conn, cfg.Audit.Table, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sink, nil
}

func recordedAt() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
