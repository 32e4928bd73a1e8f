package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/config"
)

// ConnectorFactory creates database connectors for the audit sink
type ConnectorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewConnectorFactory creates a new connector factory
func NewConnectorFactory(cfg *config.Config, logger *zap.Logger) *ConnectorFactory {
	return &ConnectorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateAuditConnector opens the database selected by the audit sink driver.
// The file driver needs no database and is rejected here.
func (f *ConnectorFactory) CreateAuditConnector(ctx context.Context) (DatabaseConnector, error) {
	if f.cfg.Audit == nil {
		return nil, fmt.Errorf("audit sink configuration is missing")
	}

	f.logger.Info("Creating audit connector", zap.String("driver", f.cfg.Audit.Driver))

	switch f.cfg.Audit.Driver {
	case config.DriverSQLite:
		conn, err := NewSQLiteConnector(ctx, f.cfg.Audit.DBPath, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite connector: %w", err)
		}
		return conn, nil
	case config.DriverPostgres:
		conn, err := NewPostgresConnector(ctx, f.cfg.Postgres, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL connector: %w", err)
		}
		return conn, nil
	case config.DriverSnowflake:
		conn, err := NewSnowflakeConnector(ctx, f.cfg.Snowflake, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Snowflake connector: %w", err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("driver %q does not use a database connector", f.cfg.Audit.Driver)
	}
}
