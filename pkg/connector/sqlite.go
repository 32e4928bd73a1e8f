package connector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/David-Botos/policy-cleaner/pkg/config"
)

// SQLiteConnector implements the DatabaseConnector interface for a local SQLite file
type SQLiteConnector struct {
	db     *sqlx.DB
	logger *zap.Logger
	path   string
}

// NewSQLiteConnector opens (creating if needed) the SQLite database at path
func NewSQLiteConnector(ctx context.Context, path string, logger *zap.Logger) (*SQLiteConnector, error) {
	logger = logger.Named("sqlite")
	logger.Info("Opening SQLite database", zap.String("path", path))

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite connection: %w", err)
	}

	// A single connection serialises writers and keeps :memory: databases alive
	ApplyConnectionSettings(db.DB, 1, 1, 0, 0)

	if err := PingWithTimeout(ctx, db.DB, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &SQLiteConnector{db: db, logger: logger, path: path}, nil
}

// DB returns the underlying database connection
func (c *SQLiteConnector) DB() *sqlx.DB {
	return c.db
}

// Name identifies the backend
func (c *SQLiteConnector) Name() string {
	return config.DriverSQLite
}

// Validate checks the database answers queries
func (c *SQLiteConnector) Validate(ctx context.Context) error {
	var version string
	if err := c.db.GetContext(ctx, &version, "SELECT sqlite_version()"); err != nil {
		return fmt.Errorf("failed to query SQLite version: %w", err)
	}
	c.logger.Info("Connected to SQLite", zap.String("version", version), zap.String("path", c.path))
	return nil
}

// Close closes the database connection
func (c *SQLiteConnector) Close() error {
	c.logger.Info("Closing SQLite database")
	return c.db.Close()
}
