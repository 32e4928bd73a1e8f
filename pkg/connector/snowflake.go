package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sf "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/config"
)

// SnowflakeConnector holds the connection pool of the warehouse audit table
type SnowflakeConnector struct {
	db     *sqlx.DB
	logger *zap.Logger
	cfg    *config.SnowflakeConfig
}

// NewSnowflakeConnector opens a Snowflake pool. Session parameters such as the
// statement timeout are part of the DSN.
func NewSnowflakeConnector(ctx context.Context, cfg *config.SnowflakeConfig, logger *zap.Logger) (*SnowflakeConnector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("snowflake configuration is missing")
	}
	logger = logger.Named("snowflake")

	logger.Info("Connecting to Snowflake",
		zap.String("account", cfg.Account),
		zap.String("user", cfg.User),
		zap.String("database", cfg.Database),
		zap.String("schema", cfg.Schema),
		zap.String("warehouse", cfg.Warehouse),
		zap.String("role", cfg.Role))

	dsn, err := sf.DSN(cfg.DSNConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to build Snowflake DSN: %w", err)
	}

	db, err := sqlx.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Snowflake connection: %w", err)
	}

	ApplyConnectionSettings(db.DB, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime)

	if err := PingWithTimeout(ctx, db.DB, 10*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Snowflake: %w", err)
	}

	LogConnectionStats(logger, cfg.Database, db.DB)
	return &SnowflakeConnector{db: db, logger: logger, cfg: cfg}, nil
}

// DB returns the underlying database connection
func (c *SnowflakeConnector) DB() *sqlx.DB {
	return c.db
}

// Name identifies the backend
func (c *SnowflakeConnector) Name() string {
	return config.DriverSnowflake
}

// Validate checks the session landed in the configured database and schema
// with a running warehouse
func (c *SnowflakeConnector) Validate(ctx context.Context) error {
	var role, database, schema, warehouse sql.NullString
	err := c.db.QueryRowContext(ctx,
		"SELECT CURRENT_ROLE(), CURRENT_DATABASE(), CURRENT_SCHEMA(), CURRENT_WAREHOUSE()").
		Scan(&role, &database, &schema, &warehouse)
	if err != nil {
		return fmt.Errorf("failed to verify Snowflake session: %w", err)
	}

	if !strings.EqualFold(database.String, c.cfg.Database) {
		return fmt.Errorf("connected to database %q, expected %q", database.String, c.cfg.Database)
	}
	if !strings.EqualFold(schema.String, c.cfg.Schema) {
		return fmt.Errorf("schema %s not found in database %s", strings.ToUpper(c.cfg.Schema), database.String)
	}
	if !warehouse.Valid {
		return fmt.Errorf("no warehouse available to role %s", role.String)
	}

	c.logger.Info("Snowflake audit schema validated",
		zap.String("role", role.String),
		zap.String("schema", database.String+"."+schema.String),
		zap.String("warehouse", warehouse.String))
	return nil
}

// Close closes the database connection
func (c *SnowflakeConnector) Close() error {
	c.logger.Info("Closing Snowflake connection")
	LogConnectionStats(c.logger, c.cfg.Database, c.db.DB)
	return c.db.Close()
}
