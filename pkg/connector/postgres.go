package connector

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/config"
)

// PostgresConnector holds the connection pool of a PostgreSQL audit database
type PostgresConnector struct {
	db     *sqlx.DB
	logger *zap.Logger
	cfg    *config.PostgresConfig
}

// NewPostgresConnector opens the pool and checks the server answers.
// The statement timeout travels in the connection string so every pooled
// connection carries it.
func NewPostgresConnector(ctx context.Context, cfg *config.PostgresConfig, logger *zap.Logger) (*PostgresConnector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("postgres configuration is missing")
	}
	logger = logger.Named("postgres")

	logger.Info("Connecting to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.String("user", cfg.User),
		zap.Duration("statementTimeout", cfg.StatementTimeout))

	db, err := sqlx.Open("pgx", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL connection: %w", err)
	}

	ApplyConnectionSettings(db.DB, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime)

	if err := PingWithTimeout(ctx, db.DB, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	LogConnectionStats(logger, cfg.Database, db.DB)
	return &PostgresConnector{db: db, logger: logger, cfg: cfg}, nil
}

// DB returns the underlying database connection
func (c *PostgresConnector) DB() *sqlx.DB {
	return c.db
}

// Name identifies the backend
func (c *PostgresConnector) Name() string {
	return config.DriverPostgres
}

// Validate checks the session can create and write the audit table in its
// current schema
func (c *PostgresConnector) Validate(ctx context.Context) error {
	var check struct {
		Version   string `db:"version"`
		Schema    string `db:"schema"`
		CanCreate bool   `db:"can_create"`
	}
	err := c.db.GetContext(ctx, &check, `
		SELECT current_setting('server_version') AS version,
		       current_schema() AS schema,
		       has_schema_privilege(current_schema(), 'CREATE') AS can_create`)
	if err != nil {
		return fmt.Errorf("failed to query PostgreSQL session: %w", err)
	}

	if !check.CanCreate {
		return fmt.Errorf("user %s lacks CREATE on schema %s", c.cfg.User, check.Schema)
	}

	c.logger.Info("PostgreSQL audit database validated",
		zap.String("version", check.Version),
		zap.String("schema", check.Schema))
	return nil
}

// Close closes the database connection
func (c *PostgresConnector) Close() error {
	c.logger.Info("Closing PostgreSQL connection")
	LogConnectionStats(c.logger, c.cfg.Database, c.db.DB)
	return c.db.Close()
}
