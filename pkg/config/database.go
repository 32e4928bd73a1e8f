package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/snowflakedb/gosnowflake"
)

// Audit sink drivers
const (
	DriverFile      = "file"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverSnowflake = "snowflake"
)

// AuditSinkConfig selects and configures the durable audit sink
type AuditSinkConfig struct {
	Driver   string // file, sqlite, postgres or snowflake
	Table    string // Audit table name for SQL sinks
	FilePath string // JSON Lines path for the file sink
	DBPath   string // Database file for the sqlite sink

	// Timeout applied to the flush transaction
	WriteTimeout time.Duration
}

// SnowflakeConfig holds Snowflake connection parameters
type SnowflakeConfig struct {
	User          string
	Password      string
	Account       string
	Warehouse     string
	Database      string
	Schema        string
	Role          string
	Authenticator gosnowflake.AuthType

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Query timeout
	QueryTimeout time.Duration
}

// PostgresConfig holds PostgreSQL connection parameters
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Statement timeout
	StatementTimeout time.Duration
}

// LoadAuditSinkConfig loads the audit sink selection from environment variables
func LoadAuditSinkConfig() (*AuditSinkConfig, error) {
	cfg := &AuditSinkConfig{
		Driver:       getEnv("AUDIT_SINK", DriverFile),
		Table:        getEnv("AUDIT_TABLE", "policy_audit"),
		FilePath:     getEnv("AUDIT_FILE", "out/audit.jsonl"),
		DBPath:       getEnv("AUDIT_SQLITE_PATH", "out/audit.db"),
		WriteTimeout: time.Duration(getEnvAsInt("AUDIT_WRITE_TIMEOUT_SECONDS", 60)) * time.Second,
	}

	switch cfg.Driver {
	case DriverFile, DriverSQLite, DriverPostgres, DriverSnowflake:
	default:
		return nil, fmt.Errorf("unknown AUDIT_SINK %q", cfg.Driver)
	}

	if cfg.Table == "" {
		return nil, errors.New("AUDIT_TABLE cannot be empty")
	}

	return cfg, nil
}

// LoadSnowflakeConfig loads Snowflake configuration from environment variables
func LoadSnowflakeConfig() (*SnowflakeConfig, error) {
	user := os.Getenv("SNOWFLAKE_USER")
	if user == "" {
		return nil, errors.New("SNOWFLAKE_USER environment variable is required")
	}

	password := os.Getenv("SNOWFLAKE_PASSWORD")
	if password == "" {
		return nil, errors.New("SNOWFLAKE_PASSWORD environment variable is required")
	}

	account := os.Getenv("SNOWFLAKE_ACCOUNT")
	if account == "" {
		return nil, errors.New("SNOWFLAKE_ACCOUNT environment variable is required")
	}

	warehouse := os.Getenv("SNOWFLAKE_WAREHOUSE")
	if warehouse == "" {
		return nil, errors.New("SNOWFLAKE_WAREHOUSE environment variable is required")
	}

	cfg := &SnowflakeConfig{
		User:          user,
		Password:      password,
		Account:       account,
		Warehouse:     warehouse,
		Database:      getEnv("SNOWFLAKE_DATABASE", "INSURANCE"),
		Schema:        getEnv("SNOWFLAKE_SCHEMA", "AUDIT"),
		Role:          getEnv("SNOWFLAKE_ROLE", ""),
		Authenticator: parseAuthenticator(getEnv("SNOWFLAKE_AUTHENTICATOR", "snowflake")),

		MaxOpenConns:    getEnvAsInt("SNOWFLAKE_MAX_OPEN_CONNS", 4),
		MaxIdleConns:    getEnvAsInt("SNOWFLAKE_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: time.Duration(getEnvAsInt("SNOWFLAKE_CONN_MAX_LIFETIME_SECONDS", 600)) * time.Second,
		ConnMaxIdleTime: time.Duration(getEnvAsInt("SNOWFLAKE_CONN_MAX_IDLE_TIME_SECONDS", 300)) * time.Second,
		QueryTimeout:    time.Duration(getEnvAsInt("SNOWFLAKE_QUERY_TIMEOUT_SECONDS", 300)) * time.Second,
	}

	return cfg, nil
}

// parseAuthenticator converts the authenticator setting to the driver type
func parseAuthenticator(s string) gosnowflake.AuthType {
	switch s {
	case "oauth":
		return gosnowflake.AuthTypeOAuth
	case "externalbrowser":
		return gosnowflake.AuthTypeExternalBrowser
	case "username_password_mfa":
		return gosnowflake.AuthTypeUsernamePasswordMFA
	case "jwt":
		return gosnowflake.AuthTypeJwt
	case "token":
		return gosnowflake.AuthTypeTokenAccessor
	case "okta":
		return gosnowflake.AuthTypeOkta
	default:
		return gosnowflake.AuthTypeSnowflake
	}
}

// LoadPostgresConfig loads PostgreSQL configuration from environment variables
func LoadPostgresConfig() (*PostgresConfig, error) {
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		return nil, errors.New("POSTGRES_USER environment variable is required")
	}

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		return nil, errors.New("POSTGRES_PASSWORD environment variable is required")
	}

	database := os.Getenv("POSTGRES_DB")
	if database == "" {
		return nil, errors.New("POSTGRES_DB environment variable is required")
	}

	cfg := &PostgresConfig{
		Host:     getEnv("POSTGRES_HOST", "localhost"),
		Port:     getEnvAsInt("POSTGRES_PORT", 5432),
		User:     user,
		Password: password,
		Database: database,
		SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		MaxOpenConns:     getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 4),
		MaxIdleConns:     getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime:  time.Duration(getEnvAsInt("POSTGRES_CONN_MAX_LIFETIME_SECONDS", 1800)) * time.Second,
		ConnMaxIdleTime:  time.Duration(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_TIME_SECONDS", 600)) * time.Second,
		StatementTimeout: time.Duration(getEnvAsInt("POSTGRES_STATEMENT_TIMEOUT_SECONDS", 300)) * time.Second,
	}

	return cfg, nil
}

// DSNConfig returns the driver configuration for building a Snowflake DSN.
// The statement timeout and a query tag are sent as session parameters.
func (c *SnowflakeConfig) DSNConfig() *gosnowflake.Config {
	params := map[string]*string{}
	if c.QueryTimeout > 0 {
		timeout := strconv.Itoa(int(c.QueryTimeout.Seconds()))
		params["STATEMENT_TIMEOUT_IN_SECONDS"] = &timeout
	}
	tag := "policy-cleaner"
	params["QUERY_TAG"] = &tag

	return &gosnowflake.Config{
		Account:       c.Account,
		User:          c.User,
		Password:      c.Password,
		Database:      c.Database,
		Schema:        c.Schema,
		Warehouse:     c.Warehouse,
		Role:          c.Role,
		Authenticator: c.Authenticator,
		Params:        params,
	}
}

// ConnectionString returns a key/value PostgreSQL connection string. Unknown
// keys such as statement_timeout are sent by pgx as session parameters.
func (c *PostgresConfig) ConnectionString() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=policy-cleaner",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
	if c.StatementTimeout > 0 {
		dsn += fmt.Sprintf(" statement_timeout=%d", c.StatementTimeout.Milliseconds())
	}
	return dsn
}
