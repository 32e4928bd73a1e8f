package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Input formats
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// Config represents the application configuration
type Config struct {
	// Input file staged by the extraction step
	InputPath      string
	InputFormat    string // csv or parquet, derived from the extension when empty
	CSVDelimiter   rune
	NullTokens     []string
	EngineConfig   string // Path to the YAML engine config, built-in defaults when empty
	OutputDir      string
	OutputFormat   string // parquet or csv
	WorkerPoolSize int    // 0 means use runtime.NumCPU()

	// Audit sink
	Audit     *AuditSinkConfig
	Postgres  *PostgresConfig
	Snowflake *SnowflakeConfig

	// Observability
	MetricsTextfile string
	LogLevel        string
	LogFormat       string
}

// LoadConfig loads configuration from environment variables, reading a .env file first when present
func LoadConfig() (*Config, error) {
	envFile := getEnv("POLICY_CLEANER_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := &Config{
		InputPath:       getEnv("INPUT_PATH", ""),
		InputFormat:     strings.ToLower(getEnv("INPUT_FORMAT", "")),
		CSVDelimiter:    getEnvAsRune("CSV_DELIMITER", ';'),
		NullTokens:      getEnvAsStringSlice("NULL_TOKENS", []string{"NA", "NaN", "NULL", "null"}),
		EngineConfig:    getEnv("ENGINE_CONFIG", ""),
		OutputDir:       getEnv("OUTPUT_DIR", "out"),
		OutputFormat:    strings.ToLower(getEnv("OUTPUT_FORMAT", FormatParquet)),
		WorkerPoolSize:  getEnvAsInt("WORKER_POOL_SIZE", 0),
		MetricsTextfile: getEnv("METRICS_TEXTFILE", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
	}

	audit, err := LoadAuditSinkConfig()
	if err != nil {
		return nil, errors.New("failed to load audit sink configuration: " + err.Error())
	}
	cfg.Audit = audit

	switch audit.Driver {
	case DriverPostgres:
		pgConfig, err := LoadPostgresConfig()
		if err != nil {
			return nil, errors.New("failed to load PostgreSQL configuration: " + err.Error())
		}
		cfg.Postgres = pgConfig
	case DriverSnowflake:
		snowConfig, err := LoadSnowflakeConfig()
		if err != nil {
			return nil, errors.New("failed to load Snowflake configuration: " + err.Error())
		}
		cfg.Snowflake = snowConfig
	}

	return cfg, nil
}

// ResolveInputFormat returns the configured input format or guesses it from the file extension
func (c *Config) ResolveInputFormat() string {
	if c.InputFormat != "" {
		return c.InputFormat
	}
	if strings.HasSuffix(strings.ToLower(c.InputPath), ".parquet") {
		return FormatParquet
	}
	return FormatCSV
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return errors.New("input path is required")
	}

	switch c.ResolveInputFormat() {
	case FormatCSV, FormatParquet:
	default:
		return fmt.Errorf("unsupported input format: %s", c.InputFormat)
	}

	switch c.OutputFormat {
	case FormatCSV, FormatParquet:
	default:
		return fmt.Errorf("unsupported output format: %s", c.OutputFormat)
	}

	if c.OutputDir == "" {
		return errors.New("output directory is required")
	}

	if c.WorkerPoolSize < 0 {
		return errors.New("worker pool size cannot be negative")
	}

	if c.Audit == nil {
		return errors.New("audit sink configuration is required")
	}

	if c.Audit.Driver == DriverPostgres && c.Postgres == nil {
		return errors.New("postgreSQL configuration is required for the postgres audit sink")
	}

	if c.Audit.Driver == DriverSnowflake && c.Snowflake == nil {
		return errors.New("snowflake configuration is required for the snowflake audit sink")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsRune(key string, defaultValue rune) rune {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if value == `\t` {
		return '\t'
	}
	return []rune(value)[0]
}

// getEnvAsStringSlice parses a comma-separated list, trimming whitespace
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			result = append(result, v)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}
	return result
}
