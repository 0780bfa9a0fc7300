package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the indexer configuration
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Retry   RetryConfig   `yaml:"retry"`
	Store   StoreConfig   `yaml:"store"`
	API     APIConfig     `yaml:"api"`
}

// ServiceConfig contains service-level configuration
type ServiceConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// LedgerConfig holds remote JSON-RPC endpoint settings
type LedgerConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	ContractAddress string        `yaml:"contract_address"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// IngestConfig controls the chunked ingestion pass
type IngestConfig struct {
	StartBlock       uint64        `yaml:"start_block"`
	EndBlock         string        `yaml:"end_block"` // block number or "latest"
	ChunkSize        uint64        `yaml:"chunk_size"`
	PacingDelay      time.Duration `yaml:"pacing_delay"`
	Follow           bool          `yaml:"follow"`
	FollowInterval   time.Duration `yaml:"follow_interval"`
	TimestampWorkers int           `yaml:"timestamp_workers"`
	CheckpointPath   string        `yaml:"checkpoint_path"`
}

// RetryConfig tunes the shared retry/backoff policy
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxJitter   time.Duration `yaml:"max_jitter"`
}

// StoreConfig selects and configures the document store
type StoreConfig struct {
	Mode     string         `yaml:"mode"` // "postgres" or "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

// APIConfig contains HTTP listener configuration
type APIConfig struct {
	Port       int `yaml:"port"`
	HealthPort int `yaml:"health_port"`
}

// LoadConfig loads configuration from a YAML file, applies environment
// overrides, and fills defaults. An empty path skips the file and uses
// environment variables and defaults only.
func LoadConfig(path string) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables referenced in the file
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	return &config, nil
}

// applyEnv overrides file values with NAMEGRAPH_* environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("NAMEGRAPH_RPC_ENDPOINT"); v != "" {
		c.Ledger.Endpoint = v
	}
	if v := os.Getenv("NAMEGRAPH_CONTRACT_ADDRESS"); v != "" {
		c.Ledger.ContractAddress = v
	}
	if v := os.Getenv("NAMEGRAPH_START_BLOCK"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid NAMEGRAPH_START_BLOCK: %w", err)
		}
		c.Ingest.StartBlock = n
	}
	if v := os.Getenv("NAMEGRAPH_END_BLOCK"); v != "" {
		c.Ingest.EndBlock = v
	}
	if v := os.Getenv("NAMEGRAPH_CHUNK_SIZE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid NAMEGRAPH_CHUNK_SIZE: %w", err)
		}
		c.Ingest.ChunkSize = n
	}
	if v := os.Getenv("NAMEGRAPH_PACING_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid NAMEGRAPH_PACING_DELAY: %w", err)
		}
		c.Ingest.PacingDelay = d
	}
	if v := os.Getenv("NAMEGRAPH_FOLLOW"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid NAMEGRAPH_FOLLOW: %w", err)
		}
		c.Ingest.Follow = b
	}
	if v := os.Getenv("NAMEGRAPH_STORE_MODE"); v != "" {
		c.Store.Mode = v
	}
	if v := os.Getenv("NAMEGRAPH_POSTGRES_HOST"); v != "" {
		c.Store.Postgres.Host = v
	}
	if v := os.Getenv("NAMEGRAPH_POSTGRES_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid NAMEGRAPH_POSTGRES_PORT: %w", err)
		}
		c.Store.Postgres.Port = n
	}
	if v := os.Getenv("NAMEGRAPH_POSTGRES_DATABASE"); v != "" {
		c.Store.Postgres.Database = v
	}
	if v := os.Getenv("NAMEGRAPH_POSTGRES_USER"); v != "" {
		c.Store.Postgres.User = v
	}
	if v := os.Getenv("NAMEGRAPH_POSTGRES_PASSWORD"); v != "" {
		c.Store.Postgres.Password = v
	}
	if v := os.Getenv("NAMEGRAPH_API_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid NAMEGRAPH_API_PORT: %w", err)
		}
		c.API.Port = n
	}
	if v := os.Getenv("NAMEGRAPH_HEALTH_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid NAMEGRAPH_HEALTH_PORT: %w", err)
		}
		c.API.HealthPort = n
	}
	if v := os.Getenv("NAMEGRAPH_LOG_LEVEL"); v != "" {
		c.Service.LogLevel = v
	}
	if v := os.Getenv("NAMEGRAPH_CHECKPOINT_PATH"); v != "" {
		c.Ingest.CheckpointPath = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "namegraph-indexer"
	}
	if c.Service.Version == "" {
		c.Service.Version = "dev"
	}
	if c.Service.LogLevel == "" {
		c.Service.LogLevel = "info"
	}
	if c.Service.LogFormat == "" {
		c.Service.LogFormat = "console"
	}
	if c.Ledger.RequestTimeout == 0 {
		c.Ledger.RequestTimeout = 30 * time.Second
	}
	if c.Ingest.EndBlock == "" {
		c.Ingest.EndBlock = "latest"
	}
	if c.Ingest.ChunkSize == 0 {
		c.Ingest.ChunkSize = 2000
	}
	if c.Ingest.PacingDelay == 0 {
		c.Ingest.PacingDelay = 500 * time.Millisecond
	}
	if c.Ingest.FollowInterval == 0 {
		c.Ingest.FollowInterval = 30 * time.Second
	}
	if c.Ingest.TimestampWorkers == 0 {
		c.Ingest.TimestampWorkers = 4
	}
	if c.Ingest.CheckpointPath == "" {
		c.Ingest.CheckpointPath = "ingest-checkpoint.json"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = 500 * time.Millisecond
	}
	if c.Retry.MaxJitter == 0 {
		c.Retry.MaxJitter = time.Second
	}
	if c.Store.Mode == "" {
		c.Store.Mode = "postgres"
	}
	if c.Store.Postgres.Host == "" {
		c.Store.Postgres.Host = "localhost"
	}
	if c.Store.Postgres.Port == 0 {
		c.Store.Postgres.Port = 5432
	}
	if c.Store.Postgres.Database == "" {
		c.Store.Postgres.Database = "namegraph"
	}
	if c.Store.Postgres.User == "" {
		c.Store.Postgres.User = "postgres"
	}
	if c.Store.Postgres.SSLMode == "" {
		c.Store.Postgres.SSLMode = "disable"
	}
	if c.Store.Postgres.MaxConns == 0 {
		c.Store.Postgres.MaxConns = 10
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.HealthPort == 0 {
		c.API.HealthPort = 8088
	}
}

// Validate checks the configuration for missing or contradictory values.
func (c *Config) Validate() error {
	if c.Ledger.Endpoint == "" {
		return fmt.Errorf("ledger endpoint is required (set ledger.endpoint or NAMEGRAPH_RPC_ENDPOINT)")
	}
	if c.Ledger.ContractAddress == "" {
		return fmt.Errorf("contract address is required (set ledger.contract_address or NAMEGRAPH_CONTRACT_ADDRESS)")
	}
	if c.Ingest.ChunkSize == 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.Ingest.EndBlock != "latest" {
		end, err := strconv.ParseUint(c.Ingest.EndBlock, 10, 64)
		if err != nil {
			return fmt.Errorf("end_block must be a block number or \"latest\": %w", err)
		}
		if end < c.Ingest.StartBlock {
			return fmt.Errorf("end_block %d is before start_block %d", end, c.Ingest.StartBlock)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	switch c.Store.Mode {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store mode %q (expected postgres or memory)", c.Store.Mode)
	}
	switch c.Service.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q (expected console or json)", c.Service.LogFormat)
	}
	if c.API.Port == c.API.HealthPort {
		return fmt.Errorf("api port and health port must differ")
	}
	return nil
}

// ConnectionString builds a PostgreSQL connection string
func (p *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d",
		p.Host, p.Port, p.Database, p.User, p.Password, p.SSLMode, p.MaxConns,
	)
}

// String returns a printable summary with credentials redacted
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{service=%s/%s endpoint=%s contract=%s start=%d end=%s chunk=%d store=%s postgres=%s:%d/%s api=%d health=%d}",
		c.Service.Name, c.Service.Version,
		c.Ledger.Endpoint, c.Ledger.ContractAddress,
		c.Ingest.StartBlock, c.Ingest.EndBlock, c.Ingest.ChunkSize,
		c.Store.Mode,
		c.Store.Postgres.Host, c.Store.Postgres.Port, c.Store.Postgres.Database,
		c.API.Port, c.API.HealthPort,
	)
}
