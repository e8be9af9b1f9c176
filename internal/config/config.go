// Package config loads the service configuration from an optional file and
// IMPORTER_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"statement-import-service/internal/blob"
	"statement-import-service/internal/importer"
	"statement-import-service/internal/invoker/queue"
	"statement-import-service/internal/matcher"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "IMPORTER"

// Backend selects the collaborator implementations
type Backend string

const (
	// BackendMemory keeps everything in process, for local runs and tests
	BackendMemory Backend = "memory"
	// BackendCloud uses DynamoDB, BigQuery and Cloud Storage
	BackendCloud Backend = "cloud"
)

// Config is the full service configuration
type Config struct {
	Backend  Backend        `mapstructure:"backend"`
	Log      logger.Config  `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Import   ImportConfig   `mapstructure:"import"`
	Queue    QueueConfig    `mapstructure:"queue"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
	BigQuery BigQueryConfig `mapstructure:"bigquery"`
	GCS      GCSConfig      `mapstructure:"gcs"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// PublicBaseURL prefixes upload URLs issued by the memory backend
	PublicBaseURL   string        `mapstructure:"public_base_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ImportConfig configures the pipeline
type ImportConfig struct {
	UploadURLTTL        time.Duration `mapstructure:"upload_url_ttl"`
	ReferenceWindowDays int           `mapstructure:"reference_window_days"`
	SampleSize          int           `mapstructure:"sample_size"`
	Bucket              string        `mapstructure:"bucket"`
}

// QueueConfig configures the in-process invoker
type QueueConfig struct {
	Workers      int           `mapstructure:"workers"`
	BufferSize   int           `mapstructure:"buffer_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// DynamoDBConfig locates the import state table
type DynamoDBConfig struct {
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	ImportsTable string `mapstructure:"imports_table"`
}

// BigQueryConfig locates the ledger and balance tables
type BigQueryConfig struct {
	ProjectID         string `mapstructure:"project_id"`
	Dataset           string `mapstructure:"dataset"`
	TransactionsTable string `mapstructure:"transactions_table"`
	BalancesTable     string `mapstructure:"balances_table"`
}

// GCSConfig configures URL signing
type GCSConfig struct {
	// SigningAccount is the service account email used for V4 signing.
	// Empty means the client's own credentials sign.
	SigningAccount string `mapstructure:"signing_account"`
}

// SetDefaults registers every key with its default so environment
// variables are picked up by Unmarshal
func SetDefaults(v *viper.Viper) {
	queueDefaults := queue.DefaultConfig()
	logDefaults := logger.DefaultConfig()

	v.SetDefault("backend", string(BackendMemory))

	v.SetDefault("log.level", string(logDefaults.Level))
	v.SetDefault("log.format", string(logDefaults.Format))
	v.SetDefault("log.output", string(logDefaults.Output))
	v.SetDefault("log.file", "")
	v.SetDefault("log.disable_timestamp", false)
	v.SetDefault("log.caller_info", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_base_url", "http://localhost:8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("import.upload_url_ttl", blob.DefaultUploadTTL)
	v.SetDefault("import.reference_window_days", importer.DefaultReferenceWindowDays)
	v.SetDefault("import.sample_size", 5)
	v.SetDefault("import.bucket", "statement-imports")

	v.SetDefault("queue.workers", queueDefaults.Workers)
	v.SetDefault("queue.buffer_size", queueDefaults.BufferSize)
	v.SetDefault("queue.max_retries", queueDefaults.MaxRetries)
	v.SetDefault("queue.retry_backoff", queueDefaults.RetryBackoff)

	v.SetDefault("dynamodb.region", "us-east-1")
	v.SetDefault("dynamodb.endpoint", "")
	v.SetDefault("dynamodb.imports_table", "imports")

	v.SetDefault("bigquery.project_id", "")
	v.SetDefault("bigquery.dataset", "finance")
	v.SetDefault("bigquery.transactions_table", "transactions")
	v.SetDefault("bigquery.balances_table", "account_balances")

	v.SetDefault("gcs.signing_account", "")
}

// BindEnv makes IMPORTER_SECTION_KEY override section.key
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// New returns a viper instance with defaults and environment binding
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

// Load reads the configuration. A non-empty file is read first; the
// environment still takes precedence over it.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = New()
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.InternalError(errors.CodeInvalidConfig, "read_config", err).
				WithContext("file", file).
				WithSuggestion("Check that the config file exists and is valid YAML, JSON or TOML")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.InternalError(errors.CodeInvalidConfig, "decode_config", err)
	}
	cfg.Backend = Backend(strings.ToLower(string(cfg.Backend)))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for the selected backend
func (c *Config) Validate() error {
	invalid := func(field string, err error) error {
		return errors.InternalError(errors.CodeInvalidConfig, "validate_config", err).
			WithContext("field", field)
	}

	switch c.Backend {
	case BackendMemory, BackendCloud:
	default:
		return invalid("backend", fmt.Errorf("unknown backend %q, want memory or cloud", c.Backend))
	}

	if err := c.Log.Validate(); err != nil {
		return invalid("log", err)
	}

	if c.Import.UploadURLTTL <= 0 {
		return invalid("import.upload_url_ttl", fmt.Errorf("must be positive, got %s", c.Import.UploadURLTTL))
	}
	if c.Import.ReferenceWindowDays <= 0 {
		return invalid("import.reference_window_days", fmt.Errorf("must be positive, got %d", c.Import.ReferenceWindowDays))
	}
	if c.Import.SampleSize <= 0 {
		return invalid("import.sample_size", fmt.Errorf("must be positive, got %d", c.Import.SampleSize))
	}
	if c.Import.Bucket == "" {
		return invalid("import.bucket", fmt.Errorf("bucket is required"))
	}

	if c.Queue.Workers <= 0 {
		return invalid("queue.workers", fmt.Errorf("must be positive, got %d", c.Queue.Workers))
	}
	if c.Queue.MaxRetries < 0 {
		return invalid("queue.max_retries", fmt.Errorf("cannot be negative, got %d", c.Queue.MaxRetries))
	}

	if c.Backend == BackendCloud {
		required := []struct {
			field string
			value string
		}{
			{"dynamodb.region", c.DynamoDB.Region},
			{"dynamodb.imports_table", c.DynamoDB.ImportsTable},
			{"bigquery.project_id", c.BigQuery.ProjectID},
			{"bigquery.dataset", c.BigQuery.Dataset},
			{"bigquery.transactions_table", c.BigQuery.TransactionsTable},
			{"bigquery.balances_table", c.BigQuery.BalancesTable},
		}
		for _, r := range required {
			if r.value == "" {
				return invalid(r.field, fmt.Errorf("%s is required for the cloud backend", r.field))
			}
		}
	}

	return nil
}

// PipelineConfig returns the pipeline settings
func (c *Config) PipelineConfig() importer.Config {
	return importer.Config{
		UploadURLTTL:        c.Import.UploadURLTTL,
		ReferenceWindowDays: c.Import.ReferenceWindowDays,
	}
}

// WorkerConfig returns the invoker worker settings
func (c *Config) WorkerConfig() queue.Config {
	return queue.Config{
		Workers:      c.Queue.Workers,
		BufferSize:   c.Queue.BufferSize,
		MaxRetries:   c.Queue.MaxRetries,
		RetryBackoff: c.Queue.RetryBackoff,
	}
}

// MatchingConfig returns the reconciliation settings
func (c *Config) MatchingConfig() *matcher.MatchingConfig {
	m := matcher.DefaultMatchingConfig()
	m.SampleSize = c.Import.SampleSize
	return m
}
