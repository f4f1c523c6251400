package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	RunLog      RunLogConfig      `yaml:"runlog" mapstructure:"runlog"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	ObjectStore ObjectStoreConfig `yaml:"objectstore" mapstructure:"objectstore"`
	DocParse    DocParseConfig    `yaml:"docparse" mapstructure:"docparse"`
	Ingest      IngestConfig      `yaml:"ingest" mapstructure:"ingest"`
	Temporal    TemporalConfig    `yaml:"temporal" mapstructure:"temporal"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the catalog database.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// RunLogConfig selects where per-run status entries are appended.
type RunLogConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"` // postgres, sqlite or none
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig configures the extraction oracle backed by Claude.
type AnthropicConfig struct {
	Key                 string  `yaml:"key" mapstructure:"key"`
	Model               string  `yaml:"model" mapstructure:"model"`
	MaxTokens           int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RatePerSec          float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst               int     `yaml:"burst" mapstructure:"burst"`
	MaxAttempts         int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BreakerFailures     int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerCooldownSecs int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// ObjectStoreConfig configures where source documents are fetched from.
type ObjectStoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // s3 or fs
	Bucket      string `yaml:"bucket" mapstructure:"bucket"`
	Region      string `yaml:"region" mapstructure:"region"`
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	PathStyle   bool   `yaml:"path_style" mapstructure:"path_style"`
	AccessKey   string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey   string `yaml:"secret_key" mapstructure:"secret_key"`
	Root        string `yaml:"root" mapstructure:"root"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PrefixBytes int    `yaml:"prefix_bytes" mapstructure:"prefix_bytes"`
}

// DocParseConfig configures document structure parsing.
type DocParseConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MaxPages      int    `yaml:"max_pages" mapstructure:"max_pages"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// IngestConfig holds pipeline thresholds and budgets.
type IngestConfig struct {
	DefaultFamily     string  `yaml:"default_family" mapstructure:"default_family"`
	BlueprintsPath    string  `yaml:"blueprints_path" mapstructure:"blueprints_path"`
	MinAttributes     int     `yaml:"min_attributes" mapstructure:"min_attributes"`
	CanonThreshold    float64 `yaml:"canon_threshold" mapstructure:"canon_threshold"`
	TemplateThreshold float64 `yaml:"template_threshold" mapstructure:"template_threshold"`
	ClassifyThreshold float64 `yaml:"classify_threshold" mapstructure:"classify_threshold"`
	RunBudgetSecs     int     `yaml:"run_budget_secs" mapstructure:"run_budget_secs"`
	OracleTimeoutSecs int     `yaml:"oracle_timeout_secs" mapstructure:"oracle_timeout_secs"`
	LockWaitSecs      int     `yaml:"lock_wait_secs" mapstructure:"lock_wait_secs"`
	BackfillLimit     int     `yaml:"backfill_limit" mapstructure:"backfill_limit"`
	MaxVariantKeys    int     `yaml:"max_variant_keys" mapstructure:"max_variant_keys"`
	TextSampleBytes   int     `yaml:"text_sample_bytes" mapstructure:"text_sample_bytes"`
}

// RunBudget returns the hard wall-clock budget for one run.
func (c IngestConfig) RunBudget() time.Duration {
	return time.Duration(c.RunBudgetSecs) * time.Second
}

// OracleTimeout returns the per-call oracle timeout.
func (c IngestConfig) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutSecs) * time.Second
}

// LockWait returns how long run lock acquisition may poll.
func (c IngestConfig) LockWait() time.Duration {
	return time.Duration(c.LockWaitSecs) * time.Second
}

// TemporalConfig configures the queue worker.
type TemporalConfig struct {
	HostPort    string `yaml:"host_port" mapstructure:"host_port"`
	Namespace   string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue   string `yaml:"task_queue" mapstructure:"task_queue"`
	MaxAttempts int32  `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// MetricsConfig configures the Prometheus endpoint served by the worker.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("runlog.driver", "postgres")
	v.SetDefault("runlog.sqlite_path", "catalog-runs.db")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.rate_per_sec", 2.0)
	v.SetDefault("anthropic.burst", 4)
	v.SetDefault("anthropic.max_attempts", 3)
	v.SetDefault("anthropic.breaker_failures", 5)
	v.SetDefault("anthropic.breaker_cooldown_secs", 30)
	v.SetDefault("objectstore.driver", "fs")
	v.SetDefault("objectstore.bucket", "")
	v.SetDefault("objectstore.region", "us-east-1")
	v.SetDefault("objectstore.endpoint", "")
	v.SetDefault("objectstore.path_style", false)
	v.SetDefault("objectstore.access_key", "")
	v.SetDefault("objectstore.secret_key", "")
	v.SetDefault("objectstore.root", ".")
	v.SetDefault("objectstore.timeout_secs", 30)
	v.SetDefault("objectstore.prefix_bytes", 64*1024)
	v.SetDefault("docparse.pdftotext_path", "pdftotext")
	v.SetDefault("docparse.max_pages", 200)
	v.SetDefault("docparse.timeout_secs", 60)
	v.SetDefault("ingest.default_family", "component")
	v.SetDefault("ingest.blueprints_path", "")
	v.SetDefault("ingest.min_attributes", 2)
	v.SetDefault("ingest.canon_threshold", 0.8)
	v.SetDefault("ingest.template_threshold", 0.7)
	v.SetDefault("ingest.classify_threshold", 0.6)
	v.SetDefault("ingest.run_budget_secs", 300)
	v.SetDefault("ingest.oracle_timeout_secs", 45)
	v.SetDefault("ingest.lock_wait_secs", 10)
	v.SetDefault("ingest.backfill_limit", 500)
	v.SetDefault("ingest.max_variant_keys", 5)
	v.SetDefault("ingest.text_sample_bytes", 8000)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "catalog-ingest")
	v.SetDefault("temporal.max_attempts", 5)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by mode are present. Modes:
// "ingest" runs the pipeline inline, "enqueue" only submits to Temporal,
// "worker" runs the Temporal worker, "migrate" only needs the database.
func (c *Config) Validate(mode string) error {
	var missing []string
	needStore := mode == "ingest" || mode == "worker" || mode == "migrate"
	if needStore && c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url")
	}
	if mode == "ingest" || mode == "worker" {
		if c.ObjectStore.Driver == "s3" && c.ObjectStore.Bucket == "" {
			missing = append(missing, "objectstore.bucket")
		}
		if c.Ingest.MinAttributes < 0 {
			return eris.New("config: ingest.min_attributes must be >= 0")
		}
		if c.Ingest.RunBudgetSecs <= 0 {
			return eris.New("config: ingest.run_budget_secs must be > 0")
		}
	}
	if (mode == "enqueue" || mode == "worker") && c.Temporal.HostPort == "" {
		missing = append(missing, "temporal.host_port")
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
