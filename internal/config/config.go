package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/medreg/registry-cli/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Portal PortalConfig `yaml:"portal" mapstructure:"portal"`
	Crawl  CrawlConfig  `yaml:"crawl" mapstructure:"crawl"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PortalConfig configures the registry portal API client.
type PortalConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
	RequestTimeout int     `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	RatePerSecond  float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst      int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// Timeout returns the per-request HTTP timeout.
func (c PortalConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// CrawlConfig configures the crawl execution engine.
type CrawlConfig struct {
	PageSize        int  `yaml:"page_size" mapstructure:"page_size"`
	BatchSize       int  `yaml:"batch_size" mapstructure:"batch_size"`
	DelaySecs       int  `yaml:"delay_secs" mapstructure:"delay_secs"`
	RetryDelaySecs  int  `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	MaxBatchRetries int  `yaml:"max_batch_retries" mapstructure:"max_batch_retries"`
	PageRetryPasses int  `yaml:"page_retry_passes" mapstructure:"page_retry_passes"`
	BlockThreshold  int  `yaml:"block_threshold" mapstructure:"block_threshold"`
	TokenTTLSecs    int  `yaml:"token_ttl_secs" mapstructure:"token_ttl_secs"`
	FetchDetails    bool `yaml:"fetch_details" mapstructure:"fetch_details"`
}

// Delay returns the inter-batch pause.
func (c CrawlConfig) Delay() time.Duration { return time.Duration(c.DelaySecs) * time.Second }

// RetryDelay returns the fixed pause between retry attempts.
func (c CrawlConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs) * time.Second
}

// ServerConfig configures the status/metrics server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("REGCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("portal.base_url", "https://portal.cfm.org.br")
	v.SetDefault("portal.user_agent", "registry-cli/1.0")
	v.SetDefault("portal.request_timeout_secs", 120)
	v.SetDefault("portal.rate_per_second", 5)
	v.SetDefault("portal.rate_burst", 5)
	v.SetDefault("crawl.page_size", 200)
	v.SetDefault("crawl.batch_size", 5)
	v.SetDefault("crawl.delay_secs", 2)
	v.SetDefault("crawl.retry_delay_secs", 2)
	v.SetDefault("crawl.max_batch_retries", 3)
	v.SetDefault("crawl.page_retry_passes", 2)
	v.SetDefault("crawl.block_threshold", 2)
	v.SetDefault("crawl.token_ttl_secs", 1800)
	v.SetDefault("crawl.fetch_details", true)
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)

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

// Validate checks the fields required for the given mode ("crawl" for
// commands that touch the database, "serve" for the status server).
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "crawl":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	case "serve":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Crawl.PageSize < 1 || c.Crawl.PageSize > 1000 {
		problems = append(problems, "crawl.page_size must be between 1 and 1000")
	}
	if c.Crawl.BatchSize < 1 || c.Crawl.BatchSize > 50 {
		problems = append(problems, "crawl.batch_size must be between 1 and 50")
	}
	if c.Crawl.BlockThreshold < 1 {
		problems = append(problems, "crawl.block_threshold must be >= 1")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
