package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Contracts  ContractsConfig  `yaml:"contracts" mapstructure:"contracts"`
	Merge      MergeConfig      `yaml:"merge" mapstructure:"merge"`
	Reader     ReaderConfig     `yaml:"reader" mapstructure:"reader"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the table store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ContractsConfig locates contract files.
type ContractsConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// MergeConfig carries engine-level defaults that contracts may override.
type MergeConfig struct {
	PartitionBuckets int `yaml:"partition_buckets" mapstructure:"partition_buckets"`
}

// ReaderConfig configures read-source behavior.
type ReaderConfig struct {
	FTPTimeoutSecs int `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
	MaxRetries     int `yaml:"max_retries" mapstructure:"max_retries"`
}

// SalesforceConfig holds credentials for the Salesforce read source.
type SalesforceConfig struct {
	LoginURL     string `yaml:"login_url" mapstructure:"login_url"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	Username     string `yaml:"username" mapstructure:"username"`
	Password     string `yaml:"password" mapstructure:"password"`
}

// BatchConfig configures the parallel contract runner.
type BatchConfig struct {
	MaxConcurrentContracts int     `yaml:"max_concurrent_contracts" mapstructure:"max_concurrent_contracts"`
	StartsPerSecond        float64 `yaml:"starts_per_second" mapstructure:"starts_per_second"`
}

// ServerConfig configures the status API server.
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
	v.SetEnvPrefix("LAKEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "lakeflow.db")
	v.SetDefault("contracts.dir", "contracts")
	v.SetDefault("merge.partition_buckets", 100)
	v.SetDefault("reader.ftp_timeout_secs", 30)
	v.SetDefault("reader.max_retries", 3)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("batch.max_concurrent_contracts", 4)
	v.SetDefault("batch.starts_per_second", 2.0)
	v.SetDefault("server.port", 8080)
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
