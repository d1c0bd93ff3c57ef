package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultDatasetURL is the published APL GeoJSON dataset.
const DefaultDatasetURL = "https://medical-deserts-project.s3.eu-north-1.amazonaws.com/geo.geojson"

// Config holds the full application configuration.
type Config struct {
	Dataset    DatasetConfig    `yaml:"dataset" mapstructure:"dataset"`
	Indicators IndicatorsConfig `yaml:"indicators" mapstructure:"indicators"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DatasetConfig configures where the dataset comes from and how long it is cached.
type DatasetConfig struct {
	URL          string `yaml:"url" mapstructure:"url"`
	CacheTTLMins int    `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"` // 0 = process lifetime
	TargetEPSG   int    `yaml:"target_epsg" mapstructure:"target_epsg"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries   int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent    string `yaml:"user_agent" mapstructure:"user_agent"`
	TempDir      string `yaml:"temp_dir" mapstructure:"temp_dir"`
	// BreakerThreshold consecutive failed loads stop fetching the source
	// for BreakerCooldownSecs. 0 disables the breaker.
	BreakerThreshold    int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
	// LoadTimeoutSecs bounds one shared download and decode.
	LoadTimeoutSecs int `yaml:"load_timeout_secs" mapstructure:"load_timeout_secs"`
}

// IndicatorsConfig points at an optional indicator catalog override.
type IndicatorsConfig struct {
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// ServerConfig configures the dashboard API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	CORSOrigins    []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	SessionTTLMins int      `yaml:"session_ttl_mins" mapstructure:"session_ttl_mins"`
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
	v.SetEnvPrefix("APL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("dataset.url", DefaultDatasetURL)
	v.SetDefault("dataset.cache_ttl_mins", 0)
	v.SetDefault("dataset.target_epsg", 4326)
	v.SetDefault("dataset.timeout_secs", 60)
	v.SetDefault("dataset.max_retries", 1)
	v.SetDefault("dataset.user_agent", "apl-dashboard/1.0")
	v.SetDefault("dataset.temp_dir", "/tmp/apl-dashboard")
	v.SetDefault("dataset.breaker_threshold", 3)
	v.SetDefault("dataset.breaker_cooldown_secs", 30)
	v.SetDefault("dataset.load_timeout_secs", 300)
	v.SetDefault("indicators.catalog_path", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.session_ttl_mins", 60)
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

// Validate checks the values the dashboard cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Dataset.URL) == "" {
		return eris.New("config: dataset.url is required")
	}
	if c.Dataset.CacheTTLMins < 0 {
		return eris.Errorf("config: dataset.cache_ttl_mins must be >= 0, got %d", c.Dataset.CacheTTLMins)
	}
	if c.Dataset.BreakerThreshold < 0 {
		return eris.Errorf("config: dataset.breaker_threshold must be >= 0, got %d", c.Dataset.BreakerThreshold)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port out of range: %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 0 {
		return eris.Errorf("config: server.rate_limit_rps must be >= 0, got %v", c.Server.RateLimitRPS)
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
