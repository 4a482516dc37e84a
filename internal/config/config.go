package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AppName is the binary name, also stamped on every log entry.
const AppName = "jecc-logs"

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Source   SourceConfig   `yaml:"source" mapstructure:"source"`
	Geocode  GeocodeConfig  `yaml:"geocode" mapstructure:"geocode"`
	Backfill BackfillConfig `yaml:"backfill" mapstructure:"backfill"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SourceConfig configures the upstream dispatch log page.
type SourceConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	Agency      string `yaml:"agency" mapstructure:"agency"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// GeocodeConfig configures the Nominatim client.
type GeocodeConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	DelayMs     int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RegionFile  string `yaml:"region_file" mapstructure:"region_file"`
}

// BackfillConfig configures the geocode backfill scheduler.
type BackfillConfig struct {
	Strategy       string `yaml:"strategy" mapstructure:"strategy"`
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`
	DelayMs        int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	Checkpoint     string `yaml:"checkpoint" mapstructure:"checkpoint"`
	CheckpointFile string `yaml:"checkpoint_file" mapstructure:"checkpoint_file"`
	CheckpointKey  string `yaml:"checkpoint_key" mapstructure:"checkpoint_key"`
}

// CacheConfig configures the read-side Redis cache.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	TTLSecs  int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// ServerConfig configures the HTTP API server and its refresh loop.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	RefreshIntervalMins int      `yaml:"refresh_interval_mins" mapstructure:"refresh_interval_mins"`
	RefreshDays         int      `yaml:"refresh_days" mapstructure:"refresh_days"`
	GeocodeLimit        int      `yaml:"geocode_limit" mapstructure:"geocode_limit"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("JECC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("source.url", "http://www.jecc-ema.org/jecc/jecccfs.php")
	v.SetDefault("source.agency", "All")
	v.SetDefault("source.user_agent", "TiffinTimes/1.0 (emergency-logs-scraper)")
	v.SetDefault("source.timeout_secs", 30)
	v.SetDefault("source.max_attempts", 3)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "TiffinTimes/1.0 (emergency-logs-mapping)")
	v.SetDefault("geocode.delay_ms", 1000)
	v.SetDefault("geocode.timeout_secs", 10)
	v.SetDefault("geocode.region_file", "")
	v.SetDefault("backfill.strategy", "recent_first")
	v.SetDefault("backfill.batch_size", 1000)
	v.SetDefault("backfill.delay_ms", 1100)
	v.SetDefault("backfill.checkpoint", "file")
	v.SetDefault("backfill.checkpoint_file", "geocoding_progress.txt")
	v.SetDefault("backfill.checkpoint_key", "backfill:checkpoint")
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.ttl_secs", 3600)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.refresh_interval_mins", 0)
	v.SetDefault("server.refresh_days", 3)
	v.SetDefault("server.geocode_limit", 50)
	v.SetDefault("server.cors_origins", []string{"*"})
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

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	switch mode {
	case "ingest":
		if c.Source.URL == "" {
			errs = append(errs, "source.url is required")
		}
		if c.Source.MaxAttempts < 1 {
			errs = append(errs, "source.max_attempts must be >= 1")
		}
	case "backfill":
		errs = append(errs, c.validateBackfill()...)
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RefreshIntervalMins < 0 {
			errs = append(errs, "server.refresh_interval_mins must be >= 0")
		}
		errs = append(errs, c.validateBackfill()...)
	case "export", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Geocode.DelayMs < 1000 {
		errs = append(errs, "geocode.delay_ms must be >= 1000")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateBackfill() []string {
	var errs []string
	switch c.Backfill.Strategy {
	case "recent_first", "most_common_first", "id_order":
	default:
		errs = append(errs, fmt.Sprintf("backfill.strategy %q is not one of recent_first, most_common_first, id_order", c.Backfill.Strategy))
	}
	if c.Backfill.BatchSize < 1 {
		errs = append(errs, "backfill.batch_size must be >= 1")
	}
	switch c.Backfill.Checkpoint {
	case "file":
		if c.Backfill.CheckpointFile == "" {
			errs = append(errs, "backfill.checkpoint_file is required")
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, "cache.redis_url is required for the redis checkpoint")
		}
	default:
		errs = append(errs, fmt.Sprintf("backfill.checkpoint %q is not one of file, redis", c.Backfill.Checkpoint))
	}
	return errs
}

// NewLogger builds a zap logger for cfg. Every entry carries the binary name
// so scrape, backfill and serve output can share one sink.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrapf(err, "config: log.level %q", cfg.Level)
	}

	var zc zap.Config
	switch cfg.Format {
	case "json", "":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, eris.Errorf("config: log.format %q is not one of json, console", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.InitialFields = map[string]any{"app": AppName}

	l, err := zc.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	return l, nil
}

// InitLogger installs the logger for cfg as zap's global logger.
func InitLogger(cfg LogConfig) error {
	l, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(l)
	return nil
}
