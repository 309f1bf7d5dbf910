package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Store      StoreConfig      `mapstructure:"store"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Viewer     ViewerConfig     `mapstructure:"viewer"`
	MockServer MockServerConfig `mapstructure:"mock_server"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// StoreConfig selects the persistent store backend: memory, pebble, redis or postgres.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	Quota   int    `mapstructure:"quota"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// CacheConfig holds the freshness windows. Messages change more often than
// groups, so MessagesTTL should stay below GroupsTTL.
type CacheConfig struct {
	GroupsTTL   time.Duration `mapstructure:"groups_ttl"`
	MessagesTTL time.Duration `mapstructure:"messages_ttl"`
}

type SyncConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PageSize     int           `mapstructure:"page_size"`
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
}

type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ViewerConfig struct {
	UserID  string `mapstructure:"user_id"`
	Manager bool   `mapstructure:"manager"`
}

type MockServerConfig struct {
	Port          int     `mapstructure:"port"`
	Mode          string  `mapstructure:"mode"`
	SendRPS       float64 `mapstructure:"send_rps"`
	SendBurst     int     `mapstructure:"send_burst"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.path", "./data/portalchat")
	v.SetDefault("store.quota", 0)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("postgres.host", "127.0.0.1")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.max_idle_conns", 2)
	v.SetDefault("postgres.max_open_conns", 10)

	v.SetDefault("cache.groups_ttl", 30*time.Second)
	v.SetDefault("cache.messages_ttl", 10*time.Second)

	v.SetDefault("sync.poll_interval", 3*time.Second)
	v.SetDefault("sync.page_size", 10)
	v.SetDefault("sync.workers", 2)
	v.SetDefault("sync.queue_size", 64)

	v.SetDefault("remote.base_url", "http://127.0.0.1:9000/api/v1")
	v.SetDefault("remote.timeout", 10*time.Second)

	v.SetDefault("mock_server.port", 9000)
	v.SetDefault("mock_server.mode", "release")
	v.SetDefault("mock_server.send_rps", 20.0)
	v.SetDefault("mock_server.send_burst", 40)
	v.SetDefault("mock_server.max_concurrent", 256)
}

// Default returns the configuration with every default applied and no file read.
func Default() *Config {
	cfg, err := LoadConfig("")
	if err != nil {
		// defaults alone always decode
		panic(err)
	}
	return cfg
}

// LoadConfig reads the file at path (any format viper understands) on top of
// the defaults. An empty path loads defaults and PORTALCHAT_* environment
// overrides only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("portalchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "pebble", "redis", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive, got %d", c.Sync.PageSize)
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("sync.poll_interval must be positive, got %s", c.Sync.PollInterval)
	}
	if c.Cache.GroupsTTL < 0 || c.Cache.MessagesTTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}
	return nil
}
