package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "COINVERSE"

// Config is the service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko" yaml:"coingecko"`
	Refresh   RefreshConfig   `mapstructure:"refresh" yaml:"refresh"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Chat      ChatConfig      `mapstructure:"chat" yaml:"chat"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// TLSDomains enables automatic ACME certificates when non-empty.
	TLSDomains   []string `mapstructure:"tls_domains" yaml:"tls_domains,omitempty"`
	CertCacheDir string   `mapstructure:"cert_cache_dir" yaml:"cert_cache_dir,omitempty"`
}

type CoinGeckoConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	HistoryDays int           `mapstructure:"history_days" yaml:"history_days"`
	WithVolume  bool          `mapstructure:"with_volume" yaml:"with_volume"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
}

type RefreshConfig struct {
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	MarkerWindow time.Duration `mapstructure:"marker_window" yaml:"marker_window"`
}

type CacheConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
	// HistoryMaxAge is how long cached price history is served without revalidation.
	HistoryMaxAge time.Duration `mapstructure:"history_max_age" yaml:"history_max_age"`
}

type ChatConfig struct {
	Dir           string `mapstructure:"dir" yaml:"dir"`
	HistoryLimit  int    `mapstructure:"history_limit" yaml:"history_limit"`
	MaxMessageLen int    `mapstructure:"max_message_len" yaml:"max_message_len"`
}

type AuthConfig struct {
	UsersFile  string        `mapstructure:"users_file" yaml:"users_file"`
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost" yaml:"bcrypt_cost"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			CertCacheDir: "cert-cache",
		},
		CoinGecko: CoinGeckoConfig{
			BaseURL:     "https://api.coingecko.com/api/v3",
			Timeout:     15 * time.Second,
			HistoryDays: 365,
			WithVolume:  true,
			MaxRetries:  2,
		},
		Refresh: RefreshConfig{
			Interval:     30 * time.Second,
			MarkerWindow: 500 * time.Millisecond,
		},
		Cache: CacheConfig{
			Dir:           "./data/cache",
			HistoryMaxAge: 10 * time.Minute,
		},
		Chat: ChatConfig{
			Dir:           "./data/chat",
			HistoryLimit:  100,
			MaxMessageLen: 2000,
		},
		Auth: AuthConfig{
			UsersFile:  "./data/users.json",
			SessionTTL: 30 * 24 * time.Hour,
			BcryptCost: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the yaml file at path (optional) on top of defaults and applies
// COINVERSE_* environment overrides, e.g. COINVERSE_COINGECKO_API_KEY.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.tls_domains", d.Server.TLSDomains)
	v.SetDefault("server.cert_cache_dir", d.Server.CertCacheDir)
	v.SetDefault("coingecko.base_url", d.CoinGecko.BaseURL)
	v.SetDefault("coingecko.api_key", d.CoinGecko.APIKey)
	v.SetDefault("coingecko.timeout", d.CoinGecko.Timeout)
	v.SetDefault("coingecko.history_days", d.CoinGecko.HistoryDays)
	v.SetDefault("coingecko.with_volume", d.CoinGecko.WithVolume)
	v.SetDefault("coingecko.max_retries", d.CoinGecko.MaxRetries)
	v.SetDefault("refresh.interval", d.Refresh.Interval)
	v.SetDefault("refresh.marker_window", d.Refresh.MarkerWindow)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.history_max_age", d.Cache.HistoryMaxAge)
	v.SetDefault("chat.dir", d.Chat.Dir)
	v.SetDefault("chat.history_limit", d.Chat.HistoryLimit)
	v.SetDefault("chat.max_message_len", d.Chat.MaxMessageLen)
	v.SetDefault("auth.users_file", d.Auth.UsersFile)
	v.SetDefault("auth.session_ttl", d.Auth.SessionTTL)
	v.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate checks values that would make the service misbehave.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.CoinGecko.BaseURL == "" {
		return errors.New("coingecko.base_url is required")
	}
	if c.CoinGecko.HistoryDays <= 0 {
		return errors.Errorf("coingecko.history_days must be positive, got %d", c.CoinGecko.HistoryDays)
	}
	if c.CoinGecko.MaxRetries < 0 {
		return errors.Errorf("coingecko.max_retries must not be negative, got %d", c.CoinGecko.MaxRetries)
	}
	if c.Refresh.Interval <= 0 {
		return errors.New("refresh.interval must be positive")
	}
	if c.Refresh.MarkerWindow <= 0 || c.Refresh.MarkerWindow >= c.Refresh.Interval {
		return errors.New("refresh.marker_window must be positive and shorter than refresh.interval")
	}
	if c.Chat.HistoryLimit <= 0 {
		return errors.New("chat.history_limit must be positive")
	}
	if c.Chat.MaxMessageLen <= 0 {
		return errors.New("chat.max_message_len must be positive")
	}
	if c.Auth.SessionTTL <= 0 {
		return errors.New("auth.session_ttl must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return errors.Errorf("auth.bcrypt_cost must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}
	return nil
}
