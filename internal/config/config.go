package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/nolanmak/ThesisApp-sub002/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	API      APIConfig      `mapstructure:"api"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Alerting AlertingConfig `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// APIConfig covers the dashboard REST backend.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// FeedConfig tunes the push channels. Reconnect constants are configuration
// rather than hardcoded so tests and staging can use small values.
type FeedConfig struct {
	MessagesURL           string        `mapstructure:"messages_url"`
	AudioURL              string        `mapstructure:"audio_url"`
	MaxReconnectAttempts  int           `mapstructure:"max_reconnect_attempts"`
	BaseDelay             time.Duration `mapstructure:"base_delay"`
	MaxDelay              time.Duration `mapstructure:"max_delay"`
	MinConnectionInterval time.Duration `mapstructure:"min_connection_interval"`
	HandshakeTimeout      time.Duration `mapstructure:"handshake_timeout"`
	PingInterval          time.Duration `mapstructure:"ping_interval"`
}

// CacheConfig governs the local store.
type CacheConfig struct {
	MessagesTTL     time.Duration `mapstructure:"messages_ttl"`
	ConfigTTL       time.Duration `mapstructure:"config_ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FEEDWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "feedwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("api.request_timeout", "10s")
	v.SetDefault("api.user_agent", "feedwatcher/1.0")

	v.SetDefault("feed.max_reconnect_attempts", 5)
	v.SetDefault("feed.base_delay", "2s")
	v.SetDefault("feed.max_delay", "30s")
	v.SetDefault("feed.min_connection_interval", "5s")
	v.SetDefault("feed.handshake_timeout", "10s")
	v.SetDefault("feed.ping_interval", "30s")

	v.SetDefault("cache.messages_ttl", "60s")
	v.SetDefault("cache.config_ttl", "5m")
	v.SetDefault("cache.refresh_interval", "15m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Feed.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("feed.max_reconnect_attempts must be greater than zero")
	}
	if c.Feed.BaseDelay <= 0 || c.Feed.MaxDelay <= 0 {
		return fmt.Errorf("feed backoff delays must be greater than zero")
	}
	if c.Feed.MaxDelay < c.Feed.BaseDelay {
		return fmt.Errorf("feed.max_delay must not be smaller than feed.base_delay")
	}
	if c.Cache.MessagesTTL <= 0 {
		return fmt.Errorf("cache.messages_ttl must be greater than zero")
	}
	if c.Cache.RefreshInterval <= 0 {
		return fmt.Errorf("cache.refresh_interval must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}
