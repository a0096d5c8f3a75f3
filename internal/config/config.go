package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CRASHGUARD_BACKEND_BASE_URL
const EnvPrefix = "CRASHGUARD"

// Config is the service configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Emergency EmergencyConfig `mapstructure:"emergency"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Server    ServerConfig    `mapstructure:"server"`
	Status    StatusConfig    `mapstructure:"status"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type EmergencyConfig struct {
	CountdownSeconds     int           `mapstructure:"countdown_seconds"`
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	CallDelay            time.Duration `mapstructure:"call_delay"`
	AutoActivateOnDanger bool          `mapstructure:"auto_activate_on_danger"`
}

type NotifierConfig struct {
	TitlePrefix string        `mapstructure:"title_prefix"`
	Icon        string        `mapstructure:"icon"`
	Badge       string        `mapstructure:"badge"`
	Terminal    bool          `mapstructure:"terminal"`
	Permission  string        `mapstructure:"permission"`
	Webhook     WebhookConfig `mapstructure:"webhook"`
	Tone        ToneConfig    `mapstructure:"tone"`
}

type WebhookConfig struct {
	URLs    []string      `mapstructure:"urls"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ToneConfig struct {
	FrequencyHz float64       `mapstructure:"frequency_hz"`
	Pulse       time.Duration `mapstructure:"pulse"`
	Gap         time.Duration `mapstructure:"gap"`
	Pulses      int           `mapstructure:"pulses"`
}

type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type StatusConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// New returns a viper instance with every default set and environment
// overrides enabled
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "crashguard")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout", 10*time.Second)

	v.SetDefault("poller.interval", 30*time.Second)

	v.SetDefault("emergency.countdown_seconds", 10)
	v.SetDefault("emergency.tick_interval", time.Second)
	v.SetDefault("emergency.call_delay", time.Second)
	v.SetDefault("emergency.auto_activate_on_danger", false)

	v.SetDefault("notifier.title_prefix", "Dia-Pilot")
	v.SetDefault("notifier.icon", "/favicon.ico")
	v.SetDefault("notifier.badge", "/favicon.ico")
	v.SetDefault("notifier.terminal", true)
	v.SetDefault("notifier.permission", "default")
	v.SetDefault("notifier.webhook.urls", []string{})
	v.SetDefault("notifier.webhook.timeout", 10*time.Second)
	v.SetDefault("notifier.tone.frequency_hz", 800.0)
	v.SetDefault("notifier.tone.pulse", 300*time.Millisecond)
	v.SetDefault("notifier.tone.gap", 400*time.Millisecond)
	v.SetDefault("notifier.tone.pulses", 2)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.connect_retries", 5)

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("status.interval", time.Minute)
}

// Load reads the YAML file at path, if any, and decodes the configuration.
// A missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail at runtime
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("%w: backend.base_url is required", ErrInvalidConfig)
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("%w: poller.interval must be positive", ErrInvalidConfig)
	}
	if c.Emergency.CountdownSeconds <= 0 {
		return fmt.Errorf("%w: emergency.countdown_seconds must be positive", ErrInvalidConfig)
	}
	switch c.Notifier.Permission {
	case "default", "granted", "denied":
	default:
		return fmt.Errorf("%w: notifier.permission must be default, granted or denied", ErrInvalidConfig)
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("%w: nats.url is required when nats is enabled", ErrInvalidConfig)
	}
	return nil
}
