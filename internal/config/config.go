package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	TransportRelay    = "relay"
	TransportPresence = "presence"

	RelayPath    = "/api/ws/signal"
	PresencePath = "/api/ws/presence"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	// Relay server side.
	JoinRateLimit    int           `mapstructure:"join_rate_limit"`
	JoinRateInterval time.Duration `mapstructure:"join_rate_interval"`
	Backpressure     string        `mapstructure:"backpressure"`

	// Client side.
	Transport   string        `mapstructure:"transport"`
	ServerURL   string        `mapstructure:"server_url"`
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
	ICEServers  []string      `mapstructure:"ice_servers"`
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if it exists, then applies MESH_* environment overrides.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("MESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("log_level", "info")
	v.SetDefault("join_rate_limit", 10)
	v.SetDefault("join_rate_interval", "1m")
	v.SetDefault("backpressure", "kick")
	v.SetDefault("transport", TransportRelay)
	v.SetDefault("server_url", "ws://localhost:8080")
	v.SetDefault("join_timeout", "10s")
	v.SetDefault("ice_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:global.stun.twilio.com:3478",
	})

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("transport", cfg.Transport).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Transport {
	case TransportRelay, TransportPresence:
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	switch c.Backpressure {
	case "kick", "drop":
	default:
		return fmt.Errorf("config: unknown backpressure policy %q", c.Backpressure)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SignalURL is the websocket endpoint of the configured transport binding.
func (c *Config) SignalURL() string {
	base := strings.TrimRight(c.ServerURL, "/")
	if c.Transport == TransportPresence {
		return base + PresencePath
	}
	return base + RelayPath
}

// Level returns the configured zerolog level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
