package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	pkgconfig "github.com/weiawesome/wes-edu-relay/pkg/config"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
)

type Config struct {
	Relay    RelayConfig
	History  HistoryConfig
	Identity IdentityConfig
	Dedup    DedupConfig
	Log      LogConfig
}

type RelayConfig struct {
	URL               string
	ReconnectDelay    time.Duration `mapstructure:"-"`
	HeartbeatInterval time.Duration `mapstructure:"-"`
	ReadTimeout       time.Duration `mapstructure:"-"`
}

type HistoryConfig struct {
	URL     string
	Timeout time.Duration `mapstructure:"-"`
}

type IdentityConfig struct {
	UserID string `mapstructure:"user_id"`
	Role   string
	Name   string
}

type DedupConfig struct {
	Window time.Duration `mapstructure:"-"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load layers, lowest first: defaults, ./config/config.yaml, .env,
// environment, command-line flags.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	setDefaults(v)

	flags := pflag.NewFlagSet("chat-cli", pflag.ContinueOnError)
	flags.String("relay", "", "relay websocket URL")
	flags.String("history", "", "history-service base URL")
	flags.String("user", "", "user id announced in the handshake")
	flags.String("role", "", "teacher or parent")
	flags.String("name", "", "display name")
	flags.String("log-level", "", "log level")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	for key, flag := range map[string]string{
		"relay.url":        "relay",
		"history.url":      "history",
		"identity.user_id": "user",
		"identity.role":    "role",
		"identity.name":    "name",
		"log.level":        "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, err
		}
	}

	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Relay.ReconnectDelay = pkgconfig.Duration(v, "relay.reconnect_delay", 3*time.Second)
	cfg.Relay.HeartbeatInterval = pkgconfig.Duration(v, "relay.heartbeat_interval", 60*time.Second)
	cfg.Relay.ReadTimeout = pkgconfig.Duration(v, "relay.read_timeout", 90*time.Second)
	cfg.History.Timeout = pkgconfig.Duration(v, "history.timeout", 10*time.Second)
	cfg.Dedup.Window = pkgconfig.Duration(v, "dedup.window", 2*time.Second)

	if cfg.Identity.UserID == "" {
		return nil, fmt.Errorf("identity.user_id is required")
	}
	if cfg.Identity.Role != protocol.RoleTeacher && cfg.Identity.Role != protocol.RoleParent {
		return nil, fmt.Errorf("identity.role must be %q or %q, got %q", protocol.RoleTeacher, protocol.RoleParent, cfg.Identity.Role)
	}
	if cfg.Identity.Name == "" {
		cfg.Identity.Name = cfg.Identity.UserID
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay.url", "ws://localhost:8095/ws")
	v.SetDefault("relay.reconnect_delay", "3s")
	v.SetDefault("relay.heartbeat_interval", "60s")
	v.SetDefault("relay.read_timeout", "90s")
	v.SetDefault("history.url", "http://localhost:8096")
	v.SetDefault("history.timeout", "10s")
	v.SetDefault("identity.user_id", "")
	v.SetDefault("identity.role", "")
	v.SetDefault("identity.name", "")
	v.SetDefault("dedup.window", "2s")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.pretty", true)
}
