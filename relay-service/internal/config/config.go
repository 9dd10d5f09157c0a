package config

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	pkgconfig "github.com/weiawesome/wes-edu-relay/pkg/config"
	"github.com/weiawesome/wes-edu-relay/pkg/database"
	"github.com/weiawesome/wes-edu-relay/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	WebSocket WebSocketConfig
	Presence  PresenceConfig
	Backplane BackplaneConfig
	Directory DirectoryConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host       string
	Port       int
	InstanceID string `mapstructure:"instance_id"`
}

type GRPCConfig struct {
	Enabled bool
	Host    string
	Port    int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"-"`
	PongWait       time.Duration `mapstructure:"-"`
	WriteWait      time.Duration `mapstructure:"-"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type PresenceConfig struct {
	DebounceWindow  time.Duration `mapstructure:"-"`
	DuplicateWindow time.Duration `mapstructure:"-"`
	SweepInterval   time.Duration `mapstructure:"-"`
	StaleAfter      time.Duration `mapstructure:"-"`
}

// BackplaneConfig enables cross-instance chat fan-out over pkg/pubsub.
type BackplaneConfig struct {
	Enabled bool
	Channel string
	PubSub  pubsub.Config `mapstructure:",squash"`
}

// DirectoryConfig selects where display names come from when a handshake
// carries none: "none", "memory" or "sql".
type DirectoryConfig struct {
	Driver   string
	Database database.Config
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads ./config/config.yaml plus environment overrides. The viper
// instance is returned so callers can watch the file for changes.
func Load() (*Config, *viper.Viper, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, nil, err
	}

	setDefaults(v)
	bindEnv(v)

	cfg, err := FromViper(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// FromViper decodes v into a Config and fills derived values.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Presence.DebounceWindow = pkgconfig.Duration(v, "presence.debounce_window", 100*time.Millisecond)
	cfg.Presence.DuplicateWindow = pkgconfig.Duration(v, "presence.duplicate_window", 2*time.Second)
	cfg.Presence.SweepInterval = pkgconfig.Duration(v, "presence.sweep_interval", 30*time.Second)
	cfg.Presence.StaleAfter = pkgconfig.Duration(v, "presence.stale_after", 5*time.Minute)

	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = uuid.New().String()
	}
	if cfg.Backplane.PubSub.Kafka.GroupID == "" {
		cfg.Backplane.PubSub.Kafka.GroupID = "relay-" + cfg.Server.InstanceID
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8095)
	v.SetDefault("server.instance_id", "")
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50065)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("presence.debounce_window", "100ms")
	v.SetDefault("presence.duplicate_window", "2s")
	v.SetDefault("presence.sweep_interval", "30s")
	v.SetDefault("presence.stale_after", "5m")
	v.SetDefault("backplane.enabled", false)
	v.SetDefault("backplane.channel", pubsub.ChannelRelayChat)
	v.SetDefault("backplane.driver", pubsub.DriverRedis)
	v.SetDefault("backplane.redis.address", "localhost:6379")
	v.SetDefault("backplane.redis.password", "")
	v.SetDefault("backplane.redis.db", 0)
	v.SetDefault("backplane.redis.pool_size", 10)
	v.SetDefault("backplane.redis.read_timeout", "3s")
	v.SetDefault("backplane.redis.write_timeout", "3s")
	v.SetDefault("backplane.kafka.brokers", "localhost:9092")
	v.SetDefault("backplane.kafka.group_id", "")
	v.SetDefault("backplane.kafka.partitions", 4)
	v.SetDefault("directory.driver", "none")
	v.SetDefault("directory.database.driver", "sqlite")
	v.SetDefault("directory.database.file_path", "relay.db")
	v.SetDefault("directory.database.log_level", "warn")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.instance_id", "INSTANCE_ID")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("backplane.enabled", "BACKPLANE_ENABLED")
	v.BindEnv("backplane.driver", "BACKPLANE_DRIVER")
	v.BindEnv("backplane.redis.address", "REDIS_ADDRESS")
	v.BindEnv("backplane.redis.password", "REDIS_PASSWORD")
	v.BindEnv("backplane.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("directory.driver", "DIRECTORY_DRIVER")
	v.BindEnv("directory.database.driver", "DB_DRIVER")
	v.BindEnv("directory.database.host", "DB_HOST")
	v.BindEnv("directory.database.port", "DB_PORT")
	v.BindEnv("directory.database.user", "DB_USER")
	v.BindEnv("directory.database.password", "DB_PASSWORD")
	v.BindEnv("directory.database.dbname", "DB_NAME")
	v.BindEnv("log.level", "LOG_LEVEL")
}
