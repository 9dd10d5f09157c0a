package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/generator"
	pkgconfig "github.com/weiawesome/wes-edu-relay/pkg/config"
	"github.com/weiawesome/wes-edu-relay/pkg/database"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Database  database.Config
	Cassandra CassandraConfig
	Redis     RedisConfig
	Cache     CacheConfig
	IDs       generator.Config `mapstructure:"ids"`
	History   HistoryConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// StorageConfig selects the message repository: "memory", "sql" or
// "cassandra".
type StorageConfig struct {
	Driver string
}

type CassandraConfig struct {
	Hosts          []string
	Keyspace       string
	Consistency    string
	Username       string
	Password       string
	NumConns       int           `mapstructure:"num_conns"`
	ConnectTimeout time.Duration `mapstructure:"-"`
	Timeout        time.Duration `mapstructure:"-"`
	CreateSchema   bool          `mapstructure:"create_schema"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	Prefix  string
	TTL     time.Duration `mapstructure:"-"`
}

type HistoryConfig struct {
	Limit int // newest messages returned per conversation read
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads ./config/config.yaml plus environment overrides.
func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	setDefaults(v)
	bindEnv(v)
	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Cassandra.ConnectTimeout = pkgconfig.Duration(v, "cassandra.connect_timeout", 10*time.Second)
	cfg.Cassandra.Timeout = pkgconfig.Duration(v, "cassandra.timeout", 5*time.Second)
	cfg.Cache.TTL = pkgconfig.Duration(v, "cache.ttl", 30*time.Second)

	// CASSANDRA_HOSTS: comma-separated, e.g. "cassandra:9042" or "host1:9042,host2:9042"
	if hosts := os.Getenv("CASSANDRA_HOSTS"); hosts != "" {
		cfg.Cassandra.Hosts = nil
		for _, h := range strings.Split(hosts, ",") {
			if h = strings.TrimSpace(h); h != "" {
				cfg.Cassandra.Hosts = append(cfg.Cassandra.Hosts, h)
			}
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8096)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "history.db")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("cassandra.keyspace", "relay")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.num_conns", 2)
	v.SetDefault("cassandra.connect_timeout", "10s")
	v.SetDefault("cassandra.timeout", "5s")
	v.SetDefault("cassandra.create_schema", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.prefix", "chat:history")
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("ids.kind", generator.KindULID)
	v.SetDefault("ids.machine_id", 0)
	v.SetDefault("ids.epoch", 1704067200000) // 2024-01-01T00:00:00Z
	v.SetDefault("history.limit", 500)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "PORT")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("cassandra.keyspace", "CASSANDRA_KEYSPACE")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("cache.enabled", "CACHE_ENABLED")
	v.BindEnv("ids.kind", "ID_KIND")
	v.BindEnv("log.level", "LOG_LEVEL")
}
