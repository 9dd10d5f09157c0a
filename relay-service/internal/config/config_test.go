package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-edu-relay/pkg/pubsub"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := FromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 8095, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Server.InstanceID)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, int64(8192), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Presence.DebounceWindow)
	assert.Equal(t, 2*time.Second, cfg.Presence.DuplicateWindow)
	assert.Equal(t, 5*time.Minute, cfg.Presence.StaleAfter)
	assert.False(t, cfg.Backplane.Enabled)
	assert.Equal(t, pubsub.ChannelRelayChat, cfg.Backplane.Channel)
	assert.Equal(t, pubsub.DriverRedis, cfg.Backplane.PubSub.Driver)
	assert.Equal(t, 3*time.Second, cfg.Backplane.PubSub.Redis.ReadTimeout)
	assert.Equal(t, "relay-"+cfg.Server.InstanceID, cfg.Backplane.PubSub.Kafka.GroupID)
	assert.Equal(t, "none", cfg.Directory.Driver)
	assert.Equal(t, "relay.db", cfg.Directory.Database.FilePath)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("server.instance_id", "relay-a")
	v.Set("presence.debounce_window", "250ms")
	v.Set("presence.stale_after", "not-a-duration")
	v.Set("backplane.enabled", true)
	v.Set("backplane.driver", pubsub.DriverKafka)
	v.Set("backplane.kafka.brokers", "k1:9092,k2:9092")

	cfg, err := FromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "relay-a", cfg.Server.InstanceID)
	assert.Equal(t, 250*time.Millisecond, cfg.Presence.DebounceWindow)
	assert.Equal(t, 5*time.Minute, cfg.Presence.StaleAfter)
	assert.True(t, cfg.Backplane.Enabled)
	assert.Equal(t, pubsub.DriverKafka, cfg.Backplane.PubSub.Driver)
	assert.Equal(t, "k1:9092,k2:9092", cfg.Backplane.PubSub.Kafka.Brokers)
	assert.Equal(t, "relay-relay-a", cfg.Backplane.PubSub.Kafka.GroupID)
}
