package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-edu-relay/pkg/pubsub"
)

type recordingHub struct {
	mu     sync.Mutex
	frames []string
}

func (h *recordingHub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, string(data))
}

func (h *recordingHub) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.frames...)
}

func TestForwardValidates(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"chat", `{"type":"chat","text":"hi","sender":"teacher","teacherId":"t1","parentId":"p1","timestamp":1}`, nil},
		{"chat with unknown fields", `{"type":"chat","extra":{"nested":true}}`, nil},
		{"not json", `hello`, ErrMalformed},
		{"array", `[1,2]`, ErrMalformed},
		{"null", `null`, ErrMalformed},
		{"missing type", `{"text":"hi"}`, ErrNotChat},
		{"other type", `{"type":"user_info"}`, ErrNotChat},
		{"type not string", `{"type":7}`, ErrNotChat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := &recordingHub{}
			r := New(hub)

			err := r.Forward(context.Background(), []byte(tt.raw))
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				assert.Empty(t, hub.snapshot())
				assert.Zero(t, r.Forwarded())
				return
			}
			require.NoError(t, err)
			// Payloads go out byte for byte.
			assert.Equal(t, []string{tt.raw}, hub.snapshot())
			assert.Equal(t, int64(1), r.Forwarded())
		})
	}
}

func TestRunWithoutBackplaneReturns(t *testing.T) {
	r := New(&recordingHub{})
	r.Run(context.Background())

	select {
	case <-r.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestBackplaneSharesChatAcrossInstances(t *testing.T) {
	bus := pubsub.NewMemoryPubSub()
	defer bus.Close()

	hubA, hubB := &recordingHub{}, &recordingHub{}
	a := New(hubA, WithBackplane(bus, pubsub.ChannelRelayChat, "relay-a"))
	b := New(hubB, WithBackplane(bus, pubsub.ChannelRelayChat, "relay-b"))

	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	go b.Run(ctx)

	// Wait for both subscriptions: a probe from a third origin reaches both hubs.
	probe, err := pubsub.NewEvent(pubsub.EventChatRelayed, "probe", []byte(`{"type":"chat","text":"probe"}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		assert.NoError(t, bus.Publish(ctx, pubsub.ChannelRelayChat, probe))
		return len(hubA.snapshot()) > 0 && len(hubB.snapshot()) > 0
	}, time.Second, 20*time.Millisecond)
	// Let probes still in flight land.
	time.Sleep(50 * time.Millisecond)
	baseA, baseB := len(hubA.snapshot()), len(hubB.snapshot())

	raw := `{"type":"chat","text":"across"}`
	require.NoError(t, a.Forward(ctx, []byte(raw)))

	require.Eventually(t, func() bool { return len(hubB.snapshot()) > baseB }, time.Second, 5*time.Millisecond)
	assert.Equal(t, raw, hubB.snapshot()[len(hubB.snapshot())-1])

	// relay-a sees its own event on the bus but does not broadcast it twice.
	assert.Never(t, func() bool { return len(hubA.snapshot()) > baseA+1 }, 60*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, raw, hubA.snapshot()[baseA])

	cancel()
	<-a.Done()
	<-b.Done()
}

func TestBackplaneDropsInvalidEvents(t *testing.T) {
	bus := pubsub.NewMemoryPubSub()
	defer bus.Close()

	hub := &recordingHub{}
	r := New(hub, WithBackplane(bus, pubsub.ChannelRelayChat, "relay-a"))
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-r.Done()
	}()
	go r.Run(ctx)

	good, err := pubsub.NewEvent(pubsub.EventChatRelayed, "relay-b", []byte(`{"type":"chat"}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		assert.NoError(t, bus.Publish(ctx, pubsub.ChannelRelayChat, good))
		return len(hub.snapshot()) > 0
	}, time.Second, 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	base := len(hub.snapshot())

	wrongType, err := pubsub.NewEvent("something_else", "relay-b", []byte(`{"type":"chat"}`))
	require.NoError(t, err)
	badPayload, err := pubsub.NewEvent(pubsub.EventChatRelayed, "relay-b", []byte(`{"type":"system"}`))
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, pubsub.ChannelRelayChat, wrongType))
	require.NoError(t, bus.Publish(ctx, pubsub.ChannelRelayChat, badPayload))

	assert.Never(t, func() bool { return len(hub.snapshot()) > base }, 60*time.Millisecond, 10*time.Millisecond)
}
