package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/weiawesome/wes-edu-relay/pkg/log"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
	"github.com/weiawesome/wes-edu-relay/pkg/pubsub"
)

var (
	ErrMalformed = errors.New("payload is not a JSON object")
	ErrNotChat   = errors.New("payload is not a chat message")
)

const resubscribeDelay = 2 * time.Second

// Broadcaster delivers a payload to every connected socket.
type Broadcaster interface {
	Broadcast(data []byte)
}

// Relay forwards chat payloads unchanged to every socket. It does not
// route, store or authorize; recipients filter by participant ids. With a
// bus attached, accepted payloads are also shared with other instances.
type Relay struct {
	hub        Broadcaster
	bus        pubsub.PubSub
	channel    string
	instanceID string

	forwarded atomic.Int64
	doneCh    chan struct{}
}

type Option func(*Relay)

// WithBackplane publishes accepted payloads on channel and re-broadcasts
// those published by other instances once Run is started.
func WithBackplane(bus pubsub.PubSub, channel, instanceID string) Option {
	return func(r *Relay) {
		r.bus = bus
		r.channel = channel
		r.instanceID = instanceID
	}
}

func New(hub Broadcaster, opts ...Option) *Relay {
	r := &Relay{
		hub:     hub,
		channel: pubsub.ChannelRelayChat,
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Forward validates raw and broadcasts the original bytes.
func (r *Relay) Forward(ctx context.Context, raw []byte) error {
	if err := check(raw); err != nil {
		return err
	}

	r.hub.Broadcast(raw)
	r.forwarded.Add(1)

	if r.bus != nil {
		event, err := pubsub.NewEvent(pubsub.EventChatRelayed, r.instanceID, json.RawMessage(raw))
		if err != nil {
			return fmt.Errorf("failed to wrap chat for backplane: %w", err)
		}
		if err := r.bus.Publish(ctx, r.channel, event); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str("channel", r.channel).Msg("failed to publish chat to backplane")
		}
	}
	return nil
}

// Forwarded returns the number of payloads broadcast locally.
func (r *Relay) Forwarded() int64 {
	return r.forwarded.Load()
}

// Done is closed when Run returns.
func (r *Relay) Done() <-chan struct{} { return r.doneCh }

// Run consumes the backplane until ctx ends, resubscribing after failures.
// Without a backplane it returns at once.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.doneCh)
	if r.bus == nil {
		return
	}
	l := log.L()

	for {
		err := r.runSubscription(ctx)
		if ctx.Err() != nil {
			return
		}
		l.Warn().Err(err).Str("channel", r.channel).Msg("backplane subscription ended, resubscribing in 2s")
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (r *Relay) runSubscription(ctx context.Context) error {
	events, err := r.bus.Subscribe(ctx, r.channel)
	if err != nil {
		return err
	}
	defer r.bus.Unsubscribe(context.Background(), r.channel)

	l := log.L()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return errors.New("event channel closed")
			}
			if event.Origin == r.instanceID || event.Type != pubsub.EventChatRelayed {
				continue
			}
			if err := check(event.Payload); err != nil {
				l.Warn().Err(err).Str(log.FieldInstanceID, event.Origin).Msg("dropping backplane payload")
				continue
			}
			r.hub.Broadcast(event.Payload)
		}
	}
}

func check(raw []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return ErrMalformed
	}
	var typ string
	if err := json.Unmarshal(fields["type"], &typ); err != nil || typ != protocol.TypeChat {
		return ErrNotChat
	}
	return nil
}
