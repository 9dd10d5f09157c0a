package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-edu-relay/pkg/log"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/hub"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/presence"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/relay"
)

const welcomeText = "connected to relay"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler serves the relay socket: handshakes and heartbeats go to the
// presence service, chat payloads to the relay.
type WSHandler struct {
	hub      *hub.Hub
	presence *presence.Service
	relay    *relay.Relay
}

func NewWSHandler(h *hub.Hub, p *presence.Service, r *relay.Relay) *WSHandler {
	return &WSHandler{hub: h, presence: p, relay: r}
}

// HandleWebSocket upgrades the request and starts the client pumps.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn)

	// The request context ends when this handler returns; the socket
	// outlives it but keeps the request-scoped logger.
	logger := log.Ctx(r.Context()).With().Str(log.FieldClientID, client.ID).Logger()
	ctx := log.WithLogger(context.WithoutCancel(r.Context()), logger)

	h.hub.Register(client)
	client.SendMessage(protocol.NewSystem(welcomeText, time.Now()))

	go client.WritePump()
	go client.ReadPump(
		func(c *hub.Client, message []byte) { h.handleMessage(ctx, c, message) },
		func(c *hub.Client) { h.presence.Disconnect(ctx, c.ID) },
	)
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte) {
	l := log.Ctx(ctx)

	msgType, err := protocol.Peek(message)
	if err != nil {
		l.Warn().Err(err).Msg("dropping malformed payload")
		return
	}

	switch msgType {
	case protocol.TypeUserInfo:
		var info protocol.UserInfo
		if err := json.Unmarshal(message, &info); err != nil {
			l.Warn().Err(err).Msg("dropping malformed user_info")
			return
		}
		if _, err := h.presence.Handshake(ctx, client.ID, info); err != nil {
			l.Warn().Err(err).Msg("handshake rejected")
			return
		}
		// The socket gets the registry right away even when the handshake
		// was a duplicate and no broadcast follows.
		client.SendMessage(h.presence.Snapshot())

	case protocol.TypeUserOffline:
		var msg protocol.UserOffline
		if err := json.Unmarshal(message, &msg); err != nil {
			l.Warn().Err(err).Msg("dropping malformed user_offline")
			return
		}
		h.presence.Logout(ctx, client.ID, msg.UserID)

	case protocol.TypeChat:
		if err := h.relay.Forward(ctx, message); err != nil {
			if errors.Is(err, relay.ErrMalformed) || errors.Is(err, relay.ErrNotChat) {
				l.Warn().Err(err).Msg("dropping chat payload")
				return
			}
			l.Error().Err(err).Msg("chat relay failed")
		}

	case protocol.TypePing:
		h.presence.Touch(client.ID)
		client.SendMessage(protocol.Envelope{Type: protocol.TypePong})

	default:
		l.Debug().Str("type", msgType).Msg("ignoring unknown message type")
	}
}
