package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventBroadcaster fans server events out to every authenticated client.
// Each event carries a monotonic sequence number so clients can detect
// dropped events after a reconnect.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     atomic.Int64
}

// NewEventBroadcaster creates a broadcaster over the given client registry.
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Broadcast delivers an event to all authenticated clients. Writes are
// bounded by the connection write deadline, so a stalled client cannot
// wedge the fan-out. Delivery failures are logged and skipped; the client
// reader reaps dead connections.
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	clients := b.clients.GetAuthenticatedClients()
	if len(clients) == 0 {
		return
	}

	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       b.seq.Add(1),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	dropped := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			dropped++
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", event).
				Int64("seq", msg.Seq).
				Msg("Failed to deliver event")
		}
	}

	b.logger.Debug().
		Str("event", event).
		Int64("seq", msg.Seq).
		Int("delivered", len(clients)-dropped).
		Int("dropped", dropped).
		Msg("Event broadcast")
}
