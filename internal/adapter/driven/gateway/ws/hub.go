package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/huyvnnb/tanin/internal/core/domain"
	"github.com/huyvnnb/tanin/internal/core/port"
)

// eventsChannel is the single pub/sub channel shared by every process.
const eventsChannel = "tanin:events"

// envelope is the wire form of one fan-out message: the target identity
// plus the already-encoded server event.
type envelope struct {
	Target string          `json:"target"`
	Event  json.RawMessage `json:"event"`
}

// Hub implements port.Gateway: a per-process registry of live websocket
// clients plus cross-process delivery over Redis pub/sub. The registry is
// rebuilt from zero on process restart; only the pub/sub channel is shared.
type Hub struct {
	rdb goredis.UniversalClient

	mu      sync.Mutex
	clients map[string]port.Client
}

func NewHub(rdb goredis.UniversalClient) *Hub {
	return &Hub{
		rdb:     rdb,
		clients: make(map[string]port.Client),
	}
}

// Register records c as the identity's live handle. A reconnecting identity
// supersedes its previous handle, which is closed.
func (h *Hub) Register(id domain.UserID, c port.Client) {
	h.mu.Lock()
	prev := h.clients[id.String()]
	h.clients[id.String()] = c
	h.mu.Unlock()

	if prev != nil && prev != c {
		prev.Close()
		log.Info().Str("user_id", id.String()).Msg("Superseded previous connection")
	}
	log.Info().Str("user_id", id.String()).Msg("Client registered")
}

// Unregister removes the handle only when c is still current, so the
// deferred cleanup of a superseded connection leaves its successor alone.
func (h *Hub) Unregister(id domain.UserID, c port.Client) {
	h.mu.Lock()
	if h.clients[id.String()] == c {
		delete(h.clients, id.String())
	}
	h.mu.Unlock()
	log.Info().Str("user_id", id.String()).Msg("Client unregistered")
}

// Publish always goes through the shared channel, even when the target is
// connected to this very process: one code path for all recipients.
func (h *Hub) Publish(ctx context.Context, target domain.UserID, ev domain.ServerEvent) error {
	encoded, err := domain.EncodeServerEvent(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.EventType(), err)
	}
	payload, err := json.Marshal(envelope{Target: target.String(), Event: encoded})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := h.rdb.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s event to %s: %w", ev.EventType(), target, err)
	}
	return nil
}

// Listen subscribes to the shared channel and delivers each message to the
// locally registered target. Messages for identities connected to another
// process, or to nobody, are dropped: delivery is best-effort, at most once.
// Cancellation is honored only between receives; a message already pulled
// off the channel is always fully processed first.
func (h *Hub) Listen(ctx context.Context) error {
	sub := h.rdb.Subscribe(ctx, eventsChannel)
	defer sub.Close()

	// Block until the subscription is confirmed so no message published
	// after Listen returns control to the caller can be missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", eventsChannel, err)
	}

	ch := sub.Channel()
	log.Info().Str("channel", eventsChannel).Msg("Fan-out listener started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Fan-out listener stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.dispatch(msg.Payload)
		}
	}
}

func (h *Hub) dispatch(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Warn().Err(err).Msg("Dropping undecodable fan-out message")
		return
	}
	h.deliverLocal(env.Target, env.Event)
}

func (h *Hub) deliverLocal(target string, event []byte) {
	h.mu.Lock()
	c, ok := h.clients[target]
	h.mu.Unlock()
	if !ok {
		// Connected to another process, or already gone.
		return
	}
	if err := c.Send(event); err != nil {
		log.Error().Err(err).Str("user_id", target).Msg("Error sending event, dropping client")
		c.Close()
		h.mu.Lock()
		if h.clients[target] == c {
			delete(h.clients, target)
		}
		h.mu.Unlock()
	}
}
