package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huyvnnb/tanin/internal/core/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size; enough for WebRTC SDP blobs.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins once the web client's domain is settled
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errClientGone = errors.New("client connection is closed")

// WSClient is one live websocket handle as the hub sees it. All writes go
// through the send channel and the write pump: gorilla permits only one
// concurrent writer per connection.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newWSClient(id string, conn *websocket.Conn) *WSClient {
	return &WSClient{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (c *WSClient) ID() string {
	return c.id
}

// Send queues an encoded event for the write pump. A full buffer drops the
// event rather than blocking the fan-out listener: delivery is best-effort.
func (c *WSClient) Send(encoded []byte) error {
	select {
	case <-c.done:
		return errClientGone
	case c.send <- encoded:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (c *WSClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}

// writePump drains the send channel onto the connection and keeps it alive
// with pings. There is at most one writer per connection: this goroutine.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades the connection, resolves the caller's identity and runs
// the per-connection event loop. Inbound events are processed strictly in
// arrival order; the loop is the only reader of the connection.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error upgrading websocket")
		return
	}

	user, err := h.Resolver.Resolve(r)
	if err != nil {
		// Reject before any core state is touched.
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "missing or invalid credentials"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client := newWSClient(user.ID.String(), conn)
	go client.writePump()

	l := log.With().Str("user_id", user.ID.String()).Logger()

	if err := h.Session.Connect(r.Context(), user, client); err != nil {
		l.Error().Err(err).Msg("Error connecting session")
		client.Close()
		return
	}
	l.Info().Bool("anonymous", user.IsAnonymous).Msg("Client connected")

	limitKey := h.limitKey(r)

	// Cleanup must run exactly once, whether the loop ends in a clean
	// close or an abrupt transport failure. The request context may be
	// dead by then, so teardown uses its own.
	var cleanupOnce sync.Once
	cleanup := func() {
		l.Info().Msg("Client disconnected")
		h.Session.Disconnect(context.Background(), user, client)
		client.Close()
	}
	defer cleanupOnce.Do(cleanup)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}

		ev, err := domain.DecodeClientEvent(data)
		if err != nil {
			// Malformed and unknown events are dropped without feedback.
			l.Debug().Err(err).Msg("Dropping client event")
			continue
		}

		allowed, err := h.Limiter.Consume(r.Context(), limitKey, 1)
		if err != nil {
			l.Error().Err(err).Msg("Rate limiter error")
		}
		if !allowed {
			l.Warn().Str("event_type", string(ev.Type)).Msg("Rate limited, dropping event")
			continue
		}

		if err := h.Session.HandleEvent(r.Context(), user, ev); err != nil {
			l.Error().Err(err).Str("event_type", string(ev.Type)).Msg("Error handling event")
		}
	}
}
