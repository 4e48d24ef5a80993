/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/maiguangyang/call_core/pkg/events"
)

const (
	writeWait      = 10 * time.Second
	clientSendSize = 64
	broadcastSize  = 256
)

// client is one WebSocket subscriber to a single session's events
type client struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub fans session events out to WebSocket subscribers
type Hub struct {
	clients    map[*client]bool
	broadcast  chan events.Event
	register   chan *client
	unregister chan *client
	quit       chan struct{}
	stopOnce   sync.Once
	logger     zerolog.Logger
}

// NewHub creates a hub; call Run in its own goroutine
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan events.Event, broadcastSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		quit:       make(chan struct{}),
		logger:     logger.With().Str("module", "hub").Logger(),
	}
}

// Publish queues an event without blocking; events are dropped when the queue is full
func (h *Hub) Publish(ev events.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn().Str("session_id", ev.SessionID).Str("type", string(ev.Type)).
			Msg("Broadcast channel full, dropping event")
	}
}

// Run owns the client set until Stop
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			h.logger.Info().Str("client_id", c.id).Str("session_id", c.sessionID).Msg("Client registered")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
				h.logger.Info().Str("client_id", c.id).Msg("Client unregistered")
			}

		case ev := <-h.broadcast:
			data := []byte(ev.ToJSON())
			for c := range h.clients {
				if c.sessionID != ev.SessionID {
					continue
				}
				select {
				case c.send <- data:
				default:
					// slow consumer
					h.logger.Warn().Str("client_id", c.id).Msg("Client too slow, disconnecting")
					delete(h.clients, c)
					c.close()
				}
			}
		}
	}
}

func (h *Hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Stop disconnects every client and ends Run
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
}

// writePump sends queued events and keeps the connection alive with pings
func (c *client) writePump(pingPeriod time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug().Err(err).Msg("Write failed")
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

// readPump discards client frames and returns when the peer goes away
func (c *client) readPump(pingPeriod time.Duration, logger zerolog.Logger) {
	pongWait := pingPeriod * 10 / 9
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
	}
}
