// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopfloor-dev/foreman/internal/events"
)

const (
	// Time allowed to write a message to a watcher.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from a watcher.
	pongWait = 60 * time.Second
	// Send pings to the watcher with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from a watcher.
	maxMessageSize = 512
	// Buffered envelopes per watcher before it is considered too slow.
	sendBufferSize = 64
)

// Hub fans schedule events out to connected websocket watchers. It
// implements events.Publisher, so it can be combined with the mqtt
// publisher through events.MultiPublisher.
type Hub struct {
	upgrader websocket.Upgrader

	clients    map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
	events     chan events.Event
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from a different origin during
			// development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:    map[*wsClient]struct{}{},
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		events:     make(chan events.Event, 256),
	}
}

// Publish hands the event to the broadcast loop. The scheduler calls
// this from its hot loop, so a full buffer sheds the event instead of
// blocking.
func (h *Hub) Publish(event events.Event) {
	select {
	case h.events <- event:
	default:
		slog.Debug("ws: dropping event, broadcast buffer full", "type", event.Type)
	}
}

// Run owns the client set. Should be run in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case event := <-h.events:
			payload, err := json.Marshal(event)
			if err != nil {
				slog.Error("ws: failed to encode event", "type", event.Type, "error", err)
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// Too slow to keep up, disconnect rather than stall.
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// HandleConnection upgrades the request and attaches the watcher to
// the hub.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws: upgrade failed", "error", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.register <- client
	go client.writePump()
	go client.readPump(h)
}

// One connected watcher.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Watchers only listen; reads exist to notice closed connections and
// to answer the keepalive pings.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
