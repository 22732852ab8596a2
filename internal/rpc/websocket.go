package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paybyt/paybyt-wallet/internal/wallet"
	"github.com/paybyt/paybyt-wallet/pkg/logging"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait / 2
	wsMaxMessageSize = 4096
	wsSendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to localhost and serves wallet UIs on other ports.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventType is the type of a wallet notification pushed to clients.
type EventType string

const (
	EventUTXOReserved EventType = wallet.EventUTXOReserved
	EventUTXOReleased EventType = wallet.EventUTXOReleased
	EventTxFinalized  EventType = wallet.EventTxFinalized
	EventTxBroadcast  EventType = wallet.EventTxBroadcast
)

// WSEvent is a notification frame.
type WSEvent struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// WSSubscription is a client request to filter the events it receives.
// A client without subscriptions receives every event.
type WSSubscription struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Events []string `json:"events"`
}

// WSClient is one connected notification consumer.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu            sync.RWMutex
	subscriptions map[EventType]bool
}

func (c *WSClient) wants(t EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[t]
}

// WSHub fans wallet events out to connected clients.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	events     chan *WSEvent
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	closeOnce  sync.Once

	log *logging.Logger
}

// NewWSHub creates a hub. Run must be called to start delivery.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]struct{}),
		events:     make(chan *WSEvent, wsSendBuffer),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
		log:        logging.GetDefault().Component("ws"),
	}
}

// Run delivers events until Close is called.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.dropAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("Client connected", "clients", n)

		case c := <-h.unregister:
			h.drop(c)

		case event := <-h.events:
			h.deliver(event)
		}
	}
}

func (h *WSHub) deliver(event *WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("Failed to encode event", "type", event.Type, "error", err)
		return
	}

	var slow []*WSClient
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(event.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("Dropping slow client", "type", event.Type)
		h.drop(c)
	}
}

func (h *WSHub) drop(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.log.Debug("Client disconnected", "clients", len(h.clients))
}

func (h *WSHub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close stops Run and disconnects every client. It is safe to call more
// than once.
func (h *WSHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Publish queues a wallet event for delivery. It never blocks, so it can be
// registered as the wallet service event handler.
func (h *WSHub) Publish(e wallet.Event) {
	h.Broadcast(EventType(e.Type), e.Data)
}

// Broadcast queues an event for every subscribed client.
func (h *WSHub) Broadcast(eventType EventType, data interface{}) {
	event := &WSEvent{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	select {
	case h.events <- event:
	default:
		h.log.Warn("Event queue full, dropping event", "type", eventType)
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		conn:          conn,
		send:          make(chan []byte, wsSendBuffer),
		hub:           s.wsHub,
		subscriptions: make(map[EventType]bool),
	}

	select {
	case s.wsHub.register <- c:
	case <-s.wsHub.done:
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}

// readLoop consumes subscription requests and keeps the read deadline
// alive through pongs.
func (c *WSClient) readLoop() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("WebSocket read error", "error", err)
			}
			return
		}

		var sub WSSubscription
		if err := json.Unmarshal(msg, &sub); err != nil {
			c.hub.log.Debug("Ignoring malformed client message", "error", err)
			continue
		}
		c.handleSubscription(&sub)
	}
}

// writeLoop sends queued events, coalescing a backlog into one
// newline-separated frame, and pings the peer.
func (c *WSClient) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeFrame(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) writeFrame(first []byte) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(first)
	for n := len(c.send); n > 0; n-- {
		msg, ok := <-c.send
		if !ok {
			break
		}
		w.Write([]byte{'\n'})
		w.Write(msg)
	}
	return w.Close()
}

func (c *WSClient) handleSubscription(sub *WSSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range sub.Events {
		switch sub.Action {
		case "subscribe":
			c.subscriptions[EventType(name)] = true
		case "unsubscribe":
			delete(c.subscriptions, EventType(name))
		}
	}
}
