package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crosslock-exchange/crosslock/internal/swap"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

const (
	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingPeriod  = 45 * time.Second
	wsMaxMsgSize  = 8192
	wsSendBacklog = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// EventType represents the type of WebSocket event. Swap lifecycle events
// reuse the coordinator's event names; auction events are defined here.
type EventType string

const (
	EventAuctionCreated   EventType = "auction_created"
	EventAuctionFilled    EventType = "auction_filled"
	EventAuctionExpired   EventType = "auction_expired"
	EventAuctionCancelled EventType = "auction_cancelled"
)

// WSEvent is the envelope pushed to subscribed clients.
type WSEvent struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`

	// Scope, used for filtering. Not serialized.
	swapID  string
	orderID string
}

// WSSubscription narrows a client's stream. A client with no subscription
// receives every event. Events filters by type; SwapIDs and OrderIDs pin the
// stream to specific swaps or auction orders, which is how a resolver watches
// only the orders it bid on.
type WSSubscription struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Events   []string `json:"events,omitempty"`
	SwapIDs  []string `json:"swap_ids,omitempty"`
	OrderIDs []string `json:"order_ids,omitempty"`
}

// WSClient is one connected WebSocket consumer.
type WSClient struct {
	hub  *WSHub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	events map[EventType]bool
	swaps  map[string]bool
	orders map[string]bool
}

// wants reports whether the client's subscription matches the event. Type,
// swap, and order filters are independent; an empty filter matches all.
func (c *WSClient) wants(ev *WSEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.events) > 0 && !c.events[ev.Type] {
		return false
	}
	if len(c.swaps) > 0 && !c.swaps[ev.swapID] {
		return false
	}
	if len(c.orders) > 0 && !c.orders[ev.orderID] {
		return false
	}
	return true
}

// WSHub fans events out to all connected clients.
type WSHub struct {
	log *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	broadcast chan *WSEvent
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		log:       logging.GetDefault().Component("ws"),
		clients:   make(map[*WSClient]struct{}),
		broadcast: make(chan *WSEvent, wsSendBacklog),
	}
}

// Run drains the broadcast channel. Meant to run in its own goroutine for the
// life of the server.
func (h *WSHub) Run() {
	for ev := range h.broadcast {
		h.fanout(ev)
	}
}

// Broadcast queues an event for delivery. Drops the event if the hub is
// backed up rather than stalling the caller.
func (h *WSHub) Broadcast(eventType EventType, data interface{}) {
	ev := &WSEvent{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	ev.swapID, ev.orderID = eventScope(data)

	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn("Broadcast channel full, dropping event", "type", eventType)
	}
}

// eventScope extracts the swap and order ids an event concerns, for
// per-client filtering.
func eventScope(data interface{}) (swapID, orderID string) {
	switch v := data.(type) {
	case swap.Event:
		return v.SwapID, ""
	case *SwapInfo:
		return v.ID, ""
	case *OrderInfo:
		return v.SwapID, v.ID
	}
	return "", ""
}

func (h *WSHub) fanout(ev *WSEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("Failed to marshal event", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Slow consumer; drop the connection rather than the stream.
			h.remove(c)
		}
	}
}

func (h *WSHub) add(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("WebSocket client connected", "clients", n)
}

func (h *WSHub) remove(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.log.Debug("WebSocket client disconnected", "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWS upgrades the connection and starts the client's pumps.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:    s.wsHub,
		conn:   conn,
		send:   make(chan []byte, wsSendBacklog),
		events: make(map[EventType]bool),
		swaps:  make(map[string]bool),
		orders: make(map[string]bool),
	}
	s.wsHub.add(client)

	go client.writePump()
	go client.readPump()
}

// readPump consumes inbound messages. The only thing clients send are
// subscription updates; everything else is ignored.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("WebSocket read error", "error", err)
			}
			return
		}

		var sub WSSubscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.applySubscription(&sub)
		}
	}
}

// writePump pushes events to the peer and keeps the connection alive with
// pings.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// applySubscription updates the client's filters.
func (c *WSClient) applySubscription(sub *WSSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subscribe := sub.Action == "subscribe"
	if !subscribe && sub.Action != "unsubscribe" {
		return
	}

	applySet := func(set map[string]bool, keys []string) {
		for _, k := range keys {
			if subscribe {
				set[k] = true
			} else {
				delete(set, k)
			}
		}
	}

	for _, name := range sub.Events {
		if subscribe {
			c.events[EventType(name)] = true
		} else {
			delete(c.events, EventType(name))
		}
	}
	applySet(c.swaps, sub.SwapIDs)
	applySet(c.orders, sub.OrderIDs)
}
