// Package broadcast fans progress snapshots out to WebSocket clients
// and in-process subscribers, coalescing bursts so observers see at
// most one push per interval while terminal snapshots go out at once.
package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/vidcaption/captiond/internal/processing"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 16
	defaultMinPush = 100 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub implements processing.SnapshotSink. Delivery is best-effort: a
// client that cannot keep up or disconnects is dropped silently and the
// aggregator never notices.
type Hub struct {
	log      hclog.Logger
	interval time.Duration

	mu        sync.Mutex
	clients   map[*client]bool
	subs      map[int]chan processing.Snapshot
	nextSub   int
	latest    processing.Snapshot
	hasLatest bool
	lastPush  time.Time
	pending   *time.Timer
}

// NewHub creates a hub with the given minimum push interval; zero means
// the default of 100ms.
func NewHub(interval time.Duration, log hclog.Logger) *Hub {
	if interval <= 0 {
		interval = defaultMinPush
	}
	return &Hub{
		log:      log,
		interval: interval,
		clients:  make(map[*client]bool),
		subs:     make(map[int]chan processing.Snapshot),
	}
}

// Push receives a snapshot from the aggregator. Non-terminal snapshots
// are coalesced to one push per interval; terminal ones flush now.
func (h *Hub) Push(snap processing.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = snap
	h.hasLatest = true

	if snap.Stage.Terminal() {
		h.flushLocked()
		return
	}

	since := time.Since(h.lastPush)
	if since >= h.interval {
		h.flushLocked()
		return
	}
	if h.pending == nil {
		h.pending = time.AfterFunc(h.interval-since, func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.pending = nil
			if h.hasLatest {
				h.flushLocked()
			}
		})
	}
}

// flushLocked delivers the latest snapshot to every observer. Callers
// hold h.mu.
func (h *Hub) flushLocked() {
	if h.pending != nil {
		h.pending.Stop()
		h.pending = nil
	}
	h.lastPush = time.Now()

	payload, err := json.Marshal(h.latest)
	if err != nil {
		h.log.Error("failed to encode snapshot", "error", err)
		return
	}
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
	for _, ch := range h.subs {
		select {
		case ch <- h.latest:
		default:
		}
	}
}

// Subscribe returns a channel of snapshots and a cancel function. Used
// by in-process observers; slow subscribers miss snapshots rather than
// blocking the hub.
func (h *Hub) Subscribe() (<-chan processing.Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan processing.Snapshot, 64)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

// ClientCount reports connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection. The latest
// snapshot, if any, is sent immediately so new clients do not wait for
// the next aggregator event.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	h.clients[c] = true
	if h.hasLatest {
		if payload, err := json.Marshal(h.latest); err == nil {
			c.send <- payload
		}
	}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// readPump discards inbound messages; its job is to notice the client
// going away and unregister it.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
