package rpc

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/gorilla/websocket"

	"github.com/tolelom/lottochain/events"
)

const (
	clientQueue  = 256
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// Hub streams chain events to websocket clients as JSON text frames. Events
// of a block are released only once that block commits, followed by the
// block_commit event itself. A client that falls behind is disconnected.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	pending []events.Event
	closed  bool
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan []byte
	types map[events.EventType]bool // empty means every type

	mu     sync.Mutex
	closed bool
}

// NewHub creates a Hub fed by emitter.
func NewHub(emitter *events.Emitter) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
	emitter.SubscribeAll(h.onEvent)
	return h
}

// Serve upgrades the request and streams events until the client leaves.
// The optional "types" query parameter is a comma-separated event filter.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	cl := &wsClient{conn: conn, send: make(chan []byte, clientQueue), types: parseTypes(c.Query("types"))}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	go cl.writeLoop()
	cl.readLoop()
	h.drop(cl)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops accepting new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for _, cl := range clients {
		cl.stop()
	}
}

func (h *Hub) onEvent(ev events.Event) {
	if ev.Type != events.EventBlockCommit {
		h.mu.Lock()
		h.pending = append(h.pending, ev)
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	batch := make([]events.Event, 0, len(h.pending)+1)
	for _, p := range h.pending {
		if p.BlockHeight == ev.BlockHeight {
			batch = append(batch, p)
		}
	}
	h.pending = nil
	batch = append(batch, ev)
	clients := make([]*wsClient, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()

	for _, e := range batch {
		data, err := json.Marshal(e)
		if err != nil {
			logger.Errorf("[rpc] encode event %s: %v", e.Type, err)
			continue
		}
		for _, cl := range clients {
			if !cl.wants(e.Type) {
				continue
			}
			if !cl.offer(data) {
				logger.Warningf("[rpc] websocket client %s too slow, disconnecting", cl.conn.RemoteAddr())
				h.drop(cl)
			}
		}
	}
}

func (h *Hub) drop(cl *wsClient) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
	cl.stop()
}

func (cl *wsClient) wants(typ events.EventType) bool {
	return len(cl.types) == 0 || cl.types[typ]
}

// offer queues data without blocking. It reports false when the queue is full.
func (cl *wsClient) offer(data []byte) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed {
		return true
	}
	select {
	case cl.send <- data:
		return true
	default:
		return false
	}
}

func (cl *wsClient) stop() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if !cl.closed {
		cl.closed = true
		close(cl.send)
	}
}

func (cl *wsClient) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		cl.conn.Close()
	}()
	for {
		select {
		case data, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards client frames and returns when the connection closes.
func (cl *wsClient) readLoop() {
	cl.conn.SetReadLimit(512)
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func parseTypes(q string) map[events.EventType]bool {
	if q == "" {
		return nil
	}
	types := make(map[events.EventType]bool)
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[events.EventType(t)] = true
		}
	}
	return types
}
