package realtime

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/TALOGEN777/cleanroom-flow-notify/config"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/metrics"
)

const (
	defaultPongWait = 60 * time.Second
	writeWait       = 10 * time.Second
	maxMessageSize  = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans committed changes out to every subscribed WebSocket client whose
// topic matches.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Change
	register   chan *Client
	unregister chan *Client
	// done is closed when a Serve run ends and replaced when the next starts.
	done chan struct{}
	mu   sync.RWMutex

	pingPeriod time.Duration
	pongWait   time.Duration
}

// NewHub creates a hub. Zero timings fall back to a 60s pong wait.
func NewHub(cfg config.RealtimeConfig) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Change, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		pongWait:   cfg.PongWait,
		pingPeriod: cfg.PingPeriod,
	}
	if h.pongWait <= 0 {
		h.pongWait = defaultPongWait
	}
	if h.pingPeriod <= 0 || h.pingPeriod >= h.pongWait {
		h.pingPeriod = h.pongWait * 9 / 10
	}
	return h
}

// Serve runs the hub until ctx is done, then closes every client. It may be
// called again after it returns, as a supervisor restart does.
func (h *Hub) Serve(ctx context.Context) error {
	h.mu.Lock()
	select {
	case <-h.done:
		h.done = make(chan struct{})
	default:
	}
	done := h.done
	h.mu.Unlock()
	defer close(done)
	for {
		// Lifecycle events first so a client registered before a change sees it.
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
			continue
		case c := <-h.unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case change := <-h.broadcast:
			h.broadcastToClients(change)
		}
	}
}

func (h *Hub) String() string {
	return "realtime-hub"
}

func (h *Hub) add(c *Client) {
	c.send <- Frame{Type: FrameStatus, Topic: c.topic.Table, Status: StatusSubscribed}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	metrics.RealtimeClients.Set(float64(n))
	log.Info().Str("topic", c.topic.String()).Int("total_clients", n).Msg("realtime client subscribed")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.RealtimeClients.Set(float64(n))
	log.Info().Str("topic", c.topic.String()).Int("total_clients", n).Msg("realtime client left")
}

func (h *Hub) broadcastToClients(change Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	metrics.RealtimeChanges.WithLabelValues(change.Table, string(change.Type)).Inc()

	var slow []*Client
	for _, c := range clients {
		if !c.topic.Matches(change) {
			continue
		}
		ch := change
		select {
		case c.send <- Frame{Type: FrameChange, Topic: c.topic.Table, Change: &ch}:
		default:
			slow = append(slow, c)
		}
	}

	// A client that cannot keep up is disconnected; it resyncs on reconnect.
	for _, c := range slow {
		close(c.send)
		delete(h.clients, c)
		metrics.RealtimeDropped.WithLabelValues("slow_client").Inc()
		log.Warn().Str("topic", c.topic.String()).Msg("dropping slow realtime client")
	}
	metrics.RealtimeClients.Set(float64(len(h.clients)))
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.clients)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.RealtimeClients.Set(0)
	log.Info().Str("component", "realtime-hub").Int("clients_closed", n).Msg("realtime hub stopped")
}

// Broadcast queues a change for delivery. It never blocks; when the queue is
// full the change is dropped and subscribers recover through their poller.
func (h *Hub) Broadcast(c Change) {
	select {
	case h.broadcast <- c:
	default:
		metrics.RealtimeDropped.WithLabelValues("broadcast_full").Inc()
		log.Warn().Str("table", c.Table).Str("type", string(c.Type)).Msg("broadcast channel full, dropping change")
	}
}

// ClientCount returns the number of subscribed clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and subscribes the connection to topic.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, topic Topic) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := newClient(h, conn, topic)
	select {
	case h.register <- c:
	case <-h.stopped():
		conn.Close()
		return nil
	}
	c.start()
	return nil
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped():
	}
}

// stopped returns the channel closed when the current Serve run ends.
func (h *Hub) stopped() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.done
}
