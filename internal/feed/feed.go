// Package feed streams the aggregate monitoring view to WebSocket clients.
//
// Hub manages a set of connected clients and pushes one JSON event per
// completed probe cycle, driven by the session's subscription channel. Each
// client also receives the current view immediately on connect, so charting
// frontends have data before the first cycle lands.
//
// Event format sent to clients:
//
//	{
//	  "event": "aggregate",
//	  "data":  { "success_percentage": 99.2, "recent_failures": [...], ... }
//	}
//
// The upgrader accepts all origins; the feed is meant for localhost chart
// consumers, not for exposure on untrusted networks.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/moo-gh/Ping-Success/internal/history"
	"github.com/moo-gh/Ping-Success/internal/monitor"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Source provides the data broadcast to clients and the notification stream
// that triggers broadcasts. *monitor.Session satisfies it.
type Source interface {
	Snapshot() history.AggregateView
	Status() monitor.Status
	Subscribe() (<-chan struct{}, func())
}

// Event is the JSON envelope pushed to clients.
type Event struct {
	Event string  `json:"event"`
	Data  Payload `json:"data"`
}

// FailureEntry is one recent failed probe, most recent first.
type FailureEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail"`
}

// Payload merges the window aggregate with the session run state. When
// HasData is false the percentage is meaningless and charting clients should
// render a placeholder instead.
type Payload struct {
	GeneratedAt       time.Time      `json:"generated_at"`
	State             string         `json:"state"`
	Host              string         `json:"host"`
	HasData           bool           `json:"has_data"`
	SuccessPercentage float64        `json:"success_percentage"`
	SampleCount       int            `json:"sample_count"`
	SuccessCount      int            `json:"success_count"`
	RecentFailures    []FailureEntry `json:"recent_failures"`
	TotalSuccess      uint64         `json:"total_success"`
	TotalFailure      uint64         `json:"total_failure"`
	ClockSkews        uint64         `json:"clock_skews"`
	LastRTTMillis     float64        `json:"last_rtt_ms"`
	LastError         string         `json:"last_error,omitempty"`
	Warning           string         `json:"warning,omitempty"`
}

// Hub manages WebSocket client connections and broadcasts the aggregate view
// to all of them after every probe cycle.
type Hub struct {
	source Source

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub reading from source.
func New(source Source) *Hub {
	return &Hub{
		source:  source,
		clients: make(map[*client]struct{}),
	}
}

// Run subscribes to the source and broadcasts to all connected clients on
// each probe-cycle notification. Blocks until ctx is cancelled, then closes
// all active connections.
func (h *Hub) Run(ctx context.Context) {
	updates, cancel := h.source.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-updates:
			h.broadcast()
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// It sends the current view immediately on connect, then forwards broadcasts
// from the run loop. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(c)
	defer h.unregister(c)
	h.sendInitial(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve mounts the hub at /feed, runs its broadcast loop, and serves until
// ctx is cancelled, then shuts the server down gracefully.
func Serve(ctx context.Context, addr string, hub *Hub) error {
	mux := http.NewServeMux()
	mux.Handle("/feed", hub)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return context.Canceled
		}
		return err
	}
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// sendInitial queues the current view for a freshly connected client so it
// has data before the first probe cycle lands. Skipped when the hub already
// dropped the client.
func (h *Hub) sendInitial(c *client) {
	data, err := h.buildEvent()
	if err != nil {
		return
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		select {
		case c.send <- data:
		default:
		}
	}
	h.mu.Unlock()
}

// broadcast fans the current event out to every client. Sends never block:
// a client whose buffer is full is disconnected instead. Send channels are
// only ever closed under h.mu together with removal from the map, so holding
// the lock across the sends keeps them safe.
func (h *Hub) broadcast() {
	data, err := h.buildEvent()
	if err != nil {
		return
	}

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client's outgoing buffer is full — disconnect it.
			delete(h.clients, c)
			close(c.send)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) buildEvent() ([]byte, error) {
	view := h.source.Snapshot()
	status := h.source.Status()

	failures := make([]FailureEntry, 0, len(view.RecentFailures))
	for _, s := range view.RecentFailures {
		failures = append(failures, FailureEntry{
			Timestamp: s.Timestamp,
			Detail:    s.Detail,
		})
	}

	msg := Event{
		Event: "aggregate",
		Data: Payload{
			GeneratedAt:       view.ComputedAt,
			State:             string(status.State),
			Host:              status.Host,
			HasData:           view.HasData,
			SuccessPercentage: view.SuccessPercentage,
			SampleCount:       view.SampleCount,
			SuccessCount:      view.SuccessCount,
			RecentFailures:    failures,
			TotalSuccess:      status.TotalSuccess,
			TotalFailure:      status.TotalFailure,
			ClockSkews:        status.ClockSkews,
			LastRTTMillis:     float64(status.LastRTT) / float64(time.Millisecond),
			LastError:         status.LastError,
			Warning:           status.Warning,
		},
	}
	return json.Marshal(msg)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
