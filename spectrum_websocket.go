package main

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var spectrumUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		return true // spectrum stream is public read-only data
	},
}

// SpectrumClient is one connected WebSocket subscriber
type SpectrumClient struct {
	ID        string
	conn      *websocket.Conn
	send      chan []byte
	hub       *SpectrumHub
	closeOnce sync.Once
}

// SpectrumHub fans encoded spectrum frames out to WebSocket clients
type SpectrumHub struct {
	cfg     ServerConfig
	metrics *PrometheusMetrics
	encoder *SpectrumFrameEncoder

	clients map[string]*SpectrumClient
	mu      sync.RWMutex

	latestSummary *SpectrumSummary
	summaryMu     sync.RWMutex
}

// NewSpectrumHub creates the client hub
func NewSpectrumHub(cfg ServerConfig, metrics *PrometheusMetrics) *SpectrumHub {
	return &SpectrumHub{
		cfg:     cfg,
		metrics: metrics,
		encoder: NewSpectrumFrameEncoder(cfg.UseCompression),
		clients: make(map[string]*SpectrumClient),
	}
}

// ClientCount returns the number of connected clients
func (h *SpectrumHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// LatestSummary returns the most recent batch summary, or nil before
// the first batch completes
func (h *SpectrumHub) LatestSummary() *SpectrumSummary {
	h.summaryMu.RLock()
	defer h.summaryMu.RUnlock()
	return h.latestSummary
}

// HandleWebSocket upgrades an HTTP request and registers the client
func (h *SpectrumHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := len(h.clients) >= h.cfg.MaxClients
	h.mu.RUnlock()
	if full {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := spectrumUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &SpectrumClient{
		ID:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	// New subscribers need the stream parameters
	h.encoder.ForceFullHeader()

	if h.metrics != nil {
		h.metrics.wsConnectionsTotal.Inc()
		h.metrics.wsActiveConnections.Set(float64(h.ClientCount()))
	}
	log.Printf("Spectrum client %s connected from %s (%d active)",
		client.ID[:8], r.RemoteAddr, h.ClientCount())

	go client.writeLoop()
	go client.readLoop()
}

// Broadcast encodes one batch's spectrum and queues it to all clients.
// Slow clients lose frames rather than stalling the pipeline.
func (h *SpectrumHub) Broadcast(bins []float32, summary *SpectrumSummary, seq uint64, sampleRate int) {
	h.summaryMu.Lock()
	h.latestSummary = summary
	h.summaryMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	frame := h.encoder.Encode(bins, seq, sampleRate)

	for _, client := range h.clients {
		select {
		case client.send <- frame:
		default:
			if h.metrics != nil {
				h.metrics.wsFramesDroppedTotal.Inc()
			}
		}
	}
}

// Shutdown closes all client connections
func (h *SpectrumHub) Shutdown() {
	h.mu.Lock()
	clients := make([]*SpectrumClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *SpectrumHub) removeClient(c *SpectrumClient) {
	h.mu.Lock()
	_, present := h.clients[c.ID]
	delete(h.clients, c.ID)
	remaining := len(h.clients)
	h.mu.Unlock()

	if !present {
		return
	}
	if h.metrics != nil {
		h.metrics.wsDisconnectsTotal.Inc()
		h.metrics.wsActiveConnections.Set(float64(remaining))
	}
	log.Printf("Spectrum client %s disconnected (%d active)", c.ID[:8], remaining)
}

func (c *SpectrumClient) close() {
	c.closeOnce.Do(func() {
		c.hub.removeClient(c)
		close(c.send)
		c.conn.Close()
	})
}

// writeLoop drains the send queue onto the socket
func (c *SpectrumClient) writeLoop() {
	writeTimeout := time.Duration(c.hub.cfg.WriteTimeoutSec) * time.Second

	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			c.close()
			return
		}
		if c.hub.metrics != nil {
			c.hub.metrics.wsFramesSentTotal.Inc()
			c.hub.metrics.wsFrameBytesTotal.Add(float64(len(frame)))
		}
	}
}

// readLoop discards client messages and detects disconnects
func (c *SpectrumClient) readLoop() {
	defer c.close()
	c.conn.SetReadLimit(1024)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
