package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"zigbee-energy-gateway/internal/gateway"
	"zigbee-energy-gateway/internal/wire"
)

// eventSnapshot is sent once to every new client before live events.
const eventSnapshot = "snapshot"

// WSHub manages WebSocket connections and broadcasts gateway events.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan gateway.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	// ieee limits the client to one device; empty receives everything.
	ieee string
}

func (c *wsClient) wants(ieee string) bool {
	return c.ieee == "" || ieee == "" || c.ieee == ieee
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan gateway.Event, 256),
		done:       make(chan struct{}),
	}
}

// eventIEEE returns the device an event belongs to, if any.
func eventIEEE(e gateway.Event) string {
	switch d := e.Data.(type) {
	case gateway.ReadingData:
		return d.IEEE
	case gateway.DeviceData:
		return d.IEEE
	}
	return ""
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total, "ieee", client.ieee)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("ws marshal", "err", err, "type", event.Type)
				continue
			}
			ieee := eventIEEE(event)
			h.mu.Lock()
			var slow []*wsClient
			for client := range h.clients {
				if !client.wants(ieee) {
					continue
				}
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				delete(h.clients, client)
				close(client.send)
				h.logger.Warn("ws client evicted (too slow)")
			}
			h.mu.Unlock()
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues an event for all interested clients.
func (h *WSHub) Broadcast(event gateway.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("ws broadcast channel full, dropping event", "type", event.Type)
	}
}

type deviceSnapshot struct {
	IEEE         string         `json:"ieee"`
	FriendlyName string         `json:"friendly_name,omitempty"`
	Model        string         `json:"model,omitempty"`
	LastSeen     time.Time      `json:"last_seen"`
	State        map[string]any `json:"state"`
}

// snapshot encodes the current state of the devices a client asked for.
func (s *Server) snapshot(ieee string) ([]byte, error) {
	devices, err := s.gw.Devices()
	if err != nil {
		return nil, err
	}
	out := make([]deviceSnapshot, 0, len(devices))
	for _, d := range devices {
		if ieee != "" && d.IEEEAddress != ieee {
			continue
		}
		state := d.State
		if state == nil {
			state = map[string]any{}
		}
		out = append(out, deviceSnapshot{
			IEEE:         d.IEEEAddress,
			FriendlyName: d.FriendlyName,
			Model:        d.Model,
			LastSeen:     d.LastSeen,
			State:        state,
		})
	}
	return json.Marshal(gateway.Event{Type: eventSnapshot, Data: out})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var ieee string
	if q := r.URL.Query().Get("ieee"); q != "" {
		var err error
		if ieee, err = wire.NormalizeIEEE(q); err != nil {
			http.Error(w, "invalid ieee address", http.StatusBadRequest)
			return
		}
	}

	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	// Without allowedOrigins, nhooyr defaults to a same-origin check.

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}

	conn.SetReadLimit(4096)

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
		ieee: ieee,
	}
	if snap, err := s.snapshot(ieee); err != nil {
		s.logger.Error("ws snapshot", "err", err)
	} else {
		client.send <- snap
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	// The stream is one-way; reads only detect the peer going away.
	for {
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}
