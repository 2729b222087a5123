// Package realtime pushes platform events to connected browsers over
// websockets and relays wallet capability calls back to them.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lumenlock/lumenlock/internal/events"
	"github.com/lumenlock/lumenlock/internal/wallet"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The demo serves browser and API from one origin; same-host checks
	// are enforced at the proxy layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// message is the wire envelope for all websocket traffic.
type message struct {
	Type     string                 `json:"type"` // event, bridge_request, bridge_response
	Event    *events.Event          `json:"event,omitempty"`
	Request  *wallet.BridgeRequest  `json:"request,omitempty"`
	Response *wallet.BridgeResponse `json:"response,omitempty"`
}

// Hub fans platform events out to every connected browser and routes
// wallet bridge calls to the session that can serve them. The most
// recently connected browser is the bridge target: the demo runs one
// browser session per server process.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	bridge  *client
	pending map[string]chan wallet.BridgeResponse
}

// NewHub creates a hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
		pending: make(map[string]chan wallet.BridgeResponse),
	}
}

// Run forwards bus events to all connected clients until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context, bus *events.Bus) error {
	evts, err := bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe hub: %w", err)
	}
	for evt := range evts {
		h.broadcast(message{Type: "event", Event: &evt})
	}
	return nil
}

// HandleWS upgrades an HTTP request to a websocket session.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	cl := newClient(h, conn)
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.bridge = cl
	h.mu.Unlock()

	h.logger.Info("browser session attached", "remote", conn.RemoteAddr())
	go cl.writePump()
	go cl.readPump()
}

// Request implements wallet.Requester: it delivers a capability call to
// the attached browser and waits for the matching response.
func (h *Hub) Request(ctx context.Context, req wallet.BridgeRequest) (wallet.BridgeResponse, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	h.mu.Lock()
	target := h.bridge
	if target == nil {
		h.mu.Unlock()
		return wallet.BridgeResponse{}, fmt.Errorf("%w: no browser session attached", wallet.ErrNotInstalled)
	}
	ch := make(chan wallet.BridgeResponse, 1)
	h.pending[req.ID] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, req.ID)
		h.mu.Unlock()
	}()

	if err := target.enqueue(message{Type: "bridge_request", Request: &req}); err != nil {
		return wallet.BridgeResponse{}, err
	}

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return wallet.BridgeResponse{}, ctx.Err()
	}
}

// broadcast sends a message to every connected client, dropping clients
// whose send buffer is full.
func (h *Hub) broadcast(msg message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.send <- raw:
		default:
			h.logger.Warn("dropping slow websocket client")
			h.removeLocked(cl)
		}
	}
}

// dispatch routes an inbound message from a client.
func (h *Hub) dispatch(msg message) {
	if msg.Type != "bridge_response" || msg.Response == nil {
		return
	}
	h.mu.Lock()
	ch, ok := h.pending[msg.Response.ID]
	h.mu.Unlock()
	if !ok {
		h.logger.Warn("bridge response for unknown request", "id", msg.Response.ID)
		return
	}
	ch <- *msg.Response
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(cl)
}

func (h *Hub) removeLocked(cl *client) {
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	close(cl.send)
	if h.bridge == cl {
		h.bridge = nil
	}
}
