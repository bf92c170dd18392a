package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Trivenidigital/Vizora-sub012/internal/auth"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/config"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/logging"
	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

// wsSendBufferSize is the per-connection outbound message buffer size.
const wsSendBufferSize = 256

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware; displays send none.
		return true
	},
}

// wsConn is one upgraded connection with a buffered writer goroutine.
// Only the owner that removes it from its registry closes send.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, send: make(chan []byte, wsSendBufferSize)}
}

// prepareRead applies the read limit and keepalive deadlines.
func (c *wsConn) prepareRead(cfg config.WebSocketConfig) {
	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})
}

// extendDeadline is called after any inbound message.
func (c *wsConn) extendDeadline(cfg config.WebSocketConfig) {
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline reset
	c.conn.SetReadDeadline(time.Now().Add(wait))
}

// writePump drains send to the socket and pings on an interval.
func (c *wsConn) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues data without blocking. It reports false when the buffer
// is full or the connection is already closed.
func (c *wsConn) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendJSON marshals v and queues it.
func (c *wsConn) sendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return c.trySend(data)
}

// Hub fans device:status events out to dashboard connections. Each
// dashboard only receives events for its own organisation.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*dashboardClient]struct{}
	mu      sync.RWMutex
}

type dashboardClient struct {
	*wsConn
	hub            *Hub
	userID         string
	organizationID string
}

// NewHub creates a new dashboard hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*dashboardClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) register(c *dashboardClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("dashboard connected", "organization_id", c.organizationID, "clients", h.ClientCount())
}

func (h *Hub) unregister(c *dashboardClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("dashboard disconnected", "clients", h.ClientCount())
}

// BroadcastToOrg sends an event frame to every dashboard of organizationID.
func (h *Hub) BroadcastToOrg(organizationID, event string, payload any) {
	data, err := json.Marshal(protocol.NewEvent(event, payload))
	if err != nil {
		h.logger.Error("failed to marshal broadcast", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*dashboardClient, 0, len(h.clients))
	for c := range h.clients {
		if c.organizationID == organizationID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.trySend(data)
	}
	if len(targets) > 0 {
		h.logger.Debug("broadcast sent", "event", event, "organization_id", organizationID, "recipients", len(targets))
	}
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

// handleDashboardWS upgrades an authenticated dashboard connection.
// Browsers cannot set headers on websocket requests, so the user token is
// usually passed as ?token=.
func (s *Server) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.ParseUserToken(bearerToken(r), s.secCfg.JWT.UserSecret)
	if err != nil {
		writeUnauthorized(w, "invalid token")
		return
	}
	if !auth.HasPermission(principal.Role, auth.PermDisplayRead) {
		writeForbidden(w, "insufficient permissions")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &dashboardClient{
		wsConn:         newWSConn(conn),
		hub:            s.hub,
		userID:         principal.UserID,
		organizationID: principal.OrganizationID,
	}
	s.hub.register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump answers ping requests; dashboards have nothing else to send.
func (c *dashboardClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.prepareRead(cfg)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("dashboard read error", "error", err)
			}
			return
		}
		c.extendDeadline(cfg)

		frame, err := protocol.Decode(message)
		if err != nil || frame.Type != protocol.FrameTypeRequest {
			c.sendJSON(protocol.NewErrorResponse("", protocol.ErrCodeInvalidRequest, "invalid frame"))
			continue
		}
		if frame.Method == "ping" {
			c.sendJSON(protocol.NewOKResponse(frame.ID, map[string]string{"pong": time.Now().UTC().Format(time.RFC3339)}))
			continue
		}
		c.sendJSON(protocol.NewErrorResponse(frame.ID, protocol.ErrCodeUnknownMethod, "unknown method: "+frame.Method))
	}
}
