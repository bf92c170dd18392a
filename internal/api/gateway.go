package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Trivenidigital/Vizora-sub012/internal/auth"
	"github.com/Trivenidigital/Vizora-sub012/internal/display"
	"github.com/Trivenidigital/Vizora-sub012/internal/fleet"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/config"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/logging"
	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

// requestTimeout bounds the processing of one device request.
const requestTimeout = 10 * time.Second

// Gateway holds the realtime links of connected displays, at most one per
// display. A newer link for the same display replaces the older one.
type Gateway struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	fleet    *fleet.Service
	cacheMax int64

	mu    sync.RWMutex
	links map[string]*deviceLink
}

type deviceLink struct {
	*wsConn
	id           fleet.Identity
	connectionID string
}

// NewGateway creates an empty gateway.
func NewGateway(cfg config.WebSocketConfig, fleetSvc *fleet.Service, logger *logging.Logger) *Gateway {
	return &Gateway{
		cfg:      cfg,
		logger:   logger,
		fleet:    fleetSvc,
		cacheMax: protocol.DefaultCacheSizeBytes,
		links:    make(map[string]*deviceLink),
	}
}

// Send pushes a command event to a connected display. It reports false
// when the display has no live link or its buffer is full.
func (g *Gateway) Send(displayID string, cmd protocol.Command) bool {
	g.mu.RLock()
	link, ok := g.links[displayID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	return link.sendJSON(protocol.NewEvent(protocol.EventCommand, cmd))
}

// IsConnected reports whether displayID has a live link.
func (g *Gateway) IsConnected(displayID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.links[displayID]
	return ok
}

// ConnectionCount returns the number of live links.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.links)
}

func (g *Gateway) attach(link *deviceLink) {
	g.mu.Lock()
	prev := g.links[link.id.DisplayID]
	g.links[link.id.DisplayID] = link
	g.mu.Unlock()

	if prev != nil {
		g.logger.Info("replacing realtime link", "display_id", link.id.DisplayID)
		close(prev.send)
	}
}

// detach removes link if it is still the current one and reports whether
// it was. Only the detaching owner closes send.
func (g *Gateway) detach(link *deviceLink) bool {
	g.mu.Lock()
	current := g.links[link.id.DisplayID] == link
	if current {
		delete(g.links, link.id.DisplayID)
	}
	g.mu.Unlock()

	if current {
		close(link.send)
	}
	return current
}

// Run blocks until ctx is cancelled, then drops every link.
func (g *Gateway) Run(ctx context.Context) {
	<-ctx.Done()

	g.mu.Lock()
	defer g.mu.Unlock()
	for id, link := range g.links {
		close(link.send)
		link.conn.Close()
		delete(g.links, id)
	}
}

// handleRealtime authenticates a display and upgrades its realtime link.
//
// A missing or unverifiable credential is refused with HTTP 401 before the
// upgrade. A credential that verifies but no longer matches the registry
// (display deleted or re-paired) is upgraded, told why in an error event,
// and closed.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	identity, err := auth.ParseDeviceToken(token, s.secCfg.JWT.DeviceSecret)
	if err != nil {
		writeUnauthorized(w, "invalid token")
		return
	}

	revoked := false
	d, err := s.displays.Get(r.Context(), identity.DisplayID)
	switch {
	case errors.Is(err, display.ErrNotFound):
		revoked = true
	case err != nil:
		s.logger.Error("loading display for realtime link", "display_id", identity.DisplayID, "error", err)
		writeInternalError(w, "failed to load display")
		return
	case d.Credential != token:
		revoked = true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("realtime upgrade failed", "display_id", identity.DisplayID, "error", err)
		return
	}

	if revoked {
		s.logger.Warn("realtime link with revoked credential", "display_id", identity.DisplayID)
		rejectLink(conn, s.wsCfg)
		return
	}

	link := &deviceLink{
		wsConn:       newWSConn(conn),
		id:           fleet.Identity{DisplayID: identity.DisplayID, OrganizationID: identity.OrganizationID},
		connectionID: uuid.NewString(),
	}
	s.gateway.attach(link)

	if err := s.fleet.Connected(r.Context(), link.id, link.connectionID); err != nil {
		s.logger.Error("marking display online failed", "display_id", link.id.DisplayID, "error", err)
	}

	link.sendJSON(protocol.NewEvent(protocol.EventConfig, protocol.ConfigEvent{
		HeartbeatInterval: int(s.fleet.HeartbeatInterval() / time.Millisecond),
		CacheSize:         s.gateway.cacheMax,
		AutoUpdate:        true,
	}))
	s.logger.Info("display connected", "display_id", link.id.DisplayID, "organization_id", link.id.OrganizationID)

	go link.writePump(s.wsCfg)
	go s.gateway.readPump(link)
}

// rejectLink sends an unauthorized error event and closes the socket.
func rejectLink(conn *websocket.Conn, cfg config.WebSocketConfig) {
	defer conn.Close()
	//nolint:errcheck // Best-effort deadline
	conn.SetWriteDeadline(time.Now().Add(time.Duration(cfg.PongTimeout) * time.Second))
	//nolint:errcheck // Connection is closed either way
	conn.WriteJSON(protocol.NewEvent(protocol.EventError, protocol.ErrorEvent{
		Code:    protocol.ErrCodeUnauthorized,
		Message: "unauthorized: invalid token",
	}))
	//nolint:errcheck // Best-effort close frame
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"))
}

func (g *Gateway) readPump(link *deviceLink) {
	defer func() {
		link.conn.Close()
		if g.detach(link) {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			if err := g.fleet.Disconnected(ctx, link.id); err != nil {
				g.logger.Error("marking display offline failed", "display_id", link.id.DisplayID, "error", err)
			}
			g.logger.Info("display disconnected", "display_id", link.id.DisplayID)
		}
	}()

	link.prepareRead(g.cfg)
	for {
		_, message, err := link.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("realtime read error", "display_id", link.id.DisplayID, "error", err)
			}
			return
		}
		link.extendDeadline(g.cfg)

		if resp := g.handleFrame(link, message); resp != nil {
			link.sendJSON(resp)
		}
	}
}

// handleFrame dispatches one inbound request and returns its response.
func (g *Gateway) handleFrame(link *deviceLink, message []byte) *protocol.ResponseFrame {
	frame, err := protocol.Decode(message)
	if err != nil || frame.Type != protocol.FrameTypeRequest {
		return protocol.NewErrorResponse("", protocol.ErrCodeInvalidRequest, "expected a request frame")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch frame.Method {
	case protocol.MethodHeartbeat:
		var hb protocol.Heartbeat
		if err := frame.DecodeParams(&hb); err != nil {
			return protocol.NewErrorResponse(frame.ID, protocol.ErrCodeInvalidRequest, "invalid heartbeat")
		}
		ack, err := g.fleet.ProcessHeartbeat(ctx, link.id, hb)
		if err != nil {
			g.logger.Error("heartbeat processing failed", "display_id", link.id.DisplayID, "error", err)
			return protocol.NewErrorResponse(frame.ID, protocol.ErrCodeInternal, "failed to process heartbeat")
		}
		return protocol.NewOKResponse(frame.ID, ack)

	case protocol.MethodContentImpression:
		var imp protocol.Impression
		if err := frame.DecodeParams(&imp); err != nil {
			return protocol.NewErrorResponse(frame.ID, protocol.ErrCodeInvalidRequest, "invalid impression")
		}
		if err := g.fleet.LogImpression(ctx, link.id, imp); err != nil {
			if errors.Is(err, fleet.ErrInvalid) {
				return protocol.NewErrorResponse(frame.ID, protocol.ErrCodeInvalidRequest, err.Error())
			}
			return protocol.NewErrorResponse(frame.ID, protocol.ErrCodeInternal, "failed to log impression")
		}
		return protocol.NewOKResponse(frame.ID, protocol.Ack{Success: true, Timestamp: time.Now().UTC()})

	case protocol.MethodContentError:
		var ce protocol.ContentError
		if err := frame.DecodeParams(&ce); err != nil {
			return protocol.NewErrorResponse(frame.ID, protocol.ErrCodeInvalidRequest, "invalid content error")
		}
		g.logger.Warn("content error reported", "display_id", link.id.DisplayID, "content_id", ce.ContentID, "error_type", ce.ErrorType)
		if err := g.fleet.LogError(ctx, link.id, ce); err != nil {
			g.logger.Error("logging content error failed", "display_id", link.id.DisplayID, "error", err)
			return protocol.NewOKResponse(frame.ID, protocol.Ack{Success: false})
		}
		return protocol.NewOKResponse(frame.ID, protocol.Ack{Success: true})

	default:
		return protocol.NewErrorResponse(frame.ID, protocol.ErrCodeUnknownMethod, "unknown method: "+frame.Method)
	}
}
