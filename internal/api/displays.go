package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Trivenidigital/Vizora-sub012/internal/audit"
	"github.com/Trivenidigital/Vizora-sub012/internal/display"
	"github.com/Trivenidigital/Vizora-sub012/internal/fleet"
	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

// commandResponse reports whether a command went out over a live link or
// was queued for the next heartbeat.
type commandResponse struct {
	Delivered bool             `json:"delivered"`
	Command   protocol.Command `json:"command"`
}

// handleListDisplays returns the displays of the caller's organisation.
func (s *Server) handleListDisplays(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	list, err := s.displays.List(r.Context(), p.OrganizationID)
	if err != nil {
		s.logger.Error("listing displays failed", "organization_id", p.OrganizationID, "error", err)
		writeInternalError(w, "failed to list displays")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"displays": list,
		"count":    len(list),
	})
}

// orgDisplay loads {deviceId} and hides displays of other organisations.
func (s *Server) orgDisplay(w http.ResponseWriter, r *http.Request) (*display.Display, bool) {
	id := chi.URLParam(r, "deviceId")
	d, err := s.displays.Get(r.Context(), id)
	if errors.Is(err, display.ErrNotFound) {
		writeNotFound(w, "display not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("loading display failed", "display_id", id, "error", err)
		writeInternalError(w, "failed to load display")
		return nil, false
	}
	if p := principalFromContext(r.Context()); p == nil || d.OrganizationID != p.OrganizationID {
		writeNotFound(w, "display not found")
		return nil, false
	}
	return d, true
}

// handleDisplayStatus returns the realtime status of one display.
func (s *Server) handleDisplayStatus(w http.ResponseWriter, r *http.Request) {
	d, ok := s.orgDisplay(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.fleet.DeviceStatus(r.Context(), d.ID))
}

// handleDisplayStats returns today's impressions and recent content errors.
func (s *Server) handleDisplayStats(w http.ResponseWriter, r *http.Request) {
	d, ok := s.orgDisplay(w, r)
	if !ok {
		return
	}
	stats, err := s.fleet.DeviceStats(r.Context(), d.ID)
	if err != nil {
		s.logger.Error("loading display stats failed", "display_id", d.ID, "error", err)
		writeInternalError(w, "failed to load display stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleSendCommand pushes a command to a display, queueing it when the
// display is not connected.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	d, ok := s.orgDisplay(w, r)
	if !ok {
		return
	}

	var cmd protocol.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	delivered, err := s.fleet.SendCommand(r.Context(), d.ID, cmd)
	switch {
	case errors.Is(err, fleet.ErrInvalid):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	case err != nil:
		s.logger.Error("sending command failed", "display_id", d.ID, "type", cmd.Type, "error", err)
		writeInternalError(w, "failed to send command")
		return
	}

	p := principalFromContext(r.Context())
	s.auditLog(p.OrganizationID, audit.ActionCommandSent, audit.EntityDisplay, d.ID, p.UserID, map[string]any{
		"type":      cmd.Type,
		"delivered": delivered,
	})

	status := http.StatusAccepted
	if delivered {
		status = http.StatusOK
	}
	writeJSON(w, status, commandResponse{Delivered: delivered, Command: cmd})
}

// handleHTTPHeartbeat accepts a heartbeat over plain HTTP for displays that
// cannot hold a realtime link. The credential must belong to {deviceId}.
func (s *Server) handleHTTPHeartbeat(w http.ResponseWriter, r *http.Request) {
	identity := deviceFromContext(r.Context())
	deviceID := chi.URLParam(r, "deviceId")
	if identity == nil || identity.DisplayID != deviceID {
		writeError(w, http.StatusForbidden, ErrCodeDisplayMismatch, "credential does not belong to this display")
		return
	}

	var hb protocol.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ack, err := s.fleet.ProcessHeartbeat(r.Context(), fleet.Identity{
		DisplayID:      identity.DisplayID,
		OrganizationID: identity.OrganizationID,
	}, hb)
	if err != nil {
		s.logger.Error("heartbeat processing failed", "display_id", deviceID, "error", err)
		writeInternalError(w, "failed to process heartbeat")
		return
	}
	writeJSON(w, http.StatusOK, ack)
}
