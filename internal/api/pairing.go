package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Trivenidigital/Vizora-sub012/internal/audit"
	"github.com/Trivenidigital/Vizora-sub012/internal/pairing"
)

type pairingRequestBody struct {
	DeviceIdentifier string         `json:"deviceIdentifier"`
	Nickname         string         `json:"nickname"`
	Metadata         map[string]any `json:"metadata"`
}

type pairingCompleteBody struct {
	Code     string `json:"code"`
	Nickname string `json:"nickname"`
}

// handlePairingRequest issues a pairing code to an unpaired display.
// Public, rate limited per client IP.
func (s *Server) handlePairingRequest(w http.ResponseWriter, r *http.Request) {
	var body pairingRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	resp, err := s.pairing.RequestCode(r.Context(), body.DeviceIdentifier, body.Nickname, body.Metadata)
	if err != nil {
		s.writePairingError(w, err)
		return
	}

	s.auditLog("", audit.ActionPairingRequested, audit.EntityPairing, resp.Code, "", map[string]any{
		"deviceIdentifier": body.DeviceIdentifier,
		"ip":               clientIP(r),
	})
	writeJSON(w, http.StatusCreated, resp)
}

// handlePairingStatus is polled by the display until the code is paired.
// Public, rate limited per client IP.
func (s *Server) handlePairingStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.pairing.CheckStatus(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writePairingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePairingComplete binds a code to the caller's organisation.
func (s *Server) handlePairingComplete(w http.ResponseWriter, r *http.Request) {
	var body pairingCompleteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Code == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "code is required")
		return
	}

	p := principalFromContext(r.Context())
	resp, err := s.pairing.Complete(r.Context(), p.OrganizationID, p.UserID, body.Code, body.Nickname)
	if err != nil {
		s.writePairingError(w, err)
		return
	}

	s.auditLog(p.OrganizationID, audit.ActionPairingCompleted, audit.EntityDisplay, resp.Display.ID, p.UserID, map[string]any{
		"code":     body.Code,
		"nickname": resp.Display.Nickname,
	})
	writeJSON(w, http.StatusOK, resp)
}

// handleActivePairings lists unexpired codes awaiting an operator.
func (s *Server) handleActivePairings(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	list, err := s.pairing.ActivePairings(r.Context(), p.OrganizationID)
	if err != nil {
		s.logger.Error("listing active pairings failed", "error", err)
		writeInternalError(w, "failed to list active pairings")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// writePairingError maps pairing sentinels to HTTP responses.
func (s *Server) writePairingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pairing.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, pairing.ErrAlreadyPaired):
		writeError(w, http.StatusConflict, ErrCodeAlreadyPaired, "device is already paired")
	case errors.Is(err, pairing.ErrCodeNotFound):
		writeNotFound(w, "pairing code not found")
	case errors.Is(err, pairing.ErrCodeExpired):
		writeError(w, http.StatusNotFound, ErrCodePairingExpired, "pairing code expired")
	case errors.Is(err, pairing.ErrCodeGenerationExhausted):
		writeError(w, http.StatusServiceUnavailable, ErrCodeCodesExhausted, "unable to generate a pairing code, try again")
	default:
		s.logger.Error("pairing operation failed", "error", err)
		writeInternalError(w, "pairing operation failed")
	}
}
