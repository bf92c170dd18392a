package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Trivenidigital/Vizora-sub012/internal/audit"
)

// auditChanSize is the buffer size for the async audit channel.
// Entries beyond this are dropped to avoid back-pressure on requests.
const auditChanSize = 256

// auditLog enqueues an entry for asynchronous write (best-effort).
func (s *Server) auditLog(orgID, action, entityType, entityID, userID string, details map[string]any) {
	if s.auditRepo == nil || s.auditCh == nil {
		return
	}

	entry := &audit.Entry{
		OrganizationID: orgID,
		Action:         action,
		EntityType:     entityType,
		EntityID:       entityID,
		UserID:         userID,
		Source:         "api",
		Details:        details,
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit channel full, dropping entry",
			"action", action,
			"entity_type", entityType,
		)
	}
}

// drainAuditLog writes queued entries serially until ctx is cancelled,
// then flushes what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	write := func(entry *audit.Entry) {
		if err := s.auditRepo.Create(context.Background(), entry); err != nil {
			s.logger.Error("audit write failed",
				"action", entry.Action,
				"entity_type", entry.EntityType,
				"error", err,
			)
		}
	}

	for {
		select {
		case entry := <-s.auditCh:
			write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					write(entry)
				default:
					return
				}
			}
		}
	}
}

// handleListAuditLogs returns the caller's organisation audit trail.
//
// Query parameters: action, entity_type, entity_id, limit (max 200), offset.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	p := principalFromContext(r.Context())
	q := r.URL.Query()
	filter := audit.Filter{
		OrganizationID: p.OrganizationID,
		Action:         q.Get("action"),
		EntityType:     q.Get("entity_type"),
		EntityID:       q.Get("entity_id"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
