package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/Trivenidigital/Vizora-sub012/internal/auth"
)

// userAuthMiddleware requires a dashboard bearer token signed with the
// user secret and stores the principal in the request context.
func (s *Server) userAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeUnauthorized(w, "missing bearer token")
			return
		}
		principal, err := auth.ParseUserToken(token, s.secCfg.JWT.UserSecret)
		if err != nil {
			s.logger.Debug("user token rejected", "error", err, "path", r.URL.Path)
			writeUnauthorized(w, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// deviceAuthMiddleware requires a display credential signed with the
// device secret and stores the identity in the request context.
func (s *Server) deviceAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeUnauthorized(w, "missing bearer token")
			return
		}
		identity, err := auth.ParseDeviceToken(token, s.secCfg.JWT.DeviceSecret)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrTokenWrongType) {
				msg = "invalid token type"
			}
			writeUnauthorized(w, msg)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyDevice, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission rejects principals whose role lacks perm.
// It must run after userAuthMiddleware.
func (s *Server) requirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := principalFromContext(r.Context())
			if p == nil || !auth.HasPermission(p.Role, perm) {
				writeForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principalFromContext(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(*auth.Principal)
	return p
}

func deviceFromContext(ctx context.Context) *auth.DeviceIdentity {
	d, _ := ctx.Value(ctxKeyDevice).(*auth.DeviceIdentity)
	return d
}
