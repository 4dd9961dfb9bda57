package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// Resolve lifts the session's capabilities into the request context once.
func (m Middleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := ContextWithCapabilities(r.Context(), NewCapabilities(sess.Capabilities()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require any", perms, Capabilities.HasAny)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require all", perms, Capabilities.HasAll)
}

func (m Middleware) require(name string, perms []string, check func(Capabilities, ...string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caps, ok := CapabilitiesFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, m.Logger, httpx.ErrUnauthorized)
				return
			}
			if !check(caps, perms...) {
				if m.Logger != nil {
					m.Logger.Warn(name, slog.String("path", r.URL.Path), slog.Any("required", perms))
				}
				httpx.RespondError(w, m.Logger, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
