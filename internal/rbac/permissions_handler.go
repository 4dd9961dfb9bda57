package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// PermissionsHandler exposes the caller's resolved capabilities.
type PermissionsHandler struct {
	rbac Middleware
}

// NewPermissionsHandler constructs the handler.
func NewPermissionsHandler(rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
}

func (h *PermissionsHandler) me(w http.ResponseWriter, r *http.Request) {
	caps, ok := CapabilitiesFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, h.rbac.Logger, httpx.ErrUnauthorized)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"granted": caps.List(),
		"known":   shared.LedgerScopes(),
	})
}
