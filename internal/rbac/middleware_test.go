package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCapabilitiesNormalise(t *testing.T) {
	caps := NewCapabilities([]string{" Inventory.Edit ", "inventory.view", ""})
	require.True(t, caps.Has("inventory.edit"))
	require.True(t, caps.HasAll("INVENTORY.VIEW", "inventory.edit"))
	require.False(t, caps.HasAny("procurement.edit"))
	require.True(t, caps.HasAny())
	require.Equal(t, []string{"inventory.edit", "inventory.view"}, caps.List())
}

func TestRequireAnyUsesResolvedCapabilities(t *testing.T) {
	m := Middleware{}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := m.RequireAny("inventory.edit", "inventory.admin")(ok)

	cases := []struct {
		name   string
		ctx    func(context.Context) context.Context
		status int
	}{
		{"anonymous", func(ctx context.Context) context.Context { return ctx }, http.StatusUnauthorized},
		{"missing", func(ctx context.Context) context.Context {
			return ContextWithCapabilities(ctx, NewCapabilities([]string{"inventory.view"}))
		}, http.StatusForbidden},
		{"granted", func(ctx context.Context) context.Context {
			return ContextWithCapabilities(ctx, NewCapabilities([]string{"inventory.edit"}))
		}, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/inventory/movements", nil)
			req = req.WithContext(tc.ctx(req.Context()))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			require.Equal(t, tc.status, rr.Code)
		})
	}
}

func TestRequireAllNeedsEveryPermission(t *testing.T) {
	m := Middleware{}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := m.RequireAll("procurement.view", "procurement.edit")(ok)

	req := httptest.NewRequest(http.MethodPost, "/procurement/purchases", nil)
	req = req.WithContext(ContextWithCapabilities(req.Context(), NewCapabilities([]string{"procurement.view"})))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}
