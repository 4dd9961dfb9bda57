package procurement

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gate    *SequenceGate
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate *SequenceGate, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, gate: gate, rbac: rbac}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProcurementView, shared.PermInventoryEdit))
		r.Get("/autofill", h.autofill)
		r.Get("/purchases", h.listPurchases)
		r.Get("/purchases/{id}", h.getPurchase)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementEdit))
		r.Post("/purchases", h.createPurchase)
		r.Post("/purchases/{id}/cancel", h.cancelPurchase)
	})
}

func (h *Handler) autofill(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	seq, _ := strconv.ParseUint(q.Get("seq"), 10, 64)
	field := q.Get("field")
	if field == "" {
		field = "code"
	}
	sug, err := h.service.AutofillFromCode(r.Context(), AutofillRequest{Seq: seq, Field: field, Code: q.Get("code")})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	scope := "anonymous"
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		scope = sess.ID
	}
	accepted, err := h.gate.Accept(r.Context(), scope, field, seq)
	if err != nil {
		h.logger.Warn("autofill sequence gate", slog.Any("error", err))
		accepted = true
	}
	sug.Stale = !accepted
	httpx.JSON(w, http.StatusOK, sug)
}

func (h *Handler) listPurchases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	supplierID, _ := strconv.ParseInt(q.Get("supplier_id"), 10, 64)
	items, page, err := h.service.ListPurchases(r.Context(), ListFilters{
		Status:     Status(q.Get("status")),
		SupplierID: supplierID,
		Search:     q.Get("search"),
		Page:       httpx.QueryInt(r, "page", 1),
		PerPage:    httpx.QueryInt(r, "per_page", 20),
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": page})
}

func (h *Handler) getPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, h.logger, shared.InvalidField("id", "must be numeric"))
		return
	}
	purchase, err := h.service.GetPurchase(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}

func (h *Handler) createPurchase(w http.ResponseWriter, r *http.Request) {
	var input CreatePurchaseInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	purchase, err := h.service.CreatePurchase(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, purchase)
}

func (h *Handler) cancelPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, h.logger, shared.InvalidField("id", "must be numeric"))
		return
	}
	purchase, err := h.service.CancelPurchase(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}
