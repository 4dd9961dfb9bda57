package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermInventoryView, shared.PermInventoryEdit))
		r.Get("/movements", h.listMovements)
		r.Get("/products/{id}/drift", h.drift)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermInventoryEdit))
		r.Post("/movements", h.recordMovement)
		r.Post("/movements/{id}/reverse", h.reverseMovement)
	})
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	var input MovementInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	input.RecordedBy = shared.ActorFromContext(r.Context())
	result, err := h.service.RecordMovement(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) reverseMovement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, h.logger, shared.InvalidField("id", "must be numeric"))
		return
	}
	result, err := h.service.ReverseMovement(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// listMovements streams the ledger as newline-delimited JSON.
func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := validateFilter(filter); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.NDJSON(w, h.service.ListMovements(r.Context(), filter)); err != nil {
		h.logger.Warn("stream movements", slog.Any("error", err))
	}
}

func (h *Handler) drift(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, h.logger, shared.InvalidField("id", "must be numeric"))
		return
	}
	drift, err := h.service.Replay(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":    drift.ProductID,
		"replayed":      drift.Replayed,
		"current_stock": drift.CurrentStock,
		"consistent":    drift.Consistent(),
	})
}

func parseFilter(r *http.Request) (MovementFilter, error) {
	q := r.URL.Query()
	filter := MovementFilter{
		Type:            MovementType(q.Get("type")),
		Source:          Source(q.Get("source")),
		Descending:      q.Get("order") == "desc",
		IncludeReversed: q.Get("include_reversed") == "true",
		PageSize:        httpx.QueryInt(r, "page_size", 0),
	}
	if v := q.Get("product_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return MovementFilter{}, shared.InvalidField("product_id", "must be numeric")
		}
		filter.ProductID = id
	}
	for _, f := range []struct {
		name string
		dst  *time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		t, err := parseDate(v)
		if err != nil {
			return MovementFilter{}, shared.InvalidField(f.name, "must be YYYY-MM-DD or RFC3339")
		}
		*f.dst = t
	}
	if !filter.To.IsZero() && len(q.Get("to")) == len(time.DateOnly) {
		filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
	}
	return filter, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
