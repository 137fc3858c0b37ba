package transfers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// Handler wires transfer endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes for transfers.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Post("/{id}/receive", h.transition(h.service.Receive))
		r.Post("/{id}/cancel", h.transition(h.service.Cancel))
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	transfer, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transfer)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.PageRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, meta, err := h.service.List(r.Context(), Filter{
		BranchID:    branchID,
		Status:      Status(r.URL.Query().Get("status")),
		PageRequest: page,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Page[Transfer]{Data: out, Pagination: meta})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParamInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	transfer, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) transition(fn func(context.Context, int64, int64) (Transfer, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.ParamInt64(r, "id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		transfer, err := fn(r.Context(), id, shared.ActorFromContext(r.Context()))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, transfer)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if h.logger != nil && !shared.IsValidation(err) {
		h.logger.Warn("transfer request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
