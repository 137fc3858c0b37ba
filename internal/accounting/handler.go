package accounting

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// Handler wires ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/accounting", func(r chi.Router) {
		r.Post("/journals", h.postJournal)
		r.Get("/journals", h.listJournals)
		r.Get("/journals/{id}", h.getJournal)
		r.Patch("/journals/{id}", h.updateJournal)
		r.Delete("/journals/{id}", h.deleteJournal)
		r.Get("/periods/{id}", h.getPeriod)
		r.Post("/periods/{id}/close", h.closePeriod)
		r.Post("/periods/{id}/reopen", h.reopenPeriod)
		r.Get("/accounts/{id}/balance", h.accountBalance)
	})
}

func (h *Handler) postJournal(w http.ResponseWriter, r *http.Request) {
	var input PostingInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.CreatedBy = shared.ActorFromContext(r.Context())
	entry, err := h.service.PostJournal(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) listJournals(w http.ResponseWriter, r *http.Request) {
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
	periodID, err := httpx.QueryInt64(r, "period_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, meta, err := h.service.ListJournals(r.Context(), JournalFilter{
		BranchID:     branchID,
		PeriodID:     periodID,
		SourceModule: r.URL.Query().Get("source_module"),
		PageRequest:  page,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Page[JournalEntry]{Data: entries, Pagination: meta})
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParamInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.GetJournal(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) updateJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParamInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input UpdateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	entry, err := h.service.UpdateJournal(r.Context(), id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) deleteJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParamInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.DeleteJournal(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParamInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := h.service.GetPeriod(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParamInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := h.service.ClosePeriod(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) reopenPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParamInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := h.service.ReopenPeriod(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) accountBalance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParamInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.service.AccountBalance(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if h.logger != nil && !shared.IsValidation(err) {
		h.logger.Warn("ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
