package inventory

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// ReconcileEnqueuer schedules a background reconciliation run.
type ReconcileEnqueuer interface {
	EnqueueStockReconcile(ctx context.Context, branchID int64) (string, error)
}

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer ReconcileEnqueuer
}

// NewHandler constructs inventory handler. Without an enqueuer reconciliation runs
// inline and returns its findings.
func NewHandler(logger *slog.Logger, service *Service, enqueuer ReconcileEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, enqueuer: enqueuer}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Get("/stock", h.handleStock)
		r.Get("/movements", h.handleListMovements)
		r.Post("/movements", h.handleMove)
		r.Post("/purchases", h.handleItem(h.service.ReceivePurchase))
		r.Post("/sales", h.handleItem(h.service.RecordSale))
		r.Post("/adjustments", h.handleAdjust)
		r.Post("/returns", h.handleReturn)
		r.Post("/reconcile", h.handleReconcile)
	})
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	variantID, err := httpx.QueryInt64(r, "variant_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if variantID > 0 {
		stock, err := h.service.GetStock(r.Context(), branchID, variantID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, stock)
		return
	}
	page, err := httpx.PageRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, meta, err := h.service.ListStock(r.Context(), branchID, page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Page[Stock]{Data: rows, Pagination: meta})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.PageRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := MovementFilter{
		Type:        MovementType(r.URL.Query().Get("type")),
		Direction:   Direction(r.URL.Query().Get("direction")),
		PageRequest: page,
	}
	for name, dst := range map[string]*int64{
		"branch_id":    &filter.BranchID,
		"variant_id":   &filter.VariantID,
		"reference_id": &filter.ReferenceID,
	} {
		if *dst, err = httpx.QueryInt64(r, name); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	rows, meta, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Page[StockTransaction]{Data: rows, Pagination: meta})
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	var input MoveInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	txn, err := h.service.MoveStock(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) handleItem(fn func(context.Context, ItemInput) (StockTransaction, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input ItemInput
		if err := httpx.DecodeJSON(r, &input); err != nil {
			h.fail(w, r, err)
			return
		}
		input.ActorID = shared.ActorFromContext(r.Context())
		txn, err := fn(r.Context(), input)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, txn)
	}
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var input AdjustInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	txn, err := h.service.Adjust(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var input ReturnInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	txn, err := h.service.RecordReturn(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.enqueuer != nil {
		taskID, err := h.enqueuer.EnqueueStockReconcile(r.Context(), branchID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
		return
	}
	var found []Mismatch
	if branchID > 0 {
		found, err = h.service.Reconcile(r.Context(), branchID)
	} else {
		found, err = h.service.ReconcileAll(r.Context(), DefaultReconcileConcurrency)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if found == nil {
		found = []Mismatch{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"mismatches": found})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if h.logger != nil && !shared.IsValidation(err) {
		h.logger.Warn("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
