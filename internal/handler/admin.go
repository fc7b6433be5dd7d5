package handler

import (
	"net/http"
	"strconv"

	"pawpool/internal/pool"
	"pawpool/pkg/validator"

	"github.com/google/uuid"
)

// AdminHandler covers single-entry interventions on the pool ledger.
type AdminHandler struct {
	service   *pool.Service
	validator *validator.Validator
	logger    Logger
	now       Clock
}

func NewAdminHandler(service *pool.Service, val *validator.Validator, log Logger) *AdminHandler {
	return &AdminHandler{service: service, validator: val, logger: log, now: systemClock}
}

func (h *AdminHandler) FreezeTransaction(w http.ResponseWriter, r *http.Request) {
	adminID, txID, ok := h.target(w, r)
	if !ok {
		return
	}
	entry, err := h.service.FreezeTransaction(r.Context(), txID, adminID, h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to freeze transaction", err, map[string]interface{}{"transaction_id": txID})
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *AdminHandler) UnfreezeTransaction(w http.ResponseWriter, r *http.Request) {
	adminID, txID, ok := h.target(w, r)
	if !ok {
		return
	}
	entry, err := h.service.UnfreezeTransaction(r.Context(), txID, adminID, h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to unfreeze transaction", err, map[string]interface{}{"transaction_id": txID})
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *AdminHandler) ForceRelease(w http.ResponseWriter, r *http.Request) {
	adminID, txID, ok := h.target(w, r)
	if !ok {
		return
	}
	item, err := h.service.ForceRelease(r.Context(), txID, adminID, h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to force release", err, map[string]interface{}{"transaction_id": txID})
		return
	}
	respondItem(w, item)
}

func (h *AdminHandler) RetryPending(w http.ResponseWriter, r *http.Request) {
	adminID, txID, ok := h.target(w, r)
	if !ok {
		return
	}
	item, err := h.service.RetryPendingRelease(r.Context(), txID, &adminID, h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to retry pending release", err, map[string]interface{}{"transaction_id": txID})
		return
	}
	respondItem(w, item)
}

func (h *AdminHandler) CancelPending(w http.ResponseWriter, r *http.Request) {
	adminID, txID, ok := h.target(w, r)
	if !ok {
		return
	}
	entry, err := h.service.CancelPendingRelease(r.Context(), txID, adminID, h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to cancel pending release", err, map[string]interface{}{"transaction_id": txID})
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// RetryAllPending retries up to ?limit pending releases, oldest first.
func (h *AdminHandler) RetryAllPending(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	res, err := h.service.RetryPendingReleases(r.Context(), limit, h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to retry pending releases", err, nil)
		return
	}
	respondOperation(w, res)
}

func (h *AdminHandler) target(w http.ResponseWriter, r *http.Request) (adminID, txID uuid.UUID, ok bool) {
	adminID, _, ok = caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	txID, ok = pathUUID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}
	return adminID, txID, true
}

// respondItem renders a single payout; a pending gateway refund is 202.
func respondItem(w http.ResponseWriter, item *pool.ItemResult) {
	status := http.StatusOK
	switch item.Outcome {
	case pool.OutcomePending:
		status = http.StatusAccepted
	case pool.OutcomeSkipped:
		status = http.StatusConflict
	case pool.OutcomeFailed:
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, item)
}
