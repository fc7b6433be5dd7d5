package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pawpool/internal/pool"
	"pawpool/pkg/validator"

	"github.com/google/uuid"
)

// PoolHandler exposes deposits, releases, cancellation and pool reporting.
type PoolHandler struct {
	service   *pool.Service
	validator *validator.Validator
	logger    Logger
	now       Clock
}

func NewPoolHandler(service *pool.Service, val *validator.Validator, log Logger) *PoolHandler {
	return &PoolHandler{service: service, validator: val, logger: log, now: systemClock}
}

// Deposit moves a paid payment into the pool. Only the payer or an admin may
// trigger it. An ineligible payment is reported, not rejected.
func (h *PoolHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, isAdmin, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	paymentID, ok := pathUUID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid payment ID")
		return
	}

	payment, err := h.service.GetPayment(r.Context(), paymentID)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to load payment", err, map[string]interface{}{"payment_id": paymentID})
		return
	}
	if payment.UserID != userID && !isAdmin {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	entry, err := h.service.DepositToPool(r.Context(), paymentID, h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to deposit payment", err, map[string]interface{}{"payment_id": paymentID})
		return
	}
	if entry == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"deposited": false,
			"message":   "Payment is not eligible for the pool",
		})
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"deposited":   true,
		"transaction": entry,
	})
}

// MyBalance returns the caller's position in the pool.
func (h *PoolHandler) MyBalance(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	view, err := h.service.GetUserPoolBalance(r.Context(), userID)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to get user pool balance", err, map[string]interface{}{"user_id": userID})
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// ContractSummary is visible to the contract's parties and to admins.
func (h *PoolHandler) ContractSummary(w http.ResponseWriter, r *http.Request) {
	userID, isAdmin, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	contractID, ok := pathUUID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid contract ID")
		return
	}

	contract, err := h.service.GetContract(r.Context(), contractID)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to load contract", err, map[string]interface{}{"contract_id": contractID})
		return
	}
	if !isAdmin && !contract.IsParty(userID) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	summary, err := h.service.GetContractPoolSummary(r.Context(), contractID)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to get contract pool summary", err, map[string]interface{}{"contract_id": contractID})
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Cancel applies the cancellation refunds with the caller as canceller.
func (h *PoolHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, isAdmin, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	contractID, ok := pathUUID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid contract ID")
		return
	}

	contract, err := h.service.GetContract(r.Context(), contractID)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to load contract", err, map[string]interface{}{"contract_id": contractID})
		return
	}
	if !isAdmin && !contract.IsParty(userID) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	res, err := h.service.HandleCancellation(r.Context(), contractID, userID, h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to handle cancellation", err, map[string]interface{}{"contract_id": contractID})
		return
	}
	respondOperation(w, res)
}

func (h *PoolHandler) ReleaseCollateral(w http.ResponseWriter, r *http.Request) {
	h.release(w, r, h.service.ReleaseCollateral)
}

func (h *PoolHandler) ReleaseShooter(w http.ResponseWriter, r *http.Request) {
	h.release(w, r, h.service.ReleaseShooterPayment)
}

type releaseFunc func(ctx context.Context, contractID uuid.UUID, actor *uuid.UUID, at time.Time) (*pool.OperationResult, error)

func (h *PoolHandler) release(w http.ResponseWriter, r *http.Request, fn releaseFunc) {
	adminID, _, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	contractID, ok := pathUUID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid contract ID")
		return
	}

	res, err := fn(r.Context(), contractID, &adminID, h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to release contract funds", err, map[string]interface{}{"contract_id": contractID})
		return
	}
	respondOperation(w, res)
}

func (h *PoolHandler) FreezeContract(w http.ResponseWriter, r *http.Request) {
	contractID, ok := pathUUID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid contract ID")
		return
	}
	res, err := h.service.FreezeContractFunds(r.Context(), contractID, nil, h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to freeze contract funds", err, map[string]interface{}{"contract_id": contractID})
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *PoolHandler) UnfreezeContract(w http.ResponseWriter, r *http.Request) {
	contractID, ok := pathUUID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid contract ID")
		return
	}
	res, err := h.service.UnfreezeContractFunds(r.Context(), contractID, h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to unfreeze contract funds", err, map[string]interface{}{"contract_id": contractID})
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *PoolHandler) Balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetPoolBalance(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to get pool balance", err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"balance": balance})
}

func (h *PoolHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetPoolStatistics(r.Context(), h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to get pool statistics", err, nil)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// MonthlyFlow accepts ?months=N; the service clamps it.
func (h *PoolHandler) MonthlyFlow(w http.ResponseWriter, r *http.Request) {
	months := 0
	if v := r.URL.Query().Get("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "Invalid months")
			return
		}
		months = n
	}
	flow, err := h.service.GetMonthlyPoolFlow(r.Context(), h.now(), months)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to get monthly pool flow", err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"months": flow})
}

func (h *PoolHandler) Revenue(w http.ResponseWriter, r *http.Request) {
	rev, err := h.service.GetRevenueByType(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to get revenue breakdown", err, nil)
		return
	}
	respondJSON(w, http.StatusOK, rev)
}

func (h *PoolHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to list pool transactions", err, nil)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// ExportTransactions streams the filtered ledger as CSV. The body is built
// in memory first so a failed query still yields a JSON error.
func (h *PoolHandler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var buf bytes.Buffer
	rows, err := h.service.ExportTransactions(r.Context(), &buf, filter)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to export pool transactions", err, nil)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="pool-transactions-%s.csv"`, h.now().Format("20060102")))
	w.Header().Set("X-Total-Count", strconv.Itoa(rows))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Reconcile replays the ledger. A discrepancy is still a 200; the report says so.
func (h *PoolHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Reconcile(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to reconcile pool ledger", err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     report.OK(),
		"report": report,
	})
}

// respondOperation renders a batch result. Pending items are reported as
// 202 Accepted so callers know a retry is outstanding.
func respondOperation(w http.ResponseWriter, res *pool.OperationResult) {
	status := http.StatusOK
	if res.NeedsRetry() {
		status = http.StatusAccepted
	}
	respondJSON(w, status, res)
}
