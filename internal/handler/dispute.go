package handler

import (
	"encoding/json"
	"net/http"

	"pawpool/internal/domain"
	"pawpool/internal/pool"
	"pawpool/pkg/validator"

	"github.com/shopspring/decimal"
)

// DisputeHandler drives the dispute lifecycle.
type DisputeHandler struct {
	service   *pool.Service
	validator *validator.Validator
	logger    Logger
	now       Clock
}

func NewDisputeHandler(service *pool.Service, val *validator.Validator, log Logger) *DisputeHandler {
	return &DisputeHandler{service: service, validator: val, logger: log, now: systemClock}
}

type openDisputeRequest struct {
	Reason string `json:"reason" validate:"required,min=10,max=2000"`
}

type resolveDisputeRequest struct {
	Resolution string `json:"resolution" validate:"required,resolution_type"`
	Amount     string `json:"amount" validate:"omitempty,money"`
	Notes      string `json:"notes" validate:"max=2000"`
}

type dismissDisputeRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// Open raises a dispute with the caller as raiser and freezes the contract's funds.
func (h *DisputeHandler) Open(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	contractID, ok := pathUUID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid contract ID")
		return
	}

	var req openDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	dispute, err := h.service.OpenDispute(r.Context(), contractID, userID, validator.Sanitize(req.Reason), h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to open dispute", err, map[string]interface{}{"contract_id": contractID})
		return
	}
	respondJSON(w, http.StatusCreated, dispute)
}

// Get is visible to the contract's parties and to admins.
func (h *DisputeHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, isAdmin, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	disputeID, ok := pathUUID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid dispute ID")
		return
	}

	dispute, err := h.service.GetDispute(r.Context(), disputeID)
	if err != nil {
		respondServiceError(w, h.logger, "Failed to load dispute", err, map[string]interface{}{"dispute_id": disputeID})
		return
	}
	if !isAdmin {
		contract, err := h.service.GetContract(r.Context(), dispute.ContractID)
		if err != nil {
			respondServiceError(w, h.logger, "Failed to load contract", err, map[string]interface{}{"contract_id": dispute.ContractID})
			return
		}
		if !contract.IsParty(userID) {
			respondError(w, http.StatusForbidden, "Forbidden")
			return
		}
	}
	respondJSON(w, http.StatusOK, dispute)
}

func (h *DisputeHandler) Review(w http.ResponseWriter, r *http.Request) {
	adminID, _, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	disputeID, ok := pathUUID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid dispute ID")
		return
	}

	dispute, err := h.service.MarkUnderReview(r.Context(), disputeID, adminID, h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to mark dispute under review", err, map[string]interface{}{"dispute_id": disputeID})
		return
	}
	respondJSON(w, http.StatusOK, dispute)
}

func (h *DisputeHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	adminID, _, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	disputeID, ok := pathUUID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid dispute ID")
		return
	}

	var req dismissDisputeRequest
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	dispute, err := h.service.DismissDispute(r.Context(), disputeID, adminID, validator.Sanitize(req.Notes), h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to dismiss dispute", err, map[string]interface{}{"dispute_id": disputeID})
		return
	}
	respondJSON(w, http.StatusOK, dispute)
}

// Resolve closes the dispute with one of the resolution types. A partial
// refund needs an amount.
func (h *DisputeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	adminID, _, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	disputeID, ok := pathUUID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid dispute ID")
		return
	}

	var req resolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	var amount *decimal.Decimal
	if req.Amount != "" {
		d, err := decimal.NewFromString(req.Amount)
		if err != nil {
			respondValidationErrors(w, map[string]string{"Amount": "Must be a positive amount with at most 2 decimal places"})
			return
		}
		amount = &d
	}
	resolution, err := domain.ParseResolution(domain.ResolutionType(req.Resolution), amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.ResolveDispute(r.Context(), disputeID, resolution, adminID, validator.Sanitize(req.Notes), h.now())
	if err != nil {
		respondServiceError(w, h.logger, "Failed to resolve dispute", err, map[string]interface{}{
			"dispute_id": disputeID,
			"resolution": req.Resolution,
		})
		return
	}

	status := http.StatusOK
	if res.Result != nil && res.Result.NeedsRetry() {
		status = http.StatusAccepted
	}
	respondJSON(w, status, res)
}
