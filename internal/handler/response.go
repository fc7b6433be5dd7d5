package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pawpool/internal/domain"
	"pawpool/internal/middleware"
	pkgerrors "pawpool/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Clock returns the time recorded on ledger entries.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondValidationErrors(w http.ResponseWriter, errs map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": errs})
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrPaymentNotFound),
		errors.Is(err, pkgerrors.ErrContractNotFound),
		errors.Is(err, pkgerrors.ErrDisputeNotFound),
		errors.Is(err, pkgerrors.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrActiveDispute),
		errors.Is(err, pkgerrors.ErrDisputeAlreadyActive),
		errors.Is(err, pkgerrors.ErrReleaseInProgress),
		errors.Is(err, pkgerrors.ErrPendingRetry),
		errors.Is(err, pkgerrors.ErrDisputeClosed),
		errors.Is(err, pkgerrors.ErrInvalidTransition),
		errors.Is(err, pkgerrors.ErrTransactionFrozen),
		errors.Is(err, pkgerrors.ErrTransactionNotFrozen),
		errors.Is(err, pkgerrors.ErrNotPending),
		errors.Is(err, pkgerrors.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrContractNotDisputable),
		errors.Is(err, pkgerrors.ErrNotFreezable),
		errors.Is(err, pkgerrors.ErrPaymentNotInPool),
		errors.Is(err, pkgerrors.ErrNotRefund),
		errors.Is(err, pkgerrors.ErrNotFundingEntry),
		errors.Is(err, pkgerrors.ErrNoRaiserPayment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pkgerrors.ErrInvalidResolution),
		errors.Is(err, pkgerrors.ErrInvalidRefundAmount),
		errors.Is(err, pkgerrors.ErrInvalidDisputeReason),
		errors.Is(err, domain.ErrUnknownResolution),
		errors.Is(err, domain.ErrMissingResolutionAmount):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrNotContractParty),
		errors.Is(err, pkgerrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// respondServiceError logs unexpected failures and hides their detail.
func respondServiceError(w http.ResponseWriter, log Logger, msg string, err error, fields map[string]interface{}) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		if fields == nil {
			fields = map[string]interface{}{}
		}
		fields["error"] = err.Error()
		log.Error(msg, fields)
		respondError(w, status, "Internal server error")
		return
	}
	respondError(w, status, err.Error())
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	return id, err == nil
}

// caller returns the authenticated user and whether they are an admin.
func caller(r *http.Request) (uuid.UUID, bool, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, false, false
	}
	ut, _ := middleware.UserTypeFromContext(r.Context())
	return userID, ut == string(domain.UserTypeAdmin), true
}

// decodeOptional decodes a JSON body into dst; an empty body is allowed.
func decodeOptional(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// parseFilter reads ledger filters from the query string.
func parseFilter(r *http.Request) (domain.TransactionFilter, error) {
	q := r.URL.Query()
	var f domain.TransactionFilter

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Offset = n
		}
	}
	for key, dst := range map[string]**uuid.UUID{
		"contract_id": &f.ContractID,
		"payment_id":  &f.PaymentID,
		"user_id":     &f.UserID,
	} {
		if v := q.Get(key); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return f, errors.New("invalid " + key)
			}
			*dst = &id
		}
	}
	for _, v := range splitList(q["type"]) {
		f.Types = append(f.Types, domain.TransactionType(v))
	}
	for _, v := range splitList(q["status"]) {
		f.Statuses = append(f.Statuses, domain.TransactionStatus(v))
	}
	for key, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if v := q.Get(key); v != "" {
			t, err := parseDate(v)
			if err != nil {
				return f, errors.New("invalid " + key + " date")
			}
			*dst = &t
		}
	}
	f.Oldest = q.Get("order") == "asc"
	return f, nil
}

// parseDate accepts RFC3339 timestamps or plain YYYY-MM-DD dates (UTC midnight).
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
