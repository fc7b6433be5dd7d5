// Package gateway talks to the payment provider that holds the money behind
// the pool. Only refunds are issued from here; checkout lives elsewhere.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pawpool/pkg/logger"
)

// DefaultRefundReason is sent when the caller does not supply one.
const DefaultRefundReason = "requested_by_customer"

// ErrMissingPaymentID is returned when a refund has no provider payment id.
var ErrMissingPaymentID = errors.New("gateway payment id is required")

// RefundRequest asks the provider to return Amount minor units of PaymentID.
type RefundRequest struct {
	PaymentID string
	Amount    int64
	Reason    string
	Notes     string
}

// Refund is the provider's acknowledgement of a refund.
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("paymongo returned status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("paymongo returned status %d", e.StatusCode)
}

// PayMongoClient issues refunds through the PayMongo REST API.
type PayMongoClient struct {
	baseURL   string
	secretKey string
	reason    string
	client    *http.Client
	logger    logger.Logger
}

// NewPayMongoClient creates a client. A zero timeout falls back to 30s.
func NewPayMongoClient(baseURL, secretKey, reason string, timeout time.Duration, log logger.Logger) *PayMongoClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if reason == "" {
		reason = DefaultRefundReason
	}
	return &PayMongoClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		reason:    reason,
		client:    &http.Client{Timeout: timeout},
		logger:    log,
	}
}

type refundAttributes struct {
	Amount    int64  `json:"amount"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
	Notes     string `json:"notes,omitempty"`
}

type refundEnvelope struct {
	Data struct {
		ID         string           `json:"id,omitempty"`
		Attributes refundAttributes `json:"attributes"`
	} `json:"data"`
}

type refundResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Amount int64  `json:"amount"`
			Status string `json:"status"`
		} `json:"attributes"`
	} `json:"data"`
}

type errorResponse struct {
	Errors []struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// CreateRefund posts a refund. Any transport error, timeout or non-2xx
// status is returned as an error and means no refund was made.
func (c *PayMongoClient) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if req.PaymentID == "" {
		return nil, ErrMissingPaymentID
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("refund amount must be positive, got %d", req.Amount)
	}
	reason := req.Reason
	if reason == "" {
		reason = c.reason
	}

	var body refundEnvelope
	body.Data.Attributes = refundAttributes{
		Amount:    req.Amount,
		PaymentID: req.PaymentID,
		Reason:    reason,
		Notes:     req.Notes,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode refund: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refunds", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.SetBasicAuth(c.secretKey, "")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Error("PayMongo refund request failed", map[string]interface{}{
			"payment_id": req.PaymentID,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("refund request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && len(er.Errors) > 0 {
			apiErr.Code = er.Errors[0].Code
			apiErr.Detail = er.Errors[0].Detail
		}
		c.logger.Warn("PayMongo refund rejected", map[string]interface{}{
			"payment_id": req.PaymentID,
			"status":     resp.StatusCode,
			"code":       apiErr.Code,
		})
		return nil, apiErr
	}

	var out refundResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode refund: %w", err)
	}
	if out.Data.ID == "" {
		return nil, errors.New("paymongo refund response has no id")
	}

	c.logger.Info("PayMongo refund created", map[string]interface{}{
		"payment_id": req.PaymentID,
		"refund_id":  out.Data.ID,
		"status":     out.Data.Attributes.Status,
		"amount":     req.Amount,
	})

	return &Refund{
		ID:     out.Data.ID,
		Status: out.Data.Attributes.Status,
		Amount: out.Data.Attributes.Amount,
	}, nil
}
