package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pawpool/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayMongoClient_CreateRefund(t *testing.T) {
	var got refundEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "sk_test_123", user)
		assert.Empty(t, pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"ref_abc","attributes":{"amount":95000,"status":"pending"}}}`))
	}))
	defer srv.Close()

	c := NewPayMongoClient(srv.URL+"/v1/", "sk_test_123", "", time.Second, logger.NewNop())
	refund, err := c.CreateRefund(context.Background(), RefundRequest{PaymentID: "pay_1", Amount: 95000})

	require.NoError(t, err)
	assert.Equal(t, "ref_abc", refund.ID)
	assert.Equal(t, "pending", refund.Status)
	assert.Equal(t, int64(95000), got.Data.Attributes.Amount)
	assert.Equal(t, "pay_1", got.Data.Attributes.PaymentID)
	assert.Equal(t, DefaultRefundReason, got.Data.Attributes.Reason)
}

func TestPayMongoClient_CreateRefund_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"code":"resource_failed_state","detail":"The payment cannot be refunded."}]}`))
	}))
	defer srv.Close()

	c := NewPayMongoClient(srv.URL, "sk", "", time.Second, logger.NewNop())
	_, err := c.CreateRefund(context.Background(), RefundRequest{PaymentID: "pay_1", Amount: 100})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "resource_failed_state", apiErr.Code)
	assert.Contains(t, err.Error(), "cannot be refunded")
}

func TestPayMongoClient_CreateRefund_TimeoutIsFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewPayMongoClient(srv.URL, "sk", "", 50*time.Millisecond, logger.NewNop())
	refund, err := c.CreateRefund(context.Background(), RefundRequest{PaymentID: "pay_1", Amount: 100})

	assert.Error(t, err)
	assert.Nil(t, refund)
}

func TestPayMongoClient_CreateRefund_Validation(t *testing.T) {
	c := NewPayMongoClient("http://127.0.0.1:0", "sk", "", time.Second, logger.NewNop())

	_, err := c.CreateRefund(context.Background(), RefundRequest{Amount: 100})
	assert.ErrorIs(t, err, ErrMissingPaymentID)

	_, err = c.CreateRefund(context.Background(), RefundRequest{PaymentID: "pay_1"})
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	g := NewStatic()
	g.Reject["pay_bad"] = errors.New("declined")

	refund, err := g.CreateRefund(context.Background(), RefundRequest{PaymentID: "pay_ok", Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, "ref_static_1", refund.ID)

	_, err = g.CreateRefund(context.Background(), RefundRequest{PaymentID: "pay_bad", Amount: 100})
	assert.EqualError(t, err, "declined")
	assert.Len(t, g.Issued(), 1)
}
