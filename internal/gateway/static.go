package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Static is an in-process gateway for local development. It accepts every
// refund unless the payment id is listed in Reject.
type Static struct {
	mu      sync.Mutex
	Reject  map[string]error
	issued  []RefundRequest
	counter int
}

// NewStatic returns a Static gateway that accepts everything.
func NewStatic() *Static {
	return &Static{Reject: make(map[string]error)}
}

// CreateRefund records the request and returns a synthetic refund.
func (s *Static) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.PaymentID == "" {
		return nil, ErrMissingPaymentID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.Reject[req.PaymentID]; ok {
		return nil, err
	}
	s.counter++
	s.issued = append(s.issued, req)
	return &Refund{
		ID:     fmt.Sprintf("ref_static_%d", s.counter),
		Status: "pending",
		Amount: req.Amount,
	}, nil
}

// Issued returns a copy of the refunds accepted so far.
func (s *Static) Issued() []RefundRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RefundRequest, len(s.issued))
	copy(out, s.issued)
	return out
}
