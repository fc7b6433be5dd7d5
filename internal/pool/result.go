package pool

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pawpool/internal/domain"
)

// Outcome is what happened to one payment during a batch operation.
type Outcome string

const (
	// OutcomeSucceeded means the funds left the pool and the ledger says so.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomePending means the gateway call failed and a pending entry awaits retry.
	OutcomePending Outcome = "pending"
	// OutcomeFailed means nothing was recorded for the payment.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the payment was not eligible, for example because
	// a concurrent release holds it or an earlier attempt is pending.
	OutcomeSkipped Outcome = "skipped"
)

// ItemResult is the per-payment detail of a batch operation.
type ItemResult struct {
	PaymentID            uuid.UUID              `json:"payment_id"`
	UserID               uuid.UUID              `json:"user_id"`
	PaymentType          domain.PaymentType     `json:"payment_type"`
	Outcome              Outcome                `json:"outcome"`
	TransactionID        *uuid.UUID             `json:"transaction_id,omitempty"`
	TransactionType      domain.TransactionType `json:"transaction_type,omitempty"`
	Amount               decimal.Decimal        `json:"amount"`
	Fee                  decimal.Decimal        `json:"fee"`
	GatewayRefundID      string                 `json:"gateway_refund_id,omitempty"`
	PoolStatus           domain.PoolStatus      `json:"pool_status"`
	ManualPayoutRequired bool                   `json:"manual_payout_required,omitempty"`
	Error                string                 `json:"error,omitempty"`
}

// OperationResult summarizes a batch operation. Succeeded, Pending, Failed
// and Skipped count the Items with that outcome.
type OperationResult struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	Succeeded int          `json:"succeeded"`
	Pending   int          `json:"pending"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Items     []ItemResult `json:"items"`
}

// Nothing reports whether the operation found no eligible payments.
func (r *OperationResult) Nothing() bool {
	return len(r.Items) == 0
}

// NeedsRetry reports whether any payment is waiting on a gateway retry.
func (r *OperationResult) NeedsRetry() bool {
	return r.Pending > 0
}

func (r *OperationResult) add(item ItemResult) {
	r.Items = append(r.Items, item)
	switch item.Outcome {
	case OutcomeSucceeded:
		r.Succeeded++
	case OutcomePending:
		r.Pending++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
}

// finish derives Success and Message once every item has been added.
// Success is true when nothing failed outright; pending items are reported
// separately as needing retry.
func (r *OperationResult) finish(empty string) *OperationResult {
	if r.Items == nil {
		r.Items = []ItemResult{}
	}
	switch {
	case r.Nothing():
		r.Success = true
		r.Message = empty
	case r.Failed == 0 && r.Pending == 0 && r.Succeeded == 0:
		r.Success = true
		r.Message = "Payments are already being processed"
	case r.Failed == 0 && r.Pending == 0:
		r.Success = true
		r.Message = "All payments processed"
	case r.Failed == 0:
		r.Success = true
		r.Message = "Some payments need retry"
	case r.Succeeded == 0 && r.Pending == 0:
		r.Success = false
		r.Message = "No payments could be processed"
	default:
		r.Success = false
		r.Message = "Some payments failed"
	}
	return r
}

// ContractPoolSummary is the pool view of one contract.
type ContractPoolSummary struct {
	ContractID    uuid.UUID                 `json:"contract_id"`
	TotalDeposits decimal.Decimal           `json:"total_deposits"`
	TotalReleased decimal.Decimal           `json:"total_released"`
	TotalRefunded decimal.Decimal           `json:"total_refunded"`
	TotalRetained decimal.Decimal           `json:"total_retained"`
	HeldAmount    decimal.Decimal           `json:"held_amount"`
	FrozenAmount  decimal.Decimal           `json:"frozen_amount"`
	FrozenCount   int                       `json:"frozen_count"`
	PendingCount  int                       `json:"pending_count"`
	HasDispute    bool                      `json:"has_dispute"`
	Transactions  []*domain.PoolTransaction `json:"transactions"`
}

// PoolStatistics is the admin dashboard summary.
type PoolStatistics struct {
	TotalBalance           decimal.Decimal `json:"total_balance"`
	FrozenAmount           decimal.Decimal `json:"frozen_amount"`
	PendingReleases        decimal.Decimal `json:"pending_releases"`
	PlatformRevenue        decimal.Decimal `json:"platform_revenue"`
	DepositsThisMonth      decimal.Decimal `json:"deposits_this_month"`
	DepositsCountThisMonth int             `json:"deposits_count_this_month"`
	DepositsGrowth         decimal.Decimal `json:"deposits_growth"`
	ReleasesThisMonth      decimal.Decimal `json:"releases_this_month"`
	ReleasesCountThisMonth int             `json:"releases_count_this_month"`
	ReleasesGrowth         decimal.Decimal `json:"releases_growth"`
}

// MonthlyFlow is one month of pool inflow and outflow.
type MonthlyFlow struct {
	Month    string          `json:"month"`
	Deposits decimal.Decimal `json:"deposits"`
	Releases decimal.Decimal `json:"releases"`
}

// RevenueBreakdown is pooled inflow by payment type plus retained revenue.
type RevenueBreakdown struct {
	ByPaymentType   map[string]decimal.Decimal `json:"by_payment_type"`
	Penalties       decimal.Decimal            `json:"cancellation_penalties"`
	Forfeits        decimal.Decimal            `json:"forfeits"`
	PlatformRevenue decimal.Decimal            `json:"platform_revenue"`
}

// UserPoolBalance is one user's position in the pool.
type UserPoolBalance struct {
	UserID          uuid.UUID       `json:"user_id"`
	Held            decimal.Decimal `json:"held"`
	Frozen          decimal.Decimal `json:"frozen"`
	PendingReleases decimal.Decimal `json:"pending_releases"`
	TotalDeposited  decimal.Decimal `json:"total_deposited"`
	TotalReleased   decimal.Decimal `json:"total_released"`
	TotalRefunded   decimal.Decimal `json:"total_refunded"`
	TotalRetained   decimal.Decimal `json:"total_retained"`
}

// TransactionPage is one page of ledger entries.
type TransactionPage struct {
	Transactions []*domain.PoolTransaction `json:"transactions"`
	Total        int                       `json:"total"`
	Limit        int                       `json:"limit"`
	Offset       int                       `json:"offset"`
}
