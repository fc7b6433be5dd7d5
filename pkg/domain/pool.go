package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType classifies a pool ledger entry.
type TransactionType string

const (
	TransactionTypeDeposit             TransactionType = "deposit"
	TransactionTypeHold                TransactionType = "hold"
	TransactionTypeRelease             TransactionType = "release"
	TransactionTypeRefund              TransactionType = "refund"
	TransactionTypeFeeDeduction        TransactionType = "fee_deduction"
	TransactionTypeCancellationPenalty TransactionType = "cancellation_penalty"
)

// IsCredit reports whether the entry adds to the pool.
func (t TransactionType) IsCredit() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeHold,
		TransactionTypeFeeDeduction, TransactionTypeCancellationPenalty:
		return true
	}
	return false
}

// IsDebit reports whether the entry removes funds from the pool.
func (t TransactionType) IsDebit() bool {
	return t == TransactionTypeRelease || t == TransactionTypeRefund
}

// IsFunding reports whether the entry brings new money into the pool.
func (t TransactionType) IsFunding() bool {
	return t == TransactionTypeDeposit || t == TransactionTypeHold
}

// IsRetention reports whether the entry relabels funds already held as
// platform revenue. Retention credits do not move the pool balance.
func (t TransactionType) IsRetention() bool {
	return t == TransactionTypeFeeDeduction || t == TransactionTypeCancellationPenalty
}

// Label is the human readable name used in exports.
func (t TransactionType) Label() string {
	switch t {
	case TransactionTypeDeposit:
		return "Deposit"
	case TransactionTypeHold:
		return "Hold"
	case TransactionTypeRelease:
		return "Release"
	case TransactionTypeRefund:
		return "Refund"
	case TransactionTypeFeeDeduction:
		return "Fee Deduction"
	case TransactionTypeCancellationPenalty:
		return "Cancellation Penalty"
	}
	return string(t)
}

// TransactionStatus is the only mutable attribute of a ledger entry.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusFrozen    TransactionStatus = "frozen"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Label is the human readable name used in exports.
func (s TransactionStatus) Label() string {
	switch s {
	case TransactionStatusCompleted:
		return "Completed"
	case TransactionStatusPending:
		return "Pending"
	case TransactionStatusFrozen:
		return "Frozen"
	case TransactionStatusCancelled:
		return "Cancelled"
	}
	return string(s)
}

// PoolTransaction is one entry of the append-only pool ledger.
//
// Sequence is the entry's position in the applied ledger. It is assigned when
// the entry first affects the balance and stays nil while the entry is pending.
type PoolTransaction struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	Sequence     *int64            `json:"sequence,omitempty" db:"sequence"`
	PaymentID    uuid.UUID         `json:"payment_id" db:"payment_id"`
	ContractID   *uuid.UUID        `json:"contract_id" db:"contract_id"`
	UserID       uuid.UUID         `json:"user_id" db:"user_id"`
	Type         TransactionType   `json:"type" db:"type"`
	Amount       decimal.Decimal   `json:"amount" db:"amount"`
	Currency     Currency          `json:"currency" db:"currency"`
	BalanceAfter decimal.Decimal   `json:"balance_after" db:"balance_after"`
	Status       TransactionStatus `json:"status" db:"status"`
	Description  string            `json:"description" db:"description"`
	Metadata     Metadata          `json:"metadata" db:"metadata"`
	ProcessedAt  *time.Time        `json:"processed_at" db:"processed_at"`
	ProcessedBy  *uuid.UUID        `json:"processed_by,omitempty" db:"processed_by"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// IsApplied reports whether the entry currently affects the pool balance.
func (t *PoolTransaction) IsApplied() bool {
	switch t.Status {
	case TransactionStatusCompleted:
		return true
	case TransactionStatusFrozen:
		return t.Type.IsCredit()
	}
	return false
}

// IsFreezable reports whether the entry can be frozen by a dispute.
func (t *PoolTransaction) IsFreezable() bool {
	return t.Status == TransactionStatusCompleted && t.Type.IsFunding()
}

// TransactionFilter narrows ledger queries. Zero values mean "any".
// From is inclusive and To exclusive, both on created_at.
type TransactionFilter struct {
	ContractID *uuid.UUID
	PaymentID  *uuid.UUID
	UserID     *uuid.UUID
	Types      []TransactionType
	Statuses   []TransactionStatus
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
	// Oldest lists oldest first; the default is newest first.
	Oldest bool
}

// TransactionTotal is the aggregate of ledger entries sharing type and status.
type TransactionTotal struct {
	Type   TransactionType   `json:"type" db:"type"`
	Status TransactionStatus `json:"status" db:"status"`
	Amount decimal.Decimal   `json:"amount" db:"amount"`
	Count  int               `json:"count" db:"count"`
}
