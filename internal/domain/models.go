// Package domain re-exports core domain types so internal code can import
// `pawpool/internal/domain` while using definitions from `pawpool/pkg/domain`.
package domain

import pkg "pawpool/pkg/domain"

// Currency represents a currency code.
type Currency = pkg.Currency

// Money represents a monetary amount.
type Money = pkg.Money

// Metadata holds arbitrary key-value metadata.
type Metadata = pkg.Metadata

// Payment represents a contract payment tracked by the pool.
type Payment = pkg.Payment

// PaymentType represents payment categories.
type PaymentType = pkg.PaymentType

// PaymentStatus represents checkout lifecycle states.
type PaymentStatus = pkg.PaymentStatus

// PoolStatus represents a payment's placement relative to the pool.
type PoolStatus = pkg.PoolStatus

// PoolTransaction represents a pool ledger entry.
type PoolTransaction = pkg.PoolTransaction

// TransactionType represents ledger entry categories.
type TransactionType = pkg.TransactionType

// TransactionStatus represents ledger entry states.
type TransactionStatus = pkg.TransactionStatus

// TransactionFilter narrows ledger queries.
type TransactionFilter = pkg.TransactionFilter

// TransactionTotal aggregates ledger entries by type and status.
type TransactionTotal = pkg.TransactionTotal

// Dispute represents a contested contract.
type Dispute = pkg.Dispute

// DisputeStatus represents dispute lifecycle states.
type DisputeStatus = pkg.DisputeStatus

// Resolution is the closed set of dispute outcomes.
type Resolution = pkg.Resolution

// ResolutionType names a dispute outcome.
type ResolutionType = pkg.ResolutionType

// Resolution variants.
type (
	RefundFull    = pkg.RefundFull
	RefundPartial = pkg.RefundPartial
	ReleaseFunds  = pkg.ReleaseFunds
	Forfeit       = pkg.Forfeit
)

// Contract represents a breeding contract.
type Contract = pkg.Contract

// ContractStatus represents contract lifecycle states.
type ContractStatus = pkg.ContractStatus

// Re-exported currency codes.
const (
	PHP             = pkg.PHP
	USD             = pkg.USD
	DefaultCurrency = pkg.DefaultCurrency
)

// Re-exported payment types.
const (
	PaymentTypeCollateral           = pkg.PaymentTypeCollateral
	PaymentTypeShooterPayment       = pkg.PaymentTypeShooterPayment
	PaymentTypeMonetaryCompensation = pkg.PaymentTypeMonetaryCompensation
	PaymentTypeShooterCollateral    = pkg.PaymentTypeShooterCollateral
	PaymentTypeSubscription         = pkg.PaymentTypeSubscription
	PaymentTypeMatchRequestFee      = pkg.PaymentTypeMatchRequestFee
)

// Re-exported payment statuses.
const (
	PaymentStatusPending         = pkg.PaymentStatusPending
	PaymentStatusAwaitingPayment = pkg.PaymentStatusAwaitingPayment
	PaymentStatusProcessing      = pkg.PaymentStatusProcessing
	PaymentStatusPaid            = pkg.PaymentStatusPaid
	PaymentStatusFailed          = pkg.PaymentStatusFailed
	PaymentStatusExpired         = pkg.PaymentStatusExpired
	PaymentStatusRefunded        = pkg.PaymentStatusRefunded
)

// Re-exported pool statuses.
const (
	PoolStatusNotPooled         = pkg.PoolStatusNotPooled
	PoolStatusInPool            = pkg.PoolStatusInPool
	PoolStatusReleased          = pkg.PoolStatusReleased
	PoolStatusRefunded          = pkg.PoolStatusRefunded
	PoolStatusFrozen            = pkg.PoolStatusFrozen
	PoolStatusPartiallyRefunded = pkg.PoolStatusPartiallyRefunded
)

// Re-exported ledger entry types.
const (
	TransactionTypeDeposit             = pkg.TransactionTypeDeposit
	TransactionTypeHold                = pkg.TransactionTypeHold
	TransactionTypeRelease             = pkg.TransactionTypeRelease
	TransactionTypeRefund              = pkg.TransactionTypeRefund
	TransactionTypeFeeDeduction        = pkg.TransactionTypeFeeDeduction
	TransactionTypeCancellationPenalty = pkg.TransactionTypeCancellationPenalty
)

// Re-exported ledger entry statuses.
const (
	TransactionStatusCompleted = pkg.TransactionStatusCompleted
	TransactionStatusPending   = pkg.TransactionStatusPending
	TransactionStatusFrozen    = pkg.TransactionStatusFrozen
	TransactionStatusCancelled = pkg.TransactionStatusCancelled
)

// Re-exported dispute statuses and resolution types.
const (
	DisputeStatusOpen        = pkg.DisputeStatusOpen
	DisputeStatusUnderReview = pkg.DisputeStatusUnderReview
	DisputeStatusResolved    = pkg.DisputeStatusResolved
	DisputeStatusDismissed   = pkg.DisputeStatusDismissed

	ResolutionRefundFull    = pkg.ResolutionRefundFull
	ResolutionRefundPartial = pkg.ResolutionRefundPartial
	ResolutionReleaseFunds  = pkg.ResolutionReleaseFunds
	ResolutionForfeit       = pkg.ResolutionForfeit
)

// Re-exported contract statuses.
const (
	ContractStatusPending   = pkg.ContractStatusPending
	ContractStatusAccepted  = pkg.ContractStatusAccepted
	ContractStatusRejected  = pkg.ContractStatusRejected
	ContractStatusFulfilled = pkg.ContractStatusFulfilled
	ContractStatusCompleted = pkg.ContractStatusCompleted
	ContractStatusCancelled = pkg.ContractStatusCancelled
)

// MinorUnits converts an amount to the smallest currency unit.
var MinorUnits = pkg.MinorUnits

// ParseResolution builds a Resolution from its wire form.
var ParseResolution = pkg.ParseResolution

// DefaultCancellationFeePercentage applies when a contract sets none.
var DefaultCancellationFeePercentage = pkg.DefaultCancellationFeePercentage

// UserType distinguishes administrators from members.
type UserType = pkg.UserType

// Re-exported user types.
const (
	UserTypeMember = pkg.UserTypeMember
	UserTypeAdmin  = pkg.UserTypeAdmin
)

// Resolution parsing errors.
var (
	ErrUnknownResolution       = pkg.ErrUnknownResolution
	ErrMissingResolutionAmount = pkg.ErrMissingResolutionAmount
)
