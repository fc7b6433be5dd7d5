package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ContractStatus is the lifecycle state of a breeding contract.
type ContractStatus string

const (
	ContractStatusPending   ContractStatus = "pending"
	ContractStatusAccepted  ContractStatus = "accepted"
	ContractStatusRejected  ContractStatus = "rejected"
	ContractStatusFulfilled ContractStatus = "fulfilled"
	ContractStatusCompleted ContractStatus = "completed"
	ContractStatusCancelled ContractStatus = "cancelled"
)

// DefaultCancellationFeePercentage applies when a contract does not set its own.
var DefaultCancellationFeePercentage = decimal.NewFromInt(5)

// Contract is the breeding contract the pool holds funds for. The pool reads
// it but never changes it.
type Contract struct {
	ID                        uuid.UUID           `json:"id" db:"id"`
	Status                    ContractStatus      `json:"status" db:"status"`
	RequesterID               uuid.UUID           `json:"requester_id" db:"requester_id"`
	OwnerID                   uuid.UUID           `json:"owner_id" db:"owner_id"`
	ShooterID                 *uuid.UUID          `json:"shooter_id,omitempty" db:"shooter_id"`
	CancellationFeePercentage decimal.NullDecimal `json:"cancellation_fee_percentage" db:"cancellation_fee_percentage"`
	CreatedAt                 time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt                 time.Time           `json:"updated_at" db:"updated_at"`
}

// FeePercentageOr returns the contract's cancellation fee percentage, or
// fallback when the contract does not set one.
func (c *Contract) FeePercentageOr(fallback decimal.Decimal) decimal.Decimal {
	if !c.CancellationFeePercentage.Valid {
		return fallback
	}
	return c.CancellationFeePercentage.Decimal
}

// IsParty reports whether the user is the requester, owner or shooter.
func (c *Contract) IsParty(userID uuid.UUID) bool {
	if userID == c.RequesterID || userID == c.OwnerID {
		return true
	}
	return c.ShooterID != nil && *c.ShooterID == userID
}

// CanBeDisputed reports whether a dispute may be raised in the current state.
func (c *Contract) CanBeDisputed() bool {
	return c.Status == ContractStatusAccepted || c.Status == ContractStatusFulfilled
}
