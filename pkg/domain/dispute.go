package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DisputeStatus is the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusResolved    DisputeStatus = "resolved"
	DisputeStatusDismissed   DisputeStatus = "dismissed"
)

// IsActive reports whether the dispute still blocks fund movement.
func (s DisputeStatus) IsActive() bool {
	return s == DisputeStatusOpen || s == DisputeStatusUnderReview
}

// ResolutionType names the financial action taken when a dispute is resolved.
type ResolutionType string

const (
	ResolutionRefundFull    ResolutionType = "refund_full"
	ResolutionRefundPartial ResolutionType = "refund_partial"
	ResolutionReleaseFunds  ResolutionType = "release_funds"
	ResolutionForfeit       ResolutionType = "forfeit"
)

// ErrUnknownResolution is returned by ParseResolution for unsupported input.
var ErrUnknownResolution = errors.New("unknown resolution type")

// ErrMissingResolutionAmount is returned when a partial refund has no amount.
var ErrMissingResolutionAmount = errors.New("partial refund requires an amount")

// Resolution is the closed set of dispute outcomes. Each variant carries the
// parameters it needs; only the types in this package implement it.
type Resolution interface {
	Type() ResolutionType
	resolution()
}

// RefundFull refunds every pooled payment on the contract.
type RefundFull struct{}

// RefundPartial refunds Amount from the raiser's pooled payment.
type RefundPartial struct {
	Amount decimal.Decimal
}

// ReleaseFunds leaves the funds in the pool, eligible for normal release.
type ReleaseFunds struct{}

// Forfeit retains the raiser's payment and refunds everyone else.
type Forfeit struct{}

func (RefundFull) Type() ResolutionType    { return ResolutionRefundFull }
func (RefundPartial) Type() ResolutionType { return ResolutionRefundPartial }
func (ReleaseFunds) Type() ResolutionType  { return ResolutionReleaseFunds }
func (Forfeit) Type() ResolutionType       { return ResolutionForfeit }

func (RefundFull) resolution()    {}
func (RefundPartial) resolution() {}
func (ReleaseFunds) resolution()  {}
func (Forfeit) resolution()       {}

// ParseResolution builds a Resolution from its wire form.
func ParseResolution(t ResolutionType, amount *decimal.Decimal) (Resolution, error) {
	switch t {
	case ResolutionRefundFull:
		return RefundFull{}, nil
	case ResolutionRefundPartial:
		if amount == nil {
			return nil, ErrMissingResolutionAmount
		}
		return RefundPartial{Amount: *amount}, nil
	case ResolutionReleaseFunds:
		return ReleaseFunds{}, nil
	case ResolutionForfeit:
		return Forfeit{}, nil
	}
	return nil, ErrUnknownResolution
}

// Dispute is a formal contest over a contract that freezes its pooled funds.
type Dispute struct {
	ID              uuid.UUID           `json:"id" db:"id"`
	ContractID      uuid.UUID           `json:"contract_id" db:"contract_id"`
	RaisedBy        uuid.UUID           `json:"raised_by" db:"raised_by"`
	ResolvedBy      *uuid.UUID          `json:"resolved_by,omitempty" db:"resolved_by"`
	Reason          string              `json:"reason" db:"reason"`
	ResolutionNotes *string             `json:"resolution_notes,omitempty" db:"resolution_notes"`
	Status          DisputeStatus       `json:"status" db:"status"`
	ResolutionType  *ResolutionType     `json:"resolution_type,omitempty" db:"resolution_type"`
	ResolvedAmount  decimal.NullDecimal `json:"resolved_amount" db:"resolved_amount"`
	ReviewedAt      *time.Time          `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ResolvedAt      *time.Time          `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the dispute is open or under review.
func (d *Dispute) IsActive() bool {
	return d.Status.IsActive()
}
