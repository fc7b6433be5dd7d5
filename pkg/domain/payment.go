package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentType is the category of a contract payment.
type PaymentType string

const (
	PaymentTypeCollateral           PaymentType = "collateral"
	PaymentTypeShooterPayment       PaymentType = "shooter_payment"
	PaymentTypeMonetaryCompensation PaymentType = "monetary_compensation"
	PaymentTypeShooterCollateral    PaymentType = "shooter_collateral"
	PaymentTypeSubscription         PaymentType = "subscription"
	PaymentTypeMatchRequestFee      PaymentType = "match_request_fee"
)

// IsPoolable reports whether payments of this type are held in the pool.
func (t PaymentType) IsPoolable() bool {
	switch t {
	case PaymentTypeCollateral, PaymentTypeShooterPayment,
		PaymentTypeMonetaryCompensation, PaymentTypeShooterCollateral:
		return true
	}
	return false
}

// IsCollateral reports whether the type is a refundable security deposit.
func (t PaymentType) IsCollateral() bool {
	return t == PaymentTypeCollateral || t == PaymentTypeShooterCollateral
}

// PaymentStatus tracks the checkout lifecycle of a payment.
type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "pending"
	PaymentStatusAwaitingPayment PaymentStatus = "awaiting_payment"
	PaymentStatusProcessing      PaymentStatus = "processing"
	PaymentStatusPaid            PaymentStatus = "paid"
	PaymentStatusFailed          PaymentStatus = "failed"
	PaymentStatusExpired         PaymentStatus = "expired"
	PaymentStatusRefunded        PaymentStatus = "refunded"
)

// PoolStatus tracks where a payment's funds sit relative to the pool.
type PoolStatus string

const (
	PoolStatusNotPooled         PoolStatus = "not_pooled"
	PoolStatusInPool            PoolStatus = "in_pool"
	PoolStatusReleased          PoolStatus = "released"
	PoolStatusRefunded          PoolStatus = "refunded"
	PoolStatusFrozen            PoolStatus = "frozen"
	PoolStatusPartiallyRefunded PoolStatus = "partially_refunded"
)

// Payment is a single party's payment obligation tied to a contract.
type Payment struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	UserID           uuid.UUID       `json:"user_id" db:"user_id"`
	ContractID       *uuid.UUID      `json:"contract_id" db:"contract_id"`
	Type             PaymentType     `json:"payment_type" db:"payment_type"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Currency         Currency        `json:"currency" db:"currency"`
	Status           PaymentStatus   `json:"status" db:"status"`
	PoolStatus       PoolStatus      `json:"pool_status" db:"pool_status"`
	CheckoutID       *string         `json:"gateway_checkout_id,omitempty" db:"gateway_checkout_id"`
	GatewayPaymentID *string         `json:"gateway_payment_id,omitempty" db:"gateway_payment_id"`
	GatewayRefundID  *string         `json:"gateway_refund_id,omitempty" db:"gateway_refund_id"`
	PaidAt           *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// IsPoolable reports whether the payment's type is tracked by the pool.
func (p *Payment) IsPoolable() bool {
	return p.Type.IsPoolable()
}

// CanDeposit reports whether the payment may move from not_pooled to in_pool.
func (p *Payment) CanDeposit() bool {
	return p.IsPoolable() && p.Status == PaymentStatusPaid && p.PoolStatus == PoolStatusNotPooled
}

// IsReleasable reports whether the payment is a release/refund target.
// Frozen payments are excluded until unfrozen.
func (p *Payment) IsReleasable() bool {
	return p.Status == PaymentStatusPaid && p.PoolStatus == PoolStatusInPool
}

// HasGatewayReference reports whether a refund can be issued against the gateway.
func (p *Payment) HasGatewayReference() bool {
	return p.GatewayPaymentID != nil && *p.GatewayPaymentID != ""
}

// BelongsTo reports whether the payment is scoped to the given contract.
func (p *Payment) BelongsTo(contractID uuid.UUID) bool {
	return p.ContractID != nil && *p.ContractID == contractID
}
