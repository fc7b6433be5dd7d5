package pool

import (
	"context"
	"time"

	"pawpool/internal/domain"
	"pawpool/internal/gateway"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reader is the query side shared by the repository and an open transaction.
// Lookups of a single record return the matching pkg/errors sentinel when
// the record does not exist.
type Reader interface {
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	ListContractPayments(ctx context.Context, contractID uuid.UUID) ([]*domain.Payment, error)
	ListPoolPayments(ctx context.Context) ([]*domain.Payment, error)

	GetContract(ctx context.Context, id uuid.UUID) (*domain.Contract, error)

	GetDispute(ctx context.Context, id uuid.UUID) (*domain.Dispute, error)
	// ActiveDispute returns the open or under_review dispute for the
	// contract, or nil when there is none.
	ActiveDispute(ctx context.Context, contractID uuid.UUID) (*domain.Dispute, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.PoolTransaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.PoolTransaction, error)
	CountTransactions(ctx context.Context, filter domain.TransactionFilter) (int, error)
	// Totals aggregates matching entries by type and status.
	Totals(ctx context.Context, filter domain.TransactionFilter) ([]domain.TransactionTotal, error)
	// DepositsByPaymentType sums completed deposit and hold entries grouped
	// by the payment_type recorded in their metadata.
	DepositsByPaymentType(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Tx is a unit of work. Everything written through a Tx commits or rolls
// back together.
type Tx interface {
	Reader

	// LockLedger serializes balance computation and sequence assignment
	// across writers until the transaction ends.
	LockLedger(ctx context.Context) error
	// NextSequence returns the next apply position. Callers hold the ledger lock.
	NextSequence(ctx context.Context) (int64, error)
	// LockPayment returns the payment locked for update.
	LockPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)

	InsertTransaction(ctx context.Context, t *domain.PoolTransaction) error
	// UpdateTransaction persists the mutable state of an entry: status,
	// sequence, balance_after, metadata and processing fields.
	UpdateTransaction(ctx context.Context, t *domain.PoolTransaction) error

	UpdatePayment(ctx context.Context, p *domain.Payment) error
	// SetContractPoolStatus moves every payment of the contract in pool
	// status from to status to and returns the number moved.
	SetContractPoolStatus(ctx context.Context, contractID uuid.UUID, from, to domain.PoolStatus, at time.Time) (int, error)

	// CreateDispute returns pkg/errors.ErrDisputeAlreadyActive when the
	// contract already has an active dispute.
	CreateDispute(ctx context.Context, d *domain.Dispute) error
	UpdateDispute(ctx context.Context, d *domain.Dispute) error

	// ClaimRelease marks a payment as having a release in flight. It returns
	// pkg/errors.ErrReleaseInProgress when a claim already exists.
	ClaimRelease(ctx context.Context, paymentID uuid.UUID, at time.Time) error
	DeleteReleaseClaim(ctx context.Context, paymentID uuid.UUID) error
}

// Repository is the pool's storage.
type Repository interface {
	Reader
	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Gateway issues refunds against the payment provider. A returned error,
// including a timeout, means the refund did not happen.
type Gateway interface {
	CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error)
}

// StatsCache stores non-authoritative reporting results.
type StatsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
