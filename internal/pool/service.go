// Package pool is the only writer of the pool ledger. Every operation that
// moves money reads the ledger, computes the new balance and writes its
// entries together with the payment's pool placement in one transaction.
package pool

import (
	"context"
	"time"

	"pawpool/internal/domain"
	"pawpool/internal/ledger"
	"pawpool/internal/notification"
	"pawpool/pkg/config"
	"pawpool/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const statsCacheKey = "statistics"

// Config holds the pool-wide settings the service needs.
type Config struct {
	Currency               domain.Currency
	DefaultCancellationFee decimal.Decimal
	RefundReason           string
	StatsTTL               time.Duration
}

// ConfigFrom maps the service configuration onto pool settings.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Currency:               domain.Currency(cfg.Pool.Currency),
		DefaultCancellationFee: cfg.Pool.DefaultCancellationFee,
		RefundReason:           cfg.Gateway.RefundReason,
		StatsTTL:               cfg.Pool.StatsCacheTTL,
	}
}

type Service struct {
	repo     Repository
	gateway  Gateway
	cache    StatsCache
	notifier notification.Publisher
	cfg      Config
	logger   logger.Logger
}

// NewService wires the pool service. cache and notifier may be nil.
func NewService(repo Repository, gw Gateway, cache StatsCache, notifier notification.Publisher, cfg Config, log logger.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = domain.DefaultCurrency
	}
	if cfg.DefaultCancellationFee.IsZero() {
		cfg.DefaultCancellationFee = domain.DefaultCancellationFeePercentage
	}
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = time.Minute
	}
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Service{
		repo:     repo,
		gateway:  gw,
		cache:    cache,
		notifier: notifier,
		cfg:      cfg,
		logger:   log,
	}
}

// balance recomputes the pool balance from ledger aggregates.
func (s *Service) balance(ctx context.Context, r Reader) (decimal.Decimal, error) {
	totals, err := r.Totals(ctx, domain.TransactionFilter{})
	if err != nil {
		return decimal.Zero, err
	}
	return ledger.BalanceFromTotals(totals), nil
}

// newEntry builds a ledger entry for a payment. Sequence and balance_after
// are filled in when the entry is applied.
func (s *Service) newEntry(p *domain.Payment, t domain.TransactionType, amount decimal.Decimal, status domain.TransactionStatus, description string, actor *uuid.UUID, at time.Time) *domain.PoolTransaction {
	currency := p.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	processedAt := at
	return &domain.PoolTransaction{
		ID:          uuid.New(),
		PaymentID:   p.ID,
		ContractID:  p.ContractID,
		UserID:      p.UserID,
		Type:        t,
		Amount:      amount,
		Currency:    currency,
		Status:      status,
		Description: description,
		Metadata:    domain.Metadata{"payment_type": string(p.Type)},
		ProcessedAt: &processedAt,
		ProcessedBy: actor,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// apply assigns the next sequence and balance_after to e and persists it.
// The caller holds the ledger lock and passes the running balance; the
// balance after e is returned.
func (s *Service) apply(ctx context.Context, tx Tx, e *domain.PoolTransaction, balance decimal.Decimal, insert bool) (decimal.Decimal, error) {
	seq, err := tx.NextSequence(ctx)
	if err != nil {
		return balance, err
	}
	next := ledger.Apply(balance, e.Type, e.Amount)
	e.Sequence = &seq
	e.BalanceAfter = next

	if insert {
		err = tx.InsertTransaction(ctx, e)
	} else {
		err = tx.UpdateTransaction(ctx, e)
	}
	if err != nil {
		return balance, err
	}
	return next, nil
}

// hasPendingRelease reports whether the payment has a refund or release
// entry waiting on a gateway retry.
func (s *Service) hasPendingRelease(ctx context.Context, r Reader, paymentID uuid.UUID) (bool, error) {
	n, err := r.CountTransactions(ctx, domain.TransactionFilter{
		PaymentID: &paymentID,
		Types:     []domain.TransactionType{domain.TransactionTypeRefund, domain.TransactionTypeRelease},
		Statuses:  []domain.TransactionStatus{domain.TransactionStatusPending},
	})
	return n > 0, err
}

// publish sends committed events and drops the cached statistics.
func (s *Service) publish(ctx context.Context, events ...notification.Event) {
	for _, e := range events {
		s.notifier.Publish(ctx, e)
	}
	if len(events) > 0 {
		s.invalidateStats(ctx)
	}
}

func (s *Service) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsCacheKey); err != nil {
		s.logger.Warn("Failed to invalidate pool statistics cache", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func entryEvent(t notification.EventType, e *domain.PoolTransaction, actor *uuid.UUID, at time.Time) notification.Event {
	paymentID := e.PaymentID
	txID := e.ID
	return notification.Event{
		Type:          t,
		ContractID:    e.ContractID,
		PaymentID:     &paymentID,
		TransactionID: &txID,
		ActorID:       actor,
		Amount:        e.Amount,
		Status:        string(e.Status),
		OccurredAt:    at,
	}
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
