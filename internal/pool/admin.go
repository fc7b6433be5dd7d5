package pool

import (
	"context"
	"time"

	"pawpool/internal/domain"
	"pawpool/internal/notification"
	pkgerrors "pawpool/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ForceRelease refunds the payment behind a deposit or hold entry on an
// admin's authority. A frozen entry is unfrozen first; the dispute gate is
// not consulted.
func (s *Service) ForceRelease(ctx context.Context, txID, adminID uuid.UUID, at time.Time) (*ItemResult, error) {
	entry, err := s.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !entry.Type.IsFunding() {
		return nil, pkgerrors.ErrNotFundingEntry
	}

	if entry.Status == domain.TransactionStatusFrozen {
		err := s.repo.WithTx(ctx, func(tx Tx) error {
			var err error
			entry, err = s.unfreezeEntryTx(ctx, tx, txID, at)
			return err
		})
		if err != nil {
			return nil, err
		}
		s.publish(ctx, entryEvent(notification.EventUnfrozen, entry, &adminID, at))
	}

	payment, err := s.repo.GetPayment(ctx, entry.PaymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsReleasable() {
		return nil, pkgerrors.ErrPaymentNotInPool
	}

	item := s.execute(ctx, payout{
		payment:     payment,
		kind:        domain.TransactionTypeRefund,
		amount:      payment.Amount,
		target:      domain.PoolStatusRefunded,
		description: "Admin force release",
		actor:       &adminID,
		at:          at,
	})

	s.logger.Info("Force release processed", map[string]interface{}{
		"transaction_id": txID,
		"payment_id":     payment.ID,
		"admin_id":       adminID,
		"outcome":        item.Outcome,
	})
	return &item, nil
}

// RetryPendingRelease re-issues the gateway refund behind a pending entry.
// On success the entry completes with a freshly computed balance_after; on
// failure it stays pending with the attempt recorded.
func (s *Service) RetryPendingRelease(ctx context.Context, txID uuid.UUID, actor *uuid.UUID, at time.Time) (*ItemResult, error) {
	entry, err := s.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if entry.Status != domain.TransactionStatusPending {
		return nil, pkgerrors.ErrNotPending
	}
	if entry.Type != domain.TransactionTypeRefund {
		return nil, pkgerrors.ErrNotRefund
	}
	if entry.ContractID != nil {
		if err := s.ensureNoActiveDispute(ctx, *entry.ContractID); err != nil {
			return nil, err
		}
	}

	payment, err := s.repo.GetPayment(ctx, entry.PaymentID)
	if err != nil {
		return nil, err
	}
	if entry.Metadata == nil {
		entry.Metadata = domain.Metadata{}
	}

	p := payout{
		payment:     payment,
		kind:        domain.TransactionTypeRefund,
		amount:      entry.Amount,
		target:      domain.PoolStatusRefunded,
		description: entry.Description,
		actor:       actor,
		at:          at,
		pending:     entry,
	}
	if target := entry.Metadata.String(metaTargetPoolStatus); target != "" {
		p.target = domain.PoolStatus(target)
	}
	if fee, err := decimal.NewFromString(entry.Metadata.String(metaCancellationFee)); err == nil {
		p.fee = fee
	}
	if pct, err := decimal.NewFromString(entry.Metadata.String(metaFeePercentage)); err == nil {
		p.feePct = pct
	}

	item := s.execute(ctx, p)
	s.logger.Info("Pending release retried", map[string]interface{}{
		"transaction_id": txID,
		"payment_id":     payment.ID,
		"outcome":        item.Outcome,
	})
	return &item, nil
}

// RetryPendingReleases retries up to limit pending refunds, oldest first.
// Entries on contracts with an active dispute are reported as skipped.
func (s *Service) RetryPendingReleases(ctx context.Context, limit int, at time.Time) (*OperationResult, error) {
	if limit <= 0 {
		limit = 50
	}
	pending, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{
		Types:    []domain.TransactionType{domain.TransactionTypeRefund},
		Statuses: []domain.TransactionStatus{domain.TransactionStatusPending},
		Limit:    limit,
		Oldest:   true,
	})
	if err != nil {
		return nil, err
	}

	result := &OperationResult{}
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			break
		}
		item, err := s.RetryPendingRelease(ctx, e.ID, nil, at)
		if err != nil {
			result.add(ItemResult{
				PaymentID:       e.PaymentID,
				UserID:          e.UserID,
				Outcome:         OutcomeSkipped,
				TransactionID:   uuidPtr(e.ID),
				TransactionType: e.Type,
				Amount:          e.Amount,
				Error:           err.Error(),
			})
			continue
		}
		result.add(*item)
	}
	return result.finish("No pending releases"), nil
}

// CancelPendingRelease abandons a pending entry. The payment stays in the
// pool and becomes eligible for release again.
func (s *Service) CancelPendingRelease(ctx context.Context, txID, adminID uuid.UUID, at time.Time) (*domain.PoolTransaction, error) {
	var entry *domain.PoolTransaction
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		e, err := tx.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if e.Status != domain.TransactionStatusPending {
			return pkgerrors.ErrNotPending
		}
		if e.Metadata == nil {
			e.Metadata = domain.Metadata{}
		}
		e.Status = domain.TransactionStatusCancelled
		e.Metadata["cancelled_by"] = adminID.String()
		e.Metadata["cancelled_at"] = at.UTC().Format(time.RFC3339)
		e.UpdatedAt = at
		if err := tx.UpdateTransaction(ctx, e); err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Pending release cancelled", map[string]interface{}{
		"transaction_id": entry.ID,
		"payment_id":     entry.PaymentID,
		"admin_id":       adminID,
	})
	s.publish(ctx, entryEvent(notification.EventReleaseCanceled, entry, &adminID, at))
	return entry, nil
}
