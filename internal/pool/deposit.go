package pool

import (
	"context"
	"fmt"
	"time"

	"pawpool/internal/domain"
	"pawpool/internal/notification"

	"github.com/google/uuid"
)

// DepositToPool moves a paid, poolable payment into the pool. A payment that
// is not eligible (unpaid, not poolable, already pooled) is a no-op and
// returns a nil entry without error.
func (s *Service) DepositToPool(ctx context.Context, paymentID uuid.UUID, at time.Time) (*domain.PoolTransaction, error) {
	var entry *domain.PoolTransaction

	err := s.repo.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockLedger(ctx); err != nil {
			return err
		}
		payment, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if !payment.CanDeposit() {
			s.logger.Warn("Payment not eligible for pool deposit", map[string]interface{}{
				"payment_id":  payment.ID,
				"status":      payment.Status,
				"pool_status": payment.PoolStatus,
				"type":        payment.Type,
			})
			return nil
		}

		balance, err := s.balance(ctx, tx)
		if err != nil {
			return err
		}

		description := fmt.Sprintf("%s deposit", payment.Type)
		if payment.ContractID != nil {
			description = fmt.Sprintf("%s deposit - Contract %s", payment.Type, payment.ContractID)
		}
		e := s.newEntry(payment, domain.TransactionTypeDeposit, payment.Amount, domain.TransactionStatusCompleted, description, nil, at)
		if payment.CheckoutID != nil {
			e.Metadata["gateway_checkout_id"] = *payment.CheckoutID
		}
		if _, err := s.apply(ctx, tx, e, balance, true); err != nil {
			return err
		}

		payment.PoolStatus = domain.PoolStatusInPool
		payment.UpdatedAt = at
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}

		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	s.logger.Info("Payment deposited to pool", map[string]interface{}{
		"payment_id":     entry.PaymentID,
		"contract_id":    entry.ContractID,
		"transaction_id": entry.ID,
		"amount":         entry.Amount.String(),
		"balance_after":  entry.BalanceAfter.String(),
	})
	s.publish(ctx, entryEvent(notification.EventDeposit, entry, nil, at))

	return entry, nil
}
