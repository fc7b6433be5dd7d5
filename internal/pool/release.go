package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pawpool/internal/domain"
	"pawpool/internal/gateway"
	"pawpool/internal/notification"
	pkgerrors "pawpool/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Metadata keys carried on ledger entries.
const (
	metaError                = "error"
	metaAttempts             = "attempts"
	metaLastAttemptAt        = "last_attempt_at"
	metaTargetPoolStatus     = "target_pool_status"
	metaCancellationFee      = "cancellation_fee"
	metaFeePercentage        = "fee_percentage"
	metaGatewayRefundID      = "gateway_refund_id"
	metaGatewayRefundStatus  = "gateway_refund_status"
	metaManualPayoutRequired = "manual_payout_required"
	metaNote                 = "note"
	metaOriginalAmount       = "original_amount"
	metaDisputeID            = "dispute_id"
)

// payout is one movement of a payment's funds out of the pool.
type payout struct {
	payment     *domain.Payment
	kind        domain.TransactionType
	amount      decimal.Decimal
	fee         decimal.Decimal
	feePct      decimal.Decimal
	target      domain.PoolStatus
	description string
	actor       *uuid.UUID
	at          time.Time

	// pending is the entry being retried, nil for a first attempt.
	pending *domain.PoolTransaction
}

func (p *payout) viaGateway() bool {
	return p.kind == domain.TransactionTypeRefund && p.amount.IsPositive()
}

// ReleaseCollateral returns every in-pool collateral payment of the contract
// to its payer. It fails fast, without touching the ledger, when the
// contract has an active dispute.
func (s *Service) ReleaseCollateral(ctx context.Context, contractID uuid.UUID, actor *uuid.UUID, at time.Time) (*OperationResult, error) {
	if err := s.ensureNoActiveDispute(ctx, contractID); err != nil {
		return nil, err
	}

	payments, err := s.releasable(ctx, contractID, func(p *domain.Payment) bool {
		return p.Type == domain.PaymentTypeCollateral
	})
	if err != nil {
		return nil, err
	}

	result := &OperationResult{}
	for _, p := range payments {
		result.add(s.execute(ctx, payout{
			payment:     p,
			kind:        domain.TransactionTypeRefund,
			amount:      p.Amount,
			target:      domain.PoolStatusRefunded,
			description: "Contract fulfilled - collateral return",
			actor:       actor,
			at:          at,
		}))
	}

	s.logger.Info("Collateral release processed", map[string]interface{}{
		"contract_id": contractID,
		"succeeded":   result.Succeeded,
		"pending":     result.Pending,
		"failed":      result.Failed,
	})
	return result.finish("No collateral to release"), nil
}

// ReleaseShooterPayment marks the shooter's service payment as released and
// returns the shooter's collateral. The service payment leaves the pool
// without a gateway refund; paying the shooter out happens elsewhere.
func (s *Service) ReleaseShooterPayment(ctx context.Context, contractID uuid.UUID, actor *uuid.UUID, at time.Time) (*OperationResult, error) {
	if err := s.ensureNoActiveDispute(ctx, contractID); err != nil {
		return nil, err
	}

	payments, err := s.releasable(ctx, contractID, func(p *domain.Payment) bool {
		return p.Type == domain.PaymentTypeShooterPayment || p.Type == domain.PaymentTypeShooterCollateral
	})
	if err != nil {
		return nil, err
	}

	result := &OperationResult{}
	for _, p := range payments {
		if p.Type != domain.PaymentTypeShooterPayment {
			continue
		}
		result.add(s.execute(ctx, payout{
			payment:     p,
			kind:        domain.TransactionTypeRelease,
			amount:      p.Amount,
			target:      domain.PoolStatusReleased,
			description: fmt.Sprintf("Shooter payment released - Contract %s", contractID),
			actor:       actor,
			at:          at,
		}))
	}
	for _, p := range payments {
		if p.Type != domain.PaymentTypeShooterCollateral {
			continue
		}
		result.add(s.execute(ctx, payout{
			payment:     p,
			kind:        domain.TransactionTypeRefund,
			amount:      p.Amount,
			target:      domain.PoolStatusRefunded,
			description: "Shooter collateral return - breeding completed",
			actor:       actor,
			at:          at,
		}))
	}

	s.logger.Info("Shooter release processed", map[string]interface{}{
		"contract_id": contractID,
		"succeeded":   result.Succeeded,
		"pending":     result.Pending,
		"failed":      result.Failed,
	})
	return result.finish("No shooter payment to release"), nil
}

func (s *Service) ensureNoActiveDispute(ctx context.Context, contractID uuid.UUID) error {
	active, err := s.repo.ActiveDispute(ctx, contractID)
	if err != nil {
		return err
	}
	if active != nil {
		s.logger.Warn("Fund movement blocked by active dispute", map[string]interface{}{
			"contract_id": contractID,
			"dispute_id":  active.ID,
		})
		return pkgerrors.ErrActiveDispute
	}
	return nil
}

// releasable lists the contract's paid, in-pool payments matching keep.
func (s *Service) releasable(ctx context.Context, contractID uuid.UUID, keep func(*domain.Payment) bool) ([]*domain.Payment, error) {
	payments, err := s.repo.ListContractPayments(ctx, contractID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Payment, 0, len(payments))
	for _, p := range payments {
		if p.IsPoolable() && p.IsReleasable() && (keep == nil || keep(p)) {
			out = append(out, p)
		}
	}
	return out, nil
}

// execute runs one payout: claim the payment, call the gateway outside any
// transaction, then record the outcome. A concurrent attempt on the same
// payment loses the claim and is reported as skipped.
func (s *Service) execute(ctx context.Context, p payout) ItemResult {
	item := ItemResult{
		PaymentID:   p.payment.ID,
		UserID:      p.payment.UserID,
		PaymentType: p.payment.Type,
		Amount:      p.amount,
		Fee:         p.fee,
		PoolStatus:  p.payment.PoolStatus,
	}

	claimed, err := s.claim(ctx, &p)
	if err != nil {
		item.Error = err.Error()
		item.Outcome = OutcomeFailed
		switch {
		case errors.Is(err, pkgerrors.ErrReleaseInProgress),
			errors.Is(err, pkgerrors.ErrPaymentNotInPool),
			errors.Is(err, pkgerrors.ErrPendingRetry):
			item.Outcome = OutcomeSkipped
		case p.pending != nil:
			// The pending entry is still on the ledger for a later retry.
			item.Outcome = OutcomePending
			item.TransactionID = uuidPtr(p.pending.ID)
			item.TransactionType = p.pending.Type
		}
		return item
	}
	p.payment = claimed
	item.PoolStatus = claimed.PoolStatus

	// The gateway result must be recorded even if the caller goes away.
	persistCtx := context.WithoutCancel(ctx)

	manual := p.viaGateway() && !claimed.HasGatewayReference()
	var refund *gateway.Refund
	if p.viaGateway() && !manual {
		refund, err = s.gateway.CreateRefund(ctx, gateway.RefundRequest{
			PaymentID: *claimed.GatewayPaymentID,
			Amount:    domain.MinorUnits(p.amount),
			Reason:    s.cfg.RefundReason,
			Notes:     p.description,
		})
		if err != nil {
			s.logger.Error("Gateway refund failed, marking release pending", map[string]interface{}{
				"payment_id":  claimed.ID,
				"contract_id": claimed.ContractID,
				"amount":      p.amount.String(),
				"error":       err.Error(),
			})
			return s.markPending(persistCtx, p, err, item)
		}
	}
	if manual {
		s.logger.Warn("Payment has no gateway reference, manual payout required", map[string]interface{}{
			"payment_id":  claimed.ID,
			"contract_id": claimed.ContractID,
		})
		p.kind = domain.TransactionTypeRelease
		p.target = domain.PoolStatusReleased
	}

	return s.settle(persistCtx, p, refund, manual, item)
}

// claim locks the payment, checks it can still leave the pool and records
// the release claim.
func (s *Service) claim(ctx context.Context, p *payout) (*domain.Payment, error) {
	var claimed *domain.Payment
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		payment, err := tx.LockPayment(ctx, p.payment.ID)
		if err != nil {
			return err
		}
		if !payment.IsReleasable() {
			return pkgerrors.ErrPaymentNotInPool
		}
		if p.pending == nil {
			pending, err := s.hasPendingRelease(ctx, tx, payment.ID)
			if err != nil {
				return err
			}
			if pending {
				return pkgerrors.ErrPendingRetry
			}
		}
		if err := tx.ClaimRelease(ctx, payment.ID, p.at); err != nil {
			return err
		}
		claimed = payment
		return nil
	})
	return claimed, err
}

// settle records a payout whose funds have left the pool. When the write
// fails after a successful refund the claim is kept so the payment cannot
// be refunded twice; the failure is logged for manual reconciliation.
func (s *Service) settle(ctx context.Context, p payout, refund *gateway.Refund, manual bool, item ItemResult) ItemResult {
	var written []*domain.PoolTransaction
	var payment *domain.Payment

	err := s.repo.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockLedger(ctx); err != nil {
			return err
		}
		var err error
		payment, err = tx.LockPayment(ctx, p.payment.ID)
		if err != nil {
			return err
		}
		balance, err := s.balance(ctx, tx)
		if err != nil {
			return err
		}

		if p.fee.IsPositive() {
			penalty := s.newEntry(payment, domain.TransactionTypeCancellationPenalty, p.fee, domain.TransactionStatusCompleted,
				fmt.Sprintf("Cancellation penalty (%s%%)", p.feePct.String()), p.actor, p.at)
			penalty.Metadata[metaFeePercentage] = p.feePct.String()
			penalty.Metadata[metaOriginalAmount] = payment.Amount.String()
			if balance, err = s.apply(ctx, tx, penalty, balance, true); err != nil {
				return err
			}
			written = append(written, penalty)
		}

		if p.amount.IsPositive() {
			e := p.pending
			insert := e == nil
			if insert {
				e = s.newEntry(payment, p.kind, p.amount, domain.TransactionStatusCompleted, p.description, p.actor, p.at)
			} else {
				processedAt := p.at
				e.Status = domain.TransactionStatusCompleted
				e.ProcessedAt = &processedAt
				e.UpdatedAt = p.at
				if p.actor != nil {
					e.ProcessedBy = p.actor
				}
				e.Type = p.kind
			}
			if refund != nil {
				e.Metadata[metaGatewayRefundID] = refund.ID
				e.Metadata[metaGatewayRefundStatus] = refund.Status
			}
			if manual {
				e.Metadata[metaManualPayoutRequired] = true
				e.Metadata[metaNote] = "No gateway payment reference - manual payout required"
			}
			if payment.Type == domain.PaymentTypeShooterPayment && p.kind == domain.TransactionTypeRelease {
				e.Metadata[metaNote] = "Marked as released; payout to shooter handled separately"
			}
			if _, err = s.apply(ctx, tx, e, balance, insert); err != nil {
				return err
			}
			written = append(written, e)
		}

		payment.PoolStatus = p.target
		payment.UpdatedAt = p.at
		if refund != nil {
			payment.GatewayRefundID = &refund.ID
		}
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		return tx.DeleteReleaseClaim(ctx, payment.ID)
	})
	if err != nil {
		fields := map[string]interface{}{
			"payment_id": p.payment.ID,
			"amount":     p.amount.String(),
			"error":      err.Error(),
		}
		if refund != nil {
			fields["gateway_refund_id"] = refund.ID
		}
		s.logger.Error("Failed to record pool release; claim retained", fields)
		item.Outcome = OutcomeFailed
		item.Error = err.Error()
		if refund != nil {
			item.GatewayRefundID = refund.ID
		}
		return item
	}

	item.Outcome = OutcomeSucceeded
	item.PoolStatus = payment.PoolStatus
	item.ManualPayoutRequired = manual
	if refund != nil {
		item.GatewayRefundID = refund.ID
	}

	events := make([]notification.Event, 0, len(written))
	for _, e := range written {
		switch e.Type {
		case domain.TransactionTypeCancellationPenalty:
			events = append(events, entryEvent(notification.EventPenalty, e, p.actor, p.at))
		case domain.TransactionTypeRelease:
			item.TransactionID = uuidPtr(e.ID)
			item.TransactionType = e.Type
			events = append(events, entryEvent(notification.EventRelease, e, p.actor, p.at))
		default:
			item.TransactionID = uuidPtr(e.ID)
			item.TransactionType = e.Type
			events = append(events, entryEvent(notification.EventRefund, e, p.actor, p.at))
		}
		s.logger.Info("Pool entry recorded", map[string]interface{}{
			"payment_id":     e.PaymentID,
			"contract_id":    e.ContractID,
			"transaction_id": e.ID,
			"type":           e.Type,
			"amount":         e.Amount.String(),
			"balance_after":  e.BalanceAfter.String(),
		})
	}
	s.publish(ctx, events...)

	return item
}

// markPending records a failed gateway call. The payment stays in the pool
// and the entry waits for a retry; the balance is untouched.
func (s *Service) markPending(ctx context.Context, p payout, cause error, item ItemResult) ItemResult {
	var entry *domain.PoolTransaction

	err := s.repo.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockLedger(ctx); err != nil {
			return err
		}
		balance, err := s.balance(ctx, tx)
		if err != nil {
			return err
		}

		e := p.pending
		insert := e == nil
		if insert {
			e = s.pendingEntry(p, p.description+" - PENDING (refund failed)", balance)
		} else {
			e.UpdatedAt = p.at
			e.BalanceAfter = balance
		}
		e.Metadata[metaAttempts] = attempts(e.Metadata) + 1
		e.Metadata[metaError] = cause.Error()
		e.Metadata[metaLastAttemptAt] = p.at.UTC().Format(time.RFC3339)

		if insert {
			err = tx.InsertTransaction(ctx, e)
		} else {
			err = tx.UpdateTransaction(ctx, e)
		}
		if err != nil {
			return err
		}
		entry = e
		return tx.DeleteReleaseClaim(ctx, p.payment.ID)
	})
	if err != nil {
		s.logger.Error("Failed to record pending release", map[string]interface{}{
			"payment_id": p.payment.ID,
			"error":      err.Error(),
		})
		s.dropClaim(ctx, p.payment.ID)
		item.Outcome = OutcomeFailed
		item.Error = err.Error()
		return item
	}

	item.Outcome = OutcomePending
	item.Error = cause.Error()
	item.TransactionID = uuidPtr(entry.ID)
	item.TransactionType = entry.Type
	s.publish(ctx, entryEvent(notification.EventReleasePending, entry, p.actor, p.at))
	return item
}

// pendingEntry builds a pending refund entry carrying what a retry needs to
// finish the payout. It has no attempts recorded yet.
func (s *Service) pendingEntry(p payout, description string, balance decimal.Decimal) *domain.PoolTransaction {
	e := s.newEntry(p.payment, domain.TransactionTypeRefund, p.amount, domain.TransactionStatusPending,
		description, p.actor, p.at)
	e.Metadata[metaTargetPoolStatus] = string(p.target)
	e.Metadata[metaAttempts] = 0
	if p.fee.IsPositive() {
		e.Metadata[metaCancellationFee] = p.fee.String()
		e.Metadata[metaFeePercentage] = p.feePct.String()
	}
	e.BalanceAfter = balance
	return e
}

// dropClaim removes a claim after a failure in which no money moved.
func (s *Service) dropClaim(ctx context.Context, paymentID uuid.UUID) {
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		return tx.DeleteReleaseClaim(ctx, paymentID)
	})
	if err != nil {
		s.logger.Error("Failed to drop release claim", map[string]interface{}{
			"payment_id": paymentID,
			"error":      err.Error(),
		})
	}
}

func attempts(m domain.Metadata) int {
	switch v := m[metaAttempts].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
