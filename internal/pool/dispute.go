package pool

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"pawpool/internal/domain"
	"pawpool/internal/notification"
	pkgerrors "pawpool/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	minReasonLength = 10
	maxReasonLength = 2000
)

// ResolutionResult is the resolved dispute and the fund movement it caused.
type ResolutionResult struct {
	Dispute *domain.Dispute  `json:"dispute"`
	Result  *OperationResult `json:"result"`
}

// OpenDispute raises a dispute on an accepted or fulfilled contract and
// freezes the contract's funds in the same transaction.
func (s *Service) OpenDispute(ctx context.Context, contractID, raisedBy uuid.UUID, reason string, at time.Time) (*domain.Dispute, error) {
	reason = strings.TrimSpace(reason)
	if n := utf8.RuneCountInString(reason); n < minReasonLength || n > maxReasonLength {
		return nil, pkgerrors.ErrInvalidDisputeReason
	}

	var dispute *domain.Dispute
	var frozen *FreezeResult
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		contract, err := tx.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if !contract.CanBeDisputed() {
			return pkgerrors.ErrContractNotDisputable
		}
		if !contract.IsParty(raisedBy) {
			return pkgerrors.ErrNotContractParty
		}
		active, err := tx.ActiveDispute(ctx, contractID)
		if err != nil {
			return err
		}
		if active != nil {
			return pkgerrors.ErrDisputeAlreadyActive
		}

		d := &domain.Dispute{
			ID:         uuid.New(),
			ContractID: contractID,
			RaisedBy:   raisedBy,
			Reason:     reason,
			Status:     domain.DisputeStatusOpen,
			CreatedAt:  at,
			UpdatedAt:  at,
		}
		if err := tx.CreateDispute(ctx, d); err != nil {
			return err
		}
		if frozen, err = s.freezeTx(ctx, tx, contractID, at); err != nil {
			return err
		}
		dispute = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Dispute opened", map[string]interface{}{
		"dispute_id":   dispute.ID,
		"contract_id":  contractID,
		"raised_by":    raisedBy,
		"transactions": frozen.Transactions,
		"payments":     frozen.Payments,
	})
	s.publish(ctx,
		disputeEvent(notification.EventDisputeOpened, dispute, &raisedBy, at),
		notification.Event{
			Type:       notification.EventFrozen,
			ContractID: uuidPtr(contractID),
			DisputeID:  uuidPtr(dispute.ID),
			ActorID:    &raisedBy,
			Data:       map[string]any{"transactions": frozen.Transactions, "payments": frozen.Payments},
			OccurredAt: at,
		},
	)
	return dispute, nil
}

// MarkUnderReview moves an open dispute to under_review.
func (s *Service) MarkUnderReview(ctx context.Context, disputeID, adminID uuid.UUID, at time.Time) (*domain.Dispute, error) {
	var dispute *domain.Dispute
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		d, err := tx.GetDispute(ctx, disputeID)
		if err != nil {
			return err
		}
		if d.Status != domain.DisputeStatusOpen {
			return pkgerrors.ErrInvalidTransition
		}
		d.Status = domain.DisputeStatusUnderReview
		d.ReviewedAt = &at
		d.UpdatedAt = at
		if err := tx.UpdateDispute(ctx, d); err != nil {
			return err
		}
		dispute = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Dispute under review", map[string]interface{}{
		"dispute_id": disputeID,
		"admin_id":   adminID,
	})
	s.publish(ctx, disputeEvent(notification.EventDisputeReview, dispute, &adminID, at))
	return dispute, nil
}

// DismissDispute closes an active dispute without any financial action and
// returns the contract's funds to the pool.
func (s *Service) DismissDispute(ctx context.Context, disputeID, adminID uuid.UUID, notes string, at time.Time) (*domain.Dispute, error) {
	var dispute *domain.Dispute
	var unfrozen *FreezeResult
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		d, err := tx.GetDispute(ctx, disputeID)
		if err != nil {
			return err
		}
		if !d.IsActive() {
			return pkgerrors.ErrDisputeClosed
		}
		if unfrozen, err = s.unfreezeTx(ctx, tx, d.ContractID, at); err != nil {
			return err
		}

		d.Status = domain.DisputeStatusDismissed
		d.ResolvedBy = &adminID
		d.ResolvedAt = &at
		d.UpdatedAt = at
		if notes = strings.TrimSpace(notes); notes != "" {
			d.ResolutionNotes = &notes
		}
		if err := tx.UpdateDispute(ctx, d); err != nil {
			return err
		}
		dispute = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Dispute dismissed", map[string]interface{}{
		"dispute_id":  disputeID,
		"contract_id": dispute.ContractID,
		"admin_id":    adminID,
	})
	s.publish(ctx,
		unfreezeEvent(dispute.ContractID, &adminID, unfrozen, at),
		disputeEvent(notification.EventDisputeDismiss, dispute, &adminID, at),
	)
	return dispute, nil
}

// ResolveDispute unfreezes the contract's funds, records the resolution and
// carries out its financial action. Invalid input is rejected before
// anything is written and the dispute stays active.
//
// The unfreeze, any forfeiture, a pending entry for every refund and the
// dispute update commit together. Refunds then go through the gateway one
// payment at a time; one that fails or is interrupted stays pending for
// RetryPendingReleases instead of undoing the resolution.
func (s *Service) ResolveDispute(ctx context.Context, disputeID uuid.UUID, resolution domain.Resolution, adminID uuid.UUID, notes string, at time.Time) (*ResolutionResult, error) {
	if resolution == nil {
		return nil, pkgerrors.ErrInvalidResolution
	}
	if partial, ok := resolution.(domain.RefundPartial); ok && !partial.Amount.IsPositive() {
		return nil, pkgerrors.ErrInvalidRefundAmount
	}

	var (
		dispute   *domain.Dispute
		unfrozen  *FreezeResult
		forfeited []*domain.PoolTransaction
		payouts   []payout
	)
	actor := &adminID

	err := s.repo.WithTx(ctx, func(tx Tx) error {
		d, err := tx.GetDispute(ctx, disputeID)
		if err != nil {
			return err
		}
		if !d.IsActive() {
			return pkgerrors.ErrDisputeClosed
		}
		payments, err := tx.ListContractPayments(ctx, d.ContractID)
		if err != nil {
			return err
		}

		var resolvedAmount decimal.NullDecimal
		prefix := fmt.Sprintf("Dispute %s", d.ID)

		switch r := resolution.(type) {
		case domain.RefundPartial:
			p := raiserPayment(payments, d.RaisedBy)
			if p == nil {
				return pkgerrors.ErrNoRaiserPayment
			}
			if r.Amount.GreaterThan(p.Amount) || !r.Amount.Equal(r.Amount.Round(2)) {
				return pkgerrors.ErrInvalidRefundAmount
			}
			target := domain.PoolStatusPartiallyRefunded
			if r.Amount.Equal(p.Amount) {
				target = domain.PoolStatusRefunded
			}
			payouts = append(payouts, payout{
				payment:     p,
				kind:        domain.TransactionTypeRefund,
				amount:      r.Amount,
				target:      target,
				description: prefix + " resolved - partial refund",
			})
			resolvedAmount = decimal.NewNullDecimal(r.Amount)

		case domain.RefundFull:
			for _, p := range pooled(payments) {
				payouts = append(payouts, payout{
					payment:     p,
					kind:        domain.TransactionTypeRefund,
					amount:      p.Amount,
					target:      domain.PoolStatusRefunded,
					description: prefix + " resolved - full refund",
				})
			}

		case domain.ReleaseFunds:

		case domain.Forfeit:
			for _, p := range pooled(payments) {
				if p.UserID != d.RaisedBy {
					payouts = append(payouts, payout{
						payment:     p,
						kind:        domain.TransactionTypeRefund,
						amount:      p.Amount,
						target:      domain.PoolStatusRefunded,
						description: prefix + " - refund to non-disputing party",
					})
				}
			}

		default:
			return pkgerrors.ErrInvalidResolution
		}

		if unfrozen, err = s.unfreezeTx(ctx, tx, d.ContractID, at); err != nil {
			return err
		}

		if _, ok := resolution.(domain.Forfeit); ok {
			forfeited, err = s.forfeitTx(ctx, tx, d, actor, at)
			if err != nil {
				return err
			}
			total := decimal.Zero
			for _, e := range forfeited {
				total = total.Add(e.Amount)
			}
			if total.IsPositive() {
				resolvedAmount = decimal.NewNullDecimal(total)
			}
		}

		// Each refund is on the ledger as pending before the dispute is
		// resolved, so a payout interrupted after commit is left for retry.
		if len(payouts) > 0 {
			if err := tx.LockLedger(ctx); err != nil {
				return err
			}
			balance, err := s.balance(ctx, tx)
			if err != nil {
				return err
			}
			for i := range payouts {
				payouts[i].actor = actor
				payouts[i].at = at
				e := s.pendingEntry(payouts[i], payouts[i].description, balance)
				e.Metadata[metaDisputeID] = d.ID.String()
				if err := tx.InsertTransaction(ctx, e); err != nil {
					return err
				}
				payouts[i].pending = e
			}
		}

		resolutionType := resolution.Type()
		d.Status = domain.DisputeStatusResolved
		d.ResolvedBy = actor
		d.ResolutionType = &resolutionType
		d.ResolvedAmount = resolvedAmount
		d.ResolvedAt = &at
		d.UpdatedAt = at
		if notes = strings.TrimSpace(notes); notes != "" {
			d.ResolutionNotes = &notes
		}
		if err := tx.UpdateDispute(ctx, d); err != nil {
			return err
		}
		dispute = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := []notification.Event{unfreezeEvent(dispute.ContractID, actor, unfrozen, at)}
	for _, e := range forfeited {
		events = append(events, entryEvent(notification.EventForfeit, e, actor, at))
	}
	events = append(events, disputeEvent(notification.EventDisputeResolved, dispute, actor, at))
	// The resolution is committed; its payouts must not be abandoned with
	// the request.
	ctx = context.WithoutCancel(ctx)
	s.publish(ctx, events...)

	result := &OperationResult{}
	for _, p := range payouts {
		result.add(s.execute(ctx, p))
	}

	s.logger.Info("Dispute resolved", map[string]interface{}{
		"dispute_id":      dispute.ID,
		"contract_id":     dispute.ContractID,
		"resolution_type": resolution.Type(),
		"admin_id":        adminID,
		"forfeited":       len(forfeited),
		"succeeded":       result.Succeeded,
		"pending":         result.Pending,
		"failed":          result.Failed,
	})

	empty := "No pooled payments to refund"
	if _, ok := resolution.(domain.ReleaseFunds); ok {
		empty = "Funds unfrozen and available for normal release"
	}
	if _, ok := resolution.(domain.Forfeit); ok && len(payouts) == 0 {
		empty = "Disputing party funds forfeited"
	}
	return &ResolutionResult{Dispute: dispute, Result: result.finish(empty)}, nil
}

// forfeitTx retains every pooled payment of the dispute raiser as platform
// revenue. The entries are balance neutral; the payments leave the pool as
// released.
func (s *Service) forfeitTx(ctx context.Context, tx Tx, d *domain.Dispute, actor *uuid.UUID, at time.Time) ([]*domain.PoolTransaction, error) {
	payments, err := tx.ListContractPayments(ctx, d.ContractID)
	if err != nil {
		return nil, err
	}
	if err := tx.LockLedger(ctx); err != nil {
		return nil, err
	}
	balance, err := s.balance(ctx, tx)
	if err != nil {
		return nil, err
	}

	var out []*domain.PoolTransaction
	for _, p := range payments {
		if p.UserID != d.RaisedBy || !p.IsPoolable() {
			continue
		}
		payment, err := tx.LockPayment(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if !payment.IsReleasable() {
			continue
		}
		e := s.newEntry(payment, domain.TransactionTypeFeeDeduction, payment.Amount, domain.TransactionStatusCompleted,
			fmt.Sprintf("Dispute %s - funds forfeited", d.ID), actor, at)
		e.Metadata[metaDisputeID] = d.ID.String()
		if balance, err = s.apply(ctx, tx, e, balance, true); err != nil {
			return nil, err
		}
		payment.PoolStatus = domain.PoolStatusReleased
		payment.UpdatedAt = at
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// raiserPayment picks the raiser's pooled payment, preferring collateral.
// Payments are considered before the unfreeze, so frozen counts as pooled.
func raiserPayment(payments []*domain.Payment, raisedBy uuid.UUID) *domain.Payment {
	var found *domain.Payment
	for _, p := range pooled(payments) {
		if p.UserID != raisedBy {
			continue
		}
		if p.Type.IsCollateral() {
			return p
		}
		if found == nil {
			found = p
		}
	}
	return found
}

// pooled returns paid, poolable payments that are in the pool or frozen.
func pooled(payments []*domain.Payment) []*domain.Payment {
	var out []*domain.Payment
	for _, p := range payments {
		if !p.IsPoolable() || p.Status != domain.PaymentStatusPaid {
			continue
		}
		if p.PoolStatus == domain.PoolStatusInPool || p.PoolStatus == domain.PoolStatusFrozen {
			out = append(out, p)
		}
	}
	return out
}

func disputeEvent(t notification.EventType, d *domain.Dispute, actor *uuid.UUID, at time.Time) notification.Event {
	e := notification.Event{
		Type:       t,
		ContractID: uuidPtr(d.ContractID),
		DisputeID:  uuidPtr(d.ID),
		ActorID:    actor,
		Status:     string(d.Status),
		OccurredAt: at,
	}
	if d.ResolvedAmount.Valid {
		e.Amount = d.ResolvedAmount.Decimal
	}
	if d.ResolutionType != nil {
		e.Data = map[string]any{"resolution_type": string(*d.ResolutionType)}
	}
	return e
}
