package pool

import (
	"context"
	"time"

	"pawpool/internal/domain"
	"pawpool/internal/notification"
	pkgerrors "pawpool/pkg/errors"

	"github.com/google/uuid"
)

var fundingTypes = []domain.TransactionType{domain.TransactionTypeDeposit, domain.TransactionTypeHold}

const (
	metaFrozenBy     = "frozen_by"
	frozenByContract = "contract"
)

// FreezeResult counts what a freeze or unfreeze moved.
type FreezeResult struct {
	ContractID   uuid.UUID `json:"contract_id"`
	Transactions int       `json:"transactions"`
	Payments     int       `json:"payments"`
}

// FreezeContractFunds freezes the contract's completed deposits and its
// in-pool payments. Frozen entries still count toward the balance but are
// not release or refund targets.
func (s *Service) FreezeContractFunds(ctx context.Context, contractID uuid.UUID, disputeID *uuid.UUID, at time.Time) (*FreezeResult, error) {
	var res *FreezeResult
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		var err error
		res, err = s.freezeTx(ctx, tx, contractID, at)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Contract funds frozen", map[string]interface{}{
		"contract_id":  contractID,
		"dispute_id":   disputeID,
		"transactions": res.Transactions,
		"payments":     res.Payments,
	})
	s.publish(ctx, notification.Event{
		Type:       notification.EventFrozen,
		ContractID: uuidPtr(contractID),
		DisputeID:  disputeID,
		Data:       map[string]any{"transactions": res.Transactions, "payments": res.Payments},
		OccurredAt: at,
	})
	return res, nil
}

// UnfreezeContractFunds reverses FreezeContractFunds.
func (s *Service) UnfreezeContractFunds(ctx context.Context, contractID uuid.UUID, at time.Time) (*FreezeResult, error) {
	var res *FreezeResult
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		var err error
		res, err = s.unfreezeTx(ctx, tx, contractID, at)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Contract funds unfrozen", map[string]interface{}{
		"contract_id":  contractID,
		"transactions": res.Transactions,
		"payments":     res.Payments,
	})
	s.publish(ctx, unfreezeEvent(contractID, nil, res, at))
	return res, nil
}

// freezeTx freezes the contract's completed funding entries and in-pool
// payments. Entries it freezes are tagged so unfreezeTx reverses exactly
// this transition and leaves earlier admin freezes alone.
func (s *Service) freezeTx(ctx context.Context, tx Tx, contractID uuid.UUID, at time.Time) (*FreezeResult, error) {
	entries, err := tx.ListTransactions(ctx, domain.TransactionFilter{
		ContractID: &contractID,
		Types:      fundingTypes,
		Statuses:   []domain.TransactionStatus{domain.TransactionStatusCompleted},
		Oldest:     true,
	})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Metadata == nil {
			e.Metadata = domain.Metadata{}
		}
		e.Status = domain.TransactionStatusFrozen
		e.Metadata[metaFrozenBy] = frozenByContract
		e.UpdatedAt = at
		if err := tx.UpdateTransaction(ctx, e); err != nil {
			return nil, err
		}
	}
	m, err := tx.SetContractPoolStatus(ctx, contractID, domain.PoolStatusInPool, domain.PoolStatusFrozen, at)
	if err != nil {
		return nil, err
	}
	return &FreezeResult{ContractID: contractID, Transactions: len(entries), Payments: m}, nil
}

// unfreezeTx returns the entries tagged by freezeTx to completed. A frozen
// payment goes back in the pool only when none of its funding entries is
// still frozen.
func (s *Service) unfreezeTx(ctx context.Context, tx Tx, contractID uuid.UUID, at time.Time) (*FreezeResult, error) {
	entries, err := tx.ListTransactions(ctx, domain.TransactionFilter{
		ContractID: &contractID,
		Types:      fundingTypes,
		Statuses:   []domain.TransactionStatus{domain.TransactionStatusFrozen},
		Oldest:     true,
	})
	if err != nil {
		return nil, err
	}

	res := &FreezeResult{ContractID: contractID}
	held := make(map[uuid.UUID]bool)
	for _, e := range entries {
		if e.Metadata.String(metaFrozenBy) != frozenByContract {
			held[e.PaymentID] = true
			continue
		}
		e.Status = domain.TransactionStatusCompleted
		delete(e.Metadata, metaFrozenBy)
		e.UpdatedAt = at
		if err := tx.UpdateTransaction(ctx, e); err != nil {
			return nil, err
		}
		res.Transactions++
	}

	payments, err := tx.ListContractPayments(ctx, contractID)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		if p.PoolStatus != domain.PoolStatusFrozen || held[p.ID] {
			continue
		}
		payment, err := tx.LockPayment(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		payment.PoolStatus = domain.PoolStatusInPool
		payment.UpdatedAt = at
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return nil, err
		}
		res.Payments++
	}
	return res, nil
}

func unfreezeEvent(contractID uuid.UUID, actor *uuid.UUID, res *FreezeResult, at time.Time) notification.Event {
	return notification.Event{
		Type:       notification.EventUnfrozen,
		ContractID: uuidPtr(contractID),
		ActorID:    actor,
		Data:       map[string]any{"transactions": res.Transactions, "payments": res.Payments},
		OccurredAt: at,
	}
}

// FreezeTransaction freezes a single completed deposit or hold and its payment.
func (s *Service) FreezeTransaction(ctx context.Context, txID, adminID uuid.UUID, at time.Time) (*domain.PoolTransaction, error) {
	var entry *domain.PoolTransaction
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		e, err := tx.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if e.Status == domain.TransactionStatusFrozen {
			return pkgerrors.ErrTransactionFrozen
		}
		if !e.IsFreezable() {
			return pkgerrors.ErrNotFreezable
		}

		payment, err := tx.LockPayment(ctx, e.PaymentID)
		if err != nil {
			return err
		}
		e.Status = domain.TransactionStatusFrozen
		e.UpdatedAt = at
		if err := tx.UpdateTransaction(ctx, e); err != nil {
			return err
		}
		if payment.PoolStatus == domain.PoolStatusInPool {
			payment.PoolStatus = domain.PoolStatusFrozen
			payment.UpdatedAt = at
			if err := tx.UpdatePayment(ctx, payment); err != nil {
				return err
			}
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Pool transaction frozen", map[string]interface{}{
		"transaction_id": entry.ID,
		"payment_id":     entry.PaymentID,
		"admin_id":       adminID,
	})
	s.publish(ctx, entryEvent(notification.EventFrozen, entry, &adminID, at))
	return entry, nil
}

// UnfreezeTransaction returns a single frozen entry and its payment to the pool.
func (s *Service) UnfreezeTransaction(ctx context.Context, txID, adminID uuid.UUID, at time.Time) (*domain.PoolTransaction, error) {
	var entry *domain.PoolTransaction
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		var err error
		entry, err = s.unfreezeEntryTx(ctx, tx, txID, at)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Pool transaction unfrozen", map[string]interface{}{
		"transaction_id": entry.ID,
		"payment_id":     entry.PaymentID,
		"admin_id":       adminID,
	})
	s.publish(ctx, entryEvent(notification.EventUnfrozen, entry, &adminID, at))
	return entry, nil
}

func (s *Service) unfreezeEntryTx(ctx context.Context, tx Tx, txID uuid.UUID, at time.Time) (*domain.PoolTransaction, error) {
	e, err := tx.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if e.Status != domain.TransactionStatusFrozen {
		return nil, pkgerrors.ErrTransactionNotFrozen
	}

	payment, err := tx.LockPayment(ctx, e.PaymentID)
	if err != nil {
		return nil, err
	}
	e.Status = domain.TransactionStatusCompleted
	delete(e.Metadata, metaFrozenBy)
	e.UpdatedAt = at
	if err := tx.UpdateTransaction(ctx, e); err != nil {
		return nil, err
	}
	if payment.PoolStatus == domain.PoolStatusFrozen {
		payment.PoolStatus = domain.PoolStatusInPool
		payment.UpdatedAt = at
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return nil, err
		}
	}
	return e, nil
}
