package ledger

import (
	"sort"

	"pawpool/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Discrepancy is an applied entry whose recorded balance_after does not match
// the running balance recomputed from the entries applied before it.
type Discrepancy struct {
	TransactionID uuid.UUID                `json:"transaction_id"`
	Sequence      int64                    `json:"sequence"`
	Type          domain.TransactionType   `json:"type"`
	Status        domain.TransactionStatus `json:"status"`
	Recorded      decimal.Decimal          `json:"recorded_balance_after"`
	Expected      decimal.Decimal          `json:"expected_balance_after"`
	Reason        string                   `json:"reason"`
}

// PaymentDiscrepancy is a payment whose pool_status disagrees with its entries.
type PaymentDiscrepancy struct {
	PaymentID uuid.UUID           `json:"payment_id"`
	Actual    domain.PoolStatus   `json:"actual"`
	Expected  []domain.PoolStatus `json:"expected"`
}

// Report is the outcome of a reconciliation pass.
type Report struct {
	Checked       int                  `json:"checked"`
	Balance       decimal.Decimal      `json:"balance"`
	Recomputed    decimal.Decimal      `json:"recomputed_balance"`
	Discrepancies []Discrepancy        `json:"discrepancies"`
	Payments      []PaymentDiscrepancy `json:"payment_discrepancies"`
}

// OK reports whether the pass found nothing to investigate.
func (r *Report) OK() bool {
	return len(r.Discrepancies) == 0 && len(r.Payments) == 0 && r.Balance.Equal(r.Recomputed)
}

// Reconcile replays every applied entry in sequence order and checks each
// recorded balance_after. Balance is the last recorded snapshot, Recomputed
// is the balance derived from entry statuses; both must agree.
func Reconcile(entries []*domain.PoolTransaction) *Report {
	applied := make([]*domain.PoolTransaction, 0, len(entries))
	for _, e := range entries {
		if e.Sequence != nil {
			applied = append(applied, e)
		}
	}
	sort.Slice(applied, func(i, j int) bool {
		return *applied[i].Sequence < *applied[j].Sequence
	})

	report := &Report{
		Balance:    decimal.Zero,
		Recomputed: Balance(entries),
	}

	running := decimal.Zero
	for _, e := range applied {
		report.Checked++
		running = Apply(running, e.Type, e.Amount)

		if !counts(e.Type, e.Status) {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				TransactionID: e.ID,
				Sequence:      *e.Sequence,
				Type:          e.Type,
				Status:        e.Status,
				Recorded:      e.BalanceAfter,
				Expected:      running,
				Reason:        "sequenced entry no longer counts toward the balance",
			})
			continue
		}
		if !e.BalanceAfter.Equal(running) {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				TransactionID: e.ID,
				Sequence:      *e.Sequence,
				Type:          e.Type,
				Status:        e.Status,
				Recorded:      e.BalanceAfter,
				Expected:      running,
				Reason:        "balance_after mismatch",
			})
		}
	}
	if len(applied) > 0 {
		report.Balance = applied[len(applied)-1].BalanceAfter
	}

	return report
}

// ExpectedPoolStatus derives the pool_status values a payment may have given
// its own ledger entries.
func ExpectedPoolStatus(entries []*domain.PoolTransaction) []domain.PoolStatus {
	funding, refunds, retention := decimal.Zero, decimal.Zero, decimal.Zero
	var frozen, released, forfeited bool

	for _, e := range entries {
		if !counts(e.Type, e.Status) {
			continue
		}
		switch {
		case e.Type.IsFunding():
			funding = funding.Add(e.Amount)
			if e.Status == domain.TransactionStatusFrozen {
				frozen = true
			}
		case e.Type == domain.TransactionTypeRelease:
			released = true
		case e.Type == domain.TransactionTypeRefund:
			refunds = refunds.Add(e.Amount)
		case e.Type == domain.TransactionTypeFeeDeduction:
			forfeited = true
		case e.Type == domain.TransactionTypeCancellationPenalty:
			retention = retention.Add(e.Amount)
		}
	}

	switch {
	case funding.IsZero():
		return []domain.PoolStatus{domain.PoolStatusNotPooled}
	case released || forfeited:
		return []domain.PoolStatus{domain.PoolStatusReleased}
	case refunds.IsPositive() && refunds.GreaterThanOrEqual(funding):
		return []domain.PoolStatus{domain.PoolStatusRefunded}
	case refunds.IsPositive():
		return []domain.PoolStatus{domain.PoolStatusPartiallyRefunded}
	case retention.IsPositive() && retention.GreaterThanOrEqual(funding):
		return []domain.PoolStatus{domain.PoolStatusRefunded}
	case retention.IsPositive():
		return []domain.PoolStatus{domain.PoolStatusRefunded, domain.PoolStatusPartiallyRefunded}
	case frozen:
		return []domain.PoolStatus{domain.PoolStatusFrozen}
	}
	return []domain.PoolStatus{domain.PoolStatusInPool}
}

// CheckPayments compares each payment's pool_status with its entries.
func CheckPayments(payments []*domain.Payment, entries []*domain.PoolTransaction) []PaymentDiscrepancy {
	byPayment := make(map[uuid.UUID][]*domain.PoolTransaction)
	for _, e := range entries {
		byPayment[e.PaymentID] = append(byPayment[e.PaymentID], e)
	}

	var out []PaymentDiscrepancy
	for _, p := range payments {
		if !p.IsPoolable() {
			continue
		}
		expected := ExpectedPoolStatus(byPayment[p.ID])
		ok := false
		for _, s := range expected {
			if s == p.PoolStatus {
				ok = true
				break
			}
		}
		if !ok {
			out = append(out, PaymentDiscrepancy{PaymentID: p.ID, Actual: p.PoolStatus, Expected: expected})
		}
	}
	return out
}
