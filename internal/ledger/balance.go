// Package ledger holds the pool ledger arithmetic: how each entry moves the
// balance, how balances are derived from aggregates, and how recorded
// balance_after snapshots are reconciled.
package ledger

import (
	"pawpool/internal/domain"

	"github.com/shopspring/decimal"
)

// Delta is the effect an applied entry of type t and amount has on the pool
// balance. Funding credits add, debits subtract, retention credits relabel
// funds already held and leave the balance unchanged.
func Delta(t domain.TransactionType, amount decimal.Decimal) decimal.Decimal {
	switch {
	case t.IsRetention():
		return decimal.Zero
	case t.IsCredit():
		return amount
	case t.IsDebit():
		return amount.Neg()
	}
	return decimal.Zero
}

// Apply returns the balance after applying an entry to balance.
func Apply(balance decimal.Decimal, t domain.TransactionType, amount decimal.Decimal) decimal.Decimal {
	return balance.Add(Delta(t, amount))
}

// counts reports whether an entry with this type and status is part of the
// held balance: completed entries always, frozen entries when they are credits.
func counts(t domain.TransactionType, s domain.TransactionStatus) bool {
	switch s {
	case domain.TransactionStatusCompleted:
		return true
	case domain.TransactionStatusFrozen:
		return t.IsCredit()
	}
	return false
}

// Balance recomputes the pool balance from individual entries.
func Balance(entries []*domain.PoolTransaction) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if counts(e.Type, e.Status) {
			total = total.Add(Delta(e.Type, e.Amount))
		}
	}
	return total
}

// BalanceFromTotals recomputes the pool balance from per type/status aggregates.
func BalanceFromTotals(totals []domain.TransactionTotal) decimal.Decimal {
	total := decimal.Zero
	for _, t := range totals {
		if counts(t.Type, t.Status) {
			total = total.Add(Delta(t.Type, t.Amount))
		}
	}
	return total
}

// Totals is the reporting breakdown of a set of ledger entries.
type Totals struct {
	Deposits        decimal.Decimal `json:"total_deposits"`
	Releases        decimal.Decimal `json:"total_releases"`
	Refunds         decimal.Decimal `json:"total_refunds"`
	Penalties       decimal.Decimal `json:"total_penalties"`
	Forfeits        decimal.Decimal `json:"total_forfeits"`
	Held            decimal.Decimal `json:"held_balance"`
	Frozen          decimal.Decimal `json:"frozen_amount"`
	FrozenCount     int             `json:"frozen_count"`
	PendingReleases decimal.Decimal `json:"pending_releases"`
	PendingCount    int             `json:"pending_count"`
}

// PlatformRevenue is the part of the held balance retained by the platform.
func (t Totals) PlatformRevenue() decimal.Decimal {
	return t.Penalties.Add(t.Forfeits)
}

// Summarize folds per type/status aggregates into Totals.
func Summarize(totals []domain.TransactionTotal) Totals {
	out := Totals{
		Deposits:        decimal.Zero,
		Releases:        decimal.Zero,
		Refunds:         decimal.Zero,
		Penalties:       decimal.Zero,
		Forfeits:        decimal.Zero,
		Frozen:          decimal.Zero,
		PendingReleases: decimal.Zero,
	}

	for _, t := range totals {
		if t.Status == domain.TransactionStatusFrozen {
			out.FrozenCount += t.Count
			if t.Type.IsFunding() {
				out.Frozen = out.Frozen.Add(t.Amount)
			}
		}
		if t.Status == domain.TransactionStatusPending && t.Type.IsDebit() {
			out.PendingReleases = out.PendingReleases.Add(t.Amount)
			out.PendingCount += t.Count
		}
		if !counts(t.Type, t.Status) {
			continue
		}
		switch t.Type {
		case domain.TransactionTypeDeposit, domain.TransactionTypeHold:
			out.Deposits = out.Deposits.Add(t.Amount)
		case domain.TransactionTypeRelease:
			out.Releases = out.Releases.Add(t.Amount)
		case domain.TransactionTypeRefund:
			out.Refunds = out.Refunds.Add(t.Amount)
		case domain.TransactionTypeCancellationPenalty:
			out.Penalties = out.Penalties.Add(t.Amount)
		case domain.TransactionTypeFeeDeduction:
			out.Forfeits = out.Forfeits.Add(t.Amount)
		}
	}

	out.Held = out.Deposits.Sub(out.Releases).Sub(out.Refunds)
	return out
}

// Totalize aggregates individual entries the way a repository GROUP BY would.
func Totalize(entries []*domain.PoolTransaction) []domain.TransactionTotal {
	type key struct {
		t domain.TransactionType
		s domain.TransactionStatus
	}
	index := make(map[key]int)
	var out []domain.TransactionTotal
	for _, e := range entries {
		k := key{e.Type, e.Status}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, domain.TransactionTotal{Type: e.Type, Status: e.Status, Amount: decimal.Zero})
		}
		out[i].Amount = out[i].Amount.Add(e.Amount)
		out[i].Count++
	}
	return out
}
