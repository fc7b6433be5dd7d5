package pool

import (
	"context"
	"errors"
	"time"

	"pawpool/internal/domain"
	"pawpool/internal/ledger"
	"pawpool/pkg/cache"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPageSize   = 50
	maxPageSize       = 500
	defaultFlowMonths = 12
	maxFlowMonths     = 36
)

// GetPoolBalance recomputes the pool balance from the ledger.
func (s *Service) GetPoolBalance(ctx context.Context) (decimal.Decimal, error) {
	return s.balance(ctx, s.repo)
}

// GetContractPoolSummary reports the contract's ledger entries and totals.
func (s *Service) GetContractPoolSummary(ctx context.Context, contractID uuid.UUID) (*ContractPoolSummary, error) {
	if _, err := s.repo.GetContract(ctx, contractID); err != nil {
		return nil, err
	}

	var (
		entries []*domain.PoolTransaction
		active  *domain.Dispute
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.repo.ListTransactions(gctx, domain.TransactionFilter{ContractID: &contractID, Oldest: true})
		return err
	})
	g.Go(func() error {
		var err error
		active, err = s.repo.ActiveDispute(gctx, contractID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	totals := ledger.Summarize(ledger.Totalize(entries))
	if entries == nil {
		entries = []*domain.PoolTransaction{}
	}
	return &ContractPoolSummary{
		ContractID:    contractID,
		TotalDeposits: totals.Deposits,
		TotalReleased: totals.Releases,
		TotalRefunded: totals.Refunds,
		TotalRetained: totals.PlatformRevenue(),
		HeldAmount:    totals.Held,
		FrozenAmount:  totals.Frozen,
		FrozenCount:   totals.FrozenCount,
		PendingCount:  totals.PendingCount,
		HasDispute:    active != nil,
		Transactions:  entries,
	}, nil
}

// GetPoolStatistics builds the dashboard summary for the month containing
// now. Results are cached briefly and never used for fund movement.
func (s *Service) GetPoolStatistics(ctx context.Context, now time.Time) (*PoolStatistics, error) {
	if s.cache != nil {
		var cached PoolStatistics
		err := s.cache.Get(ctx, statsCacheKey, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("Pool statistics cache read failed", map[string]interface{}{"error": err.Error()})
		}
	}

	thisMonth := monthStart(now, 0)
	lastMonth := monthStart(now, -1)
	nextMonth := monthStart(now, 1)

	var all, current, previous []domain.TransactionTotal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		all, err = s.repo.Totals(gctx, domain.TransactionFilter{})
		return err
	})
	g.Go(func() error {
		var err error
		current, err = s.repo.Totals(gctx, domain.TransactionFilter{From: &thisMonth, To: &nextMonth})
		return err
	})
	g.Go(func() error {
		var err error
		previous, err = s.repo.Totals(gctx, domain.TransactionFilter{From: &lastMonth, To: &thisMonth})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := ledger.Summarize(all)
	depNow, depNowCount := completedSum(current, domain.TransactionType.IsFunding)
	depPrev, _ := completedSum(previous, domain.TransactionType.IsFunding)
	relNow, relNowCount := completedSum(current, domain.TransactionType.IsDebit)
	relPrev, _ := completedSum(previous, domain.TransactionType.IsDebit)

	stats := &PoolStatistics{
		TotalBalance:           ledger.BalanceFromTotals(all),
		FrozenAmount:           summary.Frozen,
		PendingReleases:        summary.PendingReleases,
		PlatformRevenue:        summary.PlatformRevenue(),
		DepositsThisMonth:      depNow,
		DepositsCountThisMonth: depNowCount,
		DepositsGrowth:         growth(depNow, depPrev),
		ReleasesThisMonth:      relNow,
		ReleasesCountThisMonth: relNowCount,
		ReleasesGrowth:         growth(relNow, relPrev),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, statsCacheKey, stats, s.cfg.StatsTTL); err != nil {
			s.logger.Warn("Pool statistics cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return stats, nil
}

// GetMonthlyPoolFlow returns inflow and outflow for the last months
// calendar months up to and including the one containing now, oldest first.
func (s *Service) GetMonthlyPoolFlow(ctx context.Context, now time.Time, months int) ([]MonthlyFlow, error) {
	if months <= 0 {
		months = defaultFlowMonths
	}
	if months > maxFlowMonths {
		months = maxFlowMonths
	}

	flow := make([]MonthlyFlow, months)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := 0; i < months; i++ {
		offset := i - (months - 1)
		from := monthStart(now, offset)
		to := monthStart(now, offset+1)
		g.Go(func() error {
			totals, err := s.repo.Totals(gctx, domain.TransactionFilter{From: &from, To: &to})
			if err != nil {
				return err
			}
			deposits := decimal.Zero
			releases := decimal.Zero
			for _, t := range totals {
				switch {
				case t.Type.IsFunding() && (t.Status == domain.TransactionStatusCompleted || t.Status == domain.TransactionStatusFrozen):
					deposits = deposits.Add(t.Amount)
				case t.Type.IsDebit() && t.Status == domain.TransactionStatusCompleted:
					releases = releases.Add(t.Amount)
				}
			}
			flow[i] = MonthlyFlow{Month: from.Format("Jan 2006"), Deposits: deposits, Releases: releases}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return flow, nil
}

// GetRevenueByType breaks completed pool inflow down by payment type and
// adds what the platform has retained.
func (s *Service) GetRevenueByType(ctx context.Context) (*RevenueBreakdown, error) {
	var (
		byType map[string]decimal.Decimal
		totals []domain.TransactionTotal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byType, err = s.repo.DepositsByPaymentType(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		totals, err = s.repo.Totals(gctx, domain.TransactionFilter{
			Types: []domain.TransactionType{domain.TransactionTypeCancellationPenalty, domain.TransactionTypeFeeDeduction},
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if byType == nil {
		byType = map[string]decimal.Decimal{}
	}
	summary := ledger.Summarize(totals)
	return &RevenueBreakdown{
		ByPaymentType:   byType,
		Penalties:       summary.Penalties,
		Forfeits:        summary.Forfeits,
		PlatformRevenue: summary.PlatformRevenue(),
	}, nil
}

// GetUserPoolBalance reports one user's funds in the pool.
func (s *Service) GetUserPoolBalance(ctx context.Context, userID uuid.UUID) (*UserPoolBalance, error) {
	totals, err := s.repo.Totals(ctx, domain.TransactionFilter{UserID: &userID})
	if err != nil {
		return nil, err
	}
	t := ledger.Summarize(totals)
	retained := t.PlatformRevenue()
	return &UserPoolBalance{
		UserID:          userID,
		Held:            t.Held.Sub(retained),
		Frozen:          t.Frozen,
		PendingReleases: t.PendingReleases,
		TotalDeposited:  t.Deposits,
		TotalReleased:   t.Releases,
		TotalRefunded:   t.Refunds,
		TotalRetained:   retained,
	}, nil
}

// ListTransactions returns one page of ledger entries, newest first unless
// the filter asks otherwise.
func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) (*TransactionPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var (
		entries []*domain.PoolTransaction
		total   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.repo.ListTransactions(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.CountTransactions(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if entries == nil {
		entries = []*domain.PoolTransaction{}
	}
	return &TransactionPage{Transactions: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Reconcile replays the whole ledger and compares it with the recorded
// balance_after snapshots and payment placements.
func (s *Service) Reconcile(ctx context.Context) (*ledger.Report, error) {
	entries, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{Oldest: true})
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPoolPayments(ctx)
	if err != nil {
		return nil, err
	}

	report := ledger.Reconcile(entries)
	report.Payments = ledger.CheckPayments(payments, entries)
	if !report.OK() {
		s.logger.Warn("Pool ledger reconciliation found discrepancies", map[string]interface{}{
			"entries":         len(report.Discrepancies),
			"payments":        len(report.Payments),
			"recorded":        report.Balance.String(),
			"recomputed":      report.Recomputed.String(),
			"checked_entries": report.Checked,
		})
	}
	return report, nil
}

func monthStart(t time.Time, offset int) time.Time {
	return time.Date(t.Year(), t.Month()+time.Month(offset), 1, 0, 0, 0, 0, t.Location())
}

func completedSum(totals []domain.TransactionTotal, match func(domain.TransactionType) bool) (decimal.Decimal, int) {
	sum := decimal.Zero
	count := 0
	for _, t := range totals {
		if t.Status == domain.TransactionStatusCompleted && match(t.Type) {
			sum = sum.Add(t.Amount)
			count += t.Count
		}
	}
	return sum, count
}

// growth is the percentage change from previous to current, rounded to one
// decimal. With no previous activity it is 100 when current is positive.
func growth(current, previous decimal.Decimal) decimal.Decimal {
	if previous.IsPositive() {
		return current.Sub(previous).Div(previous).Mul(hundred).Round(1)
	}
	if current.IsPositive() {
		return hundred
	}
	return decimal.Zero
}

// GetPayment returns a tracked payment.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// GetContract returns a tracked contract.
func (s *Service) GetContract(ctx context.Context, id uuid.UUID) (*domain.Contract, error) {
	return s.repo.GetContract(ctx, id)
}

// GetDispute returns a dispute by id.
func (s *Service) GetDispute(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	return s.repo.GetDispute(ctx, id)
}
