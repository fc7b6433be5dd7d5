package pool_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pawpool/internal/domain"
	"pawpool/internal/gateway"
	"pawpool/internal/notification"
	"pawpool/internal/pool"
	"pawpool/internal/repository/memory"
	"pawpool/pkg/cache"
	pkgerrors "pawpool/pkg/errors"
	"pawpool/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// --- Mocks ---

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Refund), args.Error(1)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return cache.ErrMiss
	}
	c.hits++
	return json.Unmarshal(raw, dest)
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

// interruptingRepo wraps a repository to interrupt work that follows a
// committed dispute resolution.
type interruptingRepo struct {
	pool.Repository

	mu         sync.Mutex
	onResolved func()
	claimErr   error
}

func (r *interruptingRepo) WithTx(ctx context.Context, fn func(pool.Tx) error) error {
	resolved := false
	err := r.Repository.WithTx(ctx, func(tx pool.Tx) error {
		return fn(&interruptingTx{Tx: tx, repo: r, resolved: &resolved})
	})
	if err == nil && resolved && r.onResolved != nil {
		r.onResolved()
	}
	return err
}

func (r *interruptingRepo) setClaimErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimErr = err
}

type interruptingTx struct {
	pool.Tx
	repo     *interruptingRepo
	resolved *bool
}

func (t *interruptingTx) UpdateDispute(ctx context.Context, d *domain.Dispute) error {
	if err := t.Tx.UpdateDispute(ctx, d); err != nil {
		return err
	}
	if d.Status == domain.DisputeStatusResolved {
		*t.resolved = true
	}
	return nil
}

func (t *interruptingTx) ClaimRelease(ctx context.Context, paymentID uuid.UUID, at time.Time) error {
	t.repo.mu.Lock()
	err := t.repo.claimErr
	t.repo.mu.Unlock()
	if err != nil {
		return err
	}
	return t.Tx.ClaimRelease(ctx, paymentID, at)
}

// --- Fixture ---

var now = time.Date(2026, 5, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t         *testing.T
	store     *memory.Store
	gw        *MockGateway
	hub       *notification.Hub
	svc       *pool.Service
	contract  *domain.Contract
	requester uuid.UUID
	owner     uuid.UUID
	shooter   uuid.UUID
	created   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		store:     memory.New(),
		gw:        new(MockGateway),
		requester: uuid.New(),
		owner:     uuid.New(),
		shooter:   uuid.New(),
	}
	f.hub = notification.NewHub(logger.NewNop(), 256)
	t.Cleanup(f.hub.Close)

	f.contract = &domain.Contract{
		ID:          uuid.New(),
		Status:      domain.ContractStatusAccepted,
		RequesterID: f.requester,
		OwnerID:     f.owner,
		ShooterID:   &f.shooter,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.store.PutContract(f.contract)
	f.svc = pool.NewService(f.store, f.gw, nil, f.hub, pool.Config{}, logger.NewNop())
	return f
}

func (f *fixture) withCache(c pool.StatsCache) {
	f.svc = pool.NewService(f.store, f.gw, c, f.hub, pool.Config{}, logger.NewNop())
}

func (f *fixture) setFee(pct string) {
	f.contract.CancellationFeePercentage = decimal.NewNullDecimal(decimal.RequireFromString(pct))
	f.store.PutContract(f.contract)
}

// paid stores a paid, not yet pooled payment with a gateway reference.
func (f *fixture) paid(user uuid.UUID, t domain.PaymentType, amount string) *domain.Payment {
	f.created++
	ref := fmt.Sprintf("pay_%d", f.created)
	p := &domain.Payment{
		ID:               uuid.New(),
		UserID:           user,
		ContractID:       &f.contract.ID,
		Type:             t,
		Amount:           decimal.RequireFromString(amount),
		Currency:         domain.DefaultCurrency,
		Status:           domain.PaymentStatusPaid,
		PoolStatus:       domain.PoolStatusNotPooled,
		GatewayPaymentID: &ref,
		CreatedAt:        now.Add(time.Duration(f.created) * time.Second),
		UpdatedAt:        now,
	}
	f.store.PutPayment(p)
	return p
}

// pooled stores a payment and deposits it, at now unless a time is given.
func (f *fixture) pooled(user uuid.UUID, t domain.PaymentType, amount string, at ...time.Time) *domain.Payment {
	f.t.Helper()
	p := f.paid(user, t, amount)
	when := now
	if len(at) > 0 {
		when = at[0]
	}
	e, err := f.svc.DepositToPool(context.Background(), p.ID, when)
	require.NoError(f.t, err)
	require.NotNil(f.t, e)
	return p
}

func (f *fixture) payment(id uuid.UUID) *domain.Payment {
	f.t.Helper()
	p, err := f.store.GetPayment(context.Background(), id)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) balance() decimal.Decimal {
	f.t.Helper()
	b, err := f.svc.GetPoolBalance(context.Background())
	require.NoError(f.t, err)
	return b
}

func (f *fixture) entries(paymentID uuid.UUID) []*domain.PoolTransaction {
	f.t.Helper()
	out, err := f.store.ListTransactions(context.Background(), domain.TransactionFilter{PaymentID: &paymentID, Oldest: true})
	require.NoError(f.t, err)
	return out
}

func (f *fixture) reconciled() {
	f.t.Helper()
	report, err := f.svc.Reconcile(context.Background())
	require.NoError(f.t, err)
	assert.True(f.t, report.OK(), "reconcile: %+v", report)
}

func (f *fixture) refundOK(p *domain.Payment, minor int64) *mock.Call {
	return f.gw.On("CreateRefund", mock.Anything, mock.MatchedBy(func(r gateway.RefundRequest) bool {
		return r.PaymentID == *p.GatewayPaymentID && r.Amount == minor
	})).Return(&gateway.Refund{ID: "ref_" + *p.GatewayPaymentID, Status: "pending", Amount: minor}, nil)
}

func (f *fixture) refundFails(p *domain.Payment) *mock.Call {
	return f.gw.On("CreateRefund", mock.Anything, mock.MatchedBy(func(r gateway.RefundRequest) bool {
		return r.PaymentID == *p.GatewayPaymentID
	})).Return(nil, errors.New("gateway timeout"))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// --- Deposit ---

func TestDepositToPool_RecordsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.paid(f.requester, domain.PaymentTypeCollateral, "1000")

	e, err := f.svc.DepositToPool(ctx, p.ID, now)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, domain.TransactionTypeDeposit, e.Type)
	assert.Equal(t, domain.TransactionStatusCompleted, e.Status)
	require.NotNil(t, e.Sequence)
	assert.Equal(t, int64(1), *e.Sequence)
	assertDecimal(t, "1000", e.BalanceAfter)
	assert.Equal(t, "collateral", e.Metadata.String("payment_type"))

	again, err := f.svc.DepositToPool(ctx, p.ID, now)
	require.NoError(t, err)
	assert.Nil(t, again)

	assert.Equal(t, domain.PoolStatusInPool, f.payment(p.ID).PoolStatus)
	assert.Len(t, f.entries(p.ID), 1)
	assertDecimal(t, "1000", f.balance())
}

func TestDepositToPool_IgnoresIneligiblePayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unpaid := f.paid(f.requester, domain.PaymentTypeCollateral, "100")
	unpaid.Status = domain.PaymentStatusAwaitingPayment
	f.store.PutPayment(unpaid)
	subscription := f.paid(f.requester, domain.PaymentTypeSubscription, "100")

	for _, id := range []uuid.UUID{unpaid.ID, subscription.ID} {
		e, err := f.svc.DepositToPool(ctx, id, now)
		require.NoError(t, err)
		assert.Nil(t, e)
	}
	assertDecimal(t, "0", f.balance())

	_, err := f.svc.DepositToPool(ctx, uuid.New(), now)
	assert.ErrorIs(t, err, pkgerrors.ErrPaymentNotFound)
}

func TestDepositToPool_PublishesEvent(t *testing.T) {
	f := newFixture(t)
	events, cancel := f.hub.Subscribe()
	defer cancel()

	p := f.pooled(f.requester, domain.PaymentTypeCollateral, "250")

	select {
	case e := <-events:
		assert.Equal(t, notification.EventDeposit, e.Type)
		require.NotNil(t, e.PaymentID)
		assert.Equal(t, p.ID, *e.PaymentID)
		assertDecimal(t, "250", e.Amount)
	case <-time.After(time.Second):
		t.Fatal("no deposit event")
	}
}

// --- Release ---

func TestReleaseCollateral_RefundsEveryCollateral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	b := f.pooled(f.owner, domain.PaymentTypeCollateral, "1000")
	comp := f.pooled(f.requester, domain.PaymentTypeMonetaryCompensation, "300", now)
	f.refundOK(a, 100000)
	f.refundOK(b, 100000)

	res, err := f.svc.ReleaseCollateral(ctx, f.contract.ID, nil, now)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, "All payments processed", res.Message)

	for _, p := range []*domain.Payment{a, b} {
		got := f.payment(p.ID)
		assert.Equal(t, domain.PoolStatusRefunded, got.PoolStatus)
		require.NotNil(t, got.GatewayRefundID)
		assert.Equal(t, "ref_"+*p.GatewayPaymentID, *got.GatewayRefundID)
	}
	assert.Equal(t, domain.PoolStatusInPool, f.payment(comp.ID).PoolStatus)
	assertDecimal(t, "300", f.balance())
	assert.Empty(t, f.store.Claims())
	f.gw.AssertExpectations(t)
	f.reconciled()
}

func TestReleaseCollateral_BlockedByActiveDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")

	_, err := f.svc.OpenDispute(ctx, f.contract.ID, f.requester, "The stud never arrived at the venue", now)
	require.NoError(t, err)

	_, err = f.svc.ReleaseCollateral(ctx, f.contract.ID, nil, now)
	assert.ErrorIs(t, err, pkgerrors.ErrActiveDispute)
	_, err = f.svc.HandleCancellation(ctx, f.contract.ID, f.requester, now)
	assert.ErrorIs(t, err, pkgerrors.ErrActiveDispute)
	_, err = f.svc.ReleaseShooterPayment(ctx, f.contract.ID, nil, now)
	assert.ErrorIs(t, err, pkgerrors.ErrActiveDispute)

	f.gw.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything)
	assertDecimal(t, "1000", f.balance())
}

func TestReleaseCollateral_NothingToRelease(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.ReleaseCollateral(context.Background(), f.contract.ID, nil, now)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Nothing())
	assert.Equal(t, "No collateral to release", res.Message)
}

func TestReleaseCollateral_MissingGatewayReferenceNeedsManualPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.paid(f.requester, domain.PaymentTypeCollateral, "1000")
	p.GatewayPaymentID = nil
	f.store.PutPayment(p)
	_, err := f.svc.DepositToPool(ctx, p.ID, now)
	require.NoError(t, err)

	res, err := f.svc.ReleaseCollateral(ctx, f.contract.ID, nil, now)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, pool.OutcomeSucceeded, item.Outcome)
	assert.True(t, item.ManualPayoutRequired)
	assert.Equal(t, domain.TransactionTypeRelease, item.TransactionType)

	assert.Equal(t, domain.PoolStatusReleased, f.payment(p.ID).PoolStatus)
	entries := f.entries(p.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, true, entries[1].Metadata["manual_payout_required"])
	assertDecimal(t, "0", f.balance())
	f.gw.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything)
	f.reconciled()
}

func TestReleaseShooterPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	service := f.pooled(f.requester, domain.PaymentTypeShooterPayment, "2500")
	collateral := f.pooled(f.shooter, domain.PaymentTypeShooterCollateral, "500")
	f.refundOK(collateral, 50000)

	res, err := f.svc.ReleaseShooterPayment(ctx, f.contract.ID, &f.owner, now)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, 2, res.Succeeded)

	assert.Equal(t, domain.PoolStatusReleased, f.payment(service.ID).PoolStatus)
	assert.Equal(t, domain.PoolStatusRefunded, f.payment(collateral.ID).PoolStatus)
	assert.Equal(t, domain.TransactionTypeRelease, res.Items[0].TransactionType)
	assert.Equal(t, domain.TransactionTypeRefund, res.Items[1].TransactionType)
	assertDecimal(t, "0", f.balance())

	f.gw.AssertNumberOfCalls(t, "CreateRefund", 1)
	f.reconciled()
}

func TestRelease_ConcurrentAttemptsRefundOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	f.refundOK(p, 100000).After(50 * time.Millisecond)

	results := make([]*pool.OperationResult, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		g.Go(func() error {
			res, err := f.svc.ReleaseCollateral(gctx, f.contract.ID, nil, now)
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, r := range results {
		succeeded += r.Succeeded
		assert.Zero(t, r.Failed)
	}
	assert.Equal(t, 1, succeeded)
	f.gw.AssertNumberOfCalls(t, "CreateRefund", 1)
	assert.Len(t, f.entries(p.ID), 2)
	assertDecimal(t, "0", f.balance())
	f.reconciled()
}

// --- Cancellation ---

func TestCancellationFee(t *testing.T) {
	tests := []struct {
		amount, pct, want string
	}{
		{"1000", "5", "50"},
		{"333.33", "7.5", "25"},
		{"100", "0", "0"},
		{"10", "150", "15"},
		{"0.10", "5", "0.01"},
	}
	for _, tt := range tests {
		t.Run(tt.amount+"@"+tt.pct, func(t *testing.T) {
			assertDecimal(t, tt.want, pool.CancellationFee(dec(tt.amount), dec(tt.pct)))
		})
	}
}

func TestHandleCancellation_PenalizesCanceller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	y := f.pooled(f.owner, domain.PaymentTypeCollateral, "1000")
	f.refundOK(x, 95000)
	f.refundOK(y, 100000)

	res, err := f.svc.HandleCancellation(ctx, f.contract.ID, f.requester, now)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Succeeded)
	assertDecimal(t, "50", res.Items[0].Fee)
	assertDecimal(t, "950", res.Items[0].Amount)

	assert.Equal(t, domain.PoolStatusPartiallyRefunded, f.payment(x.ID).PoolStatus)
	assert.Equal(t, domain.PoolStatusRefunded, f.payment(y.ID).PoolStatus)

	xs := f.entries(x.ID)
	require.Len(t, xs, 3)
	assert.Equal(t, domain.TransactionTypeCancellationPenalty, xs[1].Type)
	assertDecimal(t, "50", xs[1].Amount)
	assertDecimal(t, "2000", xs[1].BalanceAfter)
	assert.Equal(t, domain.TransactionTypeRefund, xs[2].Type)
	assertDecimal(t, "1050", xs[2].BalanceAfter)

	// 2000 in, 1950 out, 50 retained as platform revenue.
	assertDecimal(t, "50", f.balance())
	rev, err := f.svc.GetRevenueByType(ctx)
	require.NoError(t, err)
	assertDecimal(t, "50", rev.Penalties)
	assertDecimal(t, "50", rev.PlatformRevenue)

	user, err := f.svc.GetUserPoolBalance(ctx, f.requester)
	require.NoError(t, err)
	assertDecimal(t, "1000", user.TotalDeposited)
	assertDecimal(t, "950", user.TotalRefunded)
	assertDecimal(t, "50", user.TotalRetained)
	assertDecimal(t, "0", user.Held)

	f.gw.AssertExpectations(t)
	f.reconciled()
}

func TestHandleCancellation_UsesContractFee(t *testing.T) {
	f := newFixture(t)
	f.setFee("10")
	x := f.pooled(f.owner, domain.PaymentTypeCollateral, "200")
	f.refundOK(x, 18000)

	res, err := f.svc.HandleCancellation(context.Background(), f.contract.ID, f.owner, now)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assertDecimal(t, "20", res.Items[0].Fee)
	f.gw.AssertExpectations(t)
}

func TestHandleCancellation_FullPenaltySkipsGateway(t *testing.T) {
	f := newFixture(t)
	f.setFee("100")
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "400")

	res, err := f.svc.HandleCancellation(context.Background(), f.contract.ID, f.requester, now)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, pool.OutcomeSucceeded, res.Items[0].Outcome)

	assert.Equal(t, domain.PoolStatusRefunded, f.payment(x.ID).PoolStatus)
	entries := f.entries(x.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.TransactionTypeCancellationPenalty, entries[1].Type)
	assertDecimal(t, "400", f.balance())
	f.gw.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything)
	f.reconciled()
}

// --- Pending retries ---

func TestGatewayFailure_LeavesPendingThenRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	y := f.pooled(f.owner, domain.PaymentTypeCollateral, "1000")
	f.refundFails(x).Once()
	f.refundOK(y, 100000)

	res, err := f.svc.HandleCancellation(ctx, f.contract.ID, f.requester, now)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.NeedsRetry())
	assert.Equal(t, "Some payments need retry", res.Message)
	require.Equal(t, pool.OutcomePending, res.Items[0].Outcome)
	pendingID := *res.Items[0].TransactionID

	pending, err := f.store.GetTransaction(ctx, pendingID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, pending.Status)
	assert.Nil(t, pending.Sequence)
	assertDecimal(t, "2000", pending.BalanceAfter)
	assert.Equal(t, "50", pending.Metadata.String("cancellation_fee"))
	assert.Equal(t, "partially_refunded", pending.Metadata.String("target_pool_status"))
	assert.Equal(t, domain.PoolStatusInPool, f.payment(x.ID).PoolStatus)
	assert.Empty(t, f.store.Claims())

	// No penalty until the refund goes through.
	assertDecimal(t, "1000", f.balance())
	assert.Len(t, f.entries(x.ID), 2)

	// A new batch does not start a second refund for the same payment.
	again, err := f.svc.HandleCancellation(ctx, f.contract.ID, f.requester, now)
	require.NoError(t, err)
	require.Len(t, again.Items, 1)
	assert.Equal(t, pool.OutcomeSkipped, again.Items[0].Outcome)
	assert.Equal(t, "Payments are already being processed", again.Message)

	f.refundOK(x, 95000)
	later := now.Add(time.Hour)
	item, err := f.svc.RetryPendingRelease(ctx, pendingID, nil, later)
	require.NoError(t, err)
	assert.Equal(t, pool.OutcomeSucceeded, item.Outcome)

	done, err := f.store.GetTransaction(ctx, pendingID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, done.Status)
	require.NotNil(t, done.Sequence)
	assertDecimal(t, "50", done.BalanceAfter)

	assert.Equal(t, domain.PoolStatusPartiallyRefunded, f.payment(x.ID).PoolStatus)
	assertDecimal(t, "50", f.balance())
	f.reconciled()
}

func TestRetryPendingRelease_FailureCountsAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	f.refundFails(x)

	res, err := f.svc.ReleaseCollateral(ctx, f.contract.ID, nil, now)
	require.NoError(t, err)
	pendingID := *res.Items[0].TransactionID

	item, err := f.svc.RetryPendingRelease(ctx, pendingID, nil, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, pool.OutcomePending, item.Outcome)
	assert.Equal(t, "gateway timeout", item.Error)

	e, err := f.store.GetTransaction(ctx, pendingID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, e.Status)
	assert.EqualValues(t, 2, e.Metadata["attempts"])
	assert.Equal(t, "gateway timeout", e.Metadata.String("error"))
	assertDecimal(t, "1000", f.balance())
}

func TestRetryPendingRelease_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	deposit := f.entries(x.ID)[0]

	_, err := f.svc.RetryPendingRelease(ctx, deposit.ID, nil, now)
	assert.ErrorIs(t, err, pkgerrors.ErrNotPending)
	_, err = f.svc.RetryPendingRelease(ctx, uuid.New(), nil, now)
	assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)

	f.refundFails(x)
	res, err := f.svc.ReleaseCollateral(ctx, f.contract.ID, nil, now)
	require.NoError(t, err)
	pendingID := *res.Items[0].TransactionID

	_, err = f.svc.OpenDispute(ctx, f.contract.ID, f.owner, "Litter count does not match the contract", now)
	require.NoError(t, err)
	_, err = f.svc.RetryPendingRelease(ctx, pendingID, nil, now)
	assert.ErrorIs(t, err, pkgerrors.ErrActiveDispute)
}

func TestRetryPendingReleases_Batch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	y := f.pooled(f.owner, domain.PaymentTypeCollateral, "500")
	f.refundFails(x).Once()
	f.refundFails(y).Once()

	res, err := f.svc.ReleaseCollateral(ctx, f.contract.ID, nil, now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pending)

	f.refundOK(x, 100000)
	f.refundOK(y, 50000)
	batch, err := f.svc.RetryPendingReleases(ctx, 10, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Succeeded)
	assertDecimal(t, "0", f.balance())

	empty, err := f.svc.RetryPendingReleases(ctx, 10, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, empty.Nothing())
	assert.Equal(t, "No pending releases", empty.Message)
	f.reconciled()
}

func TestCancelPendingRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	f.refundFails(x).Once()

	res, err := f.svc.ReleaseCollateral(ctx, f.contract.ID, nil, now)
	require.NoError(t, err)
	pendingID := *res.Items[0].TransactionID

	e, err := f.svc.CancelPendingRelease(ctx, pendingID, admin, now)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCancelled, e.Status)
	assert.Equal(t, admin.String(), e.Metadata.String("cancelled_by"))

	_, err = f.svc.CancelPendingRelease(ctx, pendingID, admin, now)
	assert.ErrorIs(t, err, pkgerrors.ErrNotPending)

	// The payment is eligible again.
	f.refundOK(x, 100000)
	res, err = f.svc.ReleaseCollateral(ctx, f.contract.ID, nil, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	f.reconciled()
}

// --- Freeze ---

func TestFreezeTransaction_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	deposit := f.entries(x.ID)[0]

	frozen, err := f.svc.FreezeTransaction(ctx, deposit.ID, admin, now)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFrozen, frozen.Status)
	assert.Equal(t, domain.PoolStatusFrozen, f.payment(x.ID).PoolStatus)
	assertDecimal(t, "1000", f.balance())

	_, err = f.svc.FreezeTransaction(ctx, deposit.ID, admin, now)
	assert.ErrorIs(t, err, pkgerrors.ErrTransactionFrozen)

	// Frozen payments are not release targets.
	res, err := f.svc.ReleaseCollateral(ctx, f.contract.ID, nil, now)
	require.NoError(t, err)
	assert.True(t, res.Nothing())

	stats, err := f.svc.GetContractPoolSummary(ctx, f.contract.ID)
	require.NoError(t, err)
	assertDecimal(t, "1000", stats.FrozenAmount)
	assert.Equal(t, 1, stats.FrozenCount)

	unfrozen, err := f.svc.UnfreezeTransaction(ctx, deposit.ID, admin, now)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, unfrozen.Status)
	assert.Equal(t, domain.PoolStatusInPool, f.payment(x.ID).PoolStatus)

	_, err = f.svc.UnfreezeTransaction(ctx, deposit.ID, admin, now)
	assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFrozen)
	f.reconciled()
}

func TestFreezeTransaction_RejectsNonFunding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	f.refundOK(x, 100000)
	_, err := f.svc.ReleaseCollateral(ctx, f.contract.ID, nil, now)
	require.NoError(t, err)

	refund := f.entries(x.ID)[1]
	_, err = f.svc.FreezeTransaction(ctx, refund.ID, uuid.New(), now)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFreezable)
}

func TestFreezeContractFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	y := f.pooled(f.owner, domain.PaymentTypeShooterPayment, "500")

	res, err := f.svc.FreezeContractFunds(ctx, f.contract.ID, nil, now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Transactions)
	assert.Equal(t, 2, res.Payments)
	assert.Equal(t, domain.PoolStatusFrozen, f.payment(x.ID).PoolStatus)
	assertDecimal(t, "1500", f.balance())

	res, err = f.svc.UnfreezeContractFunds(ctx, f.contract.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Transactions)
	assert.Equal(t, domain.PoolStatusInPool, f.payment(y.ID).PoolStatus)
	f.reconciled()
}

func TestContractFreeze_PreservesAdminFreeze(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	y := f.pooled(f.owner, domain.PaymentTypeCollateral, "500")
	held := f.entries(x.ID)[0]

	_, err := f.svc.FreezeTransaction(ctx, held.ID, admin, now)
	require.NoError(t, err)

	res, err := f.svc.FreezeContractFunds(ctx, f.contract.ID, nil, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Transactions)
	assert.Equal(t, 1, res.Payments)

	res, err = f.svc.UnfreezeContractFunds(ctx, f.contract.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Transactions)
	assert.Equal(t, 1, res.Payments)

	assert.Equal(t, domain.TransactionStatusFrozen, f.entries(x.ID)[0].Status)
	assert.Equal(t, domain.PoolStatusFrozen, f.payment(x.ID).PoolStatus)
	assert.Equal(t, domain.TransactionStatusCompleted, f.entries(y.ID)[0].Status)
	assert.Empty(t, f.entries(y.ID)[0].Metadata.String("frozen_by"))
	assert.Equal(t, domain.PoolStatusInPool, f.payment(y.ID).PoolStatus)

	// A dispute that is opened and dismissed leaves the admin freeze too.
	d, err := f.svc.OpenDispute(ctx, f.contract.ID, f.owner, "Dam was not presented for breeding", now)
	require.NoError(t, err)
	_, err = f.svc.DismissDispute(ctx, d.ID, admin, "", now)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStatusFrozen, f.payment(x.ID).PoolStatus)
	assert.Equal(t, domain.PoolStatusInPool, f.payment(y.ID).PoolStatus)

	_, err = f.svc.UnfreezeTransaction(ctx, held.ID, admin, now)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStatusInPool, f.payment(x.ID).PoolStatus)
	f.reconciled()
}

// --- Disputes ---

func TestOpenDispute_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stranger := uuid.New()

	_, err := f.svc.OpenDispute(ctx, f.contract.ID, f.requester, "   too short   ", now)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidDisputeReason)

	_, err = f.svc.OpenDispute(ctx, f.contract.ID, stranger, "I was never part of this contract", now)
	assert.ErrorIs(t, err, pkgerrors.ErrNotContractParty)

	_, err = f.svc.OpenDispute(ctx, uuid.New(), f.requester, "Contract does not exist at all", now)
	assert.ErrorIs(t, err, pkgerrors.ErrContractNotFound)

	f.contract.Status = domain.ContractStatusPending
	f.store.PutContract(f.contract)
	_, err = f.svc.OpenDispute(ctx, f.contract.ID, f.requester, "Pending contracts cannot be disputed", now)
	assert.ErrorIs(t, err, pkgerrors.ErrContractNotDisputable)

	f.contract.Status = domain.ContractStatusFulfilled
	f.store.PutContract(f.contract)
	_, err = f.svc.OpenDispute(ctx, f.contract.ID, f.shooter, "Shooter was not paid for the session", now)
	require.NoError(t, err)
	_, err = f.svc.OpenDispute(ctx, f.contract.ID, f.owner, "A second dispute on the same contract", now)
	assert.ErrorIs(t, err, pkgerrors.ErrDisputeAlreadyActive)
}

func TestOpenDispute_FreezesFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")

	d, err := f.svc.OpenDispute(ctx, f.contract.ID, f.owner, "  Dam was not presented for breeding  ", now)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusOpen, d.Status)
	assert.Equal(t, "Dam was not presented for breeding", d.Reason)

	assert.Equal(t, domain.PoolStatusFrozen, f.payment(x.ID).PoolStatus)
	assert.Equal(t, domain.TransactionStatusFrozen, f.entries(x.ID)[0].Status)
	assertDecimal(t, "1000", f.balance())

	summary, err := f.svc.GetContractPoolSummary(ctx, f.contract.ID)
	require.NoError(t, err)
	assert.True(t, summary.HasDispute)
}

func TestDisputeLifecycle_ReviewAndDismiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")

	d, err := f.svc.OpenDispute(ctx, f.contract.ID, f.owner, "Dam was not presented for breeding", now)
	require.NoError(t, err)

	d, err = f.svc.MarkUnderReview(ctx, d.ID, admin, now)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusUnderReview, d.Status)
	require.NotNil(t, d.ReviewedAt)

	_, err = f.svc.MarkUnderReview(ctx, d.ID, admin, now)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransition)

	d, err = f.svc.DismissDispute(ctx, d.ID, admin, "No evidence provided", now)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusDismissed, d.Status)
	require.NotNil(t, d.ResolutionNotes)
	assert.Equal(t, "No evidence provided", *d.ResolutionNotes)
	assert.Equal(t, domain.PoolStatusInPool, f.payment(x.ID).PoolStatus)

	_, err = f.svc.DismissDispute(ctx, d.ID, admin, "", now)
	assert.ErrorIs(t, err, pkgerrors.ErrDisputeClosed)
	f.reconciled()
}

func TestResolveDispute_RefundFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	y := f.pooled(f.owner, domain.PaymentTypeCollateral, "1000")
	f.refundOK(x, 100000)
	f.refundOK(y, 100000)

	d, err := f.svc.OpenDispute(ctx, f.contract.ID, f.requester, "Owner withdrew the stud after acceptance", now)
	require.NoError(t, err)

	res, err := f.svc.ResolveDispute(ctx, d.ID, domain.RefundFull{}, admin, "Both parties refunded", now)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusResolved, res.Dispute.Status)
	require.NotNil(t, res.Dispute.ResolutionType)
	assert.Equal(t, domain.ResolutionRefundFull, *res.Dispute.ResolutionType)
	assert.Equal(t, 2, res.Result.Succeeded)

	assert.Equal(t, domain.PoolStatusRefunded, f.payment(x.ID).PoolStatus)
	assert.Equal(t, domain.PoolStatusRefunded, f.payment(y.ID).PoolStatus)
	assertDecimal(t, "0", f.balance())

	_, err = f.svc.ResolveDispute(ctx, d.ID, domain.RefundFull{}, admin, "", now)
	assert.ErrorIs(t, err, pkgerrors.ErrDisputeClosed)
	f.reconciled()
}

func TestResolveDispute_Forfeit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	comp := f.pooled(f.requester, domain.PaymentTypeMonetaryCompensation, "200")
	y := f.pooled(f.owner, domain.PaymentTypeCollateral, "1000")
	f.refundOK(y, 100000)

	d, err := f.svc.OpenDispute(ctx, f.contract.ID, f.requester, "Claim found to be made in bad faith", now)
	require.NoError(t, err)

	res, err := f.svc.ResolveDispute(ctx, d.ID, domain.Forfeit{}, admin, "", now)
	require.NoError(t, err)
	require.True(t, res.Dispute.ResolvedAmount.Valid)
	assertDecimal(t, "1200", res.Dispute.ResolvedAmount.Decimal)
	assert.Equal(t, 1, res.Result.Succeeded)

	assert.Equal(t, domain.PoolStatusReleased, f.payment(x.ID).PoolStatus)
	assert.Equal(t, domain.PoolStatusReleased, f.payment(comp.ID).PoolStatus)
	assert.Equal(t, domain.PoolStatusRefunded, f.payment(y.ID).PoolStatus)
	assert.Equal(t, domain.TransactionTypeFeeDeduction, f.entries(x.ID)[1].Type)

	// Forfeited funds stay in the pool as platform revenue.
	assertDecimal(t, "1200", f.balance())
	rev, err := f.svc.GetRevenueByType(ctx)
	require.NoError(t, err)
	assertDecimal(t, "1200", rev.Forfeits)
	f.gw.AssertNumberOfCalls(t, "CreateRefund", 1)
	f.reconciled()
}

func TestResolveDispute_RefundPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	y := f.pooled(f.owner, domain.PaymentTypeCollateral, "1000")
	f.refundOK(x, 40000)

	d, err := f.svc.OpenDispute(ctx, f.contract.ID, f.requester, "Only part of the service was delivered", now)
	require.NoError(t, err)

	for _, amount := range []string{"0", "-5", "1000.01", "10.005"} {
		_, err := f.svc.ResolveDispute(ctx, d.ID, domain.RefundPartial{Amount: dec(amount)}, admin, "", now)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidRefundAmount, amount)
	}
	_, err = f.svc.ResolveDispute(ctx, d.ID, nil, admin, "", now)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidResolution)

	// Rejected resolutions leave the dispute active and the funds frozen.
	active, err := f.store.ActiveDispute(ctx, f.contract.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, domain.PoolStatusFrozen, f.payment(x.ID).PoolStatus)

	res, err := f.svc.ResolveDispute(ctx, d.ID, domain.RefundPartial{Amount: dec("400")}, admin, "", now)
	require.NoError(t, err)
	assertDecimal(t, "400", res.Dispute.ResolvedAmount.Decimal)
	assert.Equal(t, domain.PoolStatusPartiallyRefunded, f.payment(x.ID).PoolStatus)
	assert.Equal(t, domain.PoolStatusInPool, f.payment(y.ID).PoolStatus)
	assertDecimal(t, "1600", f.balance())
	f.gw.AssertExpectations(t)
	f.reconciled()
}

func TestResolveDispute_ReleaseFundsUnfreezes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")

	d, err := f.svc.OpenDispute(ctx, f.contract.ID, f.owner, "Paperwork was missing at handover", now)
	require.NoError(t, err)

	res, err := f.svc.ResolveDispute(ctx, d.ID, domain.ReleaseFunds{}, uuid.New(), "", now)
	require.NoError(t, err)
	assert.True(t, res.Result.Nothing())
	assert.Equal(t, "Funds unfrozen and available for normal release", res.Result.Message)
	assert.Equal(t, domain.PoolStatusInPool, f.payment(x.ID).PoolStatus)

	f.refundOK(x, 100000)
	rel, err := f.svc.ReleaseCollateral(ctx, f.contract.ID, nil, now)
	require.NoError(t, err)
	assert.Equal(t, 1, rel.Succeeded)
}

func TestResolveDispute_RefundsSurviveCancelledRequest(t *testing.T) {
	f := newFixture(t)
	admin := uuid.New()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	y := f.pooled(f.owner, domain.PaymentTypeCollateral, "1000")
	f.refundOK(x, 100000)
	f.refundOK(y, 100000)

	d, err := f.svc.OpenDispute(context.Background(), f.contract.ID, f.requester, "Owner withdrew the stud after acceptance", now)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := &interruptingRepo{Repository: f.store, onResolved: cancel}
	svc := pool.NewService(repo, f.gw, nil, f.hub, pool.Config{}, logger.NewNop())

	res, err := svc.ResolveDispute(ctx, d.ID, domain.RefundFull{}, admin, "", now)
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.Equal(t, domain.DisputeStatusResolved, res.Dispute.Status)
	assert.Equal(t, 2, res.Result.Succeeded)
	assert.Zero(t, res.Result.Failed)

	assert.Equal(t, domain.PoolStatusRefunded, f.payment(x.ID).PoolStatus)
	assert.Equal(t, domain.PoolStatusRefunded, f.payment(y.ID).PoolStatus)
	assertDecimal(t, "0", f.balance())
	f.reconciled()
}

func TestResolveDispute_InterruptedPayoutStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	y := f.pooled(f.owner, domain.PaymentTypeCollateral, "1000")

	d, err := f.svc.OpenDispute(ctx, f.contract.ID, f.requester, "Owner withdrew the stud after acceptance", now)
	require.NoError(t, err)

	repo := &interruptingRepo{Repository: f.store}
	repo.setClaimErr(errors.New("connection reset by peer"))
	svc := pool.NewService(repo, f.gw, nil, f.hub, pool.Config{}, logger.NewNop())

	res, err := svc.ResolveDispute(ctx, d.ID, domain.RefundFull{}, admin, "", now)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusResolved, res.Dispute.Status)
	assert.Equal(t, 2, res.Result.Pending)
	assert.True(t, res.Result.NeedsRetry())
	f.gw.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything)

	// The refund is on the ledger even though no payout ran.
	for _, p := range []*domain.Payment{x, y} {
		entries := f.entries(p.ID)
		require.Len(t, entries, 2)
		refund := entries[1]
		assert.Equal(t, domain.TransactionTypeRefund, refund.Type)
		assert.Equal(t, domain.TransactionStatusPending, refund.Status)
		assert.Equal(t, d.ID.String(), refund.Metadata.String("dispute_id"))
		assert.Equal(t, "refunded", refund.Metadata.String("target_pool_status"))
		assert.Equal(t, domain.PoolStatusInPool, f.payment(p.ID).PoolStatus)
	}
	assertDecimal(t, "2000", f.balance())
	assert.Empty(t, f.store.Claims())

	repo.setClaimErr(nil)
	f.refundOK(x, 100000)
	f.refundOK(y, 100000)
	batch, err := f.svc.RetryPendingReleases(ctx, 10, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Succeeded)

	assert.Equal(t, domain.PoolStatusRefunded, f.payment(x.ID).PoolStatus)
	assert.Equal(t, domain.PoolStatusRefunded, f.payment(y.ID).PoolStatus)
	assertDecimal(t, "0", f.balance())
	f.reconciled()
}

// --- Admin ---

func TestForceRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	deposit := f.entries(x.ID)[0]
	_, err := f.svc.FreezeTransaction(ctx, deposit.ID, admin, now)
	require.NoError(t, err)
	f.refundOK(x, 100000)

	item, err := f.svc.ForceRelease(ctx, deposit.ID, admin, now)
	require.NoError(t, err)
	assert.Equal(t, pool.OutcomeSucceeded, item.Outcome)
	assert.Equal(t, domain.PoolStatusRefunded, f.payment(x.ID).PoolStatus)
	assert.Equal(t, domain.TransactionStatusCompleted, f.entries(x.ID)[0].Status)

	refund := f.entries(x.ID)[1]
	_, err = f.svc.ForceRelease(ctx, refund.ID, admin, now)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFundingEntry)
	_, err = f.svc.ForceRelease(ctx, deposit.ID, admin, now)
	assert.ErrorIs(t, err, pkgerrors.ErrPaymentNotInPool)
	f.reconciled()
}

// --- Reporting ---

func TestGetPoolStatistics_GrowthAndCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := newMapCache()
	f.withCache(c)

	lastMonth := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	old := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000", lastMonth)
	f.pooled(f.owner, domain.PaymentTypeCollateral, "1500", now)
	f.refundOK(old, 100000)
	_, err := f.svc.ForceRelease(ctx, f.entries(old.ID)[0].ID, uuid.New(), now)
	require.NoError(t, err)

	stats, err := f.svc.GetPoolStatistics(ctx, now)
	require.NoError(t, err)
	assertDecimal(t, "1500", stats.TotalBalance)
	assertDecimal(t, "1500", stats.DepositsThisMonth)
	assert.Equal(t, 1, stats.DepositsCountThisMonth)
	assertDecimal(t, "50", stats.DepositsGrowth)
	assertDecimal(t, "1000", stats.ReleasesThisMonth)
	assertDecimal(t, "100", stats.ReleasesGrowth)

	_, err = f.svc.GetPoolStatistics(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, c.hits)

	f.pooled(f.shooter, domain.PaymentTypeShooterCollateral, "10", now)
	stats, err = f.svc.GetPoolStatistics(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, c.hits)
	assertDecimal(t, "1510", stats.TotalBalance)
}

func TestGetMonthlyPoolFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000", time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC))
	f.pooled(f.owner, domain.PaymentTypeCollateral, "1500", now)
	f.refundOK(old, 100000)
	_, err := f.svc.ForceRelease(ctx, f.entries(old.ID)[0].ID, uuid.New(), now)
	require.NoError(t, err)

	flow, err := f.svc.GetMonthlyPoolFlow(ctx, now, 3)
	require.NoError(t, err)
	require.Len(t, flow, 3)
	assert.Equal(t, "Mar 2026", flow[0].Month)
	assert.Equal(t, "Apr 2026", flow[1].Month)
	assert.Equal(t, "May 2026", flow[2].Month)
	assertDecimal(t, "0", flow[0].Deposits)
	assertDecimal(t, "1000", flow[1].Deposits)
	assertDecimal(t, "1500", flow[2].Deposits)
	assertDecimal(t, "1000", flow[2].Releases)

	flow, err = f.svc.GetMonthlyPoolFlow(ctx, now, 0)
	require.NoError(t, err)
	assert.Len(t, flow, 12)
}

func TestListTransactions_Paging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.pooled(f.requester, domain.PaymentTypeCollateral, "10", now.Add(time.Duration(i)*time.Minute))
	}

	page, err := f.svc.ListTransactions(ctx, domain.TransactionFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Transactions, 2)
	assert.True(t, page.Transactions[0].CreatedAt.After(page.Transactions[1].CreatedAt))

	page, err = f.svc.ListTransactions(ctx, domain.TransactionFilter{Limit: 10000})
	require.NoError(t, err)
	assert.Equal(t, 500, page.Limit)

	page, err = f.svc.ListTransactions(ctx, domain.TransactionFilter{UserID: &f.owner})
	require.NoError(t, err)
	assert.Equal(t, 50, page.Limit)
	assert.NotNil(t, page.Transactions)
	assert.Empty(t, page.Transactions)
}

func TestExportTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1234.5")

	var buf bytes.Buffer
	n, err := f.svc.ExportTransactions(ctx, &buf, domain.TransactionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, pool.ExportHeader, rows[0])
	row := rows[1]
	assert.Equal(t, now.Format("2006-01-02 15:04:05"), row[1])
	assert.Equal(t, x.UserID.String(), row[2])
	assert.Equal(t, f.contract.ID.String(), row[3])
	assert.Equal(t, "Deposit", row[4])
	assert.Equal(t, "1234.50", row[5])
	assert.Equal(t, "Completed", row[7])
}

func TestReconcile_DetectsTampering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.pooled(f.requester, domain.PaymentTypeCollateral, "1000")
	f.reconciled()

	p := f.payment(x.ID)
	p.PoolStatus = domain.PoolStatusRefunded
	f.store.PutPayment(p)

	report, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.OK())
	require.Len(t, report.Payments, 1)
	assert.Equal(t, x.ID, report.Payments[0].PaymentID)
}
