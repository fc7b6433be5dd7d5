// Package memory is an in-process implementation of the pool repository for
// tests and local development. Transactions are serialized behind a single
// lock and rolled back by restoring a snapshot.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pawpool/internal/domain"
	"pawpool/internal/pool"
	pkgerrors "pawpool/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type state struct {
	contracts    map[uuid.UUID]*domain.Contract
	payments     map[uuid.UUID]*domain.Payment
	transactions []*domain.PoolTransaction
	txIndex      map[uuid.UUID]int
	disputes     map[uuid.UUID]*domain.Dispute
	claims       map[uuid.UUID]time.Time
	sequence     int64
}

func newState() *state {
	return &state{
		contracts: make(map[uuid.UUID]*domain.Contract),
		payments:  make(map[uuid.UUID]*domain.Payment),
		txIndex:   make(map[uuid.UUID]int),
		disputes:  make(map[uuid.UUID]*domain.Dispute),
		claims:    make(map[uuid.UUID]time.Time),
	}
}

// Store implements pool.Repository in memory.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ pool.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// PutContract inserts or replaces a contract.
func (s *Store) PutContract(c *domain.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.st.contracts[c.ID] = &cp
}

// PutPayment inserts or replaces a payment.
func (s *Store) PutPayment(p *domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.payments[p.ID] = clonePayment(p)
}

// Claims returns the payment ids with a release in flight.
func (s *Store) Claims() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, 0, len(s.st.claims))
	for id := range s.st.claims {
		out = append(out, id)
	}
	return out
}

// WithTx runs fn while holding the store lock. When fn fails every change
// it made is discarded.
func (s *Store) WithTx(ctx context.Context, fn func(pool.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&txView{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

func (s *Store) GetPayment(_ context.Context, id uuid.UUID) (p *domain.Payment, err error) {
	s.read(func(st *state) { p, err = st.getPayment(id) })
	return
}

func (s *Store) ListContractPayments(_ context.Context, contractID uuid.UUID) (out []*domain.Payment, err error) {
	s.read(func(st *state) { out = st.listContractPayments(contractID) })
	return
}

func (s *Store) ListPoolPayments(_ context.Context) (out []*domain.Payment, err error) {
	s.read(func(st *state) { out = st.listPoolPayments() })
	return
}

func (s *Store) GetContract(_ context.Context, id uuid.UUID) (c *domain.Contract, err error) {
	s.read(func(st *state) { c, err = st.getContract(id) })
	return
}

func (s *Store) GetDispute(_ context.Context, id uuid.UUID) (d *domain.Dispute, err error) {
	s.read(func(st *state) { d, err = st.getDispute(id) })
	return
}

func (s *Store) ActiveDispute(_ context.Context, contractID uuid.UUID) (d *domain.Dispute, err error) {
	s.read(func(st *state) { d = st.activeDispute(contractID) })
	return
}

func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (t *domain.PoolTransaction, err error) {
	s.read(func(st *state) { t, err = st.getTransaction(id) })
	return
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) (out []*domain.PoolTransaction, err error) {
	s.read(func(st *state) { out = st.listTransactions(filter) })
	return
}

func (s *Store) CountTransactions(_ context.Context, filter domain.TransactionFilter) (n int, err error) {
	s.read(func(st *state) { n = st.countTransactions(filter) })
	return
}

func (s *Store) Totals(_ context.Context, filter domain.TransactionFilter) (out []domain.TransactionTotal, err error) {
	s.read(func(st *state) { out = st.totals(filter) })
	return
}

func (s *Store) DepositsByPaymentType(_ context.Context) (out map[string]decimal.Decimal, err error) {
	s.read(func(st *state) { out = st.depositsByPaymentType() })
	return
}

// txView is the Tx handed to WithTx callbacks. The store lock is already held.
type txView struct {
	st *state
}

func (t *txView) GetPayment(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	return t.st.getPayment(id)
}

func (t *txView) ListContractPayments(_ context.Context, contractID uuid.UUID) ([]*domain.Payment, error) {
	return t.st.listContractPayments(contractID), nil
}

func (t *txView) ListPoolPayments(_ context.Context) ([]*domain.Payment, error) {
	return t.st.listPoolPayments(), nil
}

func (t *txView) GetContract(_ context.Context, id uuid.UUID) (*domain.Contract, error) {
	return t.st.getContract(id)
}

func (t *txView) GetDispute(_ context.Context, id uuid.UUID) (*domain.Dispute, error) {
	return t.st.getDispute(id)
}

func (t *txView) ActiveDispute(_ context.Context, contractID uuid.UUID) (*domain.Dispute, error) {
	return t.st.activeDispute(contractID), nil
}

func (t *txView) GetTransaction(_ context.Context, id uuid.UUID) (*domain.PoolTransaction, error) {
	return t.st.getTransaction(id)
}

func (t *txView) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]*domain.PoolTransaction, error) {
	return t.st.listTransactions(filter), nil
}

func (t *txView) CountTransactions(_ context.Context, filter domain.TransactionFilter) (int, error) {
	return t.st.countTransactions(filter), nil
}

func (t *txView) Totals(_ context.Context, filter domain.TransactionFilter) ([]domain.TransactionTotal, error) {
	return t.st.totals(filter), nil
}

func (t *txView) DepositsByPaymentType(_ context.Context) (map[string]decimal.Decimal, error) {
	return t.st.depositsByPaymentType(), nil
}

func (t *txView) LockLedger(context.Context) error { return nil }

func (t *txView) NextSequence(context.Context) (int64, error) {
	t.st.sequence++
	return t.st.sequence, nil
}

func (t *txView) LockPayment(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	return t.st.getPayment(id)
}

func (t *txView) InsertTransaction(_ context.Context, e *domain.PoolTransaction) error {
	if _, ok := t.st.txIndex[e.ID]; ok {
		return fmt.Errorf("pool transaction %s already exists", e.ID)
	}
	t.st.txIndex[e.ID] = len(t.st.transactions)
	t.st.transactions = append(t.st.transactions, cloneTransaction(e))
	return nil
}

func (t *txView) UpdateTransaction(_ context.Context, e *domain.PoolTransaction) error {
	i, ok := t.st.txIndex[e.ID]
	if !ok {
		return pkgerrors.ErrTransactionNotFound
	}
	t.st.transactions[i] = cloneTransaction(e)
	return nil
}

func (t *txView) UpdatePayment(_ context.Context, p *domain.Payment) error {
	if _, ok := t.st.payments[p.ID]; !ok {
		return pkgerrors.ErrPaymentNotFound
	}
	t.st.payments[p.ID] = clonePayment(p)
	return nil
}

func (t *txView) SetContractPoolStatus(_ context.Context, contractID uuid.UUID, from, to domain.PoolStatus, at time.Time) (int, error) {
	n := 0
	for id, p := range t.st.payments {
		if !p.BelongsTo(contractID) || p.PoolStatus != from {
			continue
		}
		cp := clonePayment(p)
		cp.PoolStatus = to
		cp.UpdatedAt = at
		t.st.payments[id] = cp
		n++
	}
	return n, nil
}

func (t *txView) CreateDispute(_ context.Context, d *domain.Dispute) error {
	if d.Status.IsActive() && t.st.activeDispute(d.ContractID) != nil {
		return pkgerrors.ErrDisputeAlreadyActive
	}
	cp := *d
	t.st.disputes[d.ID] = &cp
	return nil
}

func (t *txView) UpdateDispute(_ context.Context, d *domain.Dispute) error {
	if _, ok := t.st.disputes[d.ID]; !ok {
		return pkgerrors.ErrDisputeNotFound
	}
	cp := *d
	t.st.disputes[d.ID] = &cp
	return nil
}

func (t *txView) ClaimRelease(_ context.Context, paymentID uuid.UUID, at time.Time) error {
	if _, ok := t.st.claims[paymentID]; ok {
		return pkgerrors.ErrReleaseInProgress
	}
	t.st.claims[paymentID] = at
	return nil
}

func (t *txView) DeleteReleaseClaim(_ context.Context, paymentID uuid.UUID) error {
	delete(t.st.claims, paymentID)
	return nil
}

func (st *state) getPayment(id uuid.UUID) (*domain.Payment, error) {
	p, ok := st.payments[id]
	if !ok {
		return nil, pkgerrors.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (st *state) listContractPayments(contractID uuid.UUID) []*domain.Payment {
	var out []*domain.Payment
	for _, p := range st.payments {
		if p.BelongsTo(contractID) {
			out = append(out, clonePayment(p))
		}
	}
	sortPayments(out)
	return out
}

func (st *state) listPoolPayments() []*domain.Payment {
	var out []*domain.Payment
	for _, p := range st.payments {
		if p.IsPoolable() {
			out = append(out, clonePayment(p))
		}
	}
	sortPayments(out)
	return out
}

func (st *state) getContract(id uuid.UUID) (*domain.Contract, error) {
	c, ok := st.contracts[id]
	if !ok {
		return nil, pkgerrors.ErrContractNotFound
	}
	cp := *c
	return &cp, nil
}

func (st *state) getDispute(id uuid.UUID) (*domain.Dispute, error) {
	d, ok := st.disputes[id]
	if !ok {
		return nil, pkgerrors.ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (st *state) activeDispute(contractID uuid.UUID) *domain.Dispute {
	for _, d := range st.disputes {
		if d.ContractID == contractID && d.IsActive() {
			cp := *d
			return &cp
		}
	}
	return nil
}

func (st *state) getTransaction(id uuid.UUID) (*domain.PoolTransaction, error) {
	i, ok := st.txIndex[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	return cloneTransaction(st.transactions[i]), nil
}

// matching returns the entries selected by filter in insertion order.
func (st *state) matching(f domain.TransactionFilter) []*domain.PoolTransaction {
	var out []*domain.PoolTransaction
	for _, e := range st.transactions {
		if f.ContractID != nil && (e.ContractID == nil || *e.ContractID != *f.ContractID) {
			continue
		}
		if f.PaymentID != nil && e.PaymentID != *f.PaymentID {
			continue
		}
		if f.UserID != nil && e.UserID != *f.UserID {
			continue
		}
		if len(f.Types) > 0 && !hasType(f.Types, e.Type) {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, e.Status) {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !e.CreatedAt.Before(*f.To) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (st *state) listTransactions(f domain.TransactionFilter) []*domain.PoolTransaction {
	matched := st.matching(f)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if !f.Oldest {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	out := make([]*domain.PoolTransaction, len(matched))
	for i, e := range matched {
		out[i] = cloneTransaction(e)
	}
	return out
}

func (st *state) countTransactions(f domain.TransactionFilter) int {
	return len(st.matching(f))
}

func (st *state) totals(f domain.TransactionFilter) []domain.TransactionTotal {
	type key struct {
		t domain.TransactionType
		s domain.TransactionStatus
	}
	sums := make(map[key]*domain.TransactionTotal)
	for _, e := range st.matching(f) {
		k := key{e.Type, e.Status}
		t, ok := sums[k]
		if !ok {
			t = &domain.TransactionTotal{Type: e.Type, Status: e.Status, Amount: decimal.Zero}
			sums[k] = t
		}
		t.Amount = t.Amount.Add(e.Amount)
		t.Count++
	}

	out := make([]domain.TransactionTotal, 0, len(sums))
	for _, t := range sums {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Status < out[j].Status
	})
	return out
}

func (st *state) depositsByPaymentType() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, e := range st.transactions {
		if !e.Type.IsFunding() || e.Status != domain.TransactionStatusCompleted {
			continue
		}
		key := e.Metadata.String("payment_type")
		if key == "" {
			key = "unknown"
		}
		out[key] = out[key].Add(e.Amount)
	}
	return out
}

func (st *state) clone() *state {
	cp := newState()
	for id, c := range st.contracts {
		cc := *c
		cp.contracts[id] = &cc
	}
	for id, p := range st.payments {
		cp.payments[id] = clonePayment(p)
	}
	cp.transactions = make([]*domain.PoolTransaction, len(st.transactions))
	for i, e := range st.transactions {
		cp.transactions[i] = cloneTransaction(e)
	}
	for id, i := range st.txIndex {
		cp.txIndex[id] = i
	}
	for id, d := range st.disputes {
		dd := *d
		cp.disputes[id] = &dd
	}
	for id, at := range st.claims {
		cp.claims[id] = at
	}
	cp.sequence = st.sequence
	return cp
}

func clonePayment(p *domain.Payment) *domain.Payment {
	cp := *p
	return &cp
}

func cloneTransaction(e *domain.PoolTransaction) *domain.PoolTransaction {
	cp := *e
	if e.Sequence != nil {
		seq := *e.Sequence
		cp.Sequence = &seq
	}
	if e.Metadata != nil {
		cp.Metadata = e.Metadata.Merge(nil)
	}
	return &cp
}

func sortPayments(ps []*domain.Payment) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID.String() < ps[j].ID.String()
	})
}

func hasType(types []domain.TransactionType, t domain.TransactionType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func hasStatus(statuses []domain.TransactionStatus, s domain.TransactionStatus) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}
