package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pawpool/internal/domain"
	"pawpool/internal/pool"
	pkgerrors "pawpool/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ledgerLockKey is the advisory lock that serializes balance computation.
const ledgerLockKey = 7_204_118_351

const uniqueViolation = "23505"

// PoolRepository persists the pool ledger, payments, contracts and disputes
// in pool_schema.
type PoolRepository struct {
	reader
	db *sqlx.DB
}

var _ pool.Repository = (*PoolRepository)(nil)

// NewPoolRepository creates a new PoolRepository.
func NewPoolRepository(db *sqlx.DB) *PoolRepository {
	return &PoolRepository{reader: reader{q: db}, db: db}
}

// WithTx runs fn inside a database transaction.
func (r *PoolRepository) WithTx(ctx context.Context, fn func(pool.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&poolTx{reader: reader{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return pkgerrors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// UpsertContract stores the pool's copy of a contract.
func (r *PoolRepository) UpsertContract(ctx context.Context, c *domain.Contract) error {
	query := `
		INSERT INTO pool_schema.contracts (
			id, status, requester_id, owner_id, shooter_id,
			cancellation_fee_percentage, created_at, updated_at
		) VALUES (
			:id, :status, :requester_id, :owner_id, :shooter_id,
			:cancellation_fee_percentage, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			shooter_id = EXCLUDED.shooter_id,
			cancellation_fee_percentage = EXCLUDED.cancellation_fee_percentage,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return pkgerrors.Wrap(err, "failed to upsert contract")
	}
	return nil
}

// UpsertPayment stores the pool's copy of a payment. pool_status and
// gateway_refund_id are owned by the pool and never overwritten here.
func (r *PoolRepository) UpsertPayment(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO pool_schema.payments (
			id, user_id, contract_id, payment_type, amount, currency, status, pool_status,
			gateway_checkout_id, gateway_payment_id, gateway_refund_id, paid_at, created_at, updated_at
		) VALUES (
			:id, :user_id, :contract_id, :payment_type, :amount, :currency, :status, :pool_status,
			:gateway_checkout_id, :gateway_payment_id, :gateway_refund_id, :paid_at, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			gateway_checkout_id = EXCLUDED.gateway_checkout_id,
			gateway_payment_id = EXCLUDED.gateway_payment_id,
			paid_at = EXCLUDED.paid_at,
			updated_at = EXCLUDED.updated_at
	`
	if p.PoolStatus == "" {
		p.PoolStatus = domain.PoolStatusNotPooled
	}
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return pkgerrors.Wrap(err, "failed to upsert payment")
	}
	return nil
}

// reader implements pool.Reader against either the pool or a transaction.
type reader struct {
	q sqlx.ExtContext
}

func (r reader) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	var p domain.Payment
	err := sqlx.GetContext(ctx, r.q, &p, `SELECT * FROM pool_schema.payments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrPaymentNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get payment")
	}
	return &p, nil
}

func (r reader) ListContractPayments(ctx context.Context, contractID uuid.UUID) ([]*domain.Payment, error) {
	var out []*domain.Payment
	err := sqlx.SelectContext(ctx, r.q, &out, `
		SELECT * FROM pool_schema.payments
		WHERE contract_id = $1
		ORDER BY created_at, id
	`, contractID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list contract payments")
	}
	return out, nil
}

func (r reader) ListPoolPayments(ctx context.Context) ([]*domain.Payment, error) {
	var out []*domain.Payment
	err := sqlx.SelectContext(ctx, r.q, &out, `
		SELECT * FROM pool_schema.payments
		WHERE payment_type = ANY($1)
		ORDER BY created_at, id
	`, pq.Array([]string{
		string(domain.PaymentTypeCollateral),
		string(domain.PaymentTypeShooterPayment),
		string(domain.PaymentTypeMonetaryCompensation),
		string(domain.PaymentTypeShooterCollateral),
	}))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list pool payments")
	}
	return out, nil
}

func (r reader) GetContract(ctx context.Context, id uuid.UUID) (*domain.Contract, error) {
	var c domain.Contract
	err := sqlx.GetContext(ctx, r.q, &c, `SELECT * FROM pool_schema.contracts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrContractNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get contract")
	}
	return &c, nil
}

func (r reader) GetDispute(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	var d domain.Dispute
	err := sqlx.GetContext(ctx, r.q, &d, `SELECT * FROM pool_schema.disputes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrDisputeNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get dispute")
	}
	return &d, nil
}

func (r reader) ActiveDispute(ctx context.Context, contractID uuid.UUID) (*domain.Dispute, error) {
	var d domain.Dispute
	err := sqlx.GetContext(ctx, r.q, &d, `
		SELECT * FROM pool_schema.disputes
		WHERE contract_id = $1 AND status IN ('open', 'under_review')
		LIMIT 1
	`, contractID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get active dispute")
	}
	return &d, nil
}

func (r reader) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.PoolTransaction, error) {
	var t domain.PoolTransaction
	err := sqlx.GetContext(ctx, r.q, &t, `SELECT * FROM pool_schema.pool_transactions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get pool transaction")
	}
	return &t, nil
}

func (r reader) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]*domain.PoolTransaction, error) {
	where, args := filterClause(f)
	order := "created_at DESC, sequence DESC NULLS FIRST"
	if f.Oldest {
		order = "created_at ASC, sequence ASC NULLS LAST"
	}
	query := fmt.Sprintf("SELECT * FROM pool_schema.pool_transactions%s ORDER BY %s", where, order)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var out []*domain.PoolTransaction
	if err := sqlx.SelectContext(ctx, r.q, &out, query, args...); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list pool transactions")
	}
	return out, nil
}

func (r reader) CountTransactions(ctx context.Context, f domain.TransactionFilter) (int, error) {
	where, args := filterClause(f)
	var n int
	if err := sqlx.GetContext(ctx, r.q, &n, "SELECT COUNT(*) FROM pool_schema.pool_transactions"+where, args...); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to count pool transactions")
	}
	return n, nil
}

func (r reader) Totals(ctx context.Context, f domain.TransactionFilter) ([]domain.TransactionTotal, error) {
	where, args := filterClause(f)
	query := fmt.Sprintf(`
		SELECT type, status, COALESCE(SUM(amount), 0) AS amount, COUNT(*) AS count
		FROM pool_schema.pool_transactions%s
		GROUP BY type, status
		ORDER BY type, status
	`, where)

	var out []domain.TransactionTotal
	if err := sqlx.SelectContext(ctx, r.q, &out, query, args...); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to total pool transactions")
	}
	return out, nil
}

func (r reader) DepositsByPaymentType(ctx context.Context) (map[string]decimal.Decimal, error) {
	var rows []struct {
		PaymentType string          `db:"payment_type"`
		Amount      decimal.Decimal `db:"amount"`
	}
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT COALESCE(NULLIF(metadata->>'payment_type', ''), 'unknown') AS payment_type,
		       SUM(amount) AS amount
		FROM pool_schema.pool_transactions
		WHERE type IN ('deposit', 'hold') AND status = 'completed'
		GROUP BY 1
	`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to total deposits by payment type")
	}

	out := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		out[row.PaymentType] = row.Amount
	}
	return out, nil
}

// filterClause renders f as a WHERE clause with positional arguments.
// Limit and Offset are left to the caller.
func filterClause(f domain.TransactionFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ContractID != nil {
		add("contract_id = $%d", *f.ContractID)
	}
	if f.PaymentID != nil {
		add("payment_id = $%d", *f.PaymentID)
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("type = ANY($%d)", pq.Array(types))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// poolTx implements pool.Tx on an open database transaction.
type poolTx struct {
	reader
	tx *sqlx.Tx
}

func (t *poolTx) LockLedger(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return pkgerrors.Wrap(err, "failed to lock pool ledger")
	}
	return nil
}

func (t *poolTx) NextSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := t.tx.GetContext(ctx, &seq, `SELECT nextval('pool_schema.pool_ledger_seq')`); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to allocate ledger sequence")
	}
	return seq, nil
}

func (t *poolTx) LockPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	var p domain.Payment
	err := t.tx.GetContext(ctx, &p, `SELECT * FROM pool_schema.payments WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrPaymentNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to lock payment")
	}
	return &p, nil
}

func (t *poolTx) InsertTransaction(ctx context.Context, e *domain.PoolTransaction) error {
	query := `
		INSERT INTO pool_schema.pool_transactions (
			id, sequence, payment_id, contract_id, user_id, type, amount, currency,
			balance_after, status, description, metadata, processed_at, processed_by,
			created_at, updated_at
		) VALUES (
			:id, :sequence, :payment_id, :contract_id, :user_id, :type, :amount, :currency,
			:balance_after, :status, :description, :metadata, :processed_at, :processed_by,
			:created_at, :updated_at
		)
	`
	if e.Metadata == nil {
		e.Metadata = domain.Metadata{}
	}
	if _, err := t.tx.NamedExecContext(ctx, query, e); err != nil {
		return pkgerrors.Wrap(err, "failed to insert pool transaction")
	}
	return nil
}

func (t *poolTx) UpdateTransaction(ctx context.Context, e *domain.PoolTransaction) error {
	query := `
		UPDATE pool_schema.pool_transactions SET
			type = :type,
			status = :status,
			sequence = :sequence,
			balance_after = :balance_after,
			description = :description,
			metadata = :metadata,
			processed_at = :processed_at,
			processed_by = :processed_by,
			updated_at = :updated_at
		WHERE id = :id
	`
	if e.Metadata == nil {
		e.Metadata = domain.Metadata{}
	}
	res, err := t.tx.NamedExecContext(ctx, query, e)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to update pool transaction")
	}
	return expectRow(res, pkgerrors.ErrTransactionNotFound)
}

func (t *poolTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE pool_schema.payments
		SET status = $1, pool_status = $2, gateway_refund_id = $3, updated_at = $4
		WHERE id = $5
	`, p.Status, p.PoolStatus, p.GatewayRefundID, p.UpdatedAt, p.ID)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to update payment")
	}
	return expectRow(res, pkgerrors.ErrPaymentNotFound)
}

func (t *poolTx) SetContractPoolStatus(ctx context.Context, contractID uuid.UUID, from, to domain.PoolStatus, at time.Time) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE pool_schema.payments
		SET pool_status = $1, updated_at = $2
		WHERE contract_id = $3 AND pool_status = $4
	`, to, at, contractID, from)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to update contract payments")
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (t *poolTx) CreateDispute(ctx context.Context, d *domain.Dispute) error {
	query := `
		INSERT INTO pool_schema.disputes (
			id, contract_id, raised_by, resolved_by, reason, resolution_notes, status,
			resolution_type, resolved_amount, reviewed_at, resolved_at, created_at, updated_at
		) VALUES (
			:id, :contract_id, :raised_by, :resolved_by, :reason, :resolution_notes, :status,
			:resolution_type, :resolved_amount, :reviewed_at, :resolved_at, :created_at, :updated_at
		)
	`
	if _, err := t.tx.NamedExecContext(ctx, query, d); err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrDisputeAlreadyActive
		}
		return pkgerrors.Wrap(err, "failed to create dispute")
	}
	return nil
}

func (t *poolTx) UpdateDispute(ctx context.Context, d *domain.Dispute) error {
	query := `
		UPDATE pool_schema.disputes SET
			status = :status,
			resolved_by = :resolved_by,
			resolution_notes = :resolution_notes,
			resolution_type = :resolution_type,
			resolved_amount = :resolved_amount,
			reviewed_at = :reviewed_at,
			resolved_at = :resolved_at,
			updated_at = :updated_at
		WHERE id = :id
	`
	res, err := t.tx.NamedExecContext(ctx, query, d)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to update dispute")
	}
	return expectRow(res, pkgerrors.ErrDisputeNotFound)
}

func (t *poolTx) ClaimRelease(ctx context.Context, paymentID uuid.UUID, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO pool_schema.release_claims (payment_id, claimed_at) VALUES ($1, $2)
	`, paymentID, at)
	if isUniqueViolation(err) {
		return pkgerrors.ErrReleaseInProgress
	}
	if err != nil {
		return pkgerrors.Wrap(err, "failed to claim release")
	}
	return nil
}

func (t *poolTx) DeleteReleaseClaim(ctx context.Context, paymentID uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM pool_schema.release_claims WHERE payment_id = $1`, paymentID); err != nil {
		return pkgerrors.Wrap(err, "failed to delete release claim")
	}
	return nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
