package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store owns all balance mutations. Every write path runs inside a single
// transaction with the wallet row locked, so concurrent withdrawals against
// the same balance serialize and can never overdraft.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const withdrawalColumns = `
    w.id, w.user_id, u.name, w.hash, w.bolt11,
    w.msats_paying, w.msats_fee_paying, w.msats_paid, w.msats_fee_paid,
    w.status, w.failure_reason, w.created_at, w.updated_at`

// CreateWithdrawal reserves funds and opens a pending withdrawal in one
// transaction: the wallet is locked, checked against amount + max fee,
// debited, and the row inserted. No partial state survives a failure.
func (s *Store) CreateWithdrawal(ctx context.Context, input CreateWithdrawalInput) (Withdrawal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Withdrawal{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var balance int64
	err = tx.QueryRow(ctx, `SELECT msats FROM wallets WHERE user_id = $1 FOR UPDATE`, input.UserID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Withdrawal{}, ErrNotFound
		}
		return Withdrawal{}, err
	}

	reserved := input.MsatsPaying + input.MsatsFeePaying
	if balance < reserved {
		return Withdrawal{}, ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, `UPDATE wallets SET msats = msats - $1 WHERE user_id = $2`, reserved, input.UserID)
	if err != nil {
		return Withdrawal{}, err
	}

	var id string
	err = tx.QueryRow(ctx, `
        INSERT INTO withdrawals (user_id, hash, bolt11, msats_paying, msats_fee_paying, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `, input.UserID, input.Hash, input.Bolt11, input.MsatsPaying, input.MsatsFeePaying, StatusPending).Scan(&id)
	if err != nil {
		return Withdrawal{}, err
	}

	w, err := getWithdrawal(ctx, tx, id)
	if err != nil {
		return Withdrawal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Withdrawal{}, err
	}
	return w, nil
}

// ConfirmWithdrawal settles a pending withdrawal: records the amounts that
// actually left the node and returns the unused part of the fee reservation
// to the wallet. Re-confirming a confirmed withdrawal is a no-op; confirming
// a failed one is rejected with ErrAlreadySettled.
func (s *Store) ConfirmWithdrawal(ctx context.Context, id string, paidMsats, feeMsats int64) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var (
		userID    string
		status    string
		feePaying int64
	)
	err = tx.QueryRow(ctx, `
        SELECT user_id, status, msats_fee_paying FROM withdrawals WHERE id = $1 FOR UPDATE
    `, id).Scan(&userID, &status, &feePaying)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	switch status {
	case StatusConfirmed:
		return tx.Commit(ctx)
	case StatusFailed:
		return ErrAlreadySettled
	}

	_, err = tx.Exec(ctx, `
        UPDATE withdrawals
        SET status = $1, msats_paid = $2, msats_fee_paid = $3, updated_at = NOW()
        WHERE id = $4
    `, StatusConfirmed, paidMsats, feeMsats, id)
	if err != nil {
		return err
	}

	// only the actual routing fee is kept; the rest of the reservation
	// goes back to the user
	if surplus := feePaying - feeMsats; surplus > 0 {
		_, err = tx.Exec(ctx, `UPDATE wallets SET msats = msats + $1 WHERE user_id = $2`, surplus, userID)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ReverseWithdrawal marks a pending withdrawal failed and refunds the full
// reservation (amount + max fee). Re-reversing a failed withdrawal is a
// no-op; reversing a confirmed one is rejected with ErrAlreadySettled.
func (s *Store) ReverseWithdrawal(ctx context.Context, id, reason string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var (
		userID    string
		status    string
		paying    int64
		feePaying int64
	)
	err = tx.QueryRow(ctx, `
        SELECT user_id, status, msats_paying, msats_fee_paying FROM withdrawals WHERE id = $1 FOR UPDATE
    `, id).Scan(&userID, &status, &paying, &feePaying)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	switch status {
	case StatusFailed:
		return tx.Commit(ctx)
	case StatusConfirmed:
		return ErrAlreadySettled
	}

	_, err = tx.Exec(ctx, `
        UPDATE withdrawals
        SET status = $1, failure_reason = $2, updated_at = NOW()
        WHERE id = $3
    `, StatusFailed, reason, id)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `UPDATE wallets SET msats = msats + $1 WHERE user_id = $2`, paying+feePaying, userID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (Invoice, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
        INSERT INTO invoices (user_id, hash, bolt11, msats_requested, expires_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `, input.UserID, input.Hash, input.Bolt11, input.MsatsRequested, input.ExpiresAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return Invoice{}, ErrHashExists
		}
		return Invoice{}, err
	}
	return s.GetInvoice(ctx, id)
}

func (s *Store) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	var inv Invoice
	err := s.pool.QueryRow(ctx, `
        SELECT i.id, i.user_id, u.name, i.hash, i.bolt11, i.msats_requested, i.expires_at, i.created_at
        FROM invoices i JOIN users u ON u.id = i.user_id
        WHERE i.id = $1
    `, id).Scan(
		&inv.ID,
		&inv.UserID,
		&inv.UserName,
		&inv.Hash,
		&inv.Bolt11,
		&inv.MsatsRequested,
		&inv.ExpiresAt,
		&inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (Withdrawal, error) {
	w, err := getWithdrawal(ctx, s.pool, id)
	if err != nil {
		return Withdrawal{}, err
	}
	return w, nil
}

// ListWithdrawals returns the most recent withdrawals across all users.
func (s *Store) ListWithdrawals(ctx context.Context, limit int) ([]Withdrawal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
        SELECT `+withdrawalColumns+`
        FROM withdrawals w JOIN users u ON u.id = w.user_id
        ORDER BY w.created_at DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) GetWalletBalance(ctx context.Context, userID string) (int64, error) {
	var msats int64
	err := s.pool.QueryRow(ctx, `SELECT msats FROM wallets WHERE user_id = $1`, userID).Scan(&msats)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return msats, nil
}

// CreditWallet adds msats to a wallet, used by receive-invoice settlement
// and operator tooling.
func (s *Store) CreditWallet(ctx context.Context, userID string, msats int64) error {
	ct, err := s.pool.Exec(ctx, `UPDATE wallets SET msats = msats + $1 WHERE user_id = $2`, msats, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getWithdrawal(ctx context.Context, q queryRower, id string) (Withdrawal, error) {
	row := q.QueryRow(ctx, `
        SELECT `+withdrawalColumns+`
        FROM withdrawals w JOIN users u ON u.id = w.user_id
        WHERE w.id = $1
    `, id)
	w, err := scanWithdrawal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Withdrawal{}, ErrNotFound
		}
		return Withdrawal{}, err
	}
	return w, nil
}

func scanWithdrawal(row pgx.Row) (Withdrawal, error) {
	var w Withdrawal
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.UserName,
		&w.Hash,
		&w.Bolt11,
		&w.MsatsPaying,
		&w.MsatsFeePaying,
		&w.MsatsPaid,
		&w.MsatsFeePaid,
		&w.Status,
		&w.FailureReason,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	return w, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
