package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the hand-written statements for both dialects. Statements
// use ? placeholders and are rebound per dialect.
type Queries struct {
	db      DBTX
	dialect Dialect
}

func New(db DBTX, d Dialect) *Queries {
	return &Queries{db: db, dialect: d}
}

type Transaction struct {
	ID          int64
	UserID      int64
	Date        string
	Kind        string
	PaymentMode string
	Category    string
	Description string
	AmountCents int64
	Version     int64
	SyncStatus  string
}

type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

const transactionColumns = `id, user_id, date, kind, payment_mode, category, description, amount_cents, version, sync_status`

func scanTransaction(row interface{ Scan(...interface{}) error }) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Date, &t.Kind, &t.PaymentMode, &t.Category,
		&t.Description, &t.AmountCents, &t.Version, &t.SyncStatus)
	return t, err
}

type CreateTransactionParams struct {
	UserID      int64
	Date        string
	Kind        string
	PaymentMode string
	Category    string
	Description string
	AmountCents int64
}

const createTransaction = `INSERT INTO transactions (user_id, date, kind, payment_mode, category, description, amount_cents)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING ` + transactionColumns

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (Transaction, error) {
	row := q.db.QueryRowContext(ctx, q.dialect.rebind(createTransaction),
		arg.UserID, arg.Date, arg.Kind, arg.PaymentMode, arg.Category, arg.Description, arg.AmountCents)
	return scanTransaction(row)
}

const getTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

func (q *Queries) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, q.dialect.rebind(getTransaction), id))
}

type UpdateTransactionParams struct {
	ID          int64
	Date        string
	Kind        string
	PaymentMode string
	Category    string
	Description string
	AmountCents int64
}

// updateTransaction bumps version and resets sync_status so the worker mirrors the new value.
const updateTransaction = `UPDATE transactions
SET date = ?, kind = ?, payment_mode = ?, category = ?, description = ?, amount_cents = ?,
    version = version + 1, sync_status = 'pending', updated_at = CURRENT_TIMESTAMP
WHERE id = ?`

func (q *Queries) UpdateTransaction(ctx context.Context, arg UpdateTransactionParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, q.dialect.rebind(updateTransaction),
		arg.Date, arg.Kind, arg.PaymentMode, arg.Category, arg.Description, arg.AmountCents, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteTransaction = `DELETE FROM transactions WHERE id = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, q.dialect.rebind(deleteTransaction), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type ListTransactionsParams struct {
	UserID int64
	Since  string // inclusive, empty for unbounded
	Until  string // inclusive, empty for unbounded
}

func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]Transaction, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ?`)
	args := []interface{}{arg.UserID}
	if arg.Since != "" {
		sb.WriteString(` AND date >= ?`)
		args = append(args, arg.Since)
	}
	if arg.Until != "" {
		sb.WriteString(` AND date <= ?`)
		args = append(args, arg.Until)
	}
	sb.WriteString(` ORDER BY date DESC, id ASC`)

	rows, err := q.db.QueryContext(ctx, q.dialect.rebind(sb.String()), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countCategory = `SELECT COUNT(*) FROM transactions WHERE user_id = ? AND category = ?`

func (q *Queries) CountCategory(ctx context.Context, userID int64, category string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, q.dialect.rebind(countCategory), userID, category).Scan(&n)
	return n, err
}

const getPendingSync = `SELECT id, version FROM transactions
WHERE sync_status IN ('pending', 'error')
ORDER BY updated_at, id
LIMIT ?`

type PendingSyncRow struct {
	ID      int64
	Version int64
}

func (q *Queries) GetPendingSync(ctx context.Context, limit int64) ([]PendingSyncRow, error) {
	rows, err := q.db.QueryContext(ctx, q.dialect.rebind(getPendingSync), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PendingSyncRow
	for rows.Next() {
		var r PendingSyncRow
		if err := rows.Scan(&r.ID, &r.Version); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// A stale version means the row changed after the message was queued; it stays pending.
const setSyncStatus = `UPDATE transactions SET sync_status = ? WHERE id = ? AND version = ?`

func (q *Queries) SetSyncStatus(ctx context.Context, id, version int64, status string) error {
	_, err := q.db.ExecContext(ctx, q.dialect.rebind(setSyncStatus), status, id, version)
	return err
}

const createAccount = `INSERT INTO accounts (username, password_hash, created_at)
VALUES (?, ?, ?)
RETURNING id`

func (q *Queries) CreateAccount(ctx context.Context, username, passwordHash string, createdAt time.Time) (Account, error) {
	a := Account{Username: username, PasswordHash: passwordHash, CreatedAt: createdAt}
	err := q.db.QueryRowContext(ctx, q.dialect.rebind(createAccount), username, passwordHash, createdAt).Scan(&a.ID)
	return a, err
}

const getAccountByUsername = `SELECT id, username, password_hash, created_at FROM accounts WHERE lower(username) = lower(?)`

func (q *Queries) GetAccountByUsername(ctx context.Context, username string) (Account, error) {
	var (
		a       Account
		created string
	)
	err := q.db.QueryRowContext(ctx, q.dialect.rebind(getAccountByUsername), username).
		Scan(&a.ID, &a.Username, &a.PasswordHash, &created)
	if err != nil {
		return a, err
	}
	a.CreatedAt = parseTimestamp(created)
	return a, nil
}

// Drivers hand timestamps back either as time.Time (rendered RFC 3339 by
// database/sql when scanned into a string) or as the text they were stored as.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
