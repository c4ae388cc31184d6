package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

// Sync states of a transaction row relative to the spreadsheet mirror.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

// Repository is the SQL implementation of ledger.Store and ledger.AccountStore.
type Repository struct {
	db      *sql.DB
	queries *Queries
	dialect Dialect
}

var (
	_ ledger.Store        = (*Repository)(nil)
	_ ledger.AccountStore = (*Repository)(nil)
	_ ledger.Pinger       = (*Repository)(nil)
)

// NewSQLiteRepository opens (creating if needed) the database file at dbPath
// and applies migrations.
func NewSQLiteRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	return open(SQLite, dbPath)
}

// NewPostgresRepository connects to a PostgreSQL server. dsn is a
// postgres:// URL as understood by lib/pq.
func NewPostgresRepository(dsn string) (*Repository, error) {
	return open(Postgres, dsn)
}

func open(d Dialect, dsn string) (*Repository, error) {
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(d, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if d == SQLite {
		// a single writer avoids SQLITE_BUSY under concurrent requests
		db.SetMaxOpenConns(1)
	}

	return &Repository{db: db, queries: New(db, d), dialect: d}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) Dialect() Dialect { return r.dialect }

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Query(ctx context.Context, q ledger.Query) ([]core.Transaction, error) {
	arg := ListTransactionsParams{UserID: q.UserID}
	if q.Range.Start != nil {
		arg.Since = q.Range.Start.String()
	}
	if q.Range.End != nil {
		arg.Until = q.Range.End.String()
	}
	rows, err := r.queries.ListTransactions(ctx, arg)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (core.Transaction, error) {
	row, err := r.GetRow(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	return row.toDomain()
}

// GetRow returns the raw row including version and sync status.
func (r *Repository) GetRow(ctx context.Context, id int64) (Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, &core.NotFoundError{Resource: "transaction", ID: id}
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("get transaction by id: %w", err)
	}
	return row, nil
}

// GetVersioned returns the transaction together with its current version.
func (r *Repository) GetVersioned(ctx context.Context, id int64) (core.Transaction, int64, error) {
	row, err := r.GetRow(ctx, id)
	if err != nil {
		return core.Transaction{}, 0, err
	}
	t, err := row.toDomain()
	if err != nil {
		return core.Transaction{}, 0, err
	}
	return t, row.Version, nil
}

func (r *Repository) Insert(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	row, err := r.queries.CreateTransaction(ctx, CreateTransactionParams{
		UserID:      t.UserID,
		Date:        t.Date.String(),
		Kind:        string(t.Kind),
		PaymentMode: string(t.PaymentMode),
		Category:    t.Category,
		Description: t.Description,
		AmountCents: t.Amount.Cents,
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved",
		"id", row.ID,
		"user_id", row.UserID,
		"type", row.Kind,
		"amount_cents", row.AmountCents,
		"date", row.Date)

	return row.toDomain()
}

func (r *Repository) Update(ctx context.Context, t core.Transaction) error {
	n, err := r.queries.UpdateTransaction(ctx, UpdateTransactionParams{
		ID:          t.ID,
		Date:        t.Date.String(),
		Kind:        string(t.Kind),
		PaymentMode: string(t.PaymentMode),
		Category:    t.Category,
		Description: t.Description,
		AmountCents: t.Amount.Cents,
	})
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n == 0 {
		return &core.NotFoundError{Resource: "transaction", ID: t.ID}
	}
	slog.InfoContext(ctx, "Transaction updated", "id", t.ID)
	return nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	n, err := r.queries.DeleteTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n == 0 {
		return &core.NotFoundError{Resource: "transaction", ID: id}
	}
	slog.InfoContext(ctx, "Transaction deleted", "id", id)
	return nil
}

func (r *Repository) HasInitialBalance(ctx context.Context, userID int64) (bool, error) {
	n, err := r.queries.CountCategory(ctx, userID, core.InitialBalanceCategory)
	if err != nil {
		return false, fmt.Errorf("count initial balance: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	row, err := r.queries.CreateAccount(ctx, a.Username, a.PasswordHash, created)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Account{}, ledger.ErrDuplicateUsername
		}
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	slog.InfoContext(ctx, "Account created", "id", row.ID, "username", row.Username)
	return row.toDomain(), nil
}

func (r *Repository) AccountByUsername(ctx context.Context, username string) (core.Account, error) {
	row, err := r.queries.GetAccountByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, &core.NotFoundError{Resource: "account"}
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account by username: %w", err)
	}
	return row.toDomain(), nil
}

// PendingSync identifies a row the spreadsheet mirror has not caught up with.
type PendingSync struct {
	ID      int64
	Version int64
}

// GetPendingSync returns rows still waiting for (or failed) mirroring.
func (r *Repository) GetPendingSync(ctx context.Context, limit int) ([]PendingSync, error) {
	rows, err := r.queries.GetPendingSync(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("get pending sync transactions: %w", err)
	}
	out := make([]PendingSync, len(rows))
	for i, row := range rows {
		out[i] = PendingSync{ID: row.ID, Version: row.Version}
	}
	return out, nil
}

// MarkSynced records that version of id is mirrored.
func (r *Repository) MarkSynced(ctx context.Context, id, version int64) error {
	if err := r.queries.SetSyncStatus(ctx, id, version, SyncSynced); err != nil {
		return fmt.Errorf("mark transaction synced: %w", err)
	}
	slog.InfoContext(ctx, "Transaction marked as synced", "id", id, "version", version)
	return nil
}

// MarkSyncError records a failed mirror attempt; the row is retried by the pending scan.
func (r *Repository) MarkSyncError(ctx context.Context, id, version int64) error {
	if err := r.queries.SetSyncStatus(ctx, id, version, SyncError); err != nil {
		return fmt.Errorf("mark transaction sync error: %w", err)
	}
	slog.WarnContext(ctx, "Transaction marked with sync error", "id", id, "version", version)
	return nil
}

func (t Transaction) toDomain() (core.Transaction, error) {
	d, err := core.ParseDate(t.Date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %d has invalid date %q: %w", t.ID, t.Date, err)
	}
	return core.Transaction{
		ID:          t.ID,
		UserID:      t.UserID,
		Date:        d,
		Kind:        core.Kind(t.Kind),
		PaymentMode: core.PaymentMode(t.PaymentMode),
		Category:    t.Category,
		Description: t.Description,
		Amount:      core.Money{Cents: t.AmountCents},
	}, nil
}

func (a Account) toDomain() core.Account {
	return core.Account{
		ID:           a.ID,
		Username:     a.Username,
		PasswordHash: a.PasswordHash,
		CreatedAt:    a.CreatedAt,
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}
