// Package ledger defines the storage ports used by the services.
package ledger

import (
	"context"

	"fintrack/internal/core"
	"fintrack/internal/dashboard"
)

// Query selects one user's transactions, optionally narrowed to a date range.
type Query struct {
	UserID int64
	Range  dashboard.Range
}

type (
	// Store persists transactions. Query results are ordered by date
	// descending then ID ascending.
	Store interface {
		Query(ctx context.Context, q Query) ([]core.Transaction, error)
		Get(ctx context.Context, id int64) (core.Transaction, error)
		Insert(ctx context.Context, t core.Transaction) (core.Transaction, error)
		// Update replaces the stored transaction with the same ID.
		Update(ctx context.Context, t core.Transaction) error
		Delete(ctx context.Context, id int64) error
		HasInitialBalance(ctx context.Context, userID int64) (bool, error)
	}

	AccountStore interface {
		CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
		AccountByUsername(ctx context.Context, username string) (core.Account, error)
	}

	// Pinger is implemented by stores backed by a remote resource.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// ErrDuplicateUsername is returned by CreateAccount when the name is taken.
var ErrDuplicateUsername = core.Invalid("username", "username already exists")
