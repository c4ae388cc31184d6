package sheets

import (
	"context"

	"fintrack/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionMirror keeps a copy of each transaction outside the store,
	// keyed by transaction ID. Both operations are idempotent.
	TransactionMirror interface {
		UpsertTransaction(ctx context.Context, t core.Transaction) error
		DeleteTransaction(ctx context.Context, id int64) error
	}
)
