package services

import (
	"context"
	"fmt"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

// Guard checks the initial-balance precondition. An account is initialized
// once it holds at least one "Initial Balance" transaction.
type Guard struct {
	store ledger.Store
}

func NewGuard(store ledger.Store) *Guard {
	return &Guard{store: store}
}

func (g *Guard) Initialized(ctx context.Context, userID int64) (bool, error) {
	ok, err := g.store.HasInitialBalance(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check initial balance: %w", err)
	}
	return ok, nil
}

// Require returns *core.UninitializedAccountError when userID has not
// recorded an initial balance yet.
func (g *Guard) Require(ctx context.Context, userID int64) error {
	ok, err := g.Initialized(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return &core.UninitializedAccountError{UserID: userID}
	}
	return nil
}
