// Package memory is a mutex-guarded in-process ledger used by tests and the
// memory backend. Data is lost on restart.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/dashboard"
	"fintrack/internal/ledger"
)

type Store struct {
	mu        sync.Mutex
	nextTxID  int64
	nextAccID int64
	txs       map[int64]core.Transaction
	accounts  map[int64]core.Account
	now       func() time.Time
}

func New() *Store {
	return &Store{
		txs:      make(map[int64]core.Transaction),
		accounts: make(map[int64]core.Account),
		now:      time.Now,
	}
}

var (
	_ ledger.Store        = (*Store)(nil)
	_ ledger.AccountStore = (*Store)(nil)
)

func (s *Store) Query(_ context.Context, q ledger.Query) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Transaction, 0)
	for _, t := range s.txs {
		if t.UserID == q.UserID && q.Range.Contains(t.Date) {
			out = append(out, t)
		}
	}
	dashboard.SortForListing(out)
	return out, nil
}

func (s *Store) Get(_ context.Context, id int64) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return core.Transaction{}, &core.NotFoundError{Resource: "transaction", ID: id}
	}
	return t, nil
}

func (s *Store) Insert(_ context.Context, t core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTxID++
	t.ID = s.nextTxID
	s.txs[t.ID] = t
	return t, nil
}

func (s *Store) Update(_ context.Context, t core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[t.ID]; !ok {
		return &core.NotFoundError{Resource: "transaction", ID: t.ID}
	}
	s.txs[t.ID] = t
	return nil
}

func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[id]; !ok {
		return &core.NotFoundError{Resource: "transaction", ID: id}
	}
	delete(s.txs, id)
	return nil
}

func (s *Store) HasInitialBalance(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.UserID == userID && t.IsInitialBalance() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateAccount(_ context.Context, a core.Account) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Username, a.Username) {
			return core.Account{}, ledger.ErrDuplicateUsername
		}
	}
	s.nextAccID++
	a.ID = s.nextAccID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *Store) AccountByUsername(_ context.Context, username string) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Username, username) {
			return a, nil
		}
	}
	return core.Account{}, &core.NotFoundError{Resource: "account"}
}

// Len returns how many transactions are stored across all users.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}
