package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"fintrack/internal/auth"
	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 80
	minPasswordLength = 8
)

type AccountService struct {
	accounts ledger.AccountStore
}

func NewAccountService(accounts ledger.AccountStore) *AccountService {
	return &AccountService{accounts: accounts}
}

// Register creates an account with a bcrypt-hashed password.
func (s *AccountService) Register(ctx context.Context, username, password string) (core.Account, error) {
	username = strings.TrimSpace(username)
	if n := utf8.RuneCountInString(username); n < minUsernameLength || n > maxUsernameLength {
		return core.Account{}, core.Invalid("username", "username must be between 3 and 80 characters")
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return core.Account{}, core.Invalid("password", "password must be at least 8 characters")
	}
	if len(password) > auth.MaxPasswordBytes {
		return core.Account{}, core.Invalid("password", "password must be at most 72 bytes")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return core.Account{}, fmt.Errorf("hash password: %w", err)
	}
	acc, err := s.accounts.CreateAccount(ctx, core.Account{Username: username, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, core.ErrValidation) {
			return core.Account{}, err
		}
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}

	slog.InfoContext(ctx, "Account registered", "user_id", acc.ID, "username", acc.Username)
	return acc, nil
}

// Authenticate returns the account when password matches. Unknown users and
// wrong passwords both yield core.ErrInvalidCredentials.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (core.Account, error) {
	acc, err := s.accounts.AccountByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Account{}, core.ErrInvalidCredentials
		}
		return core.Account{}, fmt.Errorf("load account: %w", err)
	}
	if err := auth.VerifyPassword(acc.PasswordHash, password); err != nil {
		slog.WarnContext(ctx, "Login rejected", "username", acc.Username)
		return core.Account{}, core.ErrInvalidCredentials
	}
	return acc, nil
}
