package core

import (
	"errors"
	"strings"
	"time"
)

// InitialBalanceCategory marks the bootstrap transactions that initialize an account.
const InitialBalanceCategory = "Initial Balance"

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

const (
	Cash PaymentMode = "cash"
	Bank PaymentMode = "bank"
)

const (
	MaxCategoryLength    = 50
	MaxDescriptionLength = 200
	dateLayout           = "2006-01-02"
)

type (
	Kind        string
	PaymentMode string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Transaction is an immutable ledger entry. Edits produce a new value
	// that replaces the stored one in full.
	Transaction struct {
		ID          int64       `json:"id"`
		UserID      int64       `json:"user_id"`
		Date        Date        `json:"date"`
		Kind        Kind        `json:"type"`
		PaymentMode PaymentMode `json:"payment_mode"`
		Category    string      `json:"category"`
		Description string      `json:"description"`
		Amount      Money       `json:"amount"`
	}

	Account struct {
		ID           int64
		Username     string
		PasswordHash string
		CreatedAt    time.Time
	}
)

var (
	ErrInvalidDay         = errors.New("invalid day")
	ErrInvalidMonth       = errors.New("invalid month")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidKind        = errors.New("invalid transaction type")
	ErrInvalidPaymentMode = errors.New("invalid payment mode")
	ErrEmptyCategory      = errors.New("empty category")
	ErrInvalidDate        = errors.New("invalid date")
)

// ParseKind accepts the canonical names and the capitalized
// forms used by HTML forms ("Income", "Expense").
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Income:
		return Income, nil
	case Expense:
		return Expense, nil
	}
	return "", ErrInvalidKind
}

func ParsePaymentMode(s string) (PaymentMode, error) {
	switch PaymentMode(strings.ToLower(strings.TrimSpace(s))) {
	case Cash:
		return Cash, nil
	case Bank:
		return Bank, nil
	}
	return "", ErrInvalidPaymentMode
}

func (k Kind) Valid() bool { return k == Income || k == Expense }

func (p PaymentMode) Valid() bool { return p == Cash || p == Bank }

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// NewDate creates a new Date from year, month, day.
// Out of range values normalize the way time.Date does.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return DateOf(t), nil
}

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return NewDate(d.Year(), int(d.Month()), d.Day()+n)
}

// FirstOfMonth returns the first day of d's month.
func (d Date) FirstOfMonth() Date {
	return NewDate(d.Year(), int(d.Month()), 1)
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

func (d Date) Equal(o Date) bool { return d.Time.Equal(o.Time) }

// String formats d as YYYY-MM-DD.
func (d Date) String() string { return d.Format(dateLayout) }

// MarshalJSON encodes d as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MonthKey formats d as YYYY-MM.
func (d Date) MonthKey() string { return d.Format("2006-01") }

func (m Money) Validate() error {
	if m.Cents < 0 || m.Cents > MaxAmountCents {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }

func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }

// IsInitialBalance reports whether t is one of the bootstrap entries.
func (t Transaction) IsInitialBalance() bool {
	return t.Category == InitialBalanceCategory
}

// Signed returns the amount as a positive value for income and negative for expense.
func (t Transaction) Signed() Money {
	if t.Kind == Expense {
		return Money{Cents: -t.Amount.Cents}
	}
	return t.Amount
}

// Validate checks every field of t and returns a *ValidationError naming
// the first offending field.
func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return Invalid("date", err.Error())
	}
	if !t.Kind.Valid() {
		return Invalid("type", ErrInvalidKind.Error())
	}
	if !t.PaymentMode.Valid() {
		return Invalid("payment_mode", ErrInvalidPaymentMode.Error())
	}
	if strings.TrimSpace(t.Category) == "" {
		return Invalid("category", ErrEmptyCategory.Error())
	}
	if len(t.Category) > MaxCategoryLength {
		return Invalid("category", "category too long (max 50 characters)")
	}
	if len(t.Description) > MaxDescriptionLength {
		return Invalid("description", "description too long (max 200 characters)")
	}
	if err := t.Amount.Validate(); err != nil {
		return Invalid("amount", err.Error())
	}
	return nil
}
