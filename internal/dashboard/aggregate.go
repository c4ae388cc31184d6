// Package dashboard turns a user's ledger into the summary figures shown on
// the dashboard. Everything here is pure: the same ledger, range and date
// always produce the same View.
package dashboard

import (
	"sort"

	"fintrack/internal/core"
)

// CategoryAmount is the expense total of one category.
type CategoryAmount struct {
	Name   string     `json:"name"`
	Amount core.Money `json:"amount"`
}

// Trend is a zero-filled monthly series. All slices are aligned to Months.
type Trend struct {
	Months  []string     `json:"months"`
	Income  []core.Money `json:"income"`
	Expense []core.Money `json:"expense"`
	Savings []core.Money `json:"savings"`
}

// Balances holds running totals per payment mode over the whole ledger.
type Balances struct {
	Cash  core.Money `json:"cash"`
	Bank  core.Money `json:"bank"`
	Total core.Money `json:"total"`
}

// Summary holds the trailing-window totals, independent of the display filter.
type Summary struct {
	Income  core.Money `json:"income"`
	Expense core.Money `json:"expense"`
	Savings core.Money `json:"savings"`
}

// View is the dashboard view-model.
type View struct {
	Filter        Filter             `json:"filter"`
	Transactions  []core.Transaction `json:"transactions"`
	FilteredCount int                `json:"filtered_count"`
	TotalCount    int                `json:"total_count"`
	Recent        Summary            `json:"recent"`
	Categories    []CategoryAmount   `json:"categories"`
	Trend         Trend              `json:"trend"`
	Balances      Balances           `json:"balances"`
}

// Aggregate builds the dashboard view for ledger. rng only narrows the
// transaction listing; totals, categories, trend and balances always cover
// the full ledger. ledger is not modified.
func Aggregate(ledger []core.Transaction, f Filter, rng Range, today core.Date) View {
	listing := Filtered(ledger, rng)
	return View{
		Filter:        f,
		Transactions:  listing,
		FilteredCount: len(listing),
		TotalCount:    len(ledger),
		Recent:        RecentTotals(ledger, today),
		Categories:    CategoryBreakdown(ledger),
		Trend:         MonthlyTrend(ledger),
		Balances:      PaymentBalances(ledger),
	}
}

// Filtered returns the transactions inside rng, date descending with ties
// broken by ascending ID.
func Filtered(ledger []core.Transaction, rng Range) []core.Transaction {
	out := make([]core.Transaction, 0, len(ledger))
	for _, tx := range ledger {
		if rng.Contains(tx.Date) {
			out = append(out, tx)
		}
	}
	SortForListing(out)
	return out
}

// SortForListing orders txs in place, newest first.
func SortForListing(txs []core.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.After(txs[j].Date)
		}
		return txs[i].ID < txs[j].ID
	})
}

// RecentTotals sums income and expense dated on or after today-30.
func RecentTotals(ledger []core.Transaction, today core.Date) Summary {
	since := today.AddDays(-RecentWindowDays)
	var s Summary
	for _, tx := range ledger {
		if tx.Date.Before(since) {
			continue
		}
		switch tx.Kind {
		case core.Income:
			s.Income = s.Income.Add(tx.Amount)
		case core.Expense:
			s.Expense = s.Expense.Add(tx.Amount)
		}
	}
	s.Savings = s.Income.Sub(s.Expense)
	return s
}

// CategoryBreakdown sums expenses per category in order of first
// appearance, where the ledger is walked in insertion (ID) order.
func CategoryBreakdown(ledger []core.Transaction) []CategoryAmount {
	out := []CategoryAmount{}
	index := map[string]int{}
	for _, tx := range byID(ledger) {
		if tx.Kind != core.Expense {
			continue
		}
		i, ok := index[tx.Category]
		if !ok {
			i = len(out)
			index[tx.Category] = i
			out = append(out, CategoryAmount{Name: tx.Category})
		}
		out[i].Amount = out[i].Amount.Add(tx.Amount)
	}
	return out
}

// MonthlyTrend buckets the ledger by YYYY-MM. A month appears if it has
// income or expense; the missing side is zero.
func MonthlyTrend(ledger []core.Transaction) Trend {
	income := map[string]core.Money{}
	expense := map[string]core.Money{}
	for _, tx := range ledger {
		key := tx.Date.MonthKey()
		switch tx.Kind {
		case core.Income:
			income[key] = income[key].Add(tx.Amount)
		case core.Expense:
			expense[key] = expense[key].Add(tx.Amount)
		}
	}

	months := make([]string, 0, len(income)+len(expense))
	for k := range income {
		months = append(months, k)
	}
	for k := range expense {
		if _, ok := income[k]; !ok {
			months = append(months, k)
		}
	}
	sort.Strings(months)

	t := Trend{
		Months:  months,
		Income:  make([]core.Money, len(months)),
		Expense: make([]core.Money, len(months)),
		Savings: make([]core.Money, len(months)),
	}
	for i, m := range months {
		t.Income[i] = income[m]
		t.Expense[i] = expense[m]
		t.Savings[i] = income[m].Sub(expense[m])
	}
	return t
}

// PaymentBalances computes income minus expense per payment mode.
func PaymentBalances(ledger []core.Transaction) Balances {
	var b Balances
	for _, tx := range ledger {
		switch tx.PaymentMode {
		case core.Cash:
			b.Cash = b.Cash.Add(tx.Signed())
		case core.Bank:
			b.Bank = b.Bank.Add(tx.Signed())
		}
	}
	b.Total = b.Cash.Add(b.Bank)
	return b
}

func byID(ledger []core.Transaction) []core.Transaction {
	out := make([]core.Transaction, len(ledger))
	copy(out, ledger)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
