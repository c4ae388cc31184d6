package dashboard

import (
	"bytes"
	"encoding/json"
	"testing"

	"fintrack/internal/core"
)

func tx(id int64, date core.Date, kind core.Kind, mode core.PaymentMode, category string, cents int64) core.Transaction {
	return core.Transaction{
		ID:          id,
		UserID:      1,
		Date:        date,
		Kind:        kind,
		PaymentMode: mode,
		Category:    category,
		Amount:      core.Money{Cents: cents},
	}
}

func sampleLedger() []core.Transaction {
	return []core.Transaction{
		tx(1, core.NewDate(2024, 1, 5), core.Income, core.Bank, core.InitialBalanceCategory, 100000),
		tx(2, core.NewDate(2024, 1, 5), core.Income, core.Cash, core.InitialBalanceCategory, 5000),
		tx(3, core.NewDate(2024, 2, 10), core.Expense, core.Cash, "Food", 1250),
		tx(4, core.NewDate(2024, 2, 20), core.Expense, core.Bank, "Rent", 60000),
		tx(5, core.NewDate(2024, 3, 1), core.Income, core.Bank, "Salary", 250000),
		tx(6, core.NewDate(2024, 3, 10), core.Expense, core.Cash, "Food", 2000),
		tx(7, core.NewDate(2024, 3, 10), core.Expense, core.Bank, "Travel", 15000),
		tx(8, core.NewDate(2024, 4, 2), core.Expense, core.Bank, "Travel", 3000),
	}
}

func TestFilteredOrdering(t *testing.T) {
	ledger := sampleLedger()
	// shuffle order of input; output must not depend on it
	input := []core.Transaction{ledger[6], ledger[0], ledger[5], ledger[7], ledger[1]}
	got := Filtered(input, Range{})
	want := []int64{8, 6, 7, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected id %d, got %d", i, id, got[i].ID)
		}
	}
	if input[0].ID != 7 {
		t.Fatal("input slice must not be reordered")
	}
}

func TestFilteredRange(t *testing.T) {
	rng := Resolve(FilterThisMonth, core.NewDate(2024, 3, 15))
	got := Filtered(sampleLedger(), rng)
	if len(got) != 4 {
		t.Fatalf("expected 4 rows since 2024-03-01, got %d", len(got))
	}
}

func TestRecentTotalsIgnoreFilter(t *testing.T) {
	today := core.NewDate(2024, 3, 15)
	ledger := sampleLedger()
	view := Aggregate(ledger, FilterToday, Resolve(FilterToday, today), today)

	if view.FilteredCount != 0 || len(view.Transactions) != 0 {
		t.Fatalf("expected empty listing for today, got %d", view.FilteredCount)
	}
	// window starts 2024-02-14: rent on 02-20, salary, food 03-10, travel 03-10, travel 04-02
	if view.Recent.Income.Cents != 250000 {
		t.Errorf("recent income = %d", view.Recent.Income.Cents)
	}
	if view.Recent.Expense.Cents != 60000+2000+15000+3000 {
		t.Errorf("recent expense = %d", view.Recent.Expense.Cents)
	}
	if view.Recent.Savings.Cents != view.Recent.Income.Cents-view.Recent.Expense.Cents {
		t.Errorf("recent savings mismatch")
	}
}

func TestRecentWindowBoundaryInclusive(t *testing.T) {
	today := core.NewDate(2024, 3, 31)
	ledger := []core.Transaction{
		tx(1, today.AddDays(-30), core.Income, core.Cash, "Gift", 100),
		tx(2, today.AddDays(-31), core.Income, core.Cash, "Gift", 1000),
	}
	if got := RecentTotals(ledger, today).Income.Cents; got != 100 {
		t.Fatalf("expected only the boundary day, got %d", got)
	}
}

func TestCategoryBreakdown(t *testing.T) {
	ledger := sampleLedger()
	// reverse order: first occurrence is still taken by ID
	rev := make([]core.Transaction, len(ledger))
	for i := range ledger {
		rev[len(ledger)-1-i] = ledger[i]
	}
	got := CategoryBreakdown(rev)
	want := []CategoryAmount{
		{"Food", core.Money{Cents: 3250}},
		{"Rent", core.Money{Cents: 60000}},
		{"Travel", core.Money{Cents: 18000}},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d categories, got %v", len(want), got)
	}
	var sum, total int64
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("category %d = %+v, want %+v", i, got[i], want[i])
		}
		sum += got[i].Amount.Cents
	}
	for _, e := range ledger {
		if e.Kind == core.Expense {
			total += e.Amount.Cents
		}
	}
	if sum != total {
		t.Fatalf("category sum %d != total expense %d", sum, total)
	}
}

func TestMonthlyTrend(t *testing.T) {
	tr := MonthlyTrend(sampleLedger())
	months := []string{"2024-01", "2024-02", "2024-03", "2024-04"}
	if len(tr.Months) != len(months) {
		t.Fatalf("months = %v", tr.Months)
	}
	for i, m := range months {
		if tr.Months[i] != m {
			t.Fatalf("months = %v", tr.Months)
		}
		if tr.Savings[i] != tr.Income[i].Sub(tr.Expense[i]) {
			t.Errorf("savings[%d] mismatch", i)
		}
	}
	if tr.Income[1].Cents != 0 || tr.Expense[1].Cents != 61250 {
		t.Errorf("february: income %d expense %d", tr.Income[1].Cents, tr.Expense[1].Cents)
	}
	if tr.Income[3].Cents != 0 || tr.Savings[3].Cents != -3000 {
		t.Errorf("april should be zero-filled on income, got %+v", tr)
	}
}

func TestPaymentBalances(t *testing.T) {
	b := PaymentBalances(sampleLedger())
	if b.Cash.Cents != 5000-1250-2000 {
		t.Errorf("cash = %d", b.Cash.Cents)
	}
	if b.Bank.Cents != 100000-60000+250000-15000-3000 {
		t.Errorf("bank = %d", b.Bank.Cents)
	}
	if b.Total != b.Cash.Add(b.Bank) {
		t.Errorf("total %d != cash+bank", b.Total.Cents)
	}
}

func TestPaymentBalancesLargestAmounts(t *testing.T) {
	d := core.NewDate(2024, 3, 1)
	b := PaymentBalances([]core.Transaction{
		tx(1, d, core.Income, core.Cash, "Salary", core.MaxAmountCents),
		tx(2, d, core.Income, core.Cash, "Salary", core.MaxAmountCents),
	})
	if b.Cash.Cents != 2*core.MaxAmountCents || b.Total != b.Cash {
		t.Errorf("balances = %+v, want cash of %d", b, 2*core.MaxAmountCents)
	}
}

func TestAggregateEmptyLedger(t *testing.T) {
	view := Aggregate(nil, FilterAll, Range{}, core.NewDate(2024, 3, 15))
	if view.TotalCount != 0 || view.Balances.Total.Cents != 0 || view.Recent.Income.Cents != 0 {
		t.Fatalf("expected zeros, got %+v", view)
	}
	if view.Transactions == nil || view.Categories == nil || view.Trend.Months == nil {
		t.Fatal("expected empty, non-nil slices")
	}
	b, err := json.Marshal(view)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(b, []byte(`"transactions":[]`)) || !bytes.Contains(b, []byte(`"months":[]`)) {
		t.Fatalf("empty lists should encode as []: %s", b)
	}
}

func TestAggregateIdempotent(t *testing.T) {
	today := core.NewDate(2024, 3, 15)
	ledger := sampleLedger()
	rng := Resolve(Filter30Days, today)
	a, err := json.Marshal(Aggregate(ledger, Filter30Days, rng, today))
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(Aggregate(ledger, Filter30Days, rng, today))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("aggregation is not deterministic:\n%s\n%s", a, b)
	}
}
