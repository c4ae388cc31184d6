package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/dashboard"
	"fintrack/internal/ledger"
	"fintrack/internal/ledger/memory"
	applog "fintrack/internal/log"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEventMessage
	err    error
}

func (p *fakePublisher) PublishLedgerEvent(_ context.Context, msg *amqp.LedgerEventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, msg)
	return nil
}

func (p *fakePublisher) last() *amqp.LedgerEventMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

var testToday = core.NewDate(2024, 3, 15)

type fixture struct {
	svc   *LedgerService
	store *memory.Store
	pub   *fakePublisher
	views *cache.LRUCache[dashboard.View]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	pub := &fakePublisher{}
	views := cache.NewLRUCache[dashboard.View](16, time.Minute)
	svc := NewLedgerService(LedgerDeps{
		Store:     store,
		Clock:     dashboard.FixedClock(testToday),
		Publisher: pub,
		Views:     views,
		Logger:    applog.New(applog.Config{Output: io.Discard}),
	})
	return &fixture{svc: svc, store: store, pub: pub, views: views}
}

// bootstrapped returns a fixture whose user 1 has 100.00 cash and 50.00 bank.
func bootstrapped(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	if _, err := f.svc.SetInitialBalance(context.Background(), 1, "100", "50"); err != nil {
		t.Fatalf("SetInitialBalance: %v", err)
	}
	return f
}

func validInput() TransactionInput {
	return TransactionInput{
		Date:        "2024-03-10",
		Type:        "expense",
		PaymentMode: "cash",
		Category:    "Food",
		Description: "groceries",
		Amount:      "12.50",
	}
}

func TestGuard_FreshUserIsUninitialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.svc.Guard().Initialized(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("fresh user should be uninitialized")
	}

	err = f.svc.Guard().Require(ctx, 1)
	var ue *core.UninitializedAccountError
	if !errors.As(err, &ue) || ue.UserID != 1 {
		t.Fatalf("Require() = %v, want UninitializedAccountError for user 1", err)
	}
}

func TestSetInitialBalance_CashOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.SetInitialBalance(ctx, 1, "100", "0")
	if err != nil {
		t.Fatalf("SetInitialBalance: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d transactions, want 1", len(created))
	}
	got := created[0]
	if got.PaymentMode != core.Cash || got.Kind != core.Income || got.Amount.Cents != 10000 {
		t.Errorf("unexpected transaction %+v", got)
	}
	if got.Category != core.InitialBalanceCategory {
		t.Errorf("category = %q", got.Category)
	}
	if !got.Date.Equal(testToday) {
		t.Errorf("date = %s, want %s", got.Date, testToday)
	}

	status, err := f.svc.Status(ctx, 1)
	if err != nil || !status.Initialized {
		t.Fatalf("Status() = %+v, %v", status, err)
	}
	if f.pub.last() == nil || f.pub.last().Event != amqp.EventCreated {
		t.Error("expected a created event")
	}
}

func TestSetInitialBalance_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		cash, bank string
		field      string
	}{
		{"negative cash", "-1", "10", "cash"},
		{"non numeric bank", "10", "abc", "bank"},
		{"garbage cash", "1x", "", "cash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.SetInitialBalance(context.Background(), 1, tt.cash, tt.bank)
			var ve *core.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
			if f.store.Len() != 0 {
				t.Errorf("store has %d rows after rejected bootstrap", f.store.Len())
			}
		})
	}
}

func TestSetInitialBalance_ZeroAmountsLeaveAccountUninitialized(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.SetInitialBalance(context.Background(), 1, "0", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Fatalf("created %d, want 0", len(created))
	}
	status, _ := f.svc.Status(context.Background(), 1)
	if status.Initialized {
		t.Error("zero opening balances should not initialize the account")
	}
}

func TestSetInitialBalance_SecondCallRefused(t *testing.T) {
	f := bootstrapped(t)
	_, err := f.svc.SetInitialBalance(context.Background(), 1, "5", "5")
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if f.store.Len() != 2 {
		t.Errorf("store has %d rows, want 2", f.store.Len())
	}
}

func TestOperationsRequireInitialBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ops := map[string]func() error{
		"add": func() error {
			_, err := f.svc.AddTransaction(ctx, 1, validInput())
			return err
		},
		"edit": func() error {
			_, err := f.svc.EditTransaction(ctx, 1, 1, TransactionPatch{})
			return err
		},
		"delete": func() error { return f.svc.DeleteTransaction(ctx, 1, 1) },
		"list": func() error {
			_, err := f.svc.ListTransactions(ctx, 1, "all", 0)
			return err
		},
		"dashboard": func() error {
			_, err := f.svc.Dashboard(ctx, 1, "all")
			return err
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			if err := op(); !errors.Is(err, core.ErrUninitialized) {
				t.Errorf("err = %v, want ErrUninitialized", err)
			}
		})
	}
	if f.store.Len() != 0 {
		t.Errorf("store has %d rows", f.store.Len())
	}
}

func TestAddTransaction(t *testing.T) {
	f := bootstrapped(t)
	ctx := context.Background()

	got, err := f.svc.AddTransaction(ctx, 1, validInput())
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if got.ID == 0 || got.UserID != 1 || got.Amount.Cents != 1250 {
		t.Errorf("unexpected transaction %+v", got)
	}
	ev := f.pub.last()
	if ev == nil || ev.Event != amqp.EventCreated || ev.TransactionID != got.ID {
		t.Errorf("last event = %+v", ev)
	}
}

func TestAddTransaction_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TransactionInput)
		field  string
	}{
		{"bad date", func(in *TransactionInput) { in.Date = "15/03/2024" }, "date"},
		{"bad type", func(in *TransactionInput) { in.Type = "transfer" }, "type"},
		{"bad mode", func(in *TransactionInput) { in.PaymentMode = "card" }, "payment_mode"},
		{"empty category", func(in *TransactionInput) { in.Category = "  " }, "category"},
		{"reserved category", func(in *TransactionInput) { in.Category = core.InitialBalanceCategory }, "category"},
		{"negative amount", func(in *TransactionInput) { in.Amount = "-3" }, "amount"},
		{"non numeric amount", func(in *TransactionInput) { in.Amount = "ten" }, "amount"},
		{"amount above bound", func(in *TransactionInput) { in.Amount = "92233720368547758.07" }, "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := bootstrapped(t)
			before := f.store.Len()
			in := validInput()
			tt.mutate(&in)

			_, err := f.svc.AddTransaction(context.Background(), 1, in)
			var ve *core.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
			if f.store.Len() != before {
				t.Error("rejected add wrote to the store")
			}
		})
	}
}

func TestAddTransaction_PublishFailureDoesNotFail(t *testing.T) {
	f := bootstrapped(t)
	f.pub.err = errors.New("broker down")

	if _, err := f.svc.AddTransaction(context.Background(), 1, validInput()); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if f.store.Len() != 3 {
		t.Errorf("store has %d rows, want 3", f.store.Len())
	}
}

func TestEditTransaction(t *testing.T) {
	f := bootstrapped(t)
	ctx := context.Background()
	orig, err := f.svc.AddTransaction(ctx, 1, validInput())
	if err != nil {
		t.Fatal(err)
	}

	amount := "20,00"
	category := "Dining"
	got, err := f.svc.EditTransaction(ctx, 1, orig.ID, TransactionPatch{Amount: &amount, Category: &category})
	if err != nil {
		t.Fatalf("EditTransaction: %v", err)
	}
	if got.ID != orig.ID || got.UserID != orig.UserID {
		t.Errorf("identity changed: %+v", got)
	}
	if got.Amount.Cents != 2000 || got.Category != "Dining" || got.Description != "groceries" {
		t.Errorf("unexpected merge result %+v", got)
	}

	stored, _ := f.store.Get(ctx, orig.ID)
	if stored != got {
		t.Errorf("stored %+v, want %+v", stored, got)
	}
	if ev := f.pub.last(); ev.Event != amqp.EventUpdated {
		t.Errorf("last event = %s", ev.Event)
	}
}

func TestEditTransaction_Errors(t *testing.T) {
	f := bootstrapped(t)
	ctx := context.Background()
	if _, err := f.svc.SetInitialBalance(ctx, 2, "10", ""); err != nil {
		t.Fatal(err)
	}
	mine, err := f.svc.AddTransaction(ctx, 1, validInput())
	if err != nil {
		t.Fatal(err)
	}
	reserved := core.InitialBalanceCategory
	badAmount := "-1"

	t.Run("not found", func(t *testing.T) {
		_, err := f.svc.EditTransaction(ctx, 1, 999, TransactionPatch{})
		var nf *core.NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("err = %v, want NotFoundError", err)
		}
	})
	t.Run("other owner", func(t *testing.T) {
		_, err := f.svc.EditTransaction(ctx, 2, mine.ID, TransactionPatch{})
		var ae *core.AuthorizationError
		if !errors.As(err, &ae) {
			t.Errorf("err = %v, want AuthorizationError", err)
		}
	})
	t.Run("into reserved category", func(t *testing.T) {
		_, err := f.svc.EditTransaction(ctx, 1, mine.ID, TransactionPatch{Category: &reserved})
		if !errors.Is(err, core.ErrValidation) {
			t.Errorf("err = %v, want validation error", err)
		}
	})
	t.Run("invalid merge", func(t *testing.T) {
		_, err := f.svc.EditTransaction(ctx, 1, mine.ID, TransactionPatch{Amount: &badAmount})
		if !errors.Is(err, core.ErrValidation) {
			t.Errorf("err = %v, want validation error", err)
		}
		stored, _ := f.store.Get(ctx, mine.ID)
		if stored != mine {
			t.Error("rejected edit modified the stored transaction")
		}
	})
}

func TestDeleteTransaction(t *testing.T) {
	f := bootstrapped(t)
	ctx := context.Background()
	tx, err := f.svc.AddTransaction(ctx, 1, validInput())
	if err != nil {
		t.Fatal(err)
	}

	if err := f.svc.DeleteTransaction(ctx, 2, tx.ID); !errors.Is(err, core.ErrUninitialized) {
		t.Errorf("uninitialized user delete err = %v", err)
	}
	if err := f.svc.DeleteTransaction(ctx, 1, tx.ID); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	if _, err := f.store.Get(ctx, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("transaction still stored: %v", err)
	}
	if ev := f.pub.last(); ev.Event != amqp.EventDeleted || ev.TransactionID != tx.ID {
		t.Errorf("last event = %+v", ev)
	}
	if err := f.svc.DeleteTransaction(ctx, 1, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete err = %v, want not found", err)
	}
}

func TestDeleteTransaction_InitialBalanceRefused(t *testing.T) {
	f := bootstrapped(t)
	ctx := context.Background()
	txs, err := f.svc.ListTransactions(ctx, 1, "all", 0)
	if err != nil {
		t.Fatal(err)
	}
	err = f.svc.DeleteTransaction(ctx, 1, txs[0].ID)
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if status, _ := f.svc.Status(ctx, 1); !status.Initialized {
		t.Error("account lost its initialized state")
	}
}

func TestListTransactions(t *testing.T) {
	f := bootstrapped(t)
	ctx := context.Background()
	for _, date := range []string{"2024-02-20", "2024-03-01", "2024-03-14"} {
		in := validInput()
		in.Date = date
		if _, err := f.svc.AddTransaction(ctx, 1, in); err != nil {
			t.Fatal(err)
		}
	}

	all, err := f.svc.ListTransactions(ctx, 1, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("len(all) = %d, want 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Date.After(all[i-1].Date) {
			t.Fatalf("listing not ordered by date desc at %d", i)
		}
	}

	last, err := f.svc.ListTransactions(ctx, 1, "lastmonth", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 1 || last[0].Date.String() != "2024-02-20" {
		t.Errorf("lastmonth = %+v", last)
	}

	limited, err := f.svc.ListTransactions(ctx, 1, "all", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d", len(limited))
	}
}

func TestDashboard_CachesUntilWrite(t *testing.T) {
	f := bootstrapped(t)
	ctx := context.Background()

	first, err := f.svc.Dashboard(ctx, 1, "thismonth")
	if err != nil {
		t.Fatal(err)
	}
	if first.Balances.Total.Cents != 15000 {
		t.Fatalf("total = %d, want 15000", first.Balances.Total.Cents)
	}
	if f.views.Size() != 1 {
		t.Fatalf("cache size = %d, want 1", f.views.Size())
	}
	if _, err := f.svc.Dashboard(ctx, 1, "thismonth"); err != nil {
		t.Fatal(err)
	}
	if hits := f.views.Stats().Hits; hits != 1 {
		t.Errorf("cache hits = %d, want 1", hits)
	}

	if _, err := f.svc.AddTransaction(ctx, 1, validInput()); err != nil {
		t.Fatal(err)
	}
	if f.views.Size() != 0 {
		t.Errorf("cache not invalidated after write, size %d", f.views.Size())
	}
	after, err := f.svc.Dashboard(ctx, 1, "thismonth")
	if err != nil {
		t.Fatal(err)
	}
	if after.Balances.Cash.Cents != 10000-1250 {
		t.Errorf("cash = %d, want %d", after.Balances.Cash.Cents, 10000-1250)
	}
	if len(after.Categories) != 1 || after.Categories[0].Name != "Food" {
		t.Errorf("categories = %+v", after.Categories)
	}
}

// slowQueryStore returns the first Query's snapshot only after release is
// closed, so a write can land while a dashboard is being built.
type slowQueryStore struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowQueryStore) Query(ctx context.Context, q ledger.Query) ([]core.Transaction, error) {
	txs, err := s.Store.Query(ctx, q)
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return txs, err
}

func TestDashboard_ReadRacingWriteIsNotCached(t *testing.T) {
	store := &slowQueryStore{Store: memory.New(), entered: make(chan struct{}), release: make(chan struct{})}
	views := cache.NewLRUCache[dashboard.View](16, time.Minute)
	svc := NewLedgerService(LedgerDeps{
		Store:  store,
		Clock:  dashboard.FixedClock(testToday),
		Views:  views,
		Logger: applog.New(applog.Config{Output: io.Discard}),
	})
	ctx := context.Background()
	if _, err := svc.SetInitialBalance(ctx, 1, "100", ""); err != nil {
		t.Fatal(err)
	}

	done := make(chan dashboard.View, 1)
	go func() {
		v, err := svc.Dashboard(ctx, 1, "all")
		if err != nil {
			t.Error(err)
		}
		done <- v
	}()
	<-store.entered
	if _, err := svc.AddTransaction(ctx, 1, validInput()); err != nil {
		t.Fatal(err)
	}
	close(store.release)

	if stale := <-done; stale.TotalCount != 1 {
		t.Fatalf("in-flight view saw %d rows, want the pre-write 1", stale.TotalCount)
	}
	if views.Size() != 0 {
		t.Fatalf("view built before the write was cached")
	}
	fresh, err := svc.Dashboard(ctx, 1, "all")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.TotalCount != 2 || fresh.Balances.Cash.Cents != 10000-1250 {
		t.Errorf("after write: total_count=%d cash=%d, want 2 and %d",
			fresh.TotalCount, fresh.Balances.Cash.Cents, 10000-1250)
	}
}

func TestDashboard_UnknownFilterMeansAll(t *testing.T) {
	f := bootstrapped(t)
	v, err := f.svc.Dashboard(context.Background(), 1, "fortnight")
	if err != nil {
		t.Fatal(err)
	}
	if v.Filter != dashboard.FilterAll {
		t.Errorf("filter = %q, want %q", v.Filter, dashboard.FilterAll)
	}
	if v.FilteredCount != v.TotalCount {
		t.Errorf("filtered %d of %d", v.FilteredCount, v.TotalCount)
	}
}

func TestLedgerService_NoPublisherOrCache(t *testing.T) {
	svc := NewLedgerService(LedgerDeps{
		Store: memory.New(),
		Clock: dashboard.FixedClock(testToday),
	})
	ctx := context.Background()
	if _, err := svc.SetInitialBalance(ctx, 1, "1", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddTransaction(ctx, 1, validInput()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Dashboard(ctx, 1, "all"); err != nil {
		t.Fatal(err)
	}
}
