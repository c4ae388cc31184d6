package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/dashboard"
	"fintrack/internal/ledger"
	applog "fintrack/internal/log"
	"fintrack/internal/telemetry"
)

// EventPublisher announces committed ledger changes. *amqp.Client satisfies it.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error
}

// TransactionInput carries raw form or JSON values for a new transaction.
type TransactionInput struct {
	Date        string `json:"date"`
	Type        string `json:"type"`
	PaymentMode string `json:"payment_mode"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

// TransactionPatch lists the fields an edit changes. Nil fields keep the
// stored value.
type TransactionPatch struct {
	Date        *string `json:"date"`
	Type        *string `json:"type"`
	PaymentMode *string `json:"payment_mode"`
	Category    *string `json:"category"`
	Description *string `json:"description"`
	Amount      *string `json:"amount"`
}

// Empty reports whether the patch changes nothing.
func (p TransactionPatch) Empty() bool {
	return p.Date == nil && p.Type == nil && p.PaymentMode == nil &&
		p.Category == nil && p.Description == nil && p.Amount == nil
}

type Status struct {
	Initialized bool `json:"initialized"`
}

type LedgerDeps struct {
	Store     ledger.Store
	Clock     dashboard.Clock
	Publisher EventPublisher
	Views     cache.Cache[dashboard.View]
	Metrics   *telemetry.LedgerMetrics
	Logger    *applog.Logger
}

// LedgerService orchestrates ledger operations: every ordinary call passes
// the initial-balance guard, writes to the store, then publishes an event
// and drops the user's cached dashboards.
type LedgerService struct {
	store     ledger.Store
	guard     *Guard
	clock     dashboard.Clock
	publisher EventPublisher
	views     cache.Cache[dashboard.View]
	metrics   *telemetry.LedgerMetrics
	events    *applog.StructuredLogger

	// viewGen counts invalidations per user. A view built from a read that
	// raced a write is dropped instead of cached.
	viewMu  sync.Mutex
	viewGen map[int64]uint64
}

func NewLedgerService(deps LedgerDeps) *LedgerService {
	clock := deps.Clock
	if clock == nil {
		clock = dashboard.SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = applog.New(applog.Config{Handler: slog.Default().Handler(), Component: applog.ComponentLedger})
	}
	return &LedgerService{
		store:     deps.Store,
		guard:     NewGuard(deps.Store),
		clock:     clock,
		publisher: deps.Publisher,
		views:     deps.Views,
		metrics:   deps.Metrics,
		events:    applog.NewStructuredLogger(logger),
		viewGen:   make(map[int64]uint64),
	}
}

func (s *LedgerService) Guard() *Guard { return s.guard }

func (s *LedgerService) Status(ctx context.Context, userID int64) (Status, error) {
	ok, err := s.guard.Initialized(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	return Status{Initialized: ok}, nil
}

// SetInitialBalance records the opening cash and bank amounts. A blank
// amount counts as zero and a zero amount creates no transaction.
func (s *LedgerService) SetInitialBalance(ctx context.Context, userID int64, cash, bank string) ([]core.Transaction, error) {
	ok, err := s.guard.Initialized(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, core.Invalid("", "initial balance already set")
	}

	cashAmount, err := parseOpening("cash", cash)
	if err != nil {
		return nil, err
	}
	bankAmount, err := parseOpening("bank", bank)
	if err != nil {
		return nil, err
	}

	today := s.clock.Today()
	created := make([]core.Transaction, 0, 2)
	for _, opening := range []struct {
		mode   core.PaymentMode
		amount core.Money
	}{
		{core.Cash, cashAmount},
		{core.Bank, bankAmount},
	} {
		if opening.amount.Cents == 0 {
			continue
		}
		t, err := s.store.Insert(ctx, core.Transaction{
			UserID:      userID,
			Date:        today,
			Kind:        core.Income,
			PaymentMode: opening.mode,
			Category:    core.InitialBalanceCategory,
			Description: "Opening " + string(opening.mode) + " balance",
			Amount:      opening.amount,
		})
		if err != nil {
			return created, fmt.Errorf("save initial balance: %w", err)
		}
		created = append(created, t)
		s.committed(ctx, applog.OpBootstrap, amqp.EventCreated, t)
	}
	return created, nil
}

func parseOpening(field, raw string) (core.Money, error) {
	if strings.TrimSpace(raw) == "" {
		return core.Money{}, nil
	}
	m, err := core.ParseAmount(raw)
	if err != nil {
		return core.Money{}, core.Invalid(field, "amount must be a number between 0 and 100000000000")
	}
	return m, nil
}

func (s *LedgerService) AddTransaction(ctx context.Context, userID int64, in TransactionInput) (core.Transaction, error) {
	if err := s.guard.Require(ctx, userID); err != nil {
		return core.Transaction{}, err
	}
	t, err := buildTransaction(in)
	if err != nil {
		return core.Transaction{}, err
	}
	if t.IsInitialBalance() {
		return core.Transaction{}, core.Invalid("category", "category is reserved")
	}
	t.UserID = userID

	saved, err := s.store.Insert(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	s.committed(ctx, applog.OpCreate, amqp.EventCreated, saved)
	return saved, nil
}

func (s *LedgerService) EditTransaction(ctx context.Context, userID, id int64, patch TransactionPatch) (core.Transaction, error) {
	if err := s.guard.Require(ctx, userID); err != nil {
		return core.Transaction{}, err
	}
	current, err := s.owned(ctx, userID, id)
	if err != nil {
		return core.Transaction{}, err
	}

	next, err := applyPatch(current, patch)
	if err != nil {
		return core.Transaction{}, err
	}
	if current.IsInitialBalance() != next.IsInitialBalance() {
		return core.Transaction{}, core.Invalid("category", "initial balance category cannot be changed")
	}

	if err := s.store.Update(ctx, next); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	s.committed(ctx, applog.OpUpdate, amqp.EventUpdated, next)
	return next, nil
}

func (s *LedgerService) DeleteTransaction(ctx context.Context, userID, id int64) error {
	if err := s.guard.Require(ctx, userID); err != nil {
		return err
	}
	current, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	if current.IsInitialBalance() {
		return core.Invalid("id", "initial balance transactions cannot be deleted")
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.committed(ctx, applog.OpDelete, amqp.EventDeleted, current)
	return nil
}

// ListTransactions returns the user's transactions inside the filter's
// range, newest first. A positive limit truncates the listing.
func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, filter string, limit int) ([]core.Transaction, error) {
	if err := s.guard.Require(ctx, userID); err != nil {
		return nil, err
	}
	f := dashboard.ParseFilter(filter)
	txs, err := s.store.Query(ctx, ledger.Query{
		UserID: userID,
		Range:  dashboard.Resolve(f, s.clock.Today()),
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

// Dashboard builds the view for filter. Views are cached per user, filter
// and day until the next write for that user.
func (s *LedgerService) Dashboard(ctx context.Context, userID int64, filter string) (dashboard.View, error) {
	if err := s.guard.Require(ctx, userID); err != nil {
		return dashboard.View{}, err
	}
	f := dashboard.ParseFilter(filter)
	today := s.clock.Today()
	key := viewKey(userID, f, today)

	if s.views != nil {
		if v, ok := s.views.Get(key); ok {
			s.metrics.DashboardServed(ctx, string(f), true)
			return v, nil
		}
	}

	gen := s.generation(userID)
	txs, err := s.store.Query(ctx, ledger.Query{UserID: userID})
	if err != nil {
		return dashboard.View{}, fmt.Errorf("load ledger: %w", err)
	}
	v := dashboard.Aggregate(txs, f, dashboard.Resolve(f, today), today)

	s.storeView(userID, gen, key, v)
	s.metrics.DashboardServed(ctx, string(f), false)
	return v, nil
}

func (s *LedgerService) owned(ctx context.Context, userID, id int64) (core.Transaction, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		var nf *core.NotFoundError
		if errors.As(err, &nf) {
			return core.Transaction{}, err
		}
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	if t.UserID != userID {
		return core.Transaction{}, &core.AuthorizationError{UserID: userID, TransactionID: id}
	}
	return t, nil
}

// committed runs the after-write steps. None of them can fail the request:
// the row is already saved.
func (s *LedgerService) committed(ctx context.Context, op string, event amqp.EventType, t core.Transaction) {
	s.invalidate(t.UserID)
	s.metrics.TransactionWritten(ctx, op, string(t.Kind))
	s.events.LogTransactionEvent(ctx, op, t.UserID, t.ID, string(t.Kind), string(t.PaymentMode), t.Category, t.Amount.Cents)

	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping ledger event",
			"transaction_id", t.ID, "event", event)
		return
	}
	msg := amqp.NewLedgerEvent(event, t.ID, t.UserID, 0)
	if err := s.publisher.PublishLedgerEvent(ctx, msg); err != nil {
		s.events.LogError(ctx, "Failed to publish ledger event", err, applog.ComponentAMQP, op,
			applog.NewFields().WithUser(t.UserID).WithTransaction(t.ID, string(t.Kind), string(t.PaymentMode), t.Category, t.Amount.Cents))
		s.metrics.PublishFailed(ctx, string(event))
	}
}

func (s *LedgerService) invalidate(userID int64) {
	if s.views == nil {
		return
	}
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.viewGen[userID]++
	s.views.DeletePrefix(viewPrefix(userID))
}

func (s *LedgerService) generation(userID int64) uint64 {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	return s.viewGen[userID]
}

// storeView caches v only if no write for the user landed since gen was read.
func (s *LedgerService) storeView(userID int64, gen uint64, key string, v dashboard.View) {
	if s.views == nil {
		return
	}
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	if s.viewGen[userID] != gen {
		return
	}
	s.views.Set(key, v)
}

func viewPrefix(userID int64) string {
	return "dashboard:" + strconv.FormatInt(userID, 10) + ":"
}

func viewKey(userID int64, f dashboard.Filter, today core.Date) string {
	return viewPrefix(userID) + string(f) + ":" + today.String()
}

func buildTransaction(in TransactionInput) (core.Transaction, error) {
	date, err := core.ParseDate(in.Date)
	if err != nil {
		return core.Transaction{}, core.Invalid("date", "date must be YYYY-MM-DD")
	}
	kind, err := core.ParseKind(in.Type)
	if err != nil {
		return core.Transaction{}, core.Invalid("type", err.Error())
	}
	mode, err := core.ParsePaymentMode(in.PaymentMode)
	if err != nil {
		return core.Transaction{}, core.Invalid("payment_mode", err.Error())
	}
	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return core.Transaction{}, core.Invalid("amount", "amount must be a number between 0 and 100000000000")
	}
	t := core.Transaction{
		Date:        date,
		Kind:        kind,
		PaymentMode: mode,
		Category:    strings.TrimSpace(in.Category),
		Description: strings.TrimSpace(in.Description),
		Amount:      amount,
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

// applyPatch merges patch into t and validates the result. ID and UserID
// never change.
func applyPatch(t core.Transaction, patch TransactionPatch) (core.Transaction, error) {
	in := TransactionInput{
		Date:        t.Date.String(),
		Type:        string(t.Kind),
		PaymentMode: string(t.PaymentMode),
		Category:    t.Category,
		Description: t.Description,
		Amount:      t.Amount.String(),
	}
	if patch.Date != nil {
		in.Date = *patch.Date
	}
	if patch.Type != nil {
		in.Type = *patch.Type
	}
	if patch.PaymentMode != nil {
		in.PaymentMode = *patch.PaymentMode
	}
	if patch.Category != nil {
		in.Category = *patch.Category
	}
	if patch.Description != nil {
		in.Description = *patch.Description
	}
	if patch.Amount != nil {
		in.Amount = *patch.Amount
	}

	next, err := buildTransaction(in)
	if err != nil {
		return core.Transaction{}, err
	}
	next.ID = t.ID
	next.UserID = t.UserID
	return next, nil
}
