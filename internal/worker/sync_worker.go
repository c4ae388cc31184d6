package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/sheets"
	"fintrack/internal/storage"
	"fintrack/internal/telemetry"
)

// Source is the slice of the SQL repository the worker reads from.
type Source interface {
	GetVersioned(ctx context.Context, id int64) (core.Transaction, int64, error)
	GetPendingSync(ctx context.Context, limit int) ([]storage.PendingSync, error)
	MarkSynced(ctx context.Context, id, version int64) error
	MarkSyncError(ctx context.Context, id, version int64) error
}

var _ Source = (*storage.Repository)(nil)

// errRetryScheduled means the mirror failed but the row is flagged for the
// pending scan, so the message itself need not be redelivered.
var errRetryScheduled = errors.New("mirror failed, retry scheduled")

// SyncWorker mirrors ledger rows from the database into a spreadsheet.
type SyncWorker struct {
	source    Source
	mirror    sheets.TransactionMirror
	metrics   *telemetry.LedgerMetrics
	batchSize int
}

func NewSyncWorker(source Source, mirror sheets.TransactionMirror, metrics *telemetry.LedgerMetrics, batchSize int) *SyncWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &SyncWorker{
		source:    source,
		mirror:    mirror,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// HandleLedgerEvent processes one AMQP message. Created and updated events
// reload the row by ID, so an out-of-order message still mirrors the latest
// version. A returned error requeues the message.
func (w *SyncWorker) HandleLedgerEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	slog.InfoContext(ctx, "Processing ledger event",
		"event", msg.Event,
		"transaction_id", msg.TransactionID,
		"user_id", msg.UserID)

	switch msg.Event {
	case amqp.EventCreated, amqp.EventUpdated:
		err := w.syncTransaction(ctx, string(msg.Event), msg.TransactionID)
		if errors.Is(err, errRetryScheduled) {
			return nil
		}
		return err
	case amqp.EventDeleted:
		return w.deleteTransaction(ctx, msg.TransactionID)
	}
	return fmt.Errorf("unknown event type %q", msg.Event)
}

func (w *SyncWorker) syncTransaction(ctx context.Context, event string, id int64) error {
	t, version, err := w.source.GetVersioned(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		// Deleted after the event was published.
		slog.InfoContext(ctx, "Transaction no longer exists, removing from mirror", "transaction_id", id)
		return w.deleteTransaction(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	if err := w.mirror.UpsertTransaction(ctx, t); err != nil {
		w.metrics.SheetSynced(ctx, event, false)
		slog.ErrorContext(ctx, "Failed to mirror transaction",
			"transaction_id", id, "version", version, "error", err)
		if markErr := w.source.MarkSyncError(ctx, id, version); markErr != nil {
			return fmt.Errorf("mirror transaction: %w", errors.Join(err, markErr))
		}
		return fmt.Errorf("%w: %v", errRetryScheduled, err)
	}
	w.metrics.SheetSynced(ctx, event, true)

	if err := w.source.MarkSynced(ctx, id, version); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

func (w *SyncWorker) deleteTransaction(ctx context.Context, id int64) error {
	if err := w.mirror.DeleteTransaction(ctx, id); err != nil {
		w.metrics.SheetSynced(ctx, string(amqp.EventDeleted), false)
		return fmt.Errorf("delete transaction from mirror: %w", err)
	}
	w.metrics.SheetSynced(ctx, string(amqp.EventDeleted), true)
	slog.InfoContext(ctx, "Removed transaction from mirror", "transaction_id", id)
	return nil
}

// ProcessPending mirrors rows that never got (or failed) their event.
// This is the backup path when AMQP messages are lost.
func (w *SyncWorker) ProcessPending(ctx context.Context) error {
	_, _, err := w.processBatch(ctx, w.batchSize)
	return err
}

// StartupSyncCheck runs a larger pending pass when the worker starts.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	ok, failed, err := w.processBatch(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync check: %w", err)
	}
	if ok+failed == 0 {
		slog.InfoContext(ctx, "No pending transactions found on startup")
		return nil
	}
	slog.InfoContext(ctx, "Startup sync check completed",
		"synced", ok,
		"errors", failed)
	return nil
}

func (w *SyncWorker) processBatch(ctx context.Context, limit int) (ok, failed int, err error) {
	pending, err := w.source.GetPendingSync(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("get pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}
	slog.InfoContext(ctx, "Processing pending transactions", "count", len(pending))

	for _, p := range pending {
		if ctx.Err() != nil {
			return ok, failed, ctx.Err()
		}
		if err := w.syncTransaction(ctx, "pending", p.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to sync pending transaction", "transaction_id", p.ID, "error", err)
			failed++
			continue
		}
		ok++
	}
	return ok, failed, nil
}

// Run calls ProcessPending every interval until ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "Pending sync pass failed", "error", err)
			}
		}
	}
}
