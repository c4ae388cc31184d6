package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LedgerMetrics are the domain counters. A nil *LedgerMetrics records nothing.
type LedgerMetrics struct {
	writes        metric.Int64Counter
	dashboards    metric.Int64Counter
	publishErrors metric.Int64Counter
	syncs         metric.Int64Counter
}

func NewLedgerMetrics(meter metric.Meter) (*LedgerMetrics, error) {
	writes, err1 := meter.Int64Counter("fintrack.ledger.writes",
		metric.WithDescription("Committed ledger mutations"))
	dashboards, err2 := meter.Int64Counter("fintrack.dashboard.views",
		metric.WithDescription("Dashboard views served"))
	publishErrors, err3 := meter.Int64Counter("fintrack.events.publish_errors",
		metric.WithDescription("Ledger events that could not be published"))
	syncs, err4 := meter.Int64Counter("fintrack.sheets.syncs",
		metric.WithDescription("Spreadsheet mirror operations"))
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return nil, err
	}
	return &LedgerMetrics{
		writes:        writes,
		dashboards:    dashboards,
		publishErrors: publishErrors,
		syncs:         syncs,
	}, nil
}

func (m *LedgerMetrics) TransactionWritten(ctx context.Context, op, kind string) {
	if m == nil {
		return
	}
	m.writes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("type", kind),
	))
}

func (m *LedgerMetrics) DashboardServed(ctx context.Context, filter string, cached bool) {
	if m == nil {
		return
	}
	m.dashboards.Add(ctx, 1, metric.WithAttributes(
		attribute.String("filter", filter),
		attribute.Bool("cached", cached),
	))
}

func (m *LedgerMetrics) PublishFailed(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func (m *LedgerMetrics) SheetSynced(ctx context.Context, event string, ok bool) {
	if m == nil {
		return
	}
	m.syncs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.Bool("success", ok),
	))
}
