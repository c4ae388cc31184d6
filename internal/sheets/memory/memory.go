// Package memory is an in-process TransactionMirror for tests and for
// running the worker without a spreadsheet.
package memory

import (
	"context"
	"sort"
	"sync"

	"fintrack/internal/core"
	ports "fintrack/internal/sheets"
)

type Mirror struct {
	mu   sync.Mutex
	rows map[int64]core.Transaction
}

var _ ports.TransactionMirror = (*Mirror)(nil)

func New() *Mirror {
	return &Mirror{rows: make(map[int64]core.Transaction)}
}

// UpsertTransaction stores t under its ID.
func (m *Mirror) UpsertTransaction(_ context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[t.ID] = t
	return nil
}

func (m *Mirror) DeleteTransaction(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *Mirror) Get(id int64) (core.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	return t, ok
}

// IDs returns the mirrored transaction IDs in ascending order.
func (m *Mirror) IDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.rows))
	for id := range m.rows {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
