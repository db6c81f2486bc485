package receipts

import (
	"context"
	"sync"
)

// Memory is an in-process journal.
type Memory struct {
	mu        sync.RWMutex
	decisions []DecisionRecord
	payments  []Payment
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) RecordDecision(_ context.Context, rec DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, rec)
	return nil
}

func (m *Memory) RecordPayment(_ context.Context, p Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, p)
	return nil
}

func (m *Memory) GetDecision(_ context.Context, requestID string) (*DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.decisions) - 1; i >= 0; i-- {
		if m.decisions[i].RequestID == requestID {
			rec := m.decisions[i]
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListDecisions(_ context.Context, limit int) ([]DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.decisions, normalizeLimit(limit)), nil
}

func (m *Memory) ListPayments(_ context.Context, limit int) ([]Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.payments, normalizeLimit(limit)), nil
}

func (m *Memory) Close() error { return nil }

func newestFirst[T any](in []T, limit int) []T {
	n := min(limit, len(in))
	out := make([]T, 0, n)
	for i := len(in) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, in[i])
	}
	return out
}
