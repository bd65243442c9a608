package plan

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory catalog for demo/development mode.
type MemoryStore struct {
	mu    sync.RWMutex
	plans []Plan
}

// NewMemoryStore creates an in-memory catalog holding plans in order.
func NewMemoryStore(plans ...Plan) *MemoryStore {
	cp := make([]Plan, len(plans))
	copy(cp, plans)
	return &MemoryStore{plans: cp}
}

func (m *MemoryStore) List(_ context.Context) ([]Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Plan, len(m.plans))
	copy(out, m.plans)
	return out, nil
}

// Replace swaps the whole catalog (used when the seed file is reloaded).
func (m *MemoryStore) Replace(plans []Plan) {
	cp := make([]Plan, len(plans))
	copy(cp, plans)
	m.mu.Lock()
	m.plans = cp
	m.mu.Unlock()
}

var _ Store = (*MemoryStore)(nil)
