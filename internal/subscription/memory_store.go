package subscription

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory line store for development and tests.
type MemoryStore struct {
	lines map[string]*Line
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory line store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lines: make(map[string]*Line)}
}

func (m *MemoryStore) CreateLine(_ context.Context, line *Line) (*Line, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.lines[line.ReceiptID]; ok {
		return copyLine(existing), false, nil
	}
	m.lines[line.ReceiptID] = copyLine(line)
	return copyLine(line), true, nil
}

func (m *MemoryStore) GetLine(_ context.Context, receiptID string) (*Line, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.lines[receiptID]
	if !ok {
		return nil, ErrLineNotFound
	}
	return copyLine(l), nil
}

func (m *MemoryStore) ListByMember(_ context.Context, memberID string) ([]*Line, error) {
	return m.filter(func(l *Line) bool { return l.MemberID == memberID }), nil
}

func (m *MemoryStore) ListActiveByMember(_ context.Context, memberID string, now time.Time) ([]*Line, error) {
	return m.filter(func(l *Line) bool { return l.MemberID == memberID && l.ActiveAt(now) }), nil
}

// Len returns the number of stored lines.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lines)
}

func (m *MemoryStore) filter(match func(*Line) bool) []*Line {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Line
	for _, l := range m.lines {
		if match(l) {
			result = append(result, copyLine(l))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ReceiptID < result[j].ReceiptID
	})
	return result
}

func copyLine(l *Line) *Line {
	cp := *l
	if l.EndDate != nil {
		e := *l.EndDate
		cp.EndDate = &e
	}
	return &cp
}
