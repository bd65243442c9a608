package discount

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory tag store for development and tests.
type MemoryStore struct {
	tags map[string]*Tag
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory tag store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tags: make(map[string]*Tag)}
}

func (m *MemoryStore) Create(ctx context.Context, tag *Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tags[tag.ID]; ok {
		return ErrDuplicateTagID
	}
	m.tags[tag.ID] = copyTag(tag)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tags[id]
	if !ok {
		return nil, ErrTagNotFound
	}
	return copyTag(t), nil
}

func (m *MemoryStore) ListByMember(ctx context.Context, memberID string) ([]*Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Tag
	for _, t := range m.tags {
		if t.MemberID == memberID {
			result = append(result, copyTag(t))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) Deactivate(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tags[id]
	if !ok {
		return ErrTagNotFound
	}
	if !t.Active {
		return ErrTagAlreadyRemoved
	}
	t.Active = false
	t.RemovedAt = &at
	return nil
}

func copyTag(t *Tag) *Tag {
	cp := *t
	if t.ExpiresAt != nil {
		e := *t.ExpiresAt
		cp.ExpiresAt = &e
	}
	if t.RemovedAt != nil {
		r := *t.RemovedAt
		cp.RemovedAt = &r
	}
	return &cp
}
