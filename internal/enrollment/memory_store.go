package enrollment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrDuplicateCommit is returned by Create for an id already stored.
var ErrDuplicateCommit = errors.New("enrollment: duplicate commit id")

// MemoryStore is an in-memory commit store for development and tests.
type MemoryStore struct {
	commits map[string]*Commit
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory commit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		commits: make(map[string]*Commit),
	}
}

func (m *MemoryStore) Create(_ context.Context, c *Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.commits[c.ID]; ok {
		return ErrDuplicateCommit
	}
	m.commits[c.ID] = c.clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.commits[id]
	if !ok {
		return nil, ErrCommitNotFound
	}
	return c.clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, c *Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.commits[c.ID]; !ok {
		return ErrCommitNotFound
	}
	m.commits[c.ID] = c.clone()
	return nil
}

// ListByStatus returns commits in status last updated before updatedBefore, oldest first.
func (m *MemoryStore) ListByStatus(_ context.Context, status Status, updatedBefore time.Time, limit int) ([]*Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Commit
	for _, c := range m.commits {
		if c.Status == status && c.UpdatedAt.Before(updatedBefore) {
			result = append(result, c.clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListByMember returns a member's commits, newest first.
func (m *MemoryStore) ListByMember(_ context.Context, memberID string, limit int) ([]*Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Commit
	for _, c := range m.commits {
		if c.MemberID == memberID {
			result = append(result, c.clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
