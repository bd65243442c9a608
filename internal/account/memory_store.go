package account

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory account store for development and tests.
type MemoryStore struct {
	accounts map[string]*Account
	byEmail  map[string]string
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[a.MemberID]; ok {
		return ErrDuplicateMember
	}
	if _, ok := m.byEmail[a.Email]; ok {
		return ErrDuplicateMember
	}
	m.accounts[a.MemberID] = copyAccount(a)
	m.byEmail[a.Email] = a.MemberID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, memberID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[memberID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return copyAccount(a), nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, change StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[change.MemberID]
	if !ok {
		return ErrAccountNotFound
	}
	if a.Status != change.From {
		return &TransitionError{From: a.Status, Action: actionFor(change)}
	}
	a.Status = change.To
	a.DeactivationReason = nil
	if change.Reason != nil {
		r := *change.Reason
		a.DeactivationReason = &r
	}
	a.UpdatedAt = change.At
	return nil
}

func (m *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Account
	for _, a := range m.accounts {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if !filter.After.After(a.CreatedAt, a.MemberID) {
			continue
		}
		result = append(result, copyAccount(a))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].MemberID < result[j].MemberID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// actionFor recovers the action a change represents, for error reporting.
func actionFor(change StatusChange) Action {
	for action, t := range transitions {
		if t.from == change.From && t.to == change.To {
			return action
		}
	}
	return Action("set " + string(change.To))
}

func copyAccount(a *Account) *Account {
	cp := *a
	if a.DeactivationReason != nil {
		r := *a.DeactivationReason
		cp.DeactivationReason = &r
	}
	return &cp
}
