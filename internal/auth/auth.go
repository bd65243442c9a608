// Package auth authenticates front-desk operators.
//
// Authentication model:
//   - Read endpoints (plans, quotes, account lookups): no auth required
//   - Mutations (register, approve, purchase, discount tags): operator API key
//   - Keys are bound to an operator name, which is recorded on commits
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Errors
var (
	ErrNoAPIKey      = errors.New("auth: API key required")
	ErrInvalidAPIKey = errors.New("auth: invalid or expired API key")
	ErrKeyNotFound   = errors.New("auth: API key not found")
)

// KeyPrefix marks raw operator keys.
const KeyPrefix = "gk_"

// APIKey is an operator API key. Only the hash of the raw key is stored.
type APIKey struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"`
	Operator  string     `json:"operator"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  *time.Time `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Store persists API keys
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	ListByOperator(ctx context.Context, operator string) ([]*APIKey, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string) error
}

// Manager handles authentication
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager creates a new auth manager
func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// GenerateKey creates a new API key for an operator.
// Returns the raw key (shown once) and the stored metadata.
func (m *Manager) GenerateKey(ctx context.Context, operator, name string) (rawKey string, key *APIKey, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	rawKey = KeyPrefix + hex.EncodeToString(b)
	key, err = m.ImportKey(ctx, operator, name, rawKey)
	return rawKey, key, err
}

// ImportKey registers a raw key chosen outside the service (the bootstrap
// key from configuration). Importing a key that is already stored returns
// the stored record.
func (m *Manager) ImportKey(ctx context.Context, operator, name, rawKey string) (*APIKey, error) {
	rawKey = strings.TrimSpace(rawKey)
	if !strings.HasPrefix(rawKey, KeyPrefix) {
		return nil, ErrInvalidAPIKey
	}
	hash := hashKey(rawKey)
	if existing, err := m.store.GetByHash(ctx, hash); err == nil {
		return existing, nil
	}

	key := &APIKey{
		ID:        "opk_" + hash[:16],
		Hash:      hash,
		Operator:  strings.TrimSpace(operator),
		Name:      name,
		CreatedAt: m.now(),
	}
	if err := m.store.Create(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// ValidateKey validates an API key and returns the key metadata
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	rawKey = strings.TrimSpace(strings.TrimPrefix(rawKey, "Bearer "))
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}
	if !strings.HasPrefix(rawKey, KeyPrefix) {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	now := m.now()
	if key.Revoked || (key.ExpiresAt != nil && now.After(*key.ExpiresAt)) {
		return nil, ErrInvalidAPIKey
	}

	// Last-used is advisory; a failed write does not fail the request.
	_ = m.store.Touch(ctx, key.ID, now)
	key.LastUsed = &now
	return key, nil
}

// ListKeys returns all keys for an operator
func (m *Manager) ListKeys(ctx context.Context, operator string) ([]*APIKey, error) {
	return m.store.ListByOperator(ctx, operator)
}

// RevokeKey revokes one of the operator's keys
func (m *Manager) RevokeKey(ctx context.Context, keyID, operator string) error {
	keys, err := m.store.ListByOperator(ctx, operator)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == keyID && !k.Revoked {
			return m.store.Revoke(ctx, keyID)
		}
	}
	return ErrKeyNotFound
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
