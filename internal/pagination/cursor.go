// Package pagination provides keyset (created_at, id) cursors for list endpoints.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

var ErrInvalidCursor = errors.New("pagination: invalid cursor")

// Cursor is the (created_at, id) key of the last row a client has seen.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// After reports whether (createdAt, id) sorts after c in ascending
// (created_at, id) order. A nil cursor precedes everything.
func (c *Cursor) After(createdAt time.Time, id string) bool {
	if c == nil {
		return true
	}
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.After(c.CreatedAt)
	}
	return id > c.ID
}

// String encodes c as an opaque URL-safe token.
func (c Cursor) String() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Encode is shorthand for Cursor{createdAt, id}.String().
func Encode(createdAt time.Time, id string) string {
	return Cursor{CreatedAt: createdAt, ID: id}.String()
}

// Decode parses a token produced by Encode. An empty token yields a nil
// cursor, meaning the first page.
func Decode(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ParseLimit parses a limit query value, falling back to DefaultLimit and
// capping at MaxLimit.
func ParseLimit(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return DefaultLimit
	}
	return min(n, MaxLimit)
}

// Trim cuts rows fetched with limit+1 down to one page. next is the token
// for the following page, or empty when rows held no extra row.
func Trim[T any](rows []T, limit int, key func(T) Cursor) (page []T, next string) {
	if len(rows) <= limit {
		return rows, ""
	}
	page = rows[:limit]
	return page, key(page[limit-1]).String()
}
