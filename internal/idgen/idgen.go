// Package idgen generates identifiers for members, tags, commits and receipts.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random (v4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by 32 hex chars of a random UUID
// (e.g. "cmt_", "rcp_", "mbr_").
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Ordered returns a time-ordered (v7) UUID string, so that ids sort by
// creation time. Falls back to a random id if the clock source fails.
func Ordered(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return WithPrefix(prefix)
	}
	return prefix + strings.ReplaceAll(id.String(), "-", "")
}

// HasPrefix reports whether id was generated with prefix and has a valid body.
func HasPrefix(id, prefix string) bool {
	body, ok := strings.CutPrefix(id, prefix)
	if !ok || len(body) != 32 {
		return false
	}
	_, err := uuid.Parse(body)
	return err == nil
}
