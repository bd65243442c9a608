// Package discount tracks discount eligibility tags. A member holds at most
// one active tag at any instant; whether a tag is active is always evaluated
// at read time from its flag and expiry, never stored as a derived boolean.
package discount

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/gymops/internal/pricing"
)

var (
	ErrTagNotFound       = errors.New("discount: tag not found")
	ErrActiveTagExists   = errors.New("discount: member already has an active discount tag")
	ErrTagAlreadyRemoved = errors.New("discount: tag already removed")
	ErrDuplicateTagID    = errors.New("discount: tag id already used")
)

// Tag is a discount eligibility marker on a member.
type Tag struct {
	ID         string               `json:"id"`
	MemberID   string               `json:"memberId"`
	Type       pricing.DiscountType `json:"discountType"`
	VerifiedBy string               `json:"verifiedBy"`
	Notes      string               `json:"notes,omitempty"`
	Active     bool                 `json:"isActiveFlag"`
	CreatedAt  time.Time            `json:"createdAt"`
	ExpiresAt  *time.Time           `json:"expiresAt,omitempty"` // nil = permanent
	RemovedAt  *time.Time           `json:"removedAt,omitempty"`
}

// IsActive reports whether the tag counts at instant now.
func (t *Tag) IsActive(now time.Time) bool {
	if t == nil || !t.Active {
		return false
	}
	return t.ExpiresAt == nil || !t.ExpiresAt.Before(now)
}

// AddRequest contains the parameters for adding a tag.
type AddRequest struct {
	ID         string               `json:"-"` // optional caller-chosen id; makes Add idempotent
	MemberID   string               `json:"-"`
	Type       pricing.DiscountType `json:"discountType" binding:"required"`
	VerifiedBy string               `json:"verifiedBy"` // defaults to the authenticated operator
	ExpiresAt  *time.Time           `json:"expiresAt"`
	Notes      string               `json:"notes"`
}

// Store persists discount tags.
type Store interface {
	Create(ctx context.Context, tag *Tag) error
	Get(ctx context.Context, id string) (*Tag, error)
	ListByMember(ctx context.Context, memberID string) ([]*Tag, error)
	Deactivate(ctx context.Context, id string, at time.Time) error
}
