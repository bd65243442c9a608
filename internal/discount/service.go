package discount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/idgen"
	"github.com/mbd888/gymops/internal/pricing"
	"github.com/mbd888/gymops/internal/syncutil"
	"github.com/mbd888/gymops/internal/validation"
)

// Service implements the discount eligibility rules.
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
	locks  syncutil.ShardedMutex // per-member locks serialising check-then-insert
}

// NewService creates a new discount service.
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// WithLogger sets a structured logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithClock overrides the time source used for active evaluation.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetActive returns the member's active tag, or nil when there is none.
func (s *Service) GetActive(ctx context.Context, memberID string) (*Tag, error) {
	tags, err := s.store.ListByMember(ctx, memberID)
	if err != nil {
		return nil, failure.External("discount.list", err)
	}
	return activeOf(tags, s.now()), nil
}

// EffectiveType returns the discount type pricing should use for the member.
func (s *Service) EffectiveType(ctx context.Context, memberID string) (pricing.DiscountType, error) {
	tag, err := s.GetActive(ctx, memberID)
	if err != nil {
		return pricing.DiscountNone, err
	}
	if tag == nil {
		return pricing.DiscountNone, nil
	}
	return tag.Type, nil
}

// History returns every tag the member has held, newest first.
func (s *Service) History(ctx context.Context, memberID string) ([]*Tag, error) {
	tags, err := s.store.ListByMember(ctx, memberID)
	if err != nil {
		return nil, failure.External("discount.list", err)
	}
	return tags, nil
}

// ValidateAdd checks req without touching the store.
func (s *Service) ValidateAdd(req AddRequest) error {
	if errs := validation.Validate(
		validation.Required("memberId", req.MemberID),
		validation.Required("verifiedBy", req.VerifiedBy),
		validation.MaxLength("notes", req.Notes, validation.MaxNotesLength),
	); len(errs) > 0 {
		return failure.Validation("%s", errs.Error())
	}
	if !pricing.ParseDiscountType(string(req.Type)).IsTag() {
		return failure.Validation("discountType must be %q or %q", pricing.DiscountStudent, pricing.DiscountSenior)
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(s.now()) {
		return failure.Validation("expiresAt is in the past")
	}
	return nil
}

// Add creates a tag. It is refused while the member has an active tag; the
// caller must remove the existing one first. When req.ID names a tag this
// member already owns, that tag is returned unchanged.
func (s *Service) Add(ctx context.Context, req AddRequest) (*Tag, error) {
	if err := s.ValidateAdd(req); err != nil {
		return nil, err
	}
	typ := pricing.ParseDiscountType(string(req.Type))

	defer s.locks.Lock(req.MemberID)()

	if req.ID != "" {
		existing, err := s.store.Get(ctx, req.ID)
		switch {
		case err == nil && existing.MemberID == req.MemberID:
			return existing, nil
		case err == nil:
			return nil, failure.Conflict(ErrDuplicateTagID)
		case !errors.Is(err, ErrTagNotFound):
			return nil, failure.External("discount.get", err)
		}
	}

	active, err := s.GetActive(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, failure.Conflict(fmt.Errorf("%w (%s tag %s)", ErrActiveTagExists, active.Type, active.ID))
	}

	expires := req.ExpiresAt
	if typ == pricing.DiscountSenior {
		// Senior eligibility never lapses.
		expires = nil
	}

	tag := &Tag{
		ID:         req.ID,
		MemberID:   req.MemberID,
		Type:       typ,
		VerifiedBy: validation.SanitizeString(req.VerifiedBy, 200),
		Notes:      validation.SanitizeString(req.Notes, validation.MaxNotesLength),
		Active:     true,
		CreatedAt:  s.now(),
		ExpiresAt:  expires,
	}
	if tag.ID == "" {
		tag.ID = idgen.WithPrefix("dsc_")
	}

	if err := s.store.Create(ctx, tag); err != nil {
		if errors.Is(err, ErrDuplicateTagID) {
			return nil, failure.Conflict(err)
		}
		return nil, failure.External("discount.create", err)
	}

	TagOpsTotal.WithLabelValues("add", string(typ)).Inc()
	s.logger.Info("discount tag added",
		"tag_id", tag.ID, "member_id", tag.MemberID, "type", tag.Type, "verified_by", tag.VerifiedBy)
	return tag, nil
}

// Remove ends a tag. The row is kept with its active flag cleared.
func (s *Service) Remove(ctx context.Context, tagID string) (*Tag, error) {
	tag, err := s.store.Get(ctx, strings.TrimSpace(tagID))
	if err != nil {
		if errors.Is(err, ErrTagNotFound) {
			return nil, failure.NotFound(err)
		}
		return nil, failure.External("discount.get", err)
	}

	defer s.locks.Lock(tag.MemberID)()

	if !tag.Active {
		return nil, failure.Conflict(ErrTagAlreadyRemoved)
	}

	now := s.now()
	if err := s.store.Deactivate(ctx, tag.ID, now); err != nil {
		if errors.Is(err, ErrTagAlreadyRemoved) {
			return nil, failure.Conflict(err)
		}
		return nil, failure.External("discount.deactivate", err)
	}
	tag.Active = false
	tag.RemovedAt = &now

	TagOpsTotal.WithLabelValues("remove", string(tag.Type)).Inc()
	s.logger.Info("discount tag removed", "tag_id", tag.ID, "member_id", tag.MemberID)
	return tag, nil
}

// activeOf picks the newest active tag.
func activeOf(tags []*Tag, now time.Time) *Tag {
	var best *Tag
	for _, t := range tags {
		if t.IsActive(now) && (best == nil || t.CreatedAt.After(best.CreatedAt)) {
			best = t
		}
	}
	return best
}
