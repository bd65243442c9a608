package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/idgen"
	"github.com/mbd888/gymops/internal/pagination"
	"github.com/mbd888/gymops/internal/syncutil"
	"github.com/mbd888/gymops/internal/traces"
	"github.com/mbd888/gymops/internal/validation"
)

// RegisterRequest contains the parameters for a new (pending) account.
type RegisterRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required"`
	Phone string `json:"phone"`
}

// DeactivateRequest names the reason for a deactivation.
type DeactivateRequest struct {
	Code ReasonCode `json:"reasonCode"`
	Text string     `json:"reasonText"`
}

// Page is one page of a status listing.
type Page struct {
	Accounts   []*Account `json:"accounts"`
	NextCursor string     `json:"nextCursor,omitempty"`
	HasMore    bool       `json:"hasMore"`
}

// Service drives account status transitions.
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
	locks  syncutil.ShardedMutex // per-member transition locks
}

// NewService creates a new account service.
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

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a pending account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.Required("email", req.Email),
		validation.ValidEmail("email", strings.TrimSpace(req.Email)),
		validation.MaxLength("name", req.Name, validation.MaxNameLength),
	); len(errs) > 0 {
		return nil, failure.Validation("%s", errs.Error())
	}

	now := s.now()
	a := &Account{
		MemberID:  idgen.Ordered("mbr_"),
		Name:      validation.SanitizeString(req.Name, validation.MaxNameLength),
		Email:     validation.NormalizeEmail(req.Email),
		Phone:     validation.SanitizeString(req.Phone, 40),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateMember) {
			return nil, failure.Conflict(err)
		}
		return nil, failure.External("account.create", err)
	}

	TransitionsTotal.WithLabelValues("register", "ok").Inc()
	s.logger.Info("account registered", "member_id", a.MemberID)
	return a, nil
}

// Get returns an account.
func (s *Service) Get(ctx context.Context, memberID string) (*Account, error) {
	a, err := s.store.Get(ctx, memberID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, failure.NotFound(err)
		}
		return nil, failure.External("account.get", err)
	}
	return a, nil
}

// List returns accounts in registration order, optionally filtered by status.
func (s *Service) List(ctx context.Context, status, cursor string, limit int) (*Page, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, failure.Wrap(failure.KindValidation, err)
	}
	if limit <= 0 || limit > pagination.MaxLimit {
		limit = pagination.DefaultLimit
	}

	items, err := s.store.List(ctx, ListFilter{Status: st, After: after, Limit: limit + 1})
	if err != nil {
		return nil, failure.External("account.list", err)
	}
	items, next := pagination.Trim(items, limit, func(a *Account) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.MemberID}
	})
	if items == nil {
		items = []*Account{}
	}
	return &Page{Accounts: items, NextCursor: next, HasMore: next != ""}, nil
}

// Approve moves a pending account to approved.
func (s *Service) Approve(ctx context.Context, memberID string) (*Account, error) {
	return s.transition(ctx, memberID, ActionApprove, nil)
}

// Reject moves a pending account to rejected.
func (s *Service) Reject(ctx context.Context, memberID string) (*Account, error) {
	return s.transition(ctx, memberID, ActionReject, nil)
}

// Deactivate moves an approved account to deactivated with a reason.
func (s *Service) Deactivate(ctx context.Context, memberID string, req DeactivateRequest) (*Account, error) {
	reason, err := ResolveReason(req.Code, req.Text)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, memberID, ActionDeactivate, &reason)
}

// Reactivate moves a deactivated account back to approved.
func (s *Service) Reactivate(ctx context.Context, memberID string) (*Account, error) {
	return s.transition(ctx, memberID, ActionReactivate, nil)
}

// Restore moves a rejected account to approved.
func (s *Service) Restore(ctx context.Context, memberID string) (*Account, error) {
	return s.transition(ctx, memberID, ActionRestore, nil)
}

// CheckTransition reports whether action is currently allowed for the
// member, without changing anything.
func (s *Service) CheckTransition(ctx context.Context, memberID string, action Action) (*Account, error) {
	a, err := s.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if _, err := Next(a.Status, action); err != nil {
		return a, err
	}
	return a, nil
}

func (s *Service) transition(ctx context.Context, memberID string, action Action, reason *string) (_ *Account, err error) {
	ctx, span := traces.StartSpan(ctx, "account."+string(action), traces.MemberID(memberID))
	defer func() {
		result := "ok"
		if err != nil {
			result = string(failure.KindOf(err))
		}
		TransitionsTotal.WithLabelValues(string(action), result).Inc()
		traces.End(span, err)
	}()

	defer s.locks.Lock(memberID)()

	a, err := s.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	to, err := Next(a.Status, action)
	if err != nil {
		return nil, err
	}

	// Only deactivated accounts carry a reason.
	if to != StatusDeactivated {
		reason = nil
	}
	change := StatusChange{MemberID: memberID, From: a.Status, To: to, Reason: reason, At: s.now()}
	if err := s.store.SetStatus(ctx, change); err != nil {
		switch {
		case errors.Is(err, ErrInvalidTransition):
			return nil, failure.Conflict(err)
		case errors.Is(err, ErrAccountNotFound):
			return nil, failure.NotFound(err)
		}
		return nil, failure.External("account.set_status", err)
	}

	a.Status = to
	a.DeactivationReason = reason
	a.UpdatedAt = change.At
	s.logger.Info("account status changed",
		"member_id", memberID, "action", action, "from", change.From, "to", to)
	return a, nil
}
