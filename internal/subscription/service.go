package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/plan"
)

// Service wraps the line store with classification, metrics and logging.
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a new subscription service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now, logger: slog.Default()}
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

// CreateLine records line idempotently by receipt id.
func (s *Service) CreateLine(ctx context.Context, line *Line) (*Line, error) {
	if line.ReceiptID == "" {
		return nil, failure.Validation("subscription line requires a receipt id")
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = s.now()
	}
	if line.EndDate == nil && !line.StartDate.IsZero() {
		line.EndDate = EndDate(line.UnitLabel, line.StartDate, line.Quantity)
	}

	stored, created, err := s.store.CreateLine(ctx, line)
	if err != nil {
		LinesTotal.WithLabelValues("error").Inc()
		return nil, failure.External("subscription.create_line", err)
	}
	if !created {
		if !stored.sameAs(line) {
			LinesTotal.WithLabelValues("conflict").Inc()
			return nil, failure.Conflict(fmt.Errorf("%w: %s", ErrReceiptReused, line.ReceiptID))
		}
		LinesTotal.WithLabelValues("replayed").Inc()
		s.logger.Info("subscription line already recorded", "receipt_id", line.ReceiptID, "commit_id", line.CommitID)
		return stored, nil
	}
	LinesTotal.WithLabelValues("created").Inc()
	return stored, nil
}

// Get returns a line by receipt id.
func (s *Service) Get(ctx context.Context, receiptID string) (*Line, error) {
	l, err := s.store.GetLine(ctx, receiptID)
	if err != nil {
		if errors.Is(err, ErrLineNotFound) {
			return nil, failure.NotFound(err)
		}
		return nil, failure.External("subscription.get_line", err)
	}
	return l, nil
}

// List returns a member's lines; with activeOnly only those still running.
func (s *Service) List(ctx context.Context, memberID string, activeOnly bool) ([]*Line, error) {
	var (
		lines []*Line
		err   error
	)
	if activeOnly {
		lines, err = s.store.ListActiveByMember(ctx, memberID, s.now())
	} else {
		lines, err = s.store.ListByMember(ctx, memberID)
	}
	if err != nil {
		return nil, failure.External("subscription.list", err)
	}
	return lines, nil
}

// ActivePlanIDs returns the distinct plans the member currently holds.
func (s *Service) ActivePlanIDs(ctx context.Context, memberID string) ([]plan.ID, error) {
	lines, err := s.List(ctx, memberID, true)
	if err != nil {
		return nil, err
	}
	seen := make(map[plan.ID]bool, len(lines))
	var ids []plan.ID
	for _, l := range lines {
		if !seen[l.PlanID] {
			seen[l.PlanID] = true
			ids = append(ids, l.PlanID)
		}
	}
	return ids, nil
}
