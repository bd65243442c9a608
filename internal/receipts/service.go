package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/idgen"
)

// Service implements receipt issuing and verification.
type Service struct {
	store  Store
	signer *Signer
	now    func() time.Time
}

// NewService creates a new receipt service. With a nil signer receipts are
// still recorded but carry no signature.
func NewService(store Store, signer *Signer) *Service {
	return &Service{
		store:  store,
		signer: signer,
		now:    time.Now,
	}
}

// SigningEnabled reports whether receipts are signed.
func (s *Service) SigningEnabled() bool {
	return s != nil && s.signer != nil
}

// Issue signs and persists a receipt. Issuing an id that already exists
// returns the stored receipt, so retried commits do not duplicate receipts.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Receipt, error) {
	if req.ID == "" {
		req.ID = idgen.WithPrefix("rcp_")
	}
	if existing, err := s.store.Get(ctx, req.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrReceiptNotFound) {
		return nil, failure.External("receipts.get", err)
	}

	receipt := &Receipt{
		ID:              req.ID,
		CommitID:        req.CommitID,
		MemberID:        req.MemberID,
		PlanID:          req.PlanID,
		Quantity:        req.Quantity,
		LineTotal:       req.LineTotal,
		AmountReceived:  req.AmountReceived,
		Change:          req.Change,
		PaymentMethod:   req.PaymentMethod,
		ReferenceNumber: req.ReferenceNumber,
		IssuedAt:        s.now().UTC(),
	}

	payload := payloadOf(receipt)
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("receipts: failed to marshal payload: %w", err)
	}
	receipt.PayloadHash = fmt.Sprintf("%x", sha256.Sum256(data))
	if receipt.Signature, err = s.signer.Sign(payload); err != nil {
		return nil, fmt.Errorf("receipts: failed to sign: %w", err)
	}

	if err := s.store.Create(ctx, receipt); err != nil {
		if errors.Is(err, ErrDuplicateReceipt) {
			// Lost a race with a concurrent retry; the stored copy wins.
			return s.Get(ctx, receipt.ID)
		}
		return nil, failure.External("receipts.create", err)
	}
	return receipt, nil
}

// Get returns a receipt by ID.
func (s *Service) Get(ctx context.Context, id string) (*Receipt, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrReceiptNotFound) {
			return nil, failure.NotFound(err)
		}
		return nil, failure.External("receipts.get", err)
	}
	return r, nil
}

// ListByCommit returns the receipts issued for a commit.
func (s *Service) ListByCommit(ctx context.Context, commitID string) ([]*Receipt, error) {
	rs, err := s.store.ListByCommit(ctx, commitID)
	if err != nil {
		return nil, failure.External("receipts.list", err)
	}
	return rs, nil
}

// ListByMember returns a member's most recent receipts.
func (s *Service) ListByMember(ctx context.Context, memberID string, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	rs, err := s.store.ListByMember(ctx, memberID, limit)
	if err != nil {
		return nil, failure.External("receipts.list", err)
	}
	return rs, nil
}

// Verify checks whether a receipt's signature is valid.
func (s *Service) Verify(ctx context.Context, receiptID string) (*VerifyResponse, error) {
	if s.signer == nil {
		return &VerifyResponse{ReceiptID: receiptID, Error: ErrSigningDisabled.Error()}, nil
	}

	receipt, err := s.store.Get(ctx, receiptID)
	if err != nil {
		if errors.Is(err, ErrReceiptNotFound) {
			return &VerifyResponse{ReceiptID: receiptID, Error: ErrReceiptNotFound.Error()}, nil
		}
		return nil, failure.External("receipts.get", err)
	}

	resp := &VerifyResponse{
		Valid:     s.signer.Verify(payloadOf(receipt), receipt.Signature),
		ReceiptID: receiptID,
	}
	if !resp.Valid {
		resp.Error = "signature verification failed"
	}
	return resp, nil
}
