package receipts

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/plan"
)

// PostgresStore persists receipts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed receipt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const receiptColumns = `id, commit_id, member_id, plan_id, quantity,
		line_total, amount_received, change_given, payment_method, reference_number,
		payload_hash, signature, issued_at`

func (p *PostgresStore) Create(ctx context.Context, r *Receipt) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES (
			$1, $2, $3, $4, $5,
			$6::NUMERIC(12,2), $7::NUMERIC(12,2), $8::NUMERIC(12,2), $9, $10,
			$11, $12, $13
		)`,
		r.ID, r.CommitID, r.MemberID, int(r.PlanID), r.Quantity,
		r.LineTotal, r.AmountReceived, r.Change, string(r.PaymentMethod), nullString(r.ReferenceNumber),
		r.PayloadHash, nullString(r.Signature), r.IssuedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateReceipt
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) ListByCommit(ctx context.Context, commitID string) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE commit_id = $1
		ORDER BY issued_at DESC, id`, commitID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanReceipts(rows)
}

func (p *PostgresStore) ListByMember(ctx context.Context, memberID string, limit int) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE member_id = $1
		ORDER BY issued_at DESC, id
		LIMIT $2`, memberID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanReceipts(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row scanner) (*Receipt, error) {
	var (
		r         Receipt
		planID    int
		method    string
		reference sql.NullString
		signature sql.NullString
	)
	if err := row.Scan(&r.ID, &r.CommitID, &r.MemberID, &planID, &r.Quantity,
		&r.LineTotal, &r.AmountReceived, &r.Change, &method, &reference,
		&r.PayloadHash, &signature, &r.IssuedAt); err != nil {
		return nil, err
	}
	r.PlanID = plan.ID(planID)
	r.PaymentMethod = order.PaymentMethod(method)
	r.ReferenceNumber = reference.String
	r.Signature = signature.String
	return &r, nil
}

func scanReceipts(rows *sql.Rows) ([]*Receipt, error) {
	var result []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
