package subscription

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/mbd888/gymops/internal/pricing"
)

// PostgresStore persists subscription lines in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed line store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const lineColumns = `receipt_id, commit_id, member_id, plan_id, plan_name, unit_label, quantity,
		unit_price, line_total, amount_received, change_given, discount_type,
		payment_method, reference_number, start_date, end_date, created_at`

// CreateLine relies on the receipt_id primary key: a conflicting insert is a
// no-op and the stored row is read back.
func (p *PostgresStore) CreateLine(ctx context.Context, l *Line) (*Line, bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO subscription_lines (`+lineColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (receipt_id) DO NOTHING`,
		l.ReceiptID, l.CommitID, l.MemberID, int(l.PlanID), l.PlanName, l.UnitLabel, l.Quantity,
		l.UnitPrice, l.LineTotal, l.AmountReceived, l.Change, string(l.DiscountType),
		string(l.PaymentMethod), nullString(l.ReferenceNumber), l.StartDate, nullTime(l.EndDate), l.CreatedAt,
	)
	if err != nil {
		return nil, false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	stored, err := p.GetLine(ctx, l.ReceiptID)
	if err != nil {
		return nil, false, err
	}
	return stored, n == 1, nil
}

func (p *PostgresStore) GetLine(ctx context.Context, receiptID string) (*Line, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+lineColumns+` FROM subscription_lines WHERE receipt_id = $1`, receiptID)
	l, err := scanLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLineNotFound
	}
	return l, err
}

func (p *PostgresStore) ListByMember(ctx context.Context, memberID string) ([]*Line, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+lineColumns+`
		FROM subscription_lines
		WHERE member_id = $1
		ORDER BY created_at, receipt_id`, memberID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanLines(rows)
}

func (p *PostgresStore) ListActiveByMember(ctx context.Context, memberID string, now time.Time) ([]*Line, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+lineColumns+`
		FROM subscription_lines
		WHERE member_id = $1 AND (end_date IS NULL OR end_date > $2)
		ORDER BY created_at, receipt_id`, memberID, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanLines(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLine(row scanner) (*Line, error) {
	var (
		l         Line
		planID    int
		discount  string
		method    string
		reference sql.NullString
		endDate   sql.NullTime
	)
	if err := row.Scan(&l.ReceiptID, &l.CommitID, &l.MemberID, &planID, &l.PlanName, &l.UnitLabel, &l.Quantity,
		&l.UnitPrice, &l.LineTotal, &l.AmountReceived, &l.Change, &discount,
		&method, &reference, &l.StartDate, &endDate, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.PlanID = plan.ID(planID)
	l.DiscountType = pricing.ParseDiscountType(discount)
	l.PaymentMethod = order.PaymentMethod(method)
	l.ReferenceNumber = reference.String
	if endDate.Valid {
		l.EndDate = &endDate.Time
	}
	return &l, nil
}

func scanLines(rows *sql.Rows) ([]*Line, error) {
	var result []*Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
