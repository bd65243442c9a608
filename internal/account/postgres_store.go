package account

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore persists accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `member_id, name, email, phone, status, deactivation_reason, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, a *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.MemberID, a.Name, a.Email, a.Phone, string(a.Status),
		nullString(a.DeactivationReason), a.CreatedAt, a.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateMember
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, memberID string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE member_id = $1`, memberID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func (p *PostgresStore) SetStatus(ctx context.Context, change StatusChange) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET status = $1, deactivation_reason = $2, updated_at = $3
		WHERE member_id = $4 AND status = $5`,
		string(change.To), nullString(change.Reason), change.At,
		change.MemberID, string(change.From),
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, err := p.Get(ctx, change.MemberID)
		if err != nil {
			return err
		}
		return &TransitionError{From: current.Status, Action: actionFor(change)}
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Account, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, "status = $1")
	}
	if filter.After != nil {
		args = append(args, filter.After.CreatedAt, filter.After.ID)
		n := len(args)
		where = append(where, "(created_at, member_id) > ($"+strconv.Itoa(n-1)+", $"+strconv.Itoa(n)+")")
	}
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, member_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*Account, error) {
	var (
		a      Account
		status string
		phone  sql.NullString
		reason sql.NullString
	)
	if err := row.Scan(&a.MemberID, &a.Name, &a.Email, &phone, &status, &reason,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	a.Phone = phone.String
	if reason.Valid {
		a.DeactivationReason = &reason.String
	}
	return &a, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
