package discount

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/gymops/internal/pricing"
)

// PostgresStore persists discount tags in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tag store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tagColumns = `id, member_id, discount_type, verified_by, notes, active, created_at, expires_at, removed_at`

func (p *PostgresStore) Create(ctx context.Context, t *Tag) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO discount_tags (`+tagColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.MemberID, string(t.Type), t.VerifiedBy, t.Notes, t.Active,
		t.CreatedAt, nullTime(t.ExpiresAt), nullTime(t.RemovedAt),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateTagID
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tag, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM discount_tags WHERE id = $1`, id)
	t, err := scanTag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTagNotFound
	}
	return t, err
}

func (p *PostgresStore) ListByMember(ctx context.Context, memberID string) ([]*Tag, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tagColumns+`
		FROM discount_tags
		WHERE member_id = $1
		ORDER BY created_at DESC`, memberID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Deactivate(ctx context.Context, id string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE discount_tags SET active = FALSE, removed_at = $1
		WHERE id = $2 AND active`, at, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := p.Get(ctx, id); err != nil {
			return err
		}
		return ErrTagAlreadyRemoved
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTag(row scanner) (*Tag, error) {
	var (
		t         Tag
		typ       string
		notes     sql.NullString
		expiresAt sql.NullTime
		removedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.MemberID, &typ, &t.VerifiedBy, &notes, &t.Active,
		&t.CreatedAt, &expiresAt, &removedAt); err != nil {
		return nil, err
	}
	t.Type = pricing.ParseDiscountType(typ)
	t.Notes = notes.String
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if removedAt.Valid {
		t.RemovedAt = &removedAt.Time
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
