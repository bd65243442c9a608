package enrollment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists commit records in PostgreSQL. The order, its
// settlement, the discount request and the step list are stored as JSONB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed commit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const commitColumns = `id, member_id, kind, order_doc, settlement_doc, discount_doc,
		steps, status, runs, created_by, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, c *Commit) error {
	docs, err := encodeDocs(c)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO commits (`+commitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.MemberID, string(c.Kind), string(docs.order), string(docs.settlement), nullString(string(docs.discount)),
		string(docs.steps), string(c.Status), c.Runs, nullString(c.CreatedBy), c.CreatedAt, c.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateCommit
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Commit, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+commitColumns+` FROM commits WHERE id = $1`, id)
	c, err := scanCommit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCommitNotFound
	}
	return c, err
}

// Update writes progress: steps, status, run count and timestamp. The order
// and settlement are fixed at creation.
func (p *PostgresStore) Update(ctx context.Context, c *Commit) error {
	steps, err := json.Marshal(c.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE commits
		SET steps = $1, status = $2, runs = $3, updated_at = $4
		WHERE id = $5`,
		string(steps), string(c.Status), c.Runs, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCommitNotFound
	}
	return nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]*Commit, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+commitColumns+`
		FROM commits
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`, string(status), updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanCommits(rows)
}

func (p *PostgresStore) ListByMember(ctx context.Context, memberID string, limit int) ([]*Commit, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+commitColumns+`
		FROM commits
		WHERE member_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, memberID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanCommits(rows)
}

type commitDocs struct {
	order, settlement, discount, steps []byte
}

func encodeDocs(c *Commit) (commitDocs, error) {
	var d commitDocs
	var err error
	if d.order, err = json.Marshal(c.Order); err != nil {
		return d, fmt.Errorf("encode order: %w", err)
	}
	if d.settlement, err = json.Marshal(c.Settlement); err != nil {
		return d, fmt.Errorf("encode settlement: %w", err)
	}
	if c.Discount != nil {
		if d.discount, err = json.Marshal(c.Discount); err != nil {
			return d, fmt.Errorf("encode discount: %w", err)
		}
	}
	if d.steps, err = json.Marshal(c.Steps); err != nil {
		return d, fmt.Errorf("encode steps: %w", err)
	}
	return d, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCommit(s scanner) (*Commit, error) {
	c := &Commit{}
	var kind, status string
	var orderDoc, settlementDoc, stepsDoc []byte
	var discountDoc, createdBy sql.NullString
	err := s.Scan(
		&c.ID, &c.MemberID, &kind, &orderDoc, &settlementDoc, &discountDoc,
		&stepsDoc, &status, &c.Runs, &createdBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Kind = Kind(kind)
	c.Status = Status(status)
	c.CreatedBy = createdBy.String
	if err := json.Unmarshal(orderDoc, &c.Order); err != nil {
		return nil, fmt.Errorf("decode order of commit %s: %w", c.ID, err)
	}
	if err := json.Unmarshal(settlementDoc, &c.Settlement); err != nil {
		return nil, fmt.Errorf("decode settlement of commit %s: %w", c.ID, err)
	}
	if discountDoc.Valid {
		c.Discount = &DiscountRequest{}
		if err := json.Unmarshal([]byte(discountDoc.String), c.Discount); err != nil {
			return nil, fmt.Errorf("decode discount of commit %s: %w", c.ID, err)
		}
	}
	if err := json.Unmarshal(stepsDoc, &c.Steps); err != nil {
		return nil, fmt.Errorf("decode steps of commit %s: %w", c.ID, err)
	}
	return c, nil
}

func scanCommits(rows *sql.Rows) ([]*Commit, error) {
	var result []*Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
